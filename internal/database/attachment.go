package database

import (
	"github.com/thereayou/concord/internal/models"
	"gorm.io/gorm"
)

func (d *Database) CreateAttachment(a *models.Attachment) error {
	return d.db.Create(a).Error
}

func (d *Database) GetAttachment(id string) (*models.Attachment, error) {
	var a models.Attachment
	if err := d.db.First(&a, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// TotalStorageBytes sums the sizes of all stored attachments.
func (d *Database) TotalStorageBytes() (int64, error) {
	var total int64
	err := d.db.Model(&models.Attachment{}).Select("COALESCE(SUM(size), 0)").Scan(&total).Error
	return total, err
}

// DeleteAttachmentsBefore removes attachment rows older than cutoff (unix ms)
// and clears the flag on messages that lost their last attachment.
func (d *Database) DeleteAttachmentsBefore(cutoff int64) (paths []string, err error) {
	err = d.db.Transaction(func(tx *gorm.DB) error {
		var old []models.Attachment
		if err := tx.Where("created_at < ?", cutoff).Find(&old).Error; err != nil {
			return err
		}
		if len(old) == 0 {
			return nil
		}
		ids := make([]string, 0, len(old))
		var msgIDs []string
		for _, a := range old {
			ids = append(ids, a.ID)
			paths = append(paths, a.StoragePath)
			if a.MessageID != nil {
				msgIDs = append(msgIDs, *a.MessageID)
			}
		}
		if err := tx.Where("id IN ?", ids).Delete(&models.Attachment{}).Error; err != nil {
			return err
		}
		if len(msgIDs) == 0 {
			return nil
		}
		remaining := tx.Model(&models.Attachment{}).Select("message_id").Where("message_id IS NOT NULL")
		return tx.Model(&models.Message{}).
			Where("id IN ? AND id NOT IN (?)", msgIDs, remaining).
			Update("has_attachment", false).Error
	})
	return paths, err
}

// KnownStoragePaths returns the set of blob paths that still have a row.
func (d *Database) KnownStoragePaths() (map[string]struct{}, error) {
	var paths []string
	if err := d.db.Model(&models.Attachment{}).Pluck("storage_path", &paths).Error; err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		known[p] = struct{}{}
	}
	return known, nil
}
