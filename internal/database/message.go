package database

import (
	"github.com/thereayou/concord/internal/models"
	"gorm.io/gorm"
)

// SaveMessage persists a message and links any uploaded attachments to it.
// Messages are numbered in the order they are saved.
func (d *Database) SaveMessage(message *models.Message, attachmentIDs []string) error {
	d.seqMu.Lock()
	defer d.seqMu.Unlock()
	if !d.seqLoaded {
		if err := d.db.Model(&models.Message{}).Select("COALESCE(MAX(seq), 0)").Scan(&d.seq).Error; err != nil {
			return err
		}
		d.seqLoaded = true
	}
	d.seq++
	message.Seq = d.seq

	if len(attachmentIDs) == 0 {
		return d.db.Create(message).Error
	}
	return d.db.Transaction(func(tx *gorm.DB) error {
		message.HasAttachment = true
		if err := tx.Create(message).Error; err != nil {
			return err
		}
		res := tx.Model(&models.Attachment{}).
			Where("id IN ? AND message_id IS NULL", attachmentIDs).
			Update("message_id", message.ID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return tx.Model(message).Update("has_attachment", false).Error
		}
		return nil
	})
}

// GetChannelMessages returns up to limit messages oldest-first. With before
// > 0 only messages strictly older than it are considered.
func (d *Database) GetChannelMessages(channelID string, limit int, before int64) ([]models.Message, error) {
	var messages []models.Message

	query := d.db.Where("channel_id = ?", channelID)
	if before > 0 {
		query = query.Where("created_at < ?", before)
	}

	err := query.
		Order("created_at DESC").
		Order("seq DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// DeleteMessagesBefore removes messages created before cutoff (unix ms) with
// their attachment rows and returns the count and the blob paths to remove.
func (d *Database) DeleteMessagesBefore(cutoff int64) (deleted int64, paths []string, err error) {
	err = d.db.Transaction(func(tx *gorm.DB) error {
		old := tx.Model(&models.Message{}).Select("id").Where("created_at < ?", cutoff)
		if err := tx.Model(&models.Attachment{}).
			Where("message_id IN (?)", old).
			Pluck("storage_path", &paths).Error; err != nil {
			return err
		}
		if err := tx.Where("message_id IN (?)", old).Delete(&models.Attachment{}).Error; err != nil {
			return err
		}
		res := tx.Where("created_at < ?", cutoff).Delete(&models.Message{})
		deleted = res.RowsAffected
		return res.Error
	})
	return deleted, paths, err
}
