package database

import (
	"github.com/google/uuid"
	"github.com/thereayou/concord/internal/models"
	"gorm.io/gorm"
)

func ensureInvite(tx *gorm.DB) error {
	var count int64
	if err := tx.Model(&models.InviteLink{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return tx.Create(newInvite()).Error
}

func newInvite() *models.InviteLink {
	return &models.InviteLink{ID: uuid.NewString(), Key: uuid.NewString()}
}

func (d *Database) ListInvites() ([]models.InviteLink, error) {
	var invites []models.InviteLink
	err := d.db.Order("created_at ASC").Find(&invites).Error
	return invites, err
}

// GetInviteKey resolves an invite id to its secret key.
func (d *Database) GetInviteKey(id string) (string, error) {
	var invite models.InviteLink
	if err := d.db.First(&invite, "id = ?", id).Error; err != nil {
		return "", notFound(err)
	}
	return invite.Key, nil
}

// RegenerateInvite replaces the invite identified by id with a fresh id and
// key, in one transaction.
func (d *Database) RegenerateInvite(id string) (*models.InviteLink, error) {
	d.inviteMu.Lock()
	defer d.inviteMu.Unlock()

	invite := newInvite()
	err := d.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.InviteLink{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Create(invite).Error
	})
	if err != nil {
		return nil, err
	}
	return invite, nil
}
