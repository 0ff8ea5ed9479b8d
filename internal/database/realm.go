package database

import (
	"strings"

	"github.com/google/uuid"
	"github.com/thereayou/concord/internal/models"
	"gorm.io/gorm"
)

// RealmDefaults seed the realm on first boot.
type RealmDefaults struct {
	Name                string
	Description         string
	Encrypted           bool
	RetentionDays       *int
	FileRetentionDays   *int
	AllowDirectMessages bool
}

// RealmUpdate carries admin edits. Nil pointers leave fields unchanged; the
// Set flags allow retention windows to be cleared.
type RealmUpdate struct {
	Name                 *string
	Description          *string
	AllowDirectMessages  *bool
	SetRetentionDays     bool
	RetentionDays        *int
	SetFileRetentionDays bool
	FileRetentionDays    *int
}

// EnsureRealm returns the realm, creating it with the defaults and a first
// invite link when the database is empty.
func (d *Database) EnsureRealm(defaults RealmDefaults) (*models.Realm, error) {
	var realm models.Realm
	err := d.db.Transaction(func(tx *gorm.DB) error {
		err := tx.First(&realm).Error
		if err == gorm.ErrRecordNotFound {
			realm = models.Realm{
				ID:                  uuid.NewString(),
				Name:                defaults.Name,
				Description:         defaults.Description,
				Encrypted:           defaults.Encrypted,
				RetentionDays:       defaults.RetentionDays,
				FileRetentionDays:   defaults.FileRetentionDays,
				AllowDirectMessages: defaults.AllowDirectMessages,
			}
			err = tx.Create(&realm).Error
		}
		if err != nil {
			return err
		}
		return ensureInvite(tx)
	})
	if err != nil {
		return nil, err
	}
	return &realm, nil
}

// SyncRealmConfig applies the encryption flag and, when both parts are
// given, the password verification blob from process configuration.
func (d *Database) SyncRealmConfig(encrypted bool, passwordVerify, passwordVerifyNonce string) error {
	updates := map[string]interface{}{"encrypted": encrypted}
	if passwordVerify != "" && passwordVerifyNonce != "" {
		updates["password_verify"] = passwordVerify
		updates["password_verify_nonce"] = passwordVerifyNonce
	}
	return d.db.Model(&models.Realm{}).Where("1 = 1").Updates(updates).Error
}

func (d *Database) GetRealm() (*models.Realm, error) {
	var realm models.Realm
	if err := d.db.First(&realm).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNoRealm
		}
		return nil, err
	}
	return &realm, nil
}

// UpdateRealm applies an admin edit and returns the new record. Names are
// trimmed and an empty name is ignored.
func (d *Database) UpdateRealm(u RealmUpdate) (*models.Realm, error) {
	updates := map[string]interface{}{}
	if u.Name != nil {
		if name := strings.TrimSpace(*u.Name); name != "" {
			updates["name"] = name
		}
	}
	if u.Description != nil {
		updates["description"] = strings.TrimSpace(*u.Description)
	}
	if u.AllowDirectMessages != nil {
		updates["allow_dm"] = *u.AllowDirectMessages
	}
	if u.SetRetentionDays {
		updates["retention_days"] = u.RetentionDays
	}
	if u.SetFileRetentionDays {
		updates["file_retention_days"] = u.FileRetentionDays
	}
	if len(updates) > 0 {
		if err := d.db.Model(&models.Realm{}).Where("1 = 1").Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return d.GetRealm()
}

// SetRealmPasswordVerify stores or clears the realm password blob. The realm
// is encrypted exactly when a blob is present.
func (d *Database) SetRealmPasswordVerify(passwordVerify, passwordVerifyNonce *string) (*models.Realm, error) {
	encrypted := passwordVerify != nil && passwordVerifyNonce != nil
	if !encrypted {
		passwordVerify, passwordVerifyNonce = nil, nil
	}
	err := d.db.Model(&models.Realm{}).Where("1 = 1").Updates(map[string]interface{}{
		"password_verify":       passwordVerify,
		"password_verify_nonce": passwordVerifyNonce,
		"encrypted":             encrypted,
	}).Error
	if err != nil {
		return nil, err
	}
	return d.GetRealm()
}
