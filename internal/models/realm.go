package models

import "github.com/thereayou/concord/pkg/protocol"

// Realm is the single tenant record. Exactly one row exists.
type Realm struct {
	ID                  string `gorm:"primaryKey"`
	Name                string `gorm:"not null"`
	Description         string
	Encrypted           bool `gorm:"not null;default:false"`
	RetentionDays       *int
	FileRetentionDays   *int
	AllowDirectMessages bool `gorm:"column:allow_dm;not null;default:false"`
	PasswordVerify      *string
	PasswordVerifyNonce *string
	CreatedAt           int64 `gorm:"not null;autoCreateTime:milli"`
}

func (Realm) TableName() string { return "realm" }

func (r *Realm) Info() protocol.RealmInfo {
	return protocol.RealmInfo{
		ID:                  r.ID,
		Name:                r.Name,
		Description:         r.Description,
		Encrypted:           r.Encrypted,
		RetentionDays:       r.RetentionDays,
		FileRetentionDays:   r.FileRetentionDays,
		AllowDirectMessages: r.AllowDirectMessages,
		PasswordVerify:      r.PasswordVerify,
		PasswordVerifyNonce: r.PasswordVerifyNonce,
		CreatedAt:           r.CreatedAt,
	}
}
