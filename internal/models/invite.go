package models

import "github.com/thereayou/concord/pkg/protocol"

type InviteLink struct {
	ID        string `gorm:"primaryKey"`
	Key       string `gorm:"not null"`
	CreatedAt int64  `gorm:"not null;autoCreateTime:milli"`
}

func (i *InviteLink) Wire() protocol.InviteLink {
	return protocol.InviteLink{ID: i.ID, Key: i.Key, CreatedAt: i.CreatedAt}
}
