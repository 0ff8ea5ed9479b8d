package models

import "github.com/thereayou/concord/pkg/protocol"

// UserProfile is keyed by the base58 public key. Profiles are never deleted.
type UserProfile struct {
	PublicKey string  `gorm:"primaryKey"`
	Name      string  `gorm:"not null"`
	Bio       *string
	LastSeen  int64 `gorm:"not null"`
}

func (p *UserProfile) Member() protocol.Member {
	return protocol.Member{
		PublicKey: p.PublicKey,
		Name:      p.Name,
		Bio:       p.Bio,
		LastSeen:  p.LastSeen,
	}
}
