package models

import (
	"sort"
	"strings"

	"github.com/thereayou/concord/pkg/protocol"
)

type Channel struct {
	ID                  string               `gorm:"primaryKey"`
	Name                string               `gorm:"not null"`
	Type                protocol.ChannelType `gorm:"not null;index"`
	Encrypted           bool                 `gorm:"not null;default:false"`
	Position            int                  `gorm:"not null;default:0"`
	PasswordVerify      *string
	PasswordVerifyNonce *string
	// Participants holds the sorted "a:b" pair for dm channels and is the
	// lookup key that keeps one dm channel per pair.
	Participants *string `gorm:"uniqueIndex"`
	CreatedAt    int64   `gorm:"not null;autoCreateTime:milli"`
}

// DMKey returns the deterministic participants key for a pair.
func DMKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, ":")
}

func (c *Channel) Members() []string {
	if c.Participants == nil {
		return nil
	}
	return strings.SplitN(*c.Participants, ":", 2)
}

// HasMember reports whether publicKey is one side of a dm channel.
func (c *Channel) HasMember(publicKey string) bool {
	for _, m := range c.Members() {
		if m == publicKey {
			return true
		}
	}
	return false
}

func (c *Channel) Wire() protocol.Channel {
	return protocol.Channel{
		ID:                  c.ID,
		Name:                c.Name,
		Type:                c.Type,
		Encrypted:           c.Encrypted,
		Position:            c.Position,
		PasswordVerify:      c.PasswordVerify,
		PasswordVerifyNonce: c.PasswordVerifyNonce,
		Participants:        c.Members(),
		CreatedAt:           c.CreatedAt,
	}
}
