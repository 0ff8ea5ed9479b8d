package models

import "github.com/thereayou/concord/pkg/protocol"

type Message struct {
	ID              string `gorm:"primaryKey"`
	ChannelID       string `gorm:"not null;index:idx_messages_channel_time,priority:1"`
	SenderPublicKey string `gorm:"not null"`
	Content         string `gorm:"not null"`
	Signature       string `gorm:"not null"`
	Nonce           string `gorm:"not null"`
	HasAttachment   bool   `gorm:"not null;default:false"`
	CreatedAt       int64  `gorm:"not null;autoCreateTime:milli;index:idx_messages_channel_time,priority:2;index"`
	// Seq is the insertion order; it breaks ties within one millisecond.
	Seq             int64  `gorm:"not null;default:0;index"`
}

func (m *Message) Wire() protocol.ChatMessage {
	return protocol.ChatMessage{
		ID:              m.ID,
		ChannelID:       m.ChannelID,
		SenderPublicKey: m.SenderPublicKey,
		Content:         m.Content,
		Signature:       m.Signature,
		Nonce:           m.Nonce,
		HasAttachment:   m.HasAttachment,
		CreatedAt:       m.CreatedAt,
	}
}
