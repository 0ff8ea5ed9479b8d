package protocol

import (
	"bytes"
	"encoding/json"
)

type ChannelType string

const (
	ChannelText  ChannelType = "text"
	ChannelVoice ChannelType = "voice"
	ChannelDM    ChannelType = "dm"
)

type RealmInfo struct {
	ID                  string  `json:"id"`
	Name                string  `json:"name"`
	Description         string  `json:"description"`
	Encrypted           bool    `json:"encrypted"`
	RetentionDays       *int    `json:"retentionDays"`
	FileRetentionDays   *int    `json:"fileRetentionDays"`
	AllowDirectMessages bool    `json:"allowDirectMessages"`
	PasswordVerify      *string `json:"passwordVerify,omitempty"`
	PasswordVerifyNonce *string `json:"passwordVerifyNonce,omitempty"`
	CreatedAt           int64   `json:"createdAt"`
}

type Channel struct {
	ID                  string      `json:"id"`
	Name                string      `json:"name"`
	Type                ChannelType `json:"type"`
	Encrypted           bool        `json:"encrypted"`
	Position            int         `json:"position"`
	PasswordVerify      *string     `json:"passwordVerify,omitempty"`
	PasswordVerifyNonce *string     `json:"passwordVerifyNonce,omitempty"`
	Participants        []string    `json:"participants,omitempty"`
	CreatedAt           int64       `json:"createdAt"`
}

// ChatMessage is stored and relayed as-is. Content is ciphertext the server
// never interprets.
type ChatMessage struct {
	ID              string `json:"id"`
	ChannelID       string `json:"channelId"`
	SenderPublicKey string `json:"senderPublicKey"`
	Content         string `json:"content"`
	Signature       string `json:"signature"`
	Nonce           string `json:"nonce"`
	HasAttachment   bool   `json:"hasAttachment"`
	CreatedAt       int64  `json:"createdAt"`
}

type Member struct {
	PublicKey string  `json:"publicKey"`
	Name      string  `json:"name"`
	Bio       *string `json:"bio,omitempty"`
	LastSeen  int64   `json:"lastSeen"`
}

type MessageProfile struct {
	Name string `json:"name"`
}

type InviteLink struct {
	ID        string `json:"id"`
	Key       string `json:"key"`
	CreatedAt int64  `json:"createdAt"`
}

type IceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type VoiceParticipant struct {
	PublicKey string `json:"publicKey"`
	Name      string `json:"name"`
}

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// ProducerKind tags what a producer carries from the user's point of view.
type ProducerKind string

const (
	ProducerMic    ProducerKind = "mic"
	ProducerWebcam ProducerKind = "webcam"
	ProducerScreen ProducerKind = "screen"
)

type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// OptionalInt tells an absent field apart from an explicit null.
type OptionalInt struct {
	Set   bool
	Value *int
}

func (o *OptionalInt) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}
