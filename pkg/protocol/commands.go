package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Command names (client to server).
const (
	TypeUserProfile            = "user:profile"
	TypeAuthResponse           = "auth:response"
	TypeRealmJoin              = "realm:join"
	TypeRealmUpdate            = "realm:update"
	TypeRealmSetPasswordVerify = "realm:set-password-verify"
	TypeChannelJoin            = "channel:join"
	TypeChannelFetchHistory    = "channel:fetch-history"
	TypeChannelMessage         = "channel:message"
	TypeChannelTyping          = "channel:typing"
	TypeChannelCreate          = "channel:create"
	TypeChannelDelete          = "channel:delete"
	TypeChannelSetPassword     = "channel:set-password-verify"
	TypeDMOpen                 = "dm:open"
	TypeInviteRegenerate       = "invite:regenerate"
	TypeVoiceJoin              = "voice:join"
	TypeVoiceLeave             = "voice:leave"
	TypeVoiceCreateTransport   = "voice:create-transport"
	TypeVoiceConnectTransport  = "voice:connect-transport"
	TypeVoiceProduce           = "voice:produce"
	TypeVoiceConsume           = "voice:consume"
	TypeVoiceCloseProducer     = "voice:close-producer"
)

// Command is the closed set of client commands. Only types in this package
// implement it.
type Command interface {
	CommandType() string
	validate() error
}

// PreAuth reports whether a command type may be sent before authentication.
func PreAuth(msgType string) bool {
	return msgType == TypeUserProfile || msgType == TypeAuthResponse
}

type UserProfile struct {
	PublicKey string  `json:"publicKey"`
	Name      string  `json:"name"`
	Bio       *string `json:"bio"`
}

type AuthResponse struct {
	Signature string `json:"signature"`
}

type RealmJoin struct{}

type RealmUpdate struct {
	Name                *string     `json:"name"`
	Description         *string     `json:"description"`
	AllowDirectMessages *bool       `json:"allowDirectMessages"`
	RetentionDays       OptionalInt `json:"retentionDays"`
	FileRetentionDays   OptionalInt `json:"fileRetentionDays"`
}

type RealmSetPasswordVerify struct {
	PasswordVerify      *string `json:"passwordVerify"`
	PasswordVerifyNonce *string `json:"passwordVerifyNonce"`
}

type ChannelJoin struct {
	ChannelID string `json:"channelId"`
}

type ChannelFetchHistory struct {
	ChannelID string `json:"channelId"`
	Before    int64  `json:"before"`
}

type OutgoingMessage struct {
	SenderPublicKey string `json:"senderPublicKey"`
	Content         string `json:"content"`
	Signature       string `json:"signature"`
	Nonce           string `json:"nonce"`
}

type ChannelMessage struct {
	ChannelID     string          `json:"channelId"`
	Message       OutgoingMessage `json:"message"`
	Profile       MessageProfile  `json:"profile"`
	AttachmentIDs []string        `json:"attachmentIds"`
}

type ChannelTyping struct {
	ChannelID string `json:"channelId"`
	PublicKey string `json:"publicKey"`
}

type ChannelCreate struct {
	Name                string      `json:"name"`
	Type                ChannelType `json:"type"`
	Encrypted           bool        `json:"encrypted"`
	PasswordVerify      *string     `json:"passwordVerify"`
	PasswordVerifyNonce *string     `json:"passwordVerifyNonce"`
}

type ChannelDelete struct {
	ChannelID string `json:"channelId"`
}

type ChannelSetPasswordVerify struct {
	ChannelID           string  `json:"channelId"`
	PasswordVerify      *string `json:"passwordVerify"`
	PasswordVerifyNonce *string `json:"passwordVerifyNonce"`
}

type DMOpen struct {
	TargetPublicKey string `json:"targetPublicKey"`
}

type InviteRegenerate struct {
	InviteID string `json:"inviteId"`
}

type VoiceJoin struct {
	ChannelID string `json:"channelId"`
}

type VoiceLeave struct{}

type VoiceCreateTransport struct {
	ChannelID string    `json:"channelId"`
	Direction Direction `json:"direction"`
}

type VoiceConnectTransport struct {
	ChannelID      string          `json:"channelId"`
	TransportID    string          `json:"transportId"`
	DtlsParameters json.RawMessage `json:"dtlsParameters"`
}

type VoiceProduce struct {
	ChannelID     string          `json:"channelId"`
	Kind          MediaKind       `json:"kind"`
	RtpParameters json.RawMessage `json:"rtpParameters"`
	ProducerKind  ProducerKind    `json:"producerKind"`
}

type VoiceConsume struct {
	ChannelID       string          `json:"channelId"`
	ProducerID      string          `json:"producerId"`
	RtpCapabilities json.RawMessage `json:"rtpCapabilities"`
}

type VoiceCloseProducer struct {
	ChannelID  string `json:"channelId"`
	ProducerID string `json:"producerId"`
}

func (*UserProfile) CommandType() string              { return TypeUserProfile }
func (*AuthResponse) CommandType() string             { return TypeAuthResponse }
func (*RealmJoin) CommandType() string                { return TypeRealmJoin }
func (*RealmUpdate) CommandType() string              { return TypeRealmUpdate }
func (*RealmSetPasswordVerify) CommandType() string   { return TypeRealmSetPasswordVerify }
func (*ChannelJoin) CommandType() string              { return TypeChannelJoin }
func (*ChannelFetchHistory) CommandType() string      { return TypeChannelFetchHistory }
func (*ChannelMessage) CommandType() string           { return TypeChannelMessage }
func (*ChannelTyping) CommandType() string            { return TypeChannelTyping }
func (*ChannelCreate) CommandType() string            { return TypeChannelCreate }
func (*ChannelDelete) CommandType() string            { return TypeChannelDelete }
func (*ChannelSetPasswordVerify) CommandType() string { return TypeChannelSetPassword }
func (*DMOpen) CommandType() string                   { return TypeDMOpen }
func (*InviteRegenerate) CommandType() string         { return TypeInviteRegenerate }
func (*VoiceJoin) CommandType() string                { return TypeVoiceJoin }
func (*VoiceLeave) CommandType() string               { return TypeVoiceLeave }
func (*VoiceCreateTransport) CommandType() string     { return TypeVoiceCreateTransport }
func (*VoiceConnectTransport) CommandType() string    { return TypeVoiceConnectTransport }
func (*VoiceProduce) CommandType() string             { return TypeVoiceProduce }
func (*VoiceConsume) CommandType() string             { return TypeVoiceConsume }
func (*VoiceCloseProducer) CommandType() string       { return TypeVoiceCloseProducer }

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func (c *UserProfile) validate() error  { return required("publicKey", c.PublicKey) }
func (c *AuthResponse) validate() error { return required("signature", c.Signature) }
func (*RealmJoin) validate() error      { return nil }

func (c *RealmUpdate) validate() error {
	for field, v := range map[string]OptionalInt{"retentionDays": c.RetentionDays, "fileRetentionDays": c.FileRetentionDays} {
		if v.Value != nil && *v.Value <= 0 {
			return fmt.Errorf("%s must be positive or null", field)
		}
	}
	return nil
}

func (*RealmSetPasswordVerify) validate() error {
	return nil
}
func (c *ChannelJoin) validate() error { return required("channelId", c.ChannelID) }
func (c *ChannelFetchHistory) validate() error {
	if c.Before <= 0 {
		return fmt.Errorf("before must be a positive timestamp")
	}
	return required("channelId", c.ChannelID)
}

func (c *ChannelMessage) validate() error {
	if err := required("channelId", c.ChannelID); err != nil {
		return err
	}
	return required("message.senderPublicKey", c.Message.SenderPublicKey)
}

func (c *ChannelTyping) validate() error { return required("channelId", c.ChannelID) }

func (c *ChannelCreate) validate() error {
	if err := required("name", c.Name); err != nil {
		return err
	}
	if c.Type != ChannelText && c.Type != ChannelVoice {
		return fmt.Errorf("type must be text or voice")
	}
	return nil
}

func (c *ChannelDelete) validate() error            { return required("channelId", c.ChannelID) }
func (c *ChannelSetPasswordVerify) validate() error { return required("channelId", c.ChannelID) }
func (c *DMOpen) validate() error                   { return required("targetPublicKey", c.TargetPublicKey) }
func (c *InviteRegenerate) validate() error         { return required("inviteId", c.InviteID) }
func (c *VoiceJoin) validate() error                { return required("channelId", c.ChannelID) }
func (*VoiceLeave) validate() error                 { return nil }

func (c *VoiceCreateTransport) validate() error {
	if c.Direction != DirectionSend && c.Direction != DirectionRecv {
		return fmt.Errorf("direction must be send or recv")
	}
	return required("channelId", c.ChannelID)
}

func (c *VoiceConnectTransport) validate() error {
	if err := required("channelId", c.ChannelID); err != nil {
		return err
	}
	return required("transportId", c.TransportID)
}

func (c *VoiceProduce) validate() error {
	if c.Kind != KindAudio && c.Kind != KindVideo {
		return fmt.Errorf("kind must be audio or video")
	}
	switch c.ProducerKind {
	case ProducerMic, ProducerWebcam, ProducerScreen:
	default:
		return fmt.Errorf("producerKind must be mic, webcam or screen")
	}
	return required("channelId", c.ChannelID)
}

func (c *VoiceConsume) validate() error {
	if err := required("channelId", c.ChannelID); err != nil {
		return err
	}
	return required("producerId", c.ProducerID)
}

func (c *VoiceCloseProducer) validate() error {
	if err := required("channelId", c.ChannelID); err != nil {
		return err
	}
	return required("producerId", c.ProducerID)
}

func newCommand(msgType string) Command {
	switch msgType {
	case TypeUserProfile:
		return &UserProfile{}
	case TypeAuthResponse:
		return &AuthResponse{}
	case TypeRealmJoin:
		return &RealmJoin{}
	case TypeRealmUpdate:
		return &RealmUpdate{}
	case TypeRealmSetPasswordVerify:
		return &RealmSetPasswordVerify{}
	case TypeChannelJoin:
		return &ChannelJoin{}
	case TypeChannelFetchHistory:
		return &ChannelFetchHistory{}
	case TypeChannelMessage:
		return &ChannelMessage{}
	case TypeChannelTyping:
		return &ChannelTyping{}
	case TypeChannelCreate:
		return &ChannelCreate{}
	case TypeChannelDelete:
		return &ChannelDelete{}
	case TypeChannelSetPassword:
		return &ChannelSetPasswordVerify{}
	case TypeDMOpen:
		return &DMOpen{}
	case TypeInviteRegenerate:
		return &InviteRegenerate{}
	case TypeVoiceJoin:
		return &VoiceJoin{}
	case TypeVoiceLeave:
		return &VoiceLeave{}
	case TypeVoiceCreateTransport:
		return &VoiceCreateTransport{}
	case TypeVoiceConnectTransport:
		return &VoiceConnectTransport{}
	case TypeVoiceProduce:
		return &VoiceProduce{}
	case TypeVoiceConsume:
		return &VoiceConsume{}
	case TypeVoiceCloseProducer:
		return &VoiceCloseProducer{}
	}
	return nil
}

// DecodeCommand resolves the envelope type to its command and decodes the
// payload into it. Unknown types wrap ErrUnknownType, bad payloads wrap
// ErrInvalidPayload.
func DecodeCommand(env Envelope) (Command, error) {
	cmd := newCommand(env.Type)
	if cmd == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, env.Type)
	}
	payload := bytes.TrimSpace(env.Payload)
	if len(payload) > 0 && !bytes.Equal(payload, []byte("null")) {
		if err := json.Unmarshal(payload, cmd); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}
	if err := cmd.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return cmd, nil
}
