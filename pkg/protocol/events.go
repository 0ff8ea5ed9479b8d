package protocol

import "encoding/json"

// Event names (server to client).
const (
	EventAuthChallenge          = "auth:challenge"
	EventAuthVerified           = "auth:verified"
	EventRealmWelcome           = "realm:welcome"
	EventRealmUpdate            = "realm:update"
	EventRealmError             = "realm:error"
	EventMemberJoin             = "member:join"
	EventMemberLeave            = "member:leave"
	EventChannelHistory         = "channel:history"
	EventChannelMessage         = "channel:message"
	EventChannelTyping          = "channel:typing"
	EventChannelCreate          = "channel:create"
	EventChannelDelete          = "channel:delete"
	EventChannelUpdate          = "channel:update"
	EventDMOpened               = "dm:opened"
	EventInviteRegenerated      = "invite:regenerated"
	EventVoiceJoined            = "voice:joined"
	EventVoiceTransportCreated  = "voice:transport-created"
	EventVoiceProduced          = "voice:produced"
	EventVoiceConsumed          = "voice:consumed"
	EventVoiceParticipantJoined = "voice:participant:joined"
	EventVoiceParticipantLeft   = "voice:participant:left"
	EventVoiceNewProducer       = "voice:new-producer"
	EventVoiceProducerClosed    = "voice:producer-closed"
)

type AuthChallengePayload struct {
	Nonce string `json:"nonce"`
}

type AuthVerifiedPayload struct {
	Token string `json:"token,omitempty"`
}

type WelcomePayload struct {
	Realm             RealmInfo                     `json:"realm"`
	Channels          []Channel                     `json:"channels"`
	Members           []Member                      `json:"members"`
	OnlineKeys        []string                      `json:"onlineKeys"`
	IsAdmin           bool                          `json:"isAdmin"`
	VoiceParticipants map[string][]VoiceParticipant `json:"voiceParticipants"`
	ScreenSharers     map[string][]string           `json:"screenSharers"`
	InviteLinks       []InviteLink                  `json:"inviteLinks"`
}

type RealmUpdatePayload struct {
	Realm RealmInfo `json:"realm"`
}

type MemberJoinPayload struct {
	Member Member `json:"member"`
}

type MemberLeavePayload struct {
	PublicKey string `json:"publicKey"`
}

type ChannelHistoryPayload struct {
	ChannelID string        `json:"channelId"`
	Messages  []ChatMessage `json:"messages"`
	HasMore   bool          `json:"hasMore"`
}

type ChannelMessagePayload struct {
	ChannelID string         `json:"channelId"`
	Message   ChatMessage    `json:"message"`
	Profile   MessageProfile `json:"profile"`
}

type ChannelTypingPayload struct {
	ChannelID string `json:"channelId"`
	PublicKey string `json:"publicKey"`
	Name      string `json:"name"`
}

type ChannelCreatePayload struct {
	Channel Channel `json:"channel"`
}

type ChannelUpdatePayload struct {
	Channel Channel `json:"channel"`
}

type ChannelDeletePayload struct {
	ChannelID string `json:"channelId"`
}

type DMOpenedPayload struct {
	Channel Channel `json:"channel"`
}

type InviteRegeneratedPayload struct {
	InviteLinks []InviteLink `json:"inviteLinks"`
}

type VoiceJoinedPayload struct {
	ChannelID       string          `json:"channelId"`
	RtpCapabilities json.RawMessage `json:"rtpCapabilities"`
	IceServers      []IceServer     `json:"iceServers"`
}

type TransportCreatedPayload struct {
	ChannelID      string          `json:"channelId"`
	Direction      Direction       `json:"direction"`
	TransportID    string          `json:"transportId"`
	IceParameters  json.RawMessage `json:"iceParameters"`
	IceCandidates  json.RawMessage `json:"iceCandidates"`
	DtlsParameters json.RawMessage `json:"dtlsParameters"`
}

type ProducedPayload struct {
	ProducerID   string       `json:"producerId"`
	ProducerKind ProducerKind `json:"producerKind"`
}

type ConsumedPayload struct {
	ConsumerID        string          `json:"consumerId"`
	ProducerID        string          `json:"producerId"`
	Kind              MediaKind       `json:"kind"`
	RtpParameters     json.RawMessage `json:"rtpParameters"`
	ProducerKind      ProducerKind    `json:"producerKind"`
	ProducerPublicKey string          `json:"producerPublicKey"`
}

type ParticipantJoinedPayload struct {
	ChannelID string `json:"channelId"`
	PublicKey string `json:"publicKey"`
	Name      string `json:"name"`
}

type ParticipantLeftPayload struct {
	ChannelID string `json:"channelId"`
	PublicKey string `json:"publicKey"`
}

type NewProducerPayload struct {
	ChannelID         string       `json:"channelId"`
	ProducerID        string       `json:"producerId"`
	ProducerPublicKey string       `json:"producerPublicKey"`
	Kind              MediaKind    `json:"kind"`
	ProducerKind      ProducerKind `json:"producerKind"`
}

type ProducerClosedPayload struct {
	ChannelID         string       `json:"channelId"`
	ProducerID        string       `json:"producerId"`
	ProducerPublicKey string       `json:"producerPublicKey"`
	ProducerKind      ProducerKind `json:"producerKind"`
}
