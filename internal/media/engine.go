package media

import (
	"context"
	"encoding/json"

	"github.com/thereayou/concord/pkg/protocol"
)

// DefaultMediaCodecs are the codecs every router is created with.
var DefaultMediaCodecs = json.RawMessage(`[
	{"kind":"audio","mimeType":"audio/opus","preferredPayloadType":111,"clockRate":48000,"channels":2},
	{"kind":"video","mimeType":"video/VP8","preferredPayloadType":96,"clockRate":90000,"parameters":{}}
]`)

// TransportOptions are the network hints passed to every transport.
type TransportOptions struct {
	ListenIP    string `json:"listenIp"`
	AnnouncedIP string `json:"announcedIp"`
	EnableUDP   bool   `json:"enableUdp"`
	EnableTCP   bool   `json:"enableTcp"`
	PreferUDP   bool   `json:"preferUdp"`
}

// DefaultTransportOptions listens on UDP and TCP, preferring UDP.
func DefaultTransportOptions(listenIP, announcedIP string) TransportOptions {
	return TransportOptions{
		ListenIP:    listenIP,
		AnnouncedIP: announcedIP,
		EnableUDP:   true,
		EnableTCP:   true,
		PreferUDP:   true,
	}
}

// TransportParams are what a client needs to connect its side of a transport.
type TransportParams struct {
	IceParameters  json.RawMessage `json:"iceParameters"`
	IceCandidates  json.RawMessage `json:"iceCandidates"`
	DtlsParameters json.RawMessage `json:"dtlsParameters"`
}

// Worker is one SFU engine process.
type Worker interface {
	CreateRouter(ctx context.Context, mediaCodecs json.RawMessage) (Router, error)
	Close() error
}

type Router interface {
	ID() string
	RtpCapabilities() json.RawMessage
	CanConsume(ctx context.Context, producerID string, rtpCapabilities json.RawMessage) (bool, error)
	CreateTransport(ctx context.Context, direction protocol.Direction, opts TransportOptions) (Transport, error)
	Close() error
}

type Transport interface {
	ID() string
	Params() TransportParams
	Connect(ctx context.Context, dtlsParameters json.RawMessage) error
	Produce(ctx context.Context, kind protocol.MediaKind, rtpParameters json.RawMessage) (Producer, error)
	Consume(ctx context.Context, producerID string, rtpCapabilities json.RawMessage) (Consumer, error)
	Close() error
}

type Producer interface {
	ID() string
	Kind() protocol.MediaKind
	Close() error
}

type Consumer interface {
	ID() string
	ProducerID() string
	Kind() protocol.MediaKind
	RtpParameters() json.RawMessage
	Close() error
}
