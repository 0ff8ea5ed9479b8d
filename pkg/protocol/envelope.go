package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps every message on the wire in both directions.
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope builds an envelope with a fresh id and the current time.
func NewEnvelope(msgType string, payload interface{}) (Envelope, error) {
	env := Envelope{
		Type:      msgType,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
	}
	if payload == nil {
		env.Payload = json.RawMessage("{}")
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Payload = data
	return env, nil
}

// Encode marshals an event into its wire form.
func Encode(msgType string, payload interface{}) ([]byte, error) {
	env, err := NewEnvelope(msgType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// ParseEnvelope decodes the outer wrapper only. The payload stays raw.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	if env.Type == "" {
		return Envelope{}, ErrMissingType
	}
	return env, nil
}
