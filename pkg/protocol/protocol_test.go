package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeCommandUnknownType(t *testing.T) {
	_, err := DecodeCommand(Envelope{Type: "channel:explode", Payload: json.RawMessage(`{}`)})
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestDecodeCommandInvalidPayload(t *testing.T) {
	cases := []Envelope{
		{Type: TypeChannelJoin, Payload: json.RawMessage(`{"channelId": 5}`)},
		{Type: TypeChannelJoin, Payload: json.RawMessage(`{}`)},
		{Type: TypeVoiceCreateTransport, Payload: json.RawMessage(`{"channelId":"c","direction":"sideways"}`)},
		{Type: TypeVoiceProduce, Payload: json.RawMessage(`{"channelId":"c","kind":"audio","producerKind":"speaker"}`)},
		{Type: TypeChannelCreate, Payload: json.RawMessage(`{"name":"x","type":"dm"}`)},
		{Type: TypeRealmUpdate, Payload: json.RawMessage(`{"retentionDays":0}`)},
	}
	for _, env := range cases {
		if _, err := DecodeCommand(env); !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("%s %s: expected ErrInvalidPayload, got %v", env.Type, env.Payload, err)
		}
	}
}

func TestDecodeCommandResolvesConcreteType(t *testing.T) {
	cmd, err := DecodeCommand(Envelope{
		Type:    TypeChannelFetchHistory,
		Payload: json.RawMessage(`{"channelId":"abc","before":1700000000000}`),
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	fetch, ok := cmd.(*ChannelFetchHistory)
	if !ok {
		t.Fatalf("expected *ChannelFetchHistory, got %T", cmd)
	}
	if fetch.ChannelID != "abc" || fetch.Before != 1700000000000 {
		t.Fatalf("unexpected fields: %+v", fetch)
	}
}

func TestDecodeCommandEmptyPayload(t *testing.T) {
	for _, payload := range []string{"", "null", "{}"} {
		cmd, err := DecodeCommand(Envelope{Type: TypeRealmJoin, Payload: json.RawMessage(payload)})
		if err != nil {
			t.Fatalf("payload %q: %v", payload, err)
		}
		if _, ok := cmd.(*RealmJoin); !ok {
			t.Fatalf("payload %q: got %T", payload, cmd)
		}
	}
}

func TestRealmUpdateOptionalRetention(t *testing.T) {
	var absent RealmUpdate
	if err := json.Unmarshal([]byte(`{"name":"x"}`), &absent); err != nil {
		t.Fatal(err)
	}
	if absent.RetentionDays.Set {
		t.Fatalf("absent field should not be set")
	}

	var cleared RealmUpdate
	if err := json.Unmarshal([]byte(`{"retentionDays":null}`), &cleared); err != nil {
		t.Fatal(err)
	}
	if !cleared.RetentionDays.Set || cleared.RetentionDays.Value != nil {
		t.Fatalf("explicit null should be set with nil value, got %+v", cleared.RetentionDays)
	}

	var valued RealmUpdate
	if err := json.Unmarshal([]byte(`{"fileRetentionDays":7}`), &valued); err != nil {
		t.Fatal(err)
	}
	if !valued.FileRetentionDays.Set || valued.FileRetentionDays.Value == nil || *valued.FileRetentionDays.Value != 7 {
		t.Fatalf("expected 7, got %+v", valued.FileRetentionDays)
	}
}

func TestPreAuth(t *testing.T) {
	if !PreAuth(TypeUserProfile) || !PreAuth(TypeAuthResponse) {
		t.Fatalf("profile and auth response must pass the gate")
	}
	if PreAuth(TypeChannelMessage) || PreAuth("nonsense") {
		t.Fatalf("other types must not pass the gate")
	}
}

func TestEncodeProducesEnvelope(t *testing.T) {
	data, err := Encode(EventRealmError, Error{Code: CodeForbidden, Message: "no"})
	if err != nil {
		t.Fatal(err)
	}
	env, err := ParseEnvelope(data)
	if err != nil {
		t.Fatal(err)
	}
	if env.Type != EventRealmError || env.ID == "" || env.Timestamp == 0 {
		t.Fatalf("bad envelope: %+v", env)
	}
	var e Error
	if err := json.Unmarshal(env.Payload, &e); err != nil {
		t.Fatal(err)
	}
	if e.Code != CodeForbidden {
		t.Fatalf("expected %s, got %s", CodeForbidden, e.Code)
	}
}
