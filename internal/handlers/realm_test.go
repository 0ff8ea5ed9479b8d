package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/thereayou/concord/internal/cid"
	"github.com/thereayou/concord/internal/config"
	"github.com/thereayou/concord/pkg/protocol"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestWelcome(t *testing.T) {
	h := newHarness(t)
	bob := newIdentity(t, "Bob")
	b := h.login(t, bob)
	a := h.login(t, h.admin)
	expectEvent(t, b, protocol.EventMemberJoin, nil)

	h.send(t, a, protocol.TypeRealmJoin, nil)
	var welcome protocol.WelcomePayload
	expectEvent(t, a, protocol.EventRealmWelcome, &welcome)

	if welcome.Realm.Name != "Test Realm" {
		t.Errorf("realm name = %q", welcome.Realm.Name)
	}
	if len(welcome.Channels) != 2 || welcome.Channels[0].Name != "general" || welcome.Channels[1].Type != protocol.ChannelVoice {
		t.Errorf("channels = %+v", welcome.Channels)
	}
	if len(welcome.Members) != 2 {
		t.Errorf("members = %+v", welcome.Members)
	}
	if len(welcome.OnlineKeys) != 2 {
		t.Errorf("online = %v", welcome.OnlineKeys)
	}
	if !welcome.IsAdmin {
		t.Error("admin should be told it is an admin")
	}
	if len(welcome.InviteLinks) != 1 {
		t.Errorf("invites = %+v", welcome.InviteLinks)
	}
	if welcome.VoiceParticipants == nil || welcome.ScreenSharers == nil {
		t.Error("voice maps should be present even when empty")
	}

	h.send(t, b, protocol.TypeRealmJoin, nil)
	expectEvent(t, b, protocol.EventRealmWelcome, &welcome)
	if welcome.IsAdmin {
		t.Error("bob is not an admin")
	}
}

func TestWelcomeJoinsDirectChannels(t *testing.T) {
	h := newHarness(t)
	alice := newIdentity(t, "Alice")
	bob := newIdentity(t, "Bob")
	dm, err := h.db.FindOrCreateDMChannel(alice.key, bob.key)
	if err != nil {
		t.Fatal(err)
	}

	a := h.login(t, alice)
	h.send(t, a, protocol.TypeRealmJoin, nil)
	var welcome protocol.WelcomePayload
	expectEvent(t, a, protocol.EventRealmWelcome, &welcome)
	if len(welcome.Channels) != 3 {
		t.Fatalf("channels = %+v", welcome.Channels)
	}
	if !a.HasJoined(dm.ID) {
		t.Fatal("dm channels are joined on welcome")
	}
}

func TestWelcomeSkipsForeignDirectChannels(t *testing.T) {
	h := newHarness(t)
	mallory := newIdentity(t, "Mallory")
	victim := newIdentity(t, "Victim")
	forged, err := h.db.FindOrCreateDMChannel(mallory.key, "~:"+victim.key)
	if err != nil {
		t.Fatal(err)
	}

	v := h.login(t, victim)
	h.send(t, v, protocol.TypeRealmJoin, nil)
	var welcome protocol.WelcomePayload
	expectEvent(t, v, protocol.EventRealmWelcome, &welcome)
	if len(welcome.Channels) != 2 {
		t.Fatalf("channels = %+v", welcome.Channels)
	}
	if v.HasJoined(forged.ID) {
		t.Fatal("joined a dm the identity is not part of")
	}
}

func TestCapacityReached(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.MaxMembers = 2 })
	a := h.login(t, newIdentity(t, "A"))
	h.send(t, a, protocol.TypeRealmJoin, nil)
	expectEvent(t, a, protocol.EventRealmWelcome, nil)

	b := h.login(t, newIdentity(t, "B"))
	h.send(t, b, protocol.TypeRealmJoin, nil)
	expectEvent(t, b, protocol.EventRealmWelcome, nil)

	c := h.login(t, newIdentity(t, "C"))
	h.send(t, c, protocol.TypeRealmJoin, nil)
	expectError(t, c, protocol.CodeCapacityReached)

	h.d.HandleDisconnect(b)
	drain(c)
	h.send(t, c, protocol.TypeRealmJoin, nil)
	expectEvent(t, c, protocol.EventRealmWelcome, nil)
}

func TestRealmUpdate(t *testing.T) {
	h := newHarness(t)
	a := h.login(t, h.admin)
	bob := h.login(t, newIdentity(t, "Bob"))
	expectEvent(t, a, protocol.EventMemberJoin, nil)

	h.send(t, bob, protocol.TypeRealmUpdate, map[string]interface{}{"name": "Hijacked"})
	e := expectError(t, bob, protocol.CodeForbidden)
	if e.Message != "Only admins can update the realm" {
		t.Errorf("message = %q", e.Message)
	}

	h.send(t, a, protocol.TypeRealmUpdate, map[string]interface{}{"name": "Renamed", "retentionDays": 7})
	var upd protocol.RealmUpdatePayload
	expectEvent(t, a, protocol.EventRealmUpdate, &upd)
	expectEvent(t, bob, protocol.EventRealmUpdate, &upd)
	if upd.Realm.Name != "Renamed" || upd.Realm.RetentionDays == nil || *upd.Realm.RetentionDays != 7 {
		t.Fatalf("realm = %+v", upd.Realm)
	}

	h.send(t, a, protocol.TypeRealmUpdate, json.RawMessage(`{"retentionDays":null}`))
	expectEvent(t, a, protocol.EventRealmUpdate, &upd)
	expectEvent(t, bob, protocol.EventRealmUpdate, nil)
	if upd.Realm.RetentionDays != nil || upd.Realm.Name != "Renamed" {
		t.Fatalf("realm = %+v", upd.Realm)
	}

	h.send(t, a, protocol.TypeRealmUpdate, json.RawMessage(`{"retentionDays":0}`))
	expectError(t, a, protocol.CodeInvalidMessage)
}

func TestRealmPassword(t *testing.T) {
	h := newHarness(t)
	a := h.login(t, h.admin)
	verify, nonce := "blob", "n"
	h.send(t, a, protocol.TypeRealmSetPasswordVerify, protocol.RealmSetPasswordVerify{PasswordVerify: &verify, PasswordVerifyNonce: &nonce})
	var upd protocol.RealmUpdatePayload
	expectEvent(t, a, protocol.EventRealmUpdate, &upd)
	if !upd.Realm.Encrypted || upd.Realm.PasswordVerify == nil || *upd.Realm.PasswordVerify != "blob" {
		t.Fatalf("realm = %+v", upd.Realm)
	}

	h.send(t, a, protocol.TypeRealmSetPasswordVerify, protocol.RealmSetPasswordVerify{})
	expectEvent(t, a, protocol.EventRealmUpdate, &upd)
	if upd.Realm.Encrypted || upd.Realm.PasswordVerify != nil {
		t.Fatalf("realm = %+v", upd.Realm)
	}
}

func TestInviteRegenerate(t *testing.T) {
	h := newHarness(t)
	a := h.login(t, h.admin)
	b := h.login(t, newIdentity(t, "Bob"))
	expectEvent(t, a, protocol.EventMemberJoin, nil)

	invites, err := h.db.ListInvites()
	if err != nil || len(invites) != 1 {
		t.Fatalf("invites = %+v %v", invites, err)
	}
	old := invites[0]

	h.send(t, b, protocol.TypeInviteRegenerate, protocol.InviteRegenerate{InviteID: old.ID})
	expectError(t, b, protocol.CodeForbidden)

	h.send(t, a, protocol.TypeInviteRegenerate, protocol.InviteRegenerate{InviteID: "missing"})
	expectError(t, a, protocol.CodeNotFound)

	h.send(t, a, protocol.TypeInviteRegenerate, protocol.InviteRegenerate{InviteID: old.ID})
	var regen protocol.InviteRegeneratedPayload
	expectEvent(t, a, protocol.EventInviteRegenerated, &regen)
	expectEvent(t, b, protocol.EventInviteRegenerated, nil)
	if len(regen.InviteLinks) != 1 || regen.InviteLinks[0].ID == old.ID || regen.InviteLinks[0].Key == old.Key {
		t.Fatalf("invites = %+v", regen.InviteLinks)
	}
	if _, err := h.db.GetInviteKey(old.ID); err == nil {
		t.Fatal("old invite should be gone")
	}
}

func TestRateLimited(t *testing.T) {
	h := newHarness(t)
	c := h.connect()
	for i := 0; i < 30; i++ {
		h.send(t, c, protocol.TypeRealmJoin, nil)
		expectError(t, c, protocol.CodeNotAuthenticated)
	}
	h.send(t, c, protocol.TypeRealmJoin, nil)
	e := expectError(t, c, protocol.CodeRateLimited)
	if e.Message != "Too many messages, slow down" {
		t.Errorf("message = %q", e.Message)
	}
	if c.Closed() {
		t.Fatal("rate limiting must not close the socket")
	}
}

func TestMalformedFrames(t *testing.T) {
	h := newHarness(t)
	c := h.login(t, newIdentity(t, "Alice"))

	h.d.HandleMessage(c, []byte("not json"))
	expectError(t, c, protocol.CodeInvalidMessage)

	h.d.HandleMessage(c, []byte(`{"id":"1","timestamp":1,"payload":{}}`))
	expectError(t, c, protocol.CodeInvalidMessage)

	h.send(t, c, "realm:explode", nil)
	e := expectError(t, c, protocol.CodeUnknownType)
	if e.Message != "Unknown message type: realm:explode" {
		t.Errorf("message = %q", e.Message)
	}

	h.send(t, c, protocol.TypeChannelJoin, map[string]interface{}{"channelId": 42})
	expectError(t, c, protocol.CodeInvalidMessage)

	h.send(t, c, protocol.TypeChannelJoin, map[string]interface{}{})
	expectError(t, c, protocol.CodeInvalidMessage)

	// The socket keeps working.
	h.send(t, c, protocol.TypeRealmJoin, nil)
	expectEvent(t, c, protocol.EventRealmWelcome, nil)
}

func TestDispatchSpan(t *testing.T) {
	h := newHarness(t)
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { provider.Shutdown(context.Background()) })
	h.d.tracer = provider.Tracer(tracerName)

	c := h.login(t, newIdentity(t, "Alice"))
	h.send(t, c, protocol.TypeRealmJoin, nil)
	expectEvent(t, c, protocol.EventRealmWelcome, nil)

	h.send(t, c, protocol.TypeChannelJoin, protocol.ChannelJoin{ChannelID: "missing"})
	expectError(t, c, protocol.CodeNotFound)

	spans := recorder.Ended()
	if len(spans) != 4 {
		t.Fatalf("got %d spans", len(spans))
	}
	join := spans[2]
	if join.Name() != "ws realm:join" {
		t.Fatalf("span name = %s", join.Name())
	}
	found := false
	for _, kv := range join.Attributes() {
		if string(kv.Key) == cid.AttributeName && kv.Value.AsString() == c.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("span attributes %v lack the correlation id", join.Attributes())
	}
	if spans[3].Status().Code.String() != "Error" {
		t.Errorf("failed command span status = %v", spans[3].Status())
	}
}
