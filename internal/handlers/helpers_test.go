package handlers

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/thereayou/concord/internal/config"
	"github.com/thereayou/concord/internal/database"
	"github.com/thereayou/concord/internal/media"
	"github.com/thereayou/concord/internal/media/mediatest"
	ws "github.com/thereayou/concord/internal/websocket"
	"github.com/thereayou/concord/pkg/auth"
	"github.com/thereayou/concord/pkg/protocol"
)

type identity struct {
	key  string
	priv ed25519.PrivateKey
	name string
}

func newIdentity(t *testing.T, name string) identity {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return identity{key: base58.Encode(pub), priv: priv, name: name}
}

func (id identity) sign(nonce string) string {
	return hex.EncodeToString(ed25519.Sign(id.priv, []byte(auth.ChallengeMessage(nonce, id.key))))
}

type harness struct {
	d      *Dispatcher
	db     *database.Database
	hub    *ws.Hub
	engine *mediatest.Engine
	cfg    *config.Config
	tokens *auth.JWTManager
	admin  identity
}

func newHarness(t *testing.T, tweak ...func(*config.Config)) *harness {
	t.Helper()
	db, err := database.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.EnsureRealm(database.RealmDefaults{Name: "Test Realm", AllowDirectMessages: true}); err != nil {
		t.Fatal(err)
	}
	if err := db.EnsureDefaultChannels(); err != nil {
		t.Fatal(err)
	}

	admin := newIdentity(t, "Admin")
	cfg := &config.Config{
		AuthTimeout: 5 * time.Second,
		Admins:      []string{admin.key},
		IceServers:  []protocol.IceServer{{URLs: []string{"stun:stun.example.org:3478"}}},
	}
	for _, f := range tweak {
		f(cfg)
	}

	engine := mediatest.New()
	rooms := media.NewRooms(engine.Pool(), media.DefaultTransportOptions("127.0.0.1", "127.0.0.1"), cfg.MaxVoiceParticipants)
	hub := ws.NewHub()
	tokens := auth.NewJWTManager("test-secret", time.Hour, "test")

	return &harness{
		d:      NewDispatcher(cfg, db, hub, rooms, tokens, nil),
		db:     db,
		hub:    hub,
		engine: engine,
		cfg:    cfg,
		tokens: tokens,
		admin:  admin,
	}
}

func (h *harness) connect() *ws.Client {
	c := ws.NewClient(nil)
	h.hub.Register(c)
	return c
}

func (h *harness) send(t *testing.T, c *ws.Client, msgType string, payload interface{}) {
	t.Helper()
	env, err := protocol.NewEnvelope(msgType, payload)
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	h.d.HandleMessage(c, data)
}

// login connects a socket and runs the full challenge flow for id. Frames
// it causes on other sockets are left for the caller.
func (h *harness) login(t *testing.T, id identity) *ws.Client {
	t.Helper()
	c := h.connect()
	h.send(t, c, protocol.TypeUserProfile, protocol.UserProfile{PublicKey: id.key, Name: id.name})
	var challenge protocol.AuthChallengePayload
	expectEvent(t, c, protocol.EventAuthChallenge, &challenge)
	h.send(t, c, protocol.TypeAuthResponse, protocol.AuthResponse{Signature: id.sign(challenge.Nonce)})
	expectEvent(t, c, protocol.EventAuthVerified, nil)
	return c
}

func readEvent(t *testing.T, c *ws.Client) protocol.Envelope {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		if !ok {
			t.Fatalf("client %s closed while waiting for an event", c.ID)
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		return env
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for an event on %s", c.ID)
	}
	return protocol.Envelope{}
}

// expectEvent reads the next frame, checks its type and decodes the payload
// into out when out is not nil.
func expectEvent(t *testing.T, c *ws.Client, eventType string, out interface{}) {
	t.Helper()
	env := readEvent(t, c)
	if env.Type != eventType {
		t.Fatalf("expected %s, got %s %s", eventType, env.Type, env.Payload)
	}
	if out != nil {
		if err := json.Unmarshal(env.Payload, out); err != nil {
			t.Fatalf("decode %s: %v", eventType, err)
		}
	}
}

func expectError(t *testing.T, c *ws.Client, code string) protocol.Error {
	t.Helper()
	var e protocol.Error
	expectEvent(t, c, protocol.EventRealmError, &e)
	if e.Code != code {
		t.Fatalf("expected error %s, got %s (%s)", code, e.Code, e.Message)
	}
	return e
}

func expectSilence(t *testing.T, c *ws.Client) {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		if ok {
			t.Fatalf("unexpected frame on %s: %s", c.ID, data)
		}
	case <-time.After(20 * time.Millisecond):
	}
}

func drain(c *ws.Client) {
	for {
		select {
		case _, ok := <-c.Send:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (h *harness) channelID(t *testing.T, name string) string {
	t.Helper()
	channels, err := h.db.ListChannels()
	if err != nil {
		t.Fatal(err)
	}
	for _, ch := range channels {
		if ch.Name == name {
			return ch.ID
		}
	}
	t.Fatalf("no channel named %s", name)
	return ""
}
