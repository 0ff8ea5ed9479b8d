package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mr-tron/base58"
	"github.com/thereayou/concord/internal/config"
	"github.com/thereayou/concord/pkg/auth"
	"github.com/thereayou/concord/pkg/protocol"
)

func testServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	cfg := &config.Config{
		RealmName:           "Integration",
		AllowDirectMessages: true,
		DataDir:             dir,
		DatabaseDriver:      "sqlite",
		DatabaseURL:         filepath.Join(dir, "concord.db"),
		MaxFileSize:         1 << 20,
		AuthTimeout:         5 * time.Second,
		SessionSecret:       "secret",
		SessionTTL:          time.Hour,
		RetentionInterval:   time.Hour,
	}
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(s.Router)
	t.Cleanup(func() {
		ts.Close()
		s.Hub.Stop()
		s.Rooms.CloseAll()
		s.Files.Wait()
		s.DB.Close()
	})
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()
	env, err := protocol.NewEnvelope(msgType, payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatal(err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn, want string, out interface{}) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env protocol.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("waiting for %s: %v", want, err)
	}
	if env.Type != want {
		t.Fatalf("expected %s, got %s %s", want, env.Type, env.Payload)
	}
	if out != nil {
		if err := json.Unmarshal(env.Payload, out); err != nil {
			t.Fatal(err)
		}
	}
}

func TestEndToEnd(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Concord-CID") == "" {
		t.Fatal("responses should carry a correlation id")
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	key := base58.Encode(pub)
	conn := dial(t, ts)

	sendFrame(t, conn, protocol.TypeRealmJoin, nil)
	var e protocol.Error
	readFrame(t, conn, protocol.EventRealmError, &e)
	if e.Code != protocol.CodeNotAuthenticated {
		t.Fatalf("gate error = %+v", e)
	}

	sendFrame(t, conn, protocol.TypeUserProfile, protocol.UserProfile{PublicKey: key, Name: "Alice"})
	var challenge protocol.AuthChallengePayload
	readFrame(t, conn, protocol.EventAuthChallenge, &challenge)
	sig := ed25519.Sign(priv, []byte(auth.ChallengeMessage(challenge.Nonce, key)))
	sendFrame(t, conn, protocol.TypeAuthResponse, protocol.AuthResponse{Signature: hex.EncodeToString(sig)})
	var verified protocol.AuthVerifiedPayload
	readFrame(t, conn, protocol.EventAuthVerified, &verified)
	if verified.Token == "" {
		t.Fatal("expected a session token")
	}

	sendFrame(t, conn, protocol.TypeRealmJoin, nil)
	var welcome protocol.WelcomePayload
	readFrame(t, conn, protocol.EventRealmWelcome, &welcome)
	if welcome.Realm.Name != "Integration" || len(welcome.Channels) != 2 {
		t.Fatalf("welcome = %+v", welcome)
	}
	if len(welcome.OnlineKeys) != 1 || welcome.OnlineKeys[0] != key {
		t.Fatalf("online = %v", welcome.OnlineKeys)
	}

	// Voice is off without media workers.
	var voiceID string
	for _, ch := range welcome.Channels {
		if ch.Type == protocol.ChannelVoice {
			voiceID = ch.ID
		}
	}
	sendFrame(t, conn, protocol.TypeVoiceJoin, protocol.VoiceJoin{ChannelID: voiceID})
	readFrame(t, conn, protocol.EventRealmError, &e)
	if e.Code != protocol.CodeVoiceError {
		t.Fatalf("voice error = %+v", e)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/files/missing", nil)
	req.Header.Set("Authorization", "Bearer "+verified.Token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("authorized download of a missing file = %d", resp.StatusCode)
	}
}
