package websocket

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"
	"github.com/thereayou/concord/pkg/protocol"
)

const (
	writeWait = 10 * time.Second

	pongWait = 60 * time.Second

	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 512 * 1024

	sendBuffer = 256
)

// Close codes sent to clients the server disconnects on purpose.
const (
	CloseAuthTimeout     = 4000
	CloseSessionReplaced = 4001
)

// AuthState is where a connection is in the challenge-response flow.
type AuthState int

const (
	Unauthenticated AuthState = iota
	ChallengeIssued
	Authenticated
)

func (s AuthState) String() string {
	switch s {
	case ChallengeIssued:
		return "challenge-issued"
	case Authenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// MessageHandler consumes raw frames read from a client and is told once
// when the client goes away.
type MessageHandler interface {
	HandleMessage(client *Client, data []byte)
	HandleDisconnect(client *Client)
}

// Client is one live socket and its session state.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	limiter *RateLimiter

	mu       sync.RWMutex
	closed   bool
	closeMsg []byte

	publicKey     string
	name          string
	bio           *string
	authenticated bool
	authNonce     string
	authTimer     *time.Timer
	authSeq       uint64

	channels       map[string]struct{}
	voiceChannelID string
}

// NewClient wraps conn. conn may be nil for clients driven directly
// through the Send channel.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		ID:       ksuid.New().String(),
		Conn:     conn,
		Send:     make(chan []byte, sendBuffer),
		limiter:  NewRateLimiter(DefaultRateLimit, DefaultRateWindow),
		channels: make(map[string]struct{}),
	}
}

func (c *Client) Limiter() *RateLimiter {
	return c.limiter
}

// ReadPump reads frames until the socket fails, then runs teardown.
func (c *Client) ReadPump(handler MessageHandler) {
	defer func() {
		c.Close()
		handler.HandleDisconnect(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[ws] %s read error: %v", c.ID, err)
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		handler.HandleMessage(c, data)
	}
}

// WritePump drains Send onto the socket and keeps it alive with pings.
// Frames queued before Close are still written.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.mu.RLock()
				closeMsg := c.closeMsg
				c.mu.RUnlock()
				if closeMsg == nil {
					closeMsg = websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				}
				c.Conn.WriteMessage(websocket.CloseMessage, closeMsg)
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[ws] %s write error: %v", c.ID, err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendRaw queues an encoded frame. It is a no-op on a closed client. A
// client whose queue is full is closed rather than silently losing frames.
func (c *Client) SendRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.Send <- data:
		return nil
	default:
		log.Printf("[ws] %s send queue full, closing", c.ID)
		c.closeLocked(websocket.ClosePolicyViolation, "send queue full")
		return ErrClientQueueFull
	}
}

// SendEvent encodes and queues an event.
func (c *Client) SendEvent(eventType string, payload interface{}) error {
	data, err := protocol.Encode(eventType, payload)
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

func (c *Client) SendError(code, message string) {
	if err := c.SendEvent(protocol.EventRealmError, protocol.Error{Code: code, Message: message}); err != nil && err != ErrClientClosed {
		log.Printf("[ws] %s failed to send %s: %v", c.ID, code, err)
	}
}

// Close stops the client. Queued frames are flushed by WritePump before the
// close frame. Safe to call more than once.
func (c *Client) Close() {
	c.CloseWithReason(websocket.CloseNormalClosure, "")
}

func (c *Client) CloseWithReason(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked(code, reason)
}

func (c *Client) closeLocked(code int, reason string) {
	if c.closed {
		return
	}
	c.closed = true
	c.cancelChallengeLocked()
	c.closeMsg = websocket.FormatCloseMessage(code, reason)
	close(c.Send)
}

func (c *Client) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// AuthState derives the state from the session fields.
func (c *Client) AuthState() AuthState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case c.authenticated:
		return Authenticated
	case c.authNonce != "":
		return ChallengeIssued
	default:
		return Unauthenticated
	}
}

func (c *Client) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

// Identity returns the bound public key and display name. ok is false until
// the client is authenticated.
func (c *Client) Identity() (publicKey, name string, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.authenticated {
		return "", "", false
	}
	return c.publicKey, c.name, true
}

func (c *Client) PublicKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.authenticated {
		return ""
	}
	return c.publicKey
}

func (c *Client) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

func (c *Client) Bio() *string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bio
}

// BeginChallenge stores the claimed identity and arms the challenge timer.
// A pending challenge is replaced. onTimeout runs at most once, and never
// after the challenge is completed, failed, replaced or the client closed.
func (c *Client) BeginChallenge(publicKey, name string, bio *string, nonce string, timeout time.Duration, onTimeout func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.authenticated {
		return
	}
	c.cancelChallengeLocked()
	c.publicKey = publicKey
	c.name = name
	c.bio = bio
	c.authNonce = nonce

	seq := c.authSeq
	c.authTimer = time.AfterFunc(timeout, func() {
		c.mu.Lock()
		if c.authSeq != seq || c.authenticated || c.authNonce == "" || c.closed {
			c.mu.Unlock()
			return
		}
		c.authSeq++
		c.authTimer = nil
		c.clearClaimLocked()
		c.mu.Unlock()
		onTimeout()
	})
}

// PendingChallenge returns the nonce and claimed key of an open challenge.
func (c *Client) PendingChallenge() (nonce, publicKey string, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authenticated || c.authNonce == "" {
		return "", "", false
	}
	return c.authNonce, c.publicKey, true
}

// CompleteChallenge marks the client authenticated if nonce is still the
// open challenge.
func (c *Client) CompleteChallenge(nonce string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.authenticated || c.authNonce == "" || c.authNonce != nonce {
		return false
	}
	c.cancelChallengeLocked()
	c.authNonce = ""
	c.authenticated = true
	return true
}

// FailChallenge drops the open challenge and the claimed identity.
func (c *Client) FailChallenge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authenticated {
		return
	}
	c.cancelChallengeLocked()
	c.clearClaimLocked()
}

// CancelChallenge stops the challenge timer without touching the identity.
func (c *Client) CancelChallenge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelChallengeLocked()
}

func (c *Client) cancelChallengeLocked() {
	c.authSeq++
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
}

func (c *Client) clearClaimLocked() {
	c.publicKey = ""
	c.name = ""
	c.bio = nil
	c.authNonce = ""
}

// UpdateProfile changes display metadata of an authenticated client.
func (c *Client) UpdateProfile(name string, bio *string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = name
	c.bio = bio
}

func (c *Client) JoinChannel(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[channelID] = struct{}{}
}

func (c *Client) LeaveChannel(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, channelID)
}

func (c *Client) HasJoined(channelID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[channelID]
	return ok
}

func (c *Client) Channels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.channels))
	for id := range c.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Client) SetVoiceChannel(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voiceChannelID = channelID
}

func (c *Client) VoiceChannel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.voiceChannelID
}
