package websocket

import (
	"log"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/thereayou/concord/pkg/protocol"
)

// Hub is the registry of live clients. It is the only authority on which
// identities are online.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]uint64
	seq     uint64
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]uint64)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	h.clients[client] = h.seq
}

// Unregister removes the client and reports whether it was present.
func (h *Hub) Unregister(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return false
	}
	delete(h.clients, client)
	return true
}

func (h *Hub) Contains(client *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[client]
	return ok
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) snapshot(filter func(*Client) bool) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if filter(c) {
			out = append(out, c)
		}
	}
	return out
}

// FindByPublicKey returns the most recently registered authenticated client
// bound to publicKey, or nil.
func (h *Hub) FindByPublicKey(publicKey string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var found *Client
	var foundSeq uint64
	for c, seq := range h.clients {
		if c.PublicKey() == publicKey && seq > foundSeq {
			found, foundSeq = c, seq
		}
	}
	return found
}

// SessionsOf returns every authenticated client bound to publicKey other
// than except.
func (h *Hub) SessionsOf(publicKey string, except *Client) []*Client {
	return h.snapshot(func(c *Client) bool {
		return c != except && c.PublicKey() == publicKey
	})
}

func (h *Hub) IsOnline(publicKey string) bool {
	return h.FindByPublicKey(publicKey) != nil
}

// OnlineKeys lists distinct authenticated identities, sorted.
func (h *Hub) OnlineKeys() []string {
	seen := make(map[string]struct{})
	for _, c := range h.snapshot(func(c *Client) bool { return c.IsAuthenticated() }) {
		if pk := c.PublicKey(); pk != "" {
			seen[pk] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AuthenticatedCount counts authenticated clients other than except.
func (h *Hub) AuthenticatedCount(except *Client) int {
	return len(h.snapshot(func(c *Client) bool {
		return c != except && c.IsAuthenticated()
	}))
}

// SendToChannel delivers an event to every client joined to channelID
// except exclude, which may be nil.
func (h *Hub) SendToChannel(channelID string, eventType string, payload interface{}, exclude *Client) {
	h.fanOut(eventType, payload, func(c *Client) bool {
		return c != exclude && c.HasJoined(channelID)
	})
}

// Broadcast delivers an event to every authenticated client except exclude.
func (h *Hub) Broadcast(eventType string, payload interface{}, exclude *Client) {
	h.fanOut(eventType, payload, func(c *Client) bool {
		return c != exclude && c.IsAuthenticated()
	})
}

func (h *Hub) fanOut(eventType string, payload interface{}, filter func(*Client) bool) {
	recipients := h.snapshot(filter)
	if len(recipients) == 0 {
		return
	}
	data, err := protocol.Encode(eventType, payload)
	if err != nil {
		log.Printf("[ws] encode %s: %v", eventType, err)
		return
	}
	for _, c := range recipients {
		c.SendRaw(data)
	}
}

// InVoice returns the clients whose active voice channel is channelID.
func (h *Hub) InVoice(channelID string) []*Client {
	return h.snapshot(func(c *Client) bool { return c.VoiceChannel() == channelID })
}

// ForgetChannel drops channelID from every client's joined set.
func (h *Hub) ForgetChannel(channelID string) {
	for _, c := range h.snapshot(func(c *Client) bool { return c.HasJoined(channelID) }) {
		c.LeaveChannel(channelID)
	}
}

// Stop closes every client. Their read pumps run the usual teardown.
func (h *Hub) Stop() {
	for _, c := range h.snapshot(func(*Client) bool { return true }) {
		c.CloseWithReason(websocket.CloseGoingAway, "server shutting down")
	}
}
