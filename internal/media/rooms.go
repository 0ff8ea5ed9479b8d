package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"

	"github.com/thereayou/concord/pkg/protocol"
)

// RouterFactory hands out routers for new rooms. *Pool implements it.
type RouterFactory interface {
	Ready() bool
	CreateRouter(ctx context.Context) (Router, error)
}

// ProducerInfo describes one open producer for signaling.
type ProducerInfo struct {
	ID        string
	Kind      protocol.MediaKind
	Role      protocol.ProducerKind
	PublicKey string
}

type ConsumerInfo struct {
	ID                string
	ProducerID        string
	Kind              protocol.MediaKind
	RtpParameters     json.RawMessage
	ProducerKind      protocol.ProducerKind
	ProducerPublicKey string
}

type TransportInfo struct {
	ID     string
	Params TransportParams
}

// JoinResult is everything a joiner needs to catch up with the room.
type JoinResult struct {
	RtpCapabilities json.RawMessage
	Roster          []protocol.VoiceParticipant
	Producers       []ProducerInfo
	// Replaced lists producers of an earlier session of the same identity
	// that the join displaced.
	Replaced []ProducerInfo
}

type producerEntry struct {
	handle Producer
	role   protocol.ProducerKind
}

type consumerEntry struct {
	handle     Consumer
	producerID string
}

type participant struct {
	publicKey string
	name      string
	sessionID string
	seq       uint64

	send      Transport
	recv      Transport
	producers map[string]*producerEntry
	consumers map[string]*consumerEntry
}

type room struct {
	channelID    string
	router       Router
	participants map[string]*participant
}

// Rooms owns every voice room. A room exists exactly while it has at least
// one participant. Engine calls run without the lock held, so state is
// looked up again afterwards.
type Rooms struct {
	factory         RouterFactory
	transportOpts   TransportOptions
	maxParticipants int

	mu    sync.Mutex
	rooms map[string]*room
	seq   uint64
}

func NewRooms(factory RouterFactory, transportOpts TransportOptions, maxParticipants int) *Rooms {
	return &Rooms{
		factory:         factory,
		transportOpts:   transportOpts,
		maxParticipants: maxParticipants,
		rooms:           make(map[string]*room),
	}
}

// Join adds the identity to the room for channelID, creating the room and
// its router on first use. sessionID ties the participant to one socket.
func (r *Rooms) Join(ctx context.Context, channelID, publicKey, name, sessionID string) (*JoinResult, error) {
	if r.factory == nil || !r.factory.Ready() {
		return nil, ErrUnavailable
	}

	r.mu.Lock()
	if rm, ok := r.rooms[channelID]; ok {
		res, displaced, orphans, err := r.admitLocked(rm, publicKey, name, sessionID)
		r.mu.Unlock()
		if err != nil {
			return nil, err
		}
		closeDisplaced(displaced, orphans)
		return res, nil
	}
	r.mu.Unlock()

	router, err := r.factory.CreateRouter(ctx)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	r.mu.Lock()
	rm, raced := r.rooms[channelID]
	if !raced {
		rm = &room{channelID: channelID, router: router, participants: make(map[string]*participant)}
		r.rooms[channelID] = rm
		log.Printf("[voice] room %s created on router %s", channelID, router.ID())
	}
	res, displaced, orphans, err := r.admitLocked(rm, publicKey, name, sessionID)
	r.mu.Unlock()

	if raced {
		closeQuietly("router", router)
	}
	if err != nil {
		return nil, err
	}
	closeDisplaced(displaced, orphans)
	return res, nil
}

func (r *Rooms) admitLocked(rm *room, publicKey, name, sessionID string) (*JoinResult, *participant, []Consumer, error) {
	displaced := rm.participants[publicKey]
	count := len(rm.participants)
	if displaced != nil {
		count--
	}
	if r.maxParticipants > 0 && count >= r.maxParticipants {
		return nil, nil, nil, ErrRoomFull
	}

	res := &JoinResult{RtpCapabilities: rm.router.RtpCapabilities()}
	var orphans []Consumer
	if displaced != nil {
		res.Replaced = producersOf(displaced)
		orphans = dropConsumersOf(rm, displaced)
	}

	r.seq++
	rm.participants[publicKey] = &participant{
		publicKey: publicKey,
		name:      name,
		sessionID: sessionID,
		seq:       r.seq,
		producers: make(map[string]*producerEntry),
		consumers: make(map[string]*consumerEntry),
	}

	for _, p := range sortedParticipants(rm) {
		if p.publicKey == publicKey {
			continue
		}
		res.Roster = append(res.Roster, protocol.VoiceParticipant{PublicKey: p.publicKey, Name: p.name})
		res.Producers = append(res.Producers, producersOf(p)...)
	}
	return res, displaced, orphans, nil
}

func (r *Rooms) lookupLocked(channelID, publicKey, sessionID string) (*room, *participant, error) {
	rm, ok := r.rooms[channelID]
	if !ok {
		return nil, nil, ErrRoomNotFound
	}
	p, ok := rm.participants[publicKey]
	if !ok || p.sessionID != sessionID {
		return nil, nil, ErrParticipantNotFound
	}
	return rm, p, nil
}

// CreateTransport allocates a send or recv transport for the participant.
// An earlier transport in the same direction is closed.
func (r *Rooms) CreateTransport(ctx context.Context, channelID, publicKey, sessionID string, direction protocol.Direction) (*TransportInfo, error) {
	r.mu.Lock()
	rm, p, err := r.lookupLocked(channelID, publicKey, sessionID)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	router := rm.router
	r.mu.Unlock()

	t, err := router.CreateTransport(ctx, direction, r.transportOpts)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	_, current, err := r.lookupLocked(channelID, publicKey, sessionID)
	if err != nil || current != p {
		r.mu.Unlock()
		closeQuietly("transport", t)
		return nil, ErrParticipantNotFound
	}
	var old Transport
	if direction == protocol.DirectionSend {
		old, p.send = p.send, t
	} else {
		old, p.recv = p.recv, t
	}
	r.mu.Unlock()

	if old != nil {
		closeQuietly("transport", old)
	}
	return &TransportInfo{ID: t.ID(), Params: t.Params()}, nil
}

// ConnectTransport completes the DTLS handshake of one of the participant's
// transports.
func (r *Rooms) ConnectTransport(ctx context.Context, channelID, publicKey, sessionID, transportID string, dtlsParameters json.RawMessage) error {
	r.mu.Lock()
	_, p, err := r.lookupLocked(channelID, publicKey, sessionID)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	var t Transport
	switch {
	case p.send != nil && p.send.ID() == transportID:
		t = p.send
	case p.recv != nil && p.recv.ID() == transportID:
		t = p.recv
	}
	r.mu.Unlock()

	if t == nil {
		return ErrTransportNotFound
	}
	return t.Connect(ctx, dtlsParameters)
}

// Produce opens a producer on the participant's send transport.
func (r *Rooms) Produce(ctx context.Context, channelID, publicKey, sessionID string, kind protocol.MediaKind, rtpParameters json.RawMessage, role protocol.ProducerKind) (*ProducerInfo, error) {
	r.mu.Lock()
	_, p, err := r.lookupLocked(channelID, publicKey, sessionID)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	send := p.send
	r.mu.Unlock()
	if send == nil {
		return nil, ErrNoSendTransport
	}

	prod, err := send.Produce(ctx, kind, rtpParameters)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	_, current, err := r.lookupLocked(channelID, publicKey, sessionID)
	if err != nil || current != p || p.send != send {
		r.mu.Unlock()
		closeQuietly("producer", prod)
		return nil, ErrParticipantNotFound
	}
	p.producers[prod.ID()] = &producerEntry{handle: prod, role: role}
	r.mu.Unlock()

	log.Printf("[voice] %s producing %s (%s) in %s", short(publicKey), kind, role, channelID)
	return &ProducerInfo{ID: prod.ID(), Kind: prod.Kind(), Role: role, PublicKey: publicKey}, nil
}

// Consume opens a consumer of producerID on the participant's recv
// transport. Compatibility is checked against the router's own
// capabilities, which every client device was loaded from.
func (r *Rooms) Consume(ctx context.Context, channelID, publicKey, sessionID, producerID string) (*ConsumerInfo, error) {
	r.mu.Lock()
	rm, p, err := r.lookupLocked(channelID, publicKey, sessionID)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	recv := p.recv
	owner, entry := findProducer(rm, producerID)
	router := rm.router
	r.mu.Unlock()

	if recv == nil {
		return nil, ErrNoRecvTransport
	}
	if entry == nil {
		return nil, ErrProducerNotFound
	}

	caps := router.RtpCapabilities()
	ok, err := router.CanConsume(ctx, producerID, caps)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCannotConsume
	}

	cons, err := recv.Consume(ctx, producerID, caps)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	rm2, current, err := r.lookupLocked(channelID, publicKey, sessionID)
	if err == nil && current == p && p.recv == recv {
		if _, still := findProducer(rm2, producerID); still == nil {
			err = ErrProducerNotFound
		}
	} else {
		err = ErrParticipantNotFound
	}
	if err != nil {
		r.mu.Unlock()
		closeQuietly("consumer", cons)
		return nil, err
	}
	p.consumers[cons.ID()] = &consumerEntry{handle: cons, producerID: producerID}
	r.mu.Unlock()

	return &ConsumerInfo{
		ID:                cons.ID(),
		ProducerID:        producerID,
		Kind:              cons.Kind(),
		RtpParameters:     cons.RtpParameters(),
		ProducerKind:      entry.role,
		ProducerPublicKey: owner,
	}, nil
}

// CloseProducer closes one of the participant's producers together with
// every consumer reading from it.
func (r *Rooms) CloseProducer(channelID, publicKey, sessionID, producerID string) (*ProducerInfo, error) {
	r.mu.Lock()
	rm, p, err := r.lookupLocked(channelID, publicKey, sessionID)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	entry, ok := p.producers[producerID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrProducerNotFound
	}
	delete(p.producers, producerID)
	orphans := detachConsumers(rm, map[string]struct{}{producerID: {}})
	r.mu.Unlock()

	for _, c := range orphans {
		closeQuietly("consumer", c)
	}
	closeQuietly("producer", entry.handle)
	return &ProducerInfo{ID: producerID, Kind: entry.handle.Kind(), Role: entry.role, PublicKey: publicKey}, nil
}

// Leave removes the participant, closing its handles, and tears the room
// down when it was the last one. It returns the producers that were open.
func (r *Rooms) Leave(channelID, publicKey, sessionID string) ([]ProducerInfo, error) {
	r.mu.Lock()
	rm, p, err := r.lookupLocked(channelID, publicKey, sessionID)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	delete(rm.participants, publicKey)
	produced := producersOf(p)
	orphans := dropConsumersOf(rm, p)
	var router Router
	if len(rm.participants) == 0 {
		delete(r.rooms, channelID)
		router = rm.router
	}
	r.mu.Unlock()

	for _, c := range orphans {
		closeQuietly("consumer", c)
	}
	closeParticipant(p)
	if router != nil {
		closeQuietly("router", router)
		log.Printf("[voice] room %s closed", channelID)
	}
	return produced, nil
}

// CloseAll tears down every room. Used at shutdown.
func (r *Rooms) CloseAll() {
	r.mu.Lock()
	rooms := r.rooms
	r.rooms = make(map[string]*room)
	r.mu.Unlock()

	for _, rm := range rooms {
		for _, p := range rm.participants {
			closeParticipant(p)
		}
		closeQuietly("router", rm.router)
	}
}

// Participants lists the roster of every room keyed by channel id.
func (r *Rooms) Participants() map[string][]protocol.VoiceParticipant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]protocol.VoiceParticipant, len(r.rooms))
	for id, rm := range r.rooms {
		for _, p := range sortedParticipants(rm) {
			out[id] = append(out[id], protocol.VoiceParticipant{PublicKey: p.publicKey, Name: p.name})
		}
	}
	return out
}

// ScreenSharers lists, per room, identities with an open screen producer.
func (r *Rooms) ScreenSharers() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]string)
	for id, rm := range r.rooms {
		for _, p := range sortedParticipants(rm) {
			for _, e := range p.producers {
				if e.role == protocol.ProducerScreen {
					out[id] = append(out[id], p.publicKey)
					break
				}
			}
		}
	}
	return out
}

func (r *Rooms) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func (r *Rooms) HasRoom(channelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[channelID]
	return ok
}

func sortedParticipants(rm *room) []*participant {
	ps := make([]*participant, 0, len(rm.participants))
	for _, p := range rm.participants {
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].seq < ps[j].seq })
	return ps
}

func producersOf(p *participant) []ProducerInfo {
	out := make([]ProducerInfo, 0, len(p.producers))
	for id, e := range p.producers {
		out = append(out, ProducerInfo{ID: id, Kind: e.handle.Kind(), Role: e.role, PublicKey: p.publicKey})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func findProducer(rm *room, producerID string) (string, *producerEntry) {
	for pk, p := range rm.participants {
		if e, ok := p.producers[producerID]; ok {
			return pk, e
		}
	}
	return "", nil
}

// detachConsumers removes, from every participant, consumers reading one of
// the given producers and returns their handles.
func detachConsumers(rm *room, producerIDs map[string]struct{}) []Consumer {
	var out []Consumer
	for _, p := range rm.participants {
		for id, c := range p.consumers {
			if _, ok := producerIDs[c.producerID]; ok {
				delete(p.consumers, id)
				out = append(out, c.handle)
			}
		}
	}
	return out
}

// dropConsumersOf detaches the consumers other participants hold on p's
// producers.
func dropConsumersOf(rm *room, p *participant) []Consumer {
	if len(p.producers) == 0 {
		return nil
	}
	ids := make(map[string]struct{}, len(p.producers))
	for id := range p.producers {
		ids[id] = struct{}{}
	}
	return detachConsumers(rm, ids)
}

func closeDisplaced(p *participant, orphans []Consumer) {
	for _, c := range orphans {
		closeQuietly("consumer", c)
	}
	closeParticipant(p)
}

// closeParticipant closes consumers, producers and transports, in that order.
func closeParticipant(p *participant) {
	if p == nil {
		return
	}
	for _, c := range p.consumers {
		closeQuietly("consumer", c.handle)
	}
	for _, e := range p.producers {
		closeQuietly("producer", e.handle)
	}
	if p.send != nil {
		closeQuietly("transport", p.send)
	}
	if p.recv != nil {
		closeQuietly("transport", p.recv)
	}
}

func closeQuietly(what string, c io.Closer) {
	if err := c.Close(); err != nil {
		log.Printf("[voice] close %s: %v", what, err)
	}
}

func short(publicKey string) string {
	if len(publicKey) > 8 {
		return publicKey[:8]
	}
	return publicKey
}
