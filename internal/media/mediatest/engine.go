// Package mediatest provides an in-memory media engine that tracks every
// handle it hands out, so tests can assert nothing is left open.
package mediatest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/thereayou/concord/internal/media"
	"github.com/thereayou/concord/pkg/protocol"
)

var ErrClosed = errors.New("handle already closed")

// Engine is a media.Worker. The zero value is not usable; use New.
type Engine struct {
	mu      sync.Mutex
	nextID  int
	open    map[string]string
	refuse  map[string]bool
	Routers int

	// BeforeTransport, when set, runs inside CreateTransport before the
	// handle is returned. Tests use it to interleave other operations.
	BeforeTransport func()
	// FailRouter makes CreateRouter fail with this error.
	FailRouter error
}

func New() *Engine {
	return &Engine{open: make(map[string]string), refuse: make(map[string]bool)}
}

// Pool wraps the engine in a single worker pool.
func (e *Engine) Pool() *media.Pool {
	return media.NewPool([]media.Worker{e}, nil)
}

// Open returns the number of open handles of a kind ("router", "transport",
// "producer", "consumer"), or of all kinds when kind is empty.
func (e *Engine) Open(kind string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, k := range e.open {
		if kind == "" || k == kind {
			n++
		}
	}
	return n
}

// RefuseConsume makes CanConsume report false for producerID.
func (e *Engine) RefuseConsume(producerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refuse[producerID] = true
}

func (e *Engine) alloc(kind string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := fmt.Sprintf("%s-%d", kind, e.nextID)
	e.open[id] = kind
	return id
}

func (e *Engine) release(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.open[id]; !ok {
		return ErrClosed
	}
	delete(e.open, id)
	return nil
}

func (e *Engine) CreateRouter(ctx context.Context, mediaCodecs json.RawMessage) (media.Router, error) {
	if e.FailRouter != nil {
		return nil, e.FailRouter
	}
	e.mu.Lock()
	e.Routers++
	e.mu.Unlock()
	return &router{engine: e, id: e.alloc("router"), caps: json.RawMessage(`{"codecs":[]}`)}, nil
}

func (e *Engine) Close() error { return nil }

type router struct {
	engine *Engine
	id     string
	caps   json.RawMessage
}

func (r *router) ID() string                       { return r.id }
func (r *router) RtpCapabilities() json.RawMessage { return r.caps }
func (r *router) Close() error                     { return r.engine.release(r.id) }

func (r *router) CanConsume(ctx context.Context, producerID string, caps json.RawMessage) (bool, error) {
	r.engine.mu.Lock()
	defer r.engine.mu.Unlock()
	return !r.engine.refuse[producerID], nil
}

func (r *router) CreateTransport(ctx context.Context, direction protocol.Direction, opts media.TransportOptions) (media.Transport, error) {
	if hook := r.engine.BeforeTransport; hook != nil {
		hook()
	}
	return &transport{engine: r.engine, id: r.engine.alloc("transport")}, nil
}

type transport struct {
	engine    *Engine
	id        string
	connected bool
}

func (t *transport) ID() string { return t.id }

func (t *transport) Params() media.TransportParams {
	return media.TransportParams{
		IceParameters:  json.RawMessage(`{"usernameFragment":"u","password":"p"}`),
		IceCandidates:  json.RawMessage(`[]`),
		DtlsParameters: json.RawMessage(`{"role":"auto","fingerprints":[]}`),
	}
}

func (t *transport) Connect(ctx context.Context, dtls json.RawMessage) error {
	if len(dtls) == 0 {
		return errors.New("missing dtls parameters")
	}
	t.connected = true
	return nil
}

func (t *transport) Produce(ctx context.Context, kind protocol.MediaKind, rtp json.RawMessage) (media.Producer, error) {
	return &producer{engine: t.engine, id: t.engine.alloc("producer"), kind: kind}, nil
}

func (t *transport) Consume(ctx context.Context, producerID string, caps json.RawMessage) (media.Consumer, error) {
	return &consumer{
		engine:     t.engine,
		id:         t.engine.alloc("consumer"),
		producerID: producerID,
		kind:       protocol.KindAudio,
	}, nil
}

func (t *transport) Close() error { return t.engine.release(t.id) }

type producer struct {
	engine *Engine
	id     string
	kind   protocol.MediaKind
}

func (p *producer) ID() string               { return p.id }
func (p *producer) Kind() protocol.MediaKind { return p.kind }
func (p *producer) Close() error             { return p.engine.release(p.id) }

type consumer struct {
	engine     *Engine
	id         string
	producerID string
	kind       protocol.MediaKind
}

func (c *consumer) ID() string                     { return c.id }
func (c *consumer) ProducerID() string             { return c.producerID }
func (c *consumer) Kind() protocol.MediaKind       { return c.kind }
func (c *consumer) RtpParameters() json.RawMessage { return json.RawMessage(`{"codecs":[]}`) }
func (c *consumer) Close() error                   { return c.engine.release(c.id) }
