// Package remote drives SFU worker sidecars over their HTTP control API.
// Each sidecar owns one media worker process; this package only relays
// signaling and keeps handle ids.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/thereayou/concord/internal/cid"
	"github.com/thereayou/concord/internal/media"
	"github.com/thereayou/concord/pkg/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	defaultTimeout = 10 * time.Second
	// closeTimeout bounds DELETE calls made from Close, which has no context.
	closeTimeout = 5 * time.Second
)

// APIError is a non-2xx reply from a sidecar.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("media worker: %d %s", e.Status, e.Message)
}

// Worker is a media.Worker backed by one sidecar base URL.
type Worker struct {
	base *url.URL
	http *http.Client
}

// NewWorker parses rawURL and returns a worker talking to it. client may be
// nil.
func NewWorker(rawURL string, client *http.Client) (*Worker, error) {
	u, err := url.Parse(strings.TrimRight(rawURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse media worker url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("media worker url %q: unsupported scheme", rawURL)
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Worker{base: u, http: client}, nil
}

// NewWorkers builds one worker per URL.
func NewWorkers(urls []string) ([]media.Worker, error) {
	workers := make([]media.Worker, 0, len(urls))
	for _, raw := range urls {
		w, err := NewWorker(raw, nil)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, nil
}

func (w *Worker) String() string { return w.base.String() }

func (w *Worker) call(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, w.base.String()+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	cid.AddHeader(req.Header, ctx)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("media worker %s: %w", w.base.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var reply struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &reply) != nil || reply.Error == "" {
			reply.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: reply.Error}
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode media worker reply: %w", err)
	}
	return nil
}

func (w *Worker) remove(kind, id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	err := w.call(ctx, http.MethodDelete, "/"+kind+"/"+url.PathEscape(id), nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil
	}
	return err
}

func (w *Worker) CreateRouter(ctx context.Context, mediaCodecs json.RawMessage) (media.Router, error) {
	var reply struct {
		ID              string          `json:"id"`
		RtpCapabilities json.RawMessage `json:"rtpCapabilities"`
	}
	err := w.call(ctx, http.MethodPost, "/routers", map[string]interface{}{"mediaCodecs": mediaCodecs}, &reply)
	if err != nil {
		return nil, err
	}
	if reply.ID == "" {
		return nil, errors.New("media worker returned a router without id")
	}
	return &router{worker: w, id: reply.ID, caps: reply.RtpCapabilities}, nil
}

// Close releases idle connections. The sidecar process is managed outside.
func (w *Worker) Close() error {
	w.http.CloseIdleConnections()
	return nil
}

type router struct {
	worker *Worker
	id     string
	caps   json.RawMessage
}

func (r *router) ID() string                       { return r.id }
func (r *router) RtpCapabilities() json.RawMessage { return r.caps }
func (r *router) Close() error                     { return r.worker.remove("routers", r.id) }

func (r *router) CanConsume(ctx context.Context, producerID string, rtpCapabilities json.RawMessage) (bool, error) {
	var reply struct {
		CanConsume bool `json:"canConsume"`
	}
	err := r.worker.call(ctx, http.MethodPost, "/routers/"+url.PathEscape(r.id)+"/can-consume", map[string]interface{}{
		"producerId":      producerID,
		"rtpCapabilities": rtpCapabilities,
	}, &reply)
	return reply.CanConsume, err
}

type transportRequest struct {
	media.TransportOptions
	Direction protocol.Direction `json:"direction"`
}

func (r *router) CreateTransport(ctx context.Context, direction protocol.Direction, opts media.TransportOptions) (media.Transport, error) {
	var reply struct {
		ID string `json:"id"`
		media.TransportParams
	}
	err := r.worker.call(ctx, http.MethodPost, "/routers/"+url.PathEscape(r.id)+"/transports",
		transportRequest{TransportOptions: opts, Direction: direction}, &reply)
	if err != nil {
		return nil, err
	}
	return &transport{worker: r.worker, id: reply.ID, params: reply.TransportParams}, nil
}

type transport struct {
	worker *Worker
	id     string
	params media.TransportParams
}

func (t *transport) ID() string                    { return t.id }
func (t *transport) Params() media.TransportParams { return t.params }
func (t *transport) Close() error                  { return t.worker.remove("transports", t.id) }

func (t *transport) path(action string) string {
	return "/transports/" + url.PathEscape(t.id) + "/" + action
}

func (t *transport) Connect(ctx context.Context, dtlsParameters json.RawMessage) error {
	return t.worker.call(ctx, http.MethodPost, t.path("connect"),
		map[string]interface{}{"dtlsParameters": dtlsParameters}, nil)
}

func (t *transport) Produce(ctx context.Context, kind protocol.MediaKind, rtpParameters json.RawMessage) (media.Producer, error) {
	var reply struct {
		ID   string             `json:"id"`
		Kind protocol.MediaKind `json:"kind"`
	}
	err := t.worker.call(ctx, http.MethodPost, t.path("produce"), map[string]interface{}{
		"kind":          kind,
		"rtpParameters": rtpParameters,
	}, &reply)
	if err != nil {
		return nil, err
	}
	if reply.Kind == "" {
		reply.Kind = kind
	}
	return &producer{worker: t.worker, id: reply.ID, kind: reply.Kind}, nil
}

func (t *transport) Consume(ctx context.Context, producerID string, rtpCapabilities json.RawMessage) (media.Consumer, error) {
	var reply struct {
		ID            string             `json:"id"`
		ProducerID    string             `json:"producerId"`
		Kind          protocol.MediaKind `json:"kind"`
		RtpParameters json.RawMessage    `json:"rtpParameters"`
	}
	err := t.worker.call(ctx, http.MethodPost, t.path("consume"), map[string]interface{}{
		"producerId":      producerID,
		"rtpCapabilities": rtpCapabilities,
		"paused":          false,
	}, &reply)
	if err != nil {
		return nil, err
	}
	if reply.ProducerID == "" {
		reply.ProducerID = producerID
	}
	return &consumer{
		worker:     t.worker,
		id:         reply.ID,
		producerID: reply.ProducerID,
		kind:       reply.Kind,
		rtp:        reply.RtpParameters,
	}, nil
}

type producer struct {
	worker *Worker
	id     string
	kind   protocol.MediaKind
}

func (p *producer) ID() string               { return p.id }
func (p *producer) Kind() protocol.MediaKind { return p.kind }
func (p *producer) Close() error             { return p.worker.remove("producers", p.id) }

type consumer struct {
	worker     *Worker
	id         string
	producerID string
	kind       protocol.MediaKind
	rtp        json.RawMessage
}

func (c *consumer) ID() string                     { return c.id }
func (c *consumer) ProducerID() string             { return c.producerID }
func (c *consumer) Kind() protocol.MediaKind       { return c.kind }
func (c *consumer) RtpParameters() json.RawMessage { return c.rtp }
func (c *consumer) Close() error                   { return c.worker.remove("consumers", c.id) }
