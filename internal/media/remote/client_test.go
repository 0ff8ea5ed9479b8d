package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/thereayou/concord/internal/cid"
	"github.com/thereayou/concord/internal/media"
	"github.com/thereayou/concord/pkg/protocol"
)

type fakeSidecar struct {
	mu      sync.Mutex
	calls   []string
	bodies  map[string]map[string]interface{}
	deleted []string
}

func (f *fakeSidecar) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	key := r.Method + " " + r.URL.Path
	f.calls = append(f.calls, key)
	var body map[string]interface{}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}
	f.bodies[key] = body
	f.mu.Unlock()

	reply := func(v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}

	switch key {
	case "POST /routers":
		reply(map[string]interface{}{"id": "r1", "rtpCapabilities": map[string]interface{}{"codecs": []interface{}{}}})
	case "POST /routers/r1/transports":
		reply(map[string]interface{}{
			"id":             "t1",
			"iceParameters":  map[string]string{"usernameFragment": "u"},
			"iceCandidates":  []interface{}{},
			"dtlsParameters": map[string]string{"role": "auto"},
		})
	case "POST /routers/r1/can-consume":
		reply(map[string]bool{"canConsume": body["producerId"] == "p1"})
	case "POST /transports/t1/connect":
		w.WriteHeader(http.StatusNoContent)
	case "POST /transports/t1/produce":
		reply(map[string]string{"id": "p1", "kind": "audio"})
	case "POST /transports/t1/consume":
		reply(map[string]interface{}{"id": "c1", "producerId": body["producerId"], "kind": "audio", "rtpParameters": map[string]interface{}{}})
	case "DELETE /consumers/c1", "DELETE /producers/p1", "DELETE /transports/t1", "DELETE /routers/r1":
		f.mu.Lock()
		f.deleted = append(f.deleted, r.URL.Path)
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	case "DELETE /routers/gone":
		w.WriteHeader(http.StatusNotFound)
	default:
		w.WriteHeader(http.StatusBadRequest)
		reply(map[string]string{"error": "unexpected " + key})
	}
}

func newTestWorker(t *testing.T) (*Worker, *fakeSidecar) {
	t.Helper()
	fake := &fakeSidecar{bodies: make(map[string]map[string]interface{})}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	w, err := NewWorker(srv.URL+"/", srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	return w, fake
}

func TestFullSignalingRoundTrip(t *testing.T) {
	ctx := context.Background()
	w, fake := newTestWorker(t)

	router, err := w.CreateRouter(ctx, media.DefaultMediaCodecs)
	if err != nil {
		t.Fatal(err)
	}
	if router.ID() != "r1" || len(router.RtpCapabilities()) == 0 {
		t.Fatalf("unexpected router %s %s", router.ID(), router.RtpCapabilities())
	}

	tr, err := router.CreateTransport(ctx, protocol.DirectionSend, media.DefaultTransportOptions("0.0.0.0", "203.0.113.7"))
	if err != nil {
		t.Fatal(err)
	}
	if tr.ID() != "t1" || len(tr.Params().DtlsParameters) == 0 {
		t.Fatalf("unexpected transport %+v", tr.Params())
	}
	sent := fake.bodies["POST /routers/r1/transports"]
	if sent["direction"] != "send" || sent["announcedIp"] != "203.0.113.7" || sent["preferUdp"] != true {
		t.Fatalf("transport options not forwarded: %v", sent)
	}

	if err := tr.Connect(ctx, json.RawMessage(`{"role":"client"}`)); err != nil {
		t.Fatal(err)
	}
	prod, err := tr.Produce(ctx, protocol.KindAudio, json.RawMessage(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if prod.ID() != "p1" || prod.Kind() != protocol.KindAudio {
		t.Fatalf("unexpected producer %s %s", prod.ID(), prod.Kind())
	}

	ok, err := router.CanConsume(ctx, "p1", router.RtpCapabilities())
	if err != nil || !ok {
		t.Fatalf("can consume p1: %v %v", ok, err)
	}
	ok, _ = router.CanConsume(ctx, "p2", router.RtpCapabilities())
	if ok {
		t.Fatalf("p2 should not be consumable")
	}

	cons, err := tr.Consume(ctx, "p1", router.RtpCapabilities())
	if err != nil {
		t.Fatal(err)
	}
	if cons.ID() != "c1" || cons.ProducerID() != "p1" {
		t.Fatalf("unexpected consumer %s %s", cons.ID(), cons.ProducerID())
	}

	for _, c := range []interface{ Close() error }{cons, prod, tr, router} {
		if err := c.Close(); err != nil {
			t.Fatal(err)
		}
	}
	want := []string{"/consumers/c1", "/producers/p1", "/transports/t1", "/routers/r1"}
	if len(fake.deleted) != len(want) {
		t.Fatalf("deleted %v", fake.deleted)
	}
	for i := range want {
		if fake.deleted[i] != want[i] {
			t.Fatalf("deleted %v, want %v", fake.deleted, want)
		}
	}
}

func TestErrorReplyIsSurfaced(t *testing.T) {
	w, _ := newTestWorker(t)
	r := &router{worker: w, id: "unknown"}
	_, err := r.CreateTransport(context.Background(), protocol.DirectionRecv, media.TransportOptions{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("expected APIError 400, got %v", err)
	}
	if apiErr.Message != "unexpected POST /routers/unknown/transports" {
		t.Fatalf("unexpected message %q", apiErr.Message)
	}
}

func TestCloseOfMissingHandleIsNotAnError(t *testing.T) {
	w, _ := newTestWorker(t)
	r := &router{worker: w, id: "gone"}
	if err := r.Close(); err != nil {
		t.Fatalf("404 on delete should be ignored: %v", err)
	}
}

func TestNewWorkerRejectsBadURL(t *testing.T) {
	if _, err := NewWorker("ftp://example.com", nil); err == nil {
		t.Fatalf("expected scheme error")
	}
	ws, err := NewWorkers([]string{"http://127.0.0.1:4443", "http://127.0.0.1:4444"})
	if err != nil || len(ws) != 2 {
		t.Fatalf("NewWorkers: %v %d", err, len(ws))
	}
}

func TestCorrelationIDIsForwarded(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get(cid.HeaderName)
		w.Write([]byte(`{"id":"r9","rtpCapabilities":{}}`))
	}))
	defer srv.Close()

	w, _ := NewWorker(srv.URL, srv.Client())
	if _, err := w.CreateRouter(cid.WithCID(context.Background(), "conn-42"), nil); err != nil {
		t.Fatal(err)
	}
	if got != "conn-42" {
		t.Fatalf("expected cid header conn-42, got %q", got)
	}
}
