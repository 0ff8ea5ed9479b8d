package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/segmentio/ksuid"
	"github.com/thereayou/concord/internal/cid"
	"github.com/thereayou/concord/pkg/auth"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestCorrelationIDAddsHeader(t *testing.T) {
	router := gin.New()
	router.Use(CorrelationID())
	var seen string
	router.GET("/ping", func(c *gin.Context) {
		seen = cid.FromContext(c.Request.Context())
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	got := w.Header().Get(cid.HeaderName)
	if got == "" {
		t.Fatalf("expected response to include header %s", cid.HeaderName)
	}
	if _, err := ksuid.Parse(got); err != nil {
		t.Fatalf("expected %s to be a valid ksuid: %v", got, err)
	}
	if seen != got {
		t.Fatalf("handler saw %q, header carried %q", seen, got)
	}
}

func TestCorrelationIDPreservesIncomingHeader(t *testing.T) {
	router := gin.New()
	router.Use(CorrelationID())
	router.GET("/echo", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	incoming := ksuid.New().String()
	req := httptest.NewRequest(http.MethodGet, "/echo", nil)
	req.Header.Set(cid.HeaderName, incoming)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get(cid.HeaderName); got != incoming {
		t.Fatalf("expected incoming cid %s to be kept, got %s", incoming, got)
	}
}

func TestTracingRecordsHTTPAttributes(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(cid.WithCID(context.Background(), "test-cid-123"))
		c.Next()
	})
	router.Use(Tracing())
	router.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	want := map[string]string{
		"http.method":     "GET",
		"http.target":     "/health",
		cid.AttributeName: "test-cid-123",
	}
	for _, attr := range spans[0].Attributes {
		if v, ok := want[string(attr.Key)]; ok && attr.Value.AsString() == v {
			delete(want, string(attr.Key))
		}
	}
	if len(want) > 0 {
		t.Fatalf("missing span attributes %v", want)
	}
}

func TestSessionAuth(t *testing.T) {
	tokens := auth.NewJWTManager("secret", time.Hour, "test")
	router := gin.New()
	router.GET("/files/:id", SessionAuth(tokens), func(c *gin.Context) {
		c.String(http.StatusOK, PublicKey(c))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/files/x", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	other := auth.NewJWTManager("other", time.Hour, "test")
	forged, _ := other.Generate("mallory", "M")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/files/x?token="+forged, nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign token, got %d", w.Code)
	}

	token, err := tokens.Generate("alicekey", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, "/files/x", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "alicekey" {
		t.Fatalf("expected identity alicekey, got %d %q", w.Code, w.Body.String())
	}
}

func TestUploadLimiterWithoutRedisPassesThrough(t *testing.T) {
	l := NewUploadLimiter(nil, 1, time.Minute)
	for i := 0; i < 3; i++ {
		ok, err := l.Allow(context.Background(), "alice")
		if err != nil || !ok {
			t.Fatalf("attempt %d: %v %v", i, ok, err)
		}
	}
}

// TestUploadLimiterRedis runs against a live server named by
// CONCORD_TEST_REDIS_URL.
func TestUploadLimiterRedis(t *testing.T) {
	url := os.Getenv("CONCORD_TEST_REDIS_URL")
	if url == "" {
		t.Skip("CONCORD_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatal(err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	l := NewUploadLimiter(rdb, 2, time.Minute)
	l.prefix = "concord:test:" + ksuid.New().String() + ":"
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if ok, err := l.Allow(ctx, "alice"); err != nil || !ok {
			t.Fatalf("attempt %d rejected: %v", i, err)
		}
	}
	if ok, _ := l.Allow(ctx, "alice"); ok {
		t.Fatalf("third upload in the window should be rejected")
	}
	if ok, _ := l.Allow(ctx, "bob"); !ok {
		t.Fatalf("limits are per identity")
	}
}
