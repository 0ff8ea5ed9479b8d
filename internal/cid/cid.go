// Package cid carries correlation ids through contexts and HTTP headers.
package cid

import (
	"context"
	"net/http"

	"github.com/segmentio/ksuid"
)

type contextKey struct{}

// HeaderName is the HTTP header used to propagate the correlation id. An
// incoming value is kept rather than replaced.
const HeaderName = "X-Concord-CID"

// AttributeName is the span attribute key for the correlation id.
const AttributeName = "concord.cid"

func New() string {
	return ksuid.New().String()
}

func WithCID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the correlation id stored in ctx, or "".
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(contextKey{}).(string); ok {
		return v
	}
	return ""
}

// AddHeader copies the correlation id of ctx onto outgoing headers.
func AddHeader(h http.Header, ctx context.Context) {
	if h == nil {
		return
	}
	if id := FromContext(ctx); id != "" {
		h.Set(HeaderName, id)
	}
}
