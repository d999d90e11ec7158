package cid

import (
	"context"
	"net/http"

	"github.com/segmentio/ksuid"
)

// ContextKey is the type used for storing CID in context to avoid collisions.
type ContextKey struct{}

// HeaderName is the HTTP header used to propagate the correlation id.
//
// Incoming requests that already carry this header keep their id; it is
// attached to the request context and to every WebSocket connection admitted
// from that request.
const HeaderName = "X-DrawIt-CID"

// AttributeName is the span attribute key used to attach CID to spans.
const AttributeName = "drawit.cid"

// New returns a fresh correlation id.
func New() string { return ksuid.New().String() }

// WithCID returns a new context containing the provided correlation id.
func WithCID(ctx context.Context, cid string) context.Context {
	return context.WithValue(ctx, ContextKey{}, cid)
}

// CIDFromContext extracts the correlation id from context, if present.
func CIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ContextKey{}).(string); ok {
		return v
	}
	return ""
}

// AddHeaderFromContext sets the correlation id header on headers when ctx
// carries one.
func AddHeaderFromContext(headers map[string][]string, ctx context.Context) {
	if headers == nil {
		return
	}
	if cid := CIDFromContext(ctx); cid != "" {
		http.Header(headers).Set(HeaderName, cid)
	}
}
