package netx

import (
	"context"

	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 representing a span.
//
// A span is a sequence of operation that can fail in a single, specific
// way. For example, a workflow to perform a TLS handshake with an endpoint
// or a single DNS-over-HTTPS exchange with an endpoint. In this proxy, one
// proxied connection (accept, optional TLS termination, backend selection,
// dial, bridge) is one span.
//
// We recommend using a span ID for uniquely identifying spans.
//
// The span terminology is borrowed from OTel.
//
// This function panics if the system random number generator fails,
// which should only happen under extraordinary circumstances.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}

// spanIDKey is the context key under which [WithSpanID] stores a span ID.
type spanIDKey struct{}

// WithSpanID returns a copy of ctx carrying spanID. [ConnectFunc] and
// [ObserveConnFunc] read it back via [SpanIDFromContext] and attach it to
// every structured log event they emit, so the connect/read/write/close
// events for one proxied connection correlate with its terminal summary
// under a single spanID field without sharing any mutable state across
// the concurrently-handled connections of a listener.
func WithSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, spanIDKey{}, spanID)
}

// SpanIDFromContext returns the span ID stored by [WithSpanID], or "" if
// ctx carries none.
func SpanIDFromContext(ctx context.Context) string {
	spanID, _ := ctx.Value(spanIDKey{}).(string)
	return spanID
}
