// Package ctxkeys holds the request-scoped context keys shared between the
// HTTP server and the streaming gateway.
package ctxkeys

import "context"

// Key is the type for all context keys in the application.
type Key string

const (
	KeyRequestID Key = "request_id"
)

// WithRequestID returns a copy of ctx carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, KeyRequestID, id)
}

// RequestID returns the request id stored in ctx, or "".
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(KeyRequestID).(string); ok {
		return id
	}
	return ""
}
