package logger

import "context"

// contextKey is a private type to prevent collisions with other context keys.
type contextKey struct{ name string }

// requestIDKey is the context key for the request ID.
var requestIDKey = contextKey{"request_id"}

// traceIDKey is the context key for the message-plane trace ID, propagated
// through envelope headers (x-trace-id) across publish/consume boundaries.
var traceIDKey = contextKey{"trace_id"}

// WithRequestID returns a new context with the given request ID stored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the request ID from the context.
// Returns an empty string if no request ID is set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithTraceID returns a new context with the given trace ID stored.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// TraceID extracts the trace ID from the context.
// Returns an empty string if no trace ID is set.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}
