package pubsub

import "errors"

// Error taxonomy (§7). Each sentinel is wrapped with context via
// fmt.Errorf("...: %w", err) at the call site rather than checked with
// errors.Is scattered across the codebase — classification happens
// centrally in the Error Handler (errorhandler.go).
var (
	// ErrConfigurationError indicates invalid configuration; fatal at startup.
	ErrConfigurationError = errors.New("configuration error")

	// ErrConnectionError indicates the broker is unreachable; recovered by reconnect.
	ErrConnectionError = errors.New("connection error")

	// ErrTopologyError indicates a stream mismatch; fatal unless forced.
	ErrTopologyError = errors.New("topology error")

	// ErrPublishError indicates the broker rejected a publish.
	ErrPublishError = errors.New("publish error")

	// ErrMalformedMessage indicates a bad envelope or schema violation.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrSubscriptionError indicates consumer creation failed; fatal.
	ErrSubscriptionError = errors.New("subscription error")

	// ErrHandlerError indicates user handler code returned an error.
	ErrHandlerError = errors.New("handler error")

	// ErrDLQError indicates a DLQ publish failed; degrades to nak.
	ErrDLQError = errors.New("dlq error")

	// ErrCircuitBreakerError indicates the breaker is open.
	ErrCircuitBreakerError = errors.New("circuit breaker open")

	// ErrTimeoutError indicates a handler or fetch exceeded its budget.
	ErrTimeoutError = errors.New("timeout error")
)
