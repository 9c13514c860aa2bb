package pubsub

import (
	"errors"
	"log/slog"
)

// ErrorAction is the disposition the Message Processor applies to a message
// after a handler failure (§4.11).
type ErrorAction int

const (
	// ActionRetry naks the message so the broker reschedules per backoff.
	ActionRetry ErrorAction = iota
	// ActionDiscard acks and drops the message.
	ActionDiscard
	// ActionDLQ publishes a DLQ record, then acks; degrades to ActionRetry
	// if the DLQ publish itself fails.
	ActionDLQ
)

func (a ErrorAction) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionDiscard:
		return "discard"
	case ActionDLQ:
		return "dlq"
	default:
		return "unknown"
	}
}

// ErrorContext is passed to a subscriber's optional OnError override.
type ErrorContext struct {
	Err           error
	AttemptNumber int
	MaxAttempts   int
}

// ErrorHandler classifies an error into an ErrorAction using the default
// policy (§4.11), consulting a per-subscriber override when supplied.
type ErrorHandler struct {
	// OnMaxDeliver resolves the Open Question from §9: "drop" acks and
	// writes a DLQ record once deliveries are exhausted; "nak" leaves the
	// message redeliverable (logged at warn).
	OnMaxDeliver string
}

// NewErrorHandler constructs an ErrorHandler. onMaxDeliver must be "drop" or
// "nak"; config.validate already enforces this before the engine starts.
func NewErrorHandler(onMaxDeliver string) *ErrorHandler {
	return &ErrorHandler{OnMaxDeliver: onMaxDeliver}
}

// Classify returns the ErrorAction for err given the current attempt number
// and the subscriber's max attempts, honoring a per-subscriber onError
// override when provided.
func (h *ErrorHandler) Classify(ctx ErrorContext, onError func(ErrorContext) ErrorAction) (action ErrorAction) {
	if onError != nil {
		action = h.safeOverride(ctx, onError)
		return action
	}
	return h.defaultClassify(ctx)
}

// safeOverride calls the subscriber's onError, recovering from panics (the
// source language's exceptions) and logging, falling back to the default
// policy when the override itself fails or returns something invalid.
func (h *ErrorHandler) safeOverride(ctx ErrorContext, onError func(ErrorContext) ErrorAction) (action ErrorAction) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("onError override panicked, falling back to default policy", "panic", r)
			action = h.defaultClassify(ctx)
		}
	}()
	action = onError(ctx)
	if action < ActionRetry || action > ActionDLQ {
		slog.Warn("onError override returned an invalid action, falling back to default policy")
		return h.defaultClassify(ctx)
	}
	return action
}

func (h *ErrorHandler) defaultClassify(ctx ErrorContext) ErrorAction {
	switch {
	case errors.Is(ctx.Err, ErrMalformedMessage):
		return ActionDiscard
	case isUnrecoverable(ctx.Err):
		return ActionDLQ
	case isTransient(ctx.Err) && ctx.AttemptNumber >= ctx.MaxAttempts:
		// A transient error is still retryable in principle, but once
		// deliveries are exhausted it must be resolved the same way the
		// generic bucket resolves exhaustion below, never left naked forever.
		return h.exhausted(ctx)
	case isTransient(ctx.Err):
		return ActionRetry
	case ctx.AttemptNumber < ctx.MaxAttempts:
		return ActionRetry
	default:
		return h.exhausted(ctx)
	}
}

// exhausted resolves the "attempts used up" case per the on_max_deliver
// knob (§9's Open Question): "drop" dead-letters, "nak" leaves the message
// redeliverable.
func (h *ErrorHandler) exhausted(ctx ErrorContext) ErrorAction {
	if h.OnMaxDeliver == "nak" {
		slog.Warn("max deliveries exceeded, naking per on_max_deliver=nak", "attempt", ctx.AttemptNumber, "max", ctx.MaxAttempts)
		return ActionRetry
	}
	return ActionDLQ
}

// DLQReason classifies err into one of the DLQRecord reason values §3
// enumerates (handler_error, max_deliver_exceeded, validation_failed,
// unrecoverable), for a message the Error Handler has already routed to
// ActionDLQ. deliveries and maxDeliver come from the broker's own delivery
// count, not the handler's internal attempt bookkeeping.
func DLQReason(err error, deliveries, maxDeliver int) string {
	switch {
	case isUnrecoverable(err):
		return "unrecoverable"
	case errors.Is(err, ErrMalformedMessage):
		return "validation_failed"
	case maxDeliver > 0 && deliveries >= maxDeliver:
		return "max_deliver_exceeded"
	default:
		return "handler_error"
	}
}

func isTransient(err error) bool {
	return errors.Is(err, ErrConnectionError) ||
		errors.Is(err, ErrTimeoutError) ||
		errors.Is(err, ErrCircuitBreakerError)
}

func isUnrecoverable(err error) bool {
	return errors.Is(err, ErrHandlerError) && errors.Is(err, errUnrecoverable)
}

// errUnrecoverable marks a HandlerError as non-retryable (permission
// denied, not found, validation). Wrap with errors.Join or fmt.Errorf's
// %w chaining: fmt.Errorf("%w: %w", ErrHandlerError, errUnrecoverable).
var errUnrecoverable = errors.New("unrecoverable")

// Unrecoverable wraps err so the Error Handler routes it to DLQ instead of
// retrying, matching the "Unrecoverable" error kind in §4.11.
func Unrecoverable(err error) error {
	return &unrecoverableError{err: err}
}

type unrecoverableError struct{ err error }

func (e *unrecoverableError) Error() string { return e.err.Error() }

func (e *unrecoverableError) Unwrap() []error {
	return []error{ErrHandlerError, errUnrecoverable, e.err}
}
