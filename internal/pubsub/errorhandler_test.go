package pubsub

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorHandlerDefaultClassifyMalformed(t *testing.T) {
	h := NewErrorHandler("drop")
	action := h.Classify(ErrorContext{Err: fmt.Errorf("wrap: %w", ErrMalformedMessage), AttemptNumber: 1, MaxAttempts: 5}, nil)
	if action != ActionDiscard {
		t.Errorf("got %v, want ActionDiscard", action)
	}
}

func TestErrorHandlerDefaultClassifyUnrecoverable(t *testing.T) {
	h := NewErrorHandler("drop")
	action := h.Classify(ErrorContext{Err: Unrecoverable(errors.New("not found")), AttemptNumber: 1, MaxAttempts: 5}, nil)
	if action != ActionDLQ {
		t.Errorf("got %v, want ActionDLQ", action)
	}
}

func TestErrorHandlerDefaultClassifyTransient(t *testing.T) {
	h := NewErrorHandler("drop")
	action := h.Classify(ErrorContext{Err: fmt.Errorf("wrap: %w", ErrConnectionError), AttemptNumber: 1, MaxAttempts: 5}, nil)
	if action != ActionRetry {
		t.Errorf("got %v, want ActionRetry", action)
	}
}

func TestErrorHandlerDefaultClassifyRetryUntilExhausted(t *testing.T) {
	h := NewErrorHandler("drop")
	generic := errors.New("boom")

	if action := h.Classify(ErrorContext{Err: generic, AttemptNumber: 1, MaxAttempts: 3}, nil); action != ActionRetry {
		t.Errorf("attempt 1: got %v, want ActionRetry", action)
	}
	if action := h.Classify(ErrorContext{Err: generic, AttemptNumber: 3, MaxAttempts: 3}, nil); action != ActionDLQ {
		t.Errorf("attempt 3 (exhausted): got %v, want ActionDLQ", action)
	}
}

func TestErrorHandlerTransientRetriesUntilExhausted(t *testing.T) {
	h := NewErrorHandler("drop")
	wrapped := fmt.Errorf("wrap: %w", ErrConnectionError)

	if action := h.Classify(ErrorContext{Err: wrapped, AttemptNumber: 1, MaxAttempts: 3}, nil); action != ActionRetry {
		t.Errorf("attempt 1: got %v, want ActionRetry", action)
	}
	if action := h.Classify(ErrorContext{Err: wrapped, AttemptNumber: 3, MaxAttempts: 3}, nil); action != ActionDLQ {
		t.Errorf("attempt 3 (exhausted transient): got %v, want ActionDLQ", action)
	}
}

func TestErrorHandlerOnMaxDeliverNak(t *testing.T) {
	h := NewErrorHandler("nak")
	generic := errors.New("boom")

	action := h.Classify(ErrorContext{Err: generic, AttemptNumber: 3, MaxAttempts: 3}, nil)
	if action != ActionRetry {
		t.Errorf("on_max_deliver=nak, exhausted: got %v, want ActionRetry", action)
	}
}

func TestErrorHandlerOnErrorOverride(t *testing.T) {
	h := NewErrorHandler("drop")
	override := func(ErrorContext) ErrorAction { return ActionDiscard }
	action := h.Classify(ErrorContext{Err: ErrConnectionError, AttemptNumber: 1, MaxAttempts: 5}, override)
	if action != ActionDiscard {
		t.Errorf("got %v, want ActionDiscard from override", action)
	}
}

func TestErrorHandlerOnErrorPanicFallsBackToDefault(t *testing.T) {
	h := NewErrorHandler("drop")
	override := func(ErrorContext) ErrorAction { panic("boom") }
	action := h.Classify(ErrorContext{Err: ErrConnectionError, AttemptNumber: 1, MaxAttempts: 5}, override)
	if action != ActionRetry {
		t.Errorf("got %v, want ActionRetry (default transient classification)", action)
	}
}

func TestErrorHandlerOnErrorInvalidReturnFallsBackToDefault(t *testing.T) {
	h := NewErrorHandler("drop")
	override := func(ErrorContext) ErrorAction { return ErrorAction(99) }
	action := h.Classify(ErrorContext{Err: fmt.Errorf("wrap: %w", ErrMalformedMessage), AttemptNumber: 1, MaxAttempts: 5}, override)
	if action != ActionDiscard {
		t.Errorf("got %v, want ActionDiscard (default fallback)", action)
	}
}
