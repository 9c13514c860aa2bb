// Package resilience implements the Circuit Breaker (§4.14) guarding
// dispatch into handler execution: CLOSED lets traffic
// through, OPEN short-circuits it once consecutive failures cross a
// threshold, HALF_OPEN lets a bounded number of probe calls back through
// to decide whether to close or reopen.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

// Breaker trips around the handler calls the Circuit Breaker Middleware
// wraps (breaker_middleware.go). It tracks consecutive failures and opens
// once they cross maxFailures, rejecting calls until timeout elapses, then
// admits at most halfOpenMaxCalls concurrent probes before deciding to
// close or reopen.
type Breaker struct {
	mu               sync.Mutex
	state            state
	failures         int
	maxFailures      int
	timeout          time.Duration
	openedAt         time.Time
	halfOpenMaxCalls int
	halfOpenInFlight int
	now              func() time.Time // for testing
}

// NewBreaker creates a circuit breaker that opens after maxFailures consecutive
// failures and stays open for the given timeout before transitioning to
// half-open with a single probe call in flight.
func NewBreaker(maxFailures int, timeout time.Duration) *Breaker {
	return NewBreakerWithProbeLimit(maxFailures, timeout, 1)
}

// NewBreakerWithProbeLimit is NewBreaker with an explicit half-open
// concurrent-probe-call bound (§4.14's "half-open max concurrent calls"
// parameter).
func NewBreakerWithProbeLimit(maxFailures int, timeout time.Duration, halfOpenMaxCalls int) *Breaker {
	if halfOpenMaxCalls < 1 {
		halfOpenMaxCalls = 1
	}
	return &Breaker{
		maxFailures:      maxFailures,
		timeout:          timeout,
		halfOpenMaxCalls: halfOpenMaxCalls,
		now:              time.Now,
	}
}

// Execute runs fn if the circuit is closed, or half-open with a free probe
// slot. Returns ErrCircuitOpen if the circuit is open or half-open with all
// probe slots occupied.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.onFailure()
		return err
	}

	b.onSuccess()
	return nil
}

func (b *Breaker) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if b.now().Sub(b.openedAt) < b.timeout {
			return false
		}
		b.state = stateHalfOpen
		b.halfOpenInFlight = 0
		fallthrough
	case stateHalfOpen:
		if b.halfOpenInFlight >= b.halfOpenMaxCalls {
			return false
		}
		b.halfOpenInFlight++
		return true
	}
	return false
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure() {
	b.failures++
	if b.state == stateHalfOpen || b.failures >= b.maxFailures {
		b.state = stateOpen
		b.openedAt = b.now()
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess() {
	b.failures = 0
	b.state = stateClosed
}
