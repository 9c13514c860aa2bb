package pubsub

import (
	"errors"
	"fmt"

	"github.com/meridianhq/pubsub/internal/resilience"
)

// CircuitBreakerMiddleware wraps handler execution in a resilience.Breaker
// (§4.14). In OPEN state it short-circuits with ErrCircuitBreakerError,
// which the Error Handler classifies as transient → RETRY; in HALF_OPEN it
// allows the call through as a probe.
func CircuitBreakerMiddleware(b *resilience.Breaker) Middleware {
	return func(payload []byte, meta *Metadata, next Next) error {
		err := b.Execute(func() error { return next() })
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return fmt.Errorf("%w: %s", ErrCircuitBreakerError, meta.Subject)
		}
		return err
	}
}
