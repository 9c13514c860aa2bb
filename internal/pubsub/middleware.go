package pubsub

// Next invokes the remainder of the middleware chain, terminating in the
// subscriber handler itself.
type Next func() error

// Middleware is a cross-cutting concern wrapped around handler execution.
// A middleware may short-circuit by not invoking next; an error returned by
// next propagates upward unless the middleware catches it. Order within a
// Chain is insertion order (§9's standardized shape).
type Middleware func(payload []byte, meta *Metadata, next Next) error

// Handler is the subscriber's own processing function. It is adapted into
// the innermost Next of a Chain.
type Handler func(payload []byte, meta *Metadata) error

// Chain composes an ordered list of Middleware around a terminal Handler.
type Chain struct {
	middlewares []Middleware
}

// NewChain builds a Chain from middleware in registration order.
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{middlewares: middlewares}
}

// Use appends middleware to the chain. Chain has no internal locking, so
// Use must not run concurrently with Run on the same Chain; the Message
// Processor builds a fresh Chain for each message.
func (c *Chain) Use(m Middleware) {
	c.middlewares = append(c.middlewares, m)
}

// Run executes the chain around handler for one message.
func (c *Chain) Run(payload []byte, meta *Metadata, handler Handler) error {
	next := func() error { return handler(payload, meta) }
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		mw := c.middlewares[i]
		n := next
		next = func() error { return mw(payload, meta, n) }
	}
	return next()
}
