package pubsub

import "context"

// Metadata is the MessageContext built by the Message Processor and passed
// through the middleware chain to the handler. It carries just enough
// broker/delivery state for handlers, middleware and the error handler to
// make decisions without depending on the broker SDK directly.
//
// Ctx starts as the consumer's run context and may be replaced by a
// middleware (e.g. DBScopeMiddleware) with a derived context carrying a
// scoped resource; later middleware and the handler see the replacement.
type Metadata struct {
	Subject    string
	EventID    string
	Stream     string
	StreamSeq  uint64
	Deliveries int
	TraceID    string
	Ctx        context.Context
}
