package pubsub

import "time"

// PublishOptions customizes a single publish call (§6 Publish API).
type PublishOptions struct {
	EventID       string
	TraceID       string
	CorrelationID string
	OccurredAt    time.Time
	MessageType   string
	SchemaVersion int
	Headers       map[string]string
}

// SubscribeOptions customizes a subscriber's consumer and dispatch
// behavior (§6 Subscribe API).
type SubscribeOptions struct {
	MaxDeliver     int
	AckWait        time.Duration
	Concurrency    int
	Schema         Validator
	OnError        func(ErrorContext) ErrorAction
	CircuitBreaker bool
	// Backoff overrides the engine-wide per-attempt delay schedule for
	// this subscription's durable consumer. Nil means use the engine
	// default.
	Backoff []time.Duration
}

// PublishResult is returned by Publisher.Publish / Publisher.PublishBatch.
type PublishResult struct {
	EventID   string
	Duplicate bool
	StreamSeq uint64
	// Pending is true when outbox mode accepted the write without
	// contacting the broker synchronously (§4.4 step 4).
	Pending bool
}
