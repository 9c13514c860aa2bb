package main

import (
	"log/slog"

	"github.com/meridianhq/pubsub/internal/adapter/nats"
	"github.com/meridianhq/pubsub/internal/adapter/postgres"
	"github.com/meridianhq/pubsub/internal/config"
	"github.com/meridianhq/pubsub/internal/pubsub"
)

// registerHandlers wires this daemon's concrete subscribers. A real
// deployment swaps this out for its own topic handlers; the audit
// subscriber here exercises the full engine (decode, inbox dedup,
// middleware chain, ack/nak) against every event the app publishes.
func registerHandlers(registry *pubsub.Registry, cfg config.Engine, outbox *postgres.Outbox, publisher *nats.Publisher) {
	auditFilter := pubsub.EventsSubjectFilter(cfg.Env)
	if err := registry.Register(auditFilter, auditHandler, pubsub.SubscribeOptions{}); err != nil {
		slog.Error("register audit handler", "error", err)
	}
}

// auditHandler logs every event this app's engine sees. It never returns
// an error: audit logging is best-effort and must not cause retries or
// dead-lettering of the underlying business event.
func auditHandler(payload []byte, meta *pubsub.Metadata) error {
	slog.Info("event observed",
		"subject", meta.Subject, "event_id", meta.EventID,
		"deliveries", meta.Deliveries, "trace_id", meta.TraceID,
		"payload_size", len(payload),
	)
	return nil
}
