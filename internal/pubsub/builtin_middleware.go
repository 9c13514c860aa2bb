package pubsub

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Metrics is the narrow observability sink the metrics middleware reports
// through. internal/telemetry provides an OpenTelemetry-backed
// implementation; tests can supply a no-op or recording fake.
type Metrics interface {
	IncDelivered(subject string)
	IncDLQ(subject, reason string)
	ObserveHandlerDuration(subject string, seconds float64)
}

// LoggingMiddleware logs handler invocation and outcome with structured
// fields (subject, event_id, deliveries). Built-in per §4.7.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(payload []byte, meta *Metadata, next Next) error {
		err := next()
		if err != nil {
			logger.Error("handler failed",
				"subject", meta.Subject, "event_id", meta.EventID,
				"deliveries", meta.Deliveries, "error", err)
			return err
		}
		logger.Debug("handler succeeded",
			"subject", meta.Subject, "event_id", meta.EventID, "deliveries", meta.Deliveries)
		return nil
	}
}

// RetryLoggerMiddleware records redeliveries (deliveries > 1) at warn level,
// per §4.7's built-in "retry-logger" concern.
func RetryLoggerMiddleware(logger *slog.Logger) Middleware {
	return func(payload []byte, meta *Metadata, next Next) error {
		if meta.Deliveries > 1 {
			logger.Warn("redelivered message",
				"subject", meta.Subject, "event_id", meta.EventID, "deliveries", meta.Deliveries)
		}
		return next()
	}
}

// MetricsMiddleware records handler duration and delivery counts.
func MetricsMiddleware(m Metrics) Middleware {
	return func(payload []byte, meta *Metadata, next Next) error {
		start := time.Now()
		err := next()
		m.ObserveHandlerDuration(meta.Subject, time.Since(start).Seconds())
		if err == nil {
			m.IncDelivered(meta.Subject)
		}
		return err
	}
}

// dbConnContextKey is the Metadata.Ctx key DBScopeMiddleware stores the
// acquired connection under.
type dbConnContextKey struct{}

// DBScopeMiddleware generalizes the source's ActiveRecord connection
// scoping: it acquires a pooled connection for the duration of handler
// execution and releases it on every exit path, success or error (§9).
func DBScopeMiddleware(pool *pgxpool.Pool) Middleware {
	return func(payload []byte, meta *Metadata, next Next) error {
		ctx := meta.Ctx
		if ctx == nil {
			ctx = context.Background()
		}
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return err
		}
		defer conn.Release()

		meta.Ctx = context.WithValue(ctx, dbConnContextKey{}, conn)
		defer func() { meta.Ctx = ctx }()

		return next()
	}
}

// ConnFromContext retrieves the connection DBScopeMiddleware stashed in
// meta.Ctx, for handlers that need to participate in the scoped connection.
func ConnFromContext(ctx context.Context) (*pgxpool.Conn, bool) {
	conn, ok := ctx.Value(dbConnContextKey{}).(*pgxpool.Conn)
	return conn, ok
}

// SchemaValidationMiddleware rejects payloads that fail v.Validate before
// the handler runs, wrapping the first field error into ErrMalformedMessage
// so the Error Handler routes it to DISCARD or DLQ per the default policy.
func SchemaValidationMiddleware(v Validator) Middleware {
	return func(payload []byte, meta *Metadata, next Next) error {
		result := v.Validate(meta.Subject, payload)
		if !result.Valid {
			msg := "schema validation failed"
			if len(result.Errors) > 0 {
				msg = result.Errors[0].Message
			}
			return &malformedSchemaError{subject: meta.Subject, msg: msg}
		}
		return next()
	}
}

type malformedSchemaError struct {
	subject string
	msg     string
}

func (e *malformedSchemaError) Error() string { return e.subject + ": " + e.msg }

func (e *malformedSchemaError) Unwrap() error { return ErrMalformedMessage }
