package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"

	"github.com/meridianhq/pubsub/internal/config"
	"github.com/meridianhq/pubsub/internal/pubsub"
)

// outboxStatus mirrors §3's OutboxRecord.status enum.
const (
	outboxPending    = "pending"
	outboxPublishing = "publishing"
	outboxPublished  = "published"
	outboxFailed     = "failed"
)

// OutboxRow is a claimed row from the outbox table, ready to publish.
type OutboxRow struct {
	ID       int64
	EventID  string
	Subject  string
	Payload  []byte
	Headers  map[string]string
	Attempts int
}

// Outbox implements the transactional-outbox write side (insert, inside
// the caller's transaction) and the relay's claim/publish/fail lifecycle
// (§4.5). Table name is configurable via cfg.TableName.
type Outbox struct {
	pool *pgxpool.Pool
	cfg  config.Outbox
}

// NewOutbox constructs an Outbox repository bound to pool.
func NewOutbox(pool *pgxpool.Pool, cfg config.Outbox) *Outbox {
	if cfg.TableName == "" {
		cfg.TableName = "pubsub_outbox"
	}
	return &Outbox{pool: pool, cfg: cfg}
}

// Insert writes a pending OutboxRecord inside tx, the caller's own
// business transaction, so the row commits iff the caller's write does
// (§4.4 step 4, invariant in §8.5).
func (o *Outbox) Insert(ctx context.Context, tx pgx.Tx, eventID, subject string, payload []byte, headers map[string]string) error {
	headerJSON, err := json.Marshal(headers)
	if err != nil {
		return fmt.Errorf("%w: marshal outbox headers: %v", pubsub.ErrPublishError, err)
	}

	_, err = tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (event_id, subject, payload, headers, status, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`, o.cfg.TableName), eventID, subject, payload, headerJSON, outboxPending)
	if err != nil {
		return fmt.Errorf("%w: insert outbox row: %v", pubsub.ErrPublishError, err)
	}
	return nil
}

// ClaimBatch selects up to limit pending rows whose next_attempt_at has
// elapsed, marks them publishing and returns them, using
// FOR UPDATE SKIP LOCKED so concurrent relay workers never claim the
// same row twice (§4.5's at-most-one-concurrent-publish invariant).
func (o *Outbox) ClaimBatch(ctx context.Context, limit int) ([]OutboxRow, error) {
	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin claim tx: %v", pubsub.ErrConnectionError, err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, fmt.Sprintf(`
		SELECT id, event_id, subject, payload, headers, attempts
		FROM %s
		WHERE status = $1 AND next_attempt_at <= now()
		ORDER BY next_attempt_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, o.cfg.TableName), outboxPending, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: claim query: %v", pubsub.ErrConnectionError, err)
	}

	var claimed []OutboxRow
	var ids []int64
	for rows.Next() {
		var r OutboxRow
		var headerJSON []byte
		if err := rows.Scan(&r.ID, &r.EventID, &r.Subject, &r.Payload, &headerJSON, &r.Attempts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: scan outbox row: %v", pubsub.ErrConnectionError, err)
		}
		_ = json.Unmarshal(headerJSON, &r.Headers)
		claimed = append(claimed, r)
		ids = append(ids, r.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate outbox rows: %v", pubsub.ErrConnectionError, err)
	}
	rows.Close()

	if len(ids) > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET status = $1 WHERE id = ANY($2)`, o.cfg.TableName), outboxPublishing, ids); err != nil {
			return nil, fmt.Errorf("%w: mark publishing: %v", pubsub.ErrConnectionError, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit claim tx: %v", pubsub.ErrConnectionError, err)
	}
	return claimed, nil
}

// MarkPublished transitions a row to its terminal published state.
func (o *Outbox) MarkPublished(ctx context.Context, id int64) error {
	_, err := o.pool.Exec(ctx, fmt.Sprintf(`UPDATE %s SET status = $1 WHERE id = $2`, o.cfg.TableName), outboxPublished, id)
	return err
}

// MarkFailedAttempt records a publish failure: attempts increments, status
// reverts to pending with next_attempt_at advanced per the configured
// backoff schedule, unless attempts has now reached MaxAttempts, in which
// case the row becomes terminally failed (§4.5).
func (o *Outbox) MarkFailedAttempt(ctx context.Context, id int64, attempts int, cause error) error {
	next := attempts + 1
	if next >= o.cfg.MaxAttempts {
		_, err := o.pool.Exec(ctx, fmt.Sprintf(`
			UPDATE %s SET status = $1, attempts = $2, last_error = $3 WHERE id = $4
		`, o.cfg.TableName), outboxFailed, next, cause.Error(), id)
		if err == nil {
			slog.Error("outbox row exhausted max attempts", "id", id, "attempts", next, "error", cause)
		}
		return err
	}

	nextAttemptAt := time.Now().Add(pubsub.ScheduleDelay(o.cfg.Backoff, next))
	_, err := o.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET status = $1, attempts = $2, last_error = $3, next_attempt_at = $4
		WHERE id = $5
	`, o.cfg.TableName), outboxPending, next, cause.Error(), nextAttemptAt, id)
	return err
}

// Publisher is the narrow interface the Relay needs from a broker
// publisher, satisfied by *nats.Publisher without this package importing
// the NATS SDK.
type Publisher interface {
	PublishEncoded(ctx context.Context, subject, eventID string, data []byte, extraHeaders map[string]string) (pubsub.PublishResult, error)
}

// Relay is the recurring worker that drains pending outbox rows to the
// broker (§4.5).
type Relay struct {
	outbox    *Outbox
	publisher Publisher
	cfg       config.Outbox
}

// NewRelay constructs a Relay bound to outbox and publisher.
func NewRelay(outbox *Outbox, publisher Publisher, cfg config.Outbox) *Relay {
	return &Relay{outbox: outbox, publisher: publisher, cfg: cfg}
}

// Run polls for pending rows every PollInterval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := r.runOnce(ctx); err != nil {
			slog.Warn("outbox relay batch error", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Relay) runOnce(ctx context.Context) error {
	rows, err := r.outbox.ClaimBatch(ctx, r.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, row := range rows {
		// A short in-process retry absorbs a single flaky publish before
		// the row falls back to the persisted, cross-poll backoff
		// schedule computed by MarkFailedAttempt.
		backoff := retry.WithMaxRetries(2, retry.NewConstant(200*time.Millisecond))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			_, err := r.publisher.PublishEncoded(ctx, row.Subject, row.EventID, row.Payload, row.Headers)
			if err != nil {
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			if markErr := r.outbox.MarkFailedAttempt(ctx, row.ID, row.Attempts, err); markErr != nil {
				slog.Error("outbox mark-failed also failed", "id", row.ID, "error", markErr)
			}
			continue
		}
		if err := r.outbox.MarkPublished(ctx, row.ID); err != nil {
			slog.Error("outbox mark-published failed", "id", row.ID, "error", err)
		}
	}
	return nil
}
