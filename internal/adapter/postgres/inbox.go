package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianhq/pubsub/internal/config"
	"github.com/meridianhq/pubsub/internal/pubsub"
)

const (
	inboxProcessing = "processing"
	inboxProcessed  = "processed"
	inboxFailed     = "failed"
)

// Inbox implements pubsub.Inbox against Postgres: claim(event_id, ...) is
// a single unique-constraint upsert (§4.13), so two concurrent workers
// racing on the same event_id never both proceed to handler execution.
type Inbox struct {
	pool *pgxpool.Pool
	cfg  config.Inbox
}

// NewInbox constructs an Inbox repository bound to pool.
func NewInbox(pool *pgxpool.Pool, cfg config.Inbox) *Inbox {
	if cfg.TableName == "" {
		cfg.TableName = "pubsub_inbox"
	}
	return &Inbox{pool: pool, cfg: cfg}
}

// Claim implements the sole dedup primitive the Message Processor uses.
// It inserts a `received`/`processing` row for event_id; if a row already
// exists, it atomically bumps deliveries and reports the existing row's
// status instead of inserting a duplicate.
func (in *Inbox) Claim(ctx context.Context, eventID, subject, stream string, streamSeq uint64) (pubsub.ClaimResult, error) {
	var status string
	var inserted bool
	err := in.pool.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (event_id, subject, stream, stream_seq, status, deliveries)
		VALUES ($1, $2, $3, $4, $5, 1)
		ON CONFLICT (event_id) DO UPDATE
			SET deliveries = %s.deliveries + 1
		RETURNING status, (xmax = 0) AS inserted
	`, in.cfg.TableName, in.cfg.TableName), eventID, subject, stream, streamSeq, inboxProcessing).Scan(&status, &inserted)
	if err != nil {
		return 0, fmt.Errorf("%w: claim inbox row: %v", pubsub.ErrConnectionError, err)
	}
	if inserted {
		return pubsub.ClaimNew, nil
	}

	switch status {
	case inboxProcessed:
		return pubsub.ClaimProcessed, nil
	case inboxProcessing:
		return pubsub.ClaimInProgress, nil
	default:
		return pubsub.ClaimNew, nil
	}
}

// MarkProcessed transitions an inbox row to its terminal processed state.
// Per §3's invariant, once processed no further handler invocation for
// that event_id is permitted — Claim's switch above enforces that by
// reporting ClaimProcessed on any later delivery.
func (in *Inbox) MarkProcessed(ctx context.Context, eventID string) error {
	_, err := in.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET status = $1, processed_at = now() WHERE event_id = $2
	`, in.cfg.TableName), inboxProcessed, eventID)
	if err != nil {
		return fmt.Errorf("%w: mark inbox processed: %v", pubsub.ErrConnectionError, err)
	}
	return nil
}

// MarkFailed transitions a row to failed, recording cause. A failed row
// is not terminal: Claim reports ClaimNew for it on a later redelivery, so
// the handler runs again. Claim's upsert does not reset the status; the row
// stays failed until MarkProcessed or another MarkFailed overwrites it.
func (in *Inbox) MarkFailed(ctx context.Context, eventID string, cause error) error {
	_, err := in.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET status = $1, last_error = $2 WHERE event_id = $3
	`, in.cfg.TableName), inboxFailed, cause.Error(), eventID)
	if err != nil {
		return fmt.Errorf("%w: mark inbox failed: %v", pubsub.ErrConnectionError, err)
	}
	return nil
}

// Sweeper deletes aged processed inbox rows on a recurring schedule,
// bounding table growth (§4.13's retention policy).
type Sweeper struct {
	inbox *Inbox
}

// NewSweeper constructs a Sweeper bound to inbox.
func NewSweeper(inbox *Inbox) *Sweeper {
	return &Sweeper{inbox: inbox}
}

// Run deletes processed rows older than the configured retention every
// SweepInterval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.inbox.cfg.SweepInterval <= 0 {
		return nil
	}
	ticker := time.NewTicker(s.inbox.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		if n, err := s.sweepOnce(ctx); err != nil {
			slog.Warn("inbox sweep failed", "error", err)
		} else if n > 0 {
			slog.Info("inbox sweep removed rows", "count", n)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce runs a single sweep pass immediately, returning the number of
// rows removed. Run calls this on its own ticker; operational tooling and
// tests that don't want to wait out a full SweepInterval call it directly.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	return s.sweepOnce(ctx)
}

func (s *Sweeper) sweepOnce(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.inbox.cfg.Retention)
	tag, err := s.inbox.pool.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE status = $1 AND processed_at < $2
	`, s.inbox.cfg.TableName), inboxProcessed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: sweep inbox: %v", pubsub.ErrConnectionError, err)
	}
	return tag.RowsAffected(), nil
}
