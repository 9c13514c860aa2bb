//go:build integration

package integration_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/meridianhq/pubsub/internal/adapter/postgres"
	"github.com/meridianhq/pubsub/internal/pubsub"
)

// TestOutboxLifecycle exercises insert-in-transaction, claim, publish
// success and failure-backoff against a real Postgres instance.
func TestOutboxLifecycle(t *testing.T) {
	cleanDB(testPool)
	ctx := context.Background()

	eventID := uuid.NewString()
	tx, err := testPool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	if err := testOutbox.Insert(ctx, tx, eventID, "test.app1.orders.order.placed", []byte(`{"id":"o1"}`), map[string]string{"x-trace-id": "t1"}); err != nil {
		t.Fatalf("insert outbox row: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit tx: %v", err)
	}

	rows, err := testOutbox.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("claim batch: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 claimed row, got %d", len(rows))
	}
	if rows[0].EventID != eventID {
		t.Fatalf("expected event_id %s, got %s", eventID, rows[0].EventID)
	}

	// A second claim while the row is still "publishing" must find nothing.
	second, err := testOutbox.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("second claim batch: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected 0 rows on second claim (row already publishing), got %d", len(second))
	}

	if err := testOutbox.MarkPublished(ctx, rows[0].ID); err != nil {
		t.Fatalf("mark published: %v", err)
	}

	afterPublish, err := testOutbox.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("claim after publish: %v", err)
	}
	if len(afterPublish) != 0 {
		t.Fatalf("expected 0 pending rows after publish, got %d", len(afterPublish))
	}
}

// TestOutboxRollback verifies that rolling back the caller's transaction
// leaves zero outbox rows, the atomicity invariant underlying the
// transactional outbox.
func TestOutboxRollback(t *testing.T) {
	cleanDB(testPool)
	ctx := context.Background()

	tx, err := testPool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	if err := testOutbox.Insert(ctx, tx, uuid.NewString(), "test.app1.orders.order.placed", []byte(`{"id":"o2"}`), nil); err != nil {
		t.Fatalf("insert outbox row: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback tx: %v", err)
	}

	rows, err := testOutbox.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("claim batch: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected 0 rows after rollback, got %d", len(rows))
	}
}

// TestOutboxMarkFailedAttemptBacksOff verifies a failed publish attempt
// reverts the row to pending with attempts incremented, until the
// configured max attempts is reached and the row becomes terminally failed.
func TestOutboxMarkFailedAttemptBacksOff(t *testing.T) {
	cleanDB(testPool)
	ctx := context.Background()

	eventID := uuid.NewString()
	tx, err := testPool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	if err := testOutbox.Insert(ctx, tx, eventID, "test.app1.orders.order.placed", []byte(`{}`), nil); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	rows, err := testOutbox.ClaimBatch(ctx, 10)
	if err != nil || len(rows) != 1 {
		t.Fatalf("claim: rows=%d err=%v", len(rows), err)
	}

	if err := testOutbox.MarkFailedAttempt(ctx, rows[0].ID, rows[0].Attempts, errors.New("broker unreachable")); err != nil {
		t.Fatalf("mark failed attempt: %v", err)
	}

	// The row's next_attempt_at has been pushed into the future by the
	// backoff schedule, so an immediate claim must not pick it up.
	again, err := testOutbox.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("claim after failure: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected 0 immediately-claimable rows after backoff, got %d", len(again))
	}
}

// TestInboxDedup verifies the claim/mark-processed lifecycle: a second
// claim for the same event_id after MarkProcessed reports ClaimProcessed
// rather than allowing the handler to run again.
func TestInboxDedup(t *testing.T) {
	cleanDB(testPool)
	ctx := context.Background()

	eventID := uuid.NewString()
	result, err := testInbox.Claim(ctx, eventID, "test.app1.users.user.created", "test_events", 1)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if result != pubsub.ClaimNew {
		t.Fatalf("expected first claim to be new, got %v", result)
	}

	if err := testInbox.MarkProcessed(ctx, eventID); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	second, err := testInbox.Claim(ctx, eventID, "test.app1.users.user.created", "test_events", 2)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second != pubsub.ClaimProcessed {
		t.Fatalf("expected second claim to report processed, got %v", second)
	}
}

// TestInboxSweep verifies the Sweeper deletes aged processed rows.
func TestInboxSweep(t *testing.T) {
	cleanDB(testPool)
	ctx := context.Background()

	eventID := uuid.NewString()
	if _, err := testInbox.Claim(ctx, eventID, "test.app1.users.user.created", "test_events", 1); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := testInbox.MarkProcessed(ctx, eventID); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	// Backdate processed_at so the row falls outside any retention window.
	if _, err := testPool.Exec(ctx, `UPDATE pubsub_inbox SET processed_at = now() - interval '365 days' WHERE event_id = $1`, eventID); err != nil {
		t.Fatalf("backdate processed_at: %v", err)
	}

	sweeper := postgres.NewSweeper(testInbox)
	if _, err := sweeper.SweepOnce(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	var count int
	if err := testPool.QueryRow(ctx, `SELECT count(*) FROM pubsub_inbox WHERE event_id = $1`, eventID).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected swept row to be deleted, found %d", count)
	}
}
