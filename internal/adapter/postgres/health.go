package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/meridianhq/pubsub/internal/health"
)

// degradedLagThreshold is how old the oldest pending or publishing outbox
// row can be before RelayChecker reports degraded rather than ok.
const degradedLagThreshold = 5 * time.Minute

// RelayChecker reports the Outbox Relay's lag: the age of the oldest
// still-pending row.
type RelayChecker struct {
	outbox *Outbox
}

// NewRelayChecker constructs a RelayChecker bound to outbox.
func NewRelayChecker(outbox *Outbox) *RelayChecker {
	return &RelayChecker{outbox: outbox}
}

func (c *RelayChecker) Check(ctx context.Context) health.ComponentStatus {
	var oldest time.Time
	err := c.outbox.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT COALESCE(MIN(created_at), now()) FROM %s WHERE status IN ($1, $2)
	`, c.outbox.cfg.TableName), outboxPending, outboxPublishing).Scan(&oldest)
	if err != nil {
		return health.ComponentStatus{Name: "outbox_relay", Status: health.StatusUnhealthy, Detail: err.Error(), CheckedAt: time.Now()}
	}

	lag := time.Since(oldest)
	status := health.StatusOK
	if lag > degradedLagThreshold {
		status = health.StatusDegraded
	}
	return health.ComponentStatus{
		Name:      "outbox_relay",
		Status:    status,
		Detail:    fmt.Sprintf("oldest pending row age: %s", lag.Round(time.Second)),
		CheckedAt: time.Now(),
	}
}

// InboxSweepChecker reports how far behind the Sweeper is: the number of
// processed rows already past the retention window, degraded when any exist.
type InboxSweepChecker struct {
	inbox *Inbox
}

// NewInboxSweepChecker constructs an InboxSweepChecker bound to inbox.
func NewInboxSweepChecker(inbox *Inbox) *InboxSweepChecker {
	return &InboxSweepChecker{inbox: inbox}
}

func (c *InboxSweepChecker) Check(ctx context.Context) health.ComponentStatus {
	cutoff := time.Now().Add(-c.inbox.cfg.Retention)

	var overdue int64
	err := c.inbox.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT COUNT(*) FROM %s WHERE status = $1 AND processed_at < $2
	`, c.inbox.cfg.TableName), inboxProcessed, cutoff).Scan(&overdue)
	if err != nil {
		return health.ComponentStatus{Name: "inbox_sweep", Status: health.StatusUnhealthy, Detail: err.Error(), CheckedAt: time.Now()}
	}

	status := health.StatusOK
	if overdue > 0 {
		status = health.StatusDegraded
	}
	return health.ComponentStatus{
		Name:      "inbox_sweep",
		Status:    status,
		Detail:    fmt.Sprintf("%d rows past retention awaiting sweep", overdue),
		CheckedAt: time.Now(),
	}
}
