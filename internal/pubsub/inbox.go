package pubsub

import "context"

// ClaimResult is the outcome of an Inbox.Claim call (§4.13).
type ClaimResult int

const (
	// ClaimNew means this event_id has not been seen before; the caller
	// now owns processing it and must call MarkProcessed/MarkFailed.
	ClaimNew ClaimResult = iota
	// ClaimInProgress means another worker currently owns this event_id.
	ClaimInProgress
	// ClaimProcessed means this event_id already completed successfully.
	ClaimProcessed
)

// Inbox is the idempotent-consumer primitive the Message Processor uses
// to deduplicate deliveries by event_id (§4.13). Implemented against
// Postgres in internal/adapter/postgres; this interface keeps the
// processor free of a storage dependency.
type Inbox interface {
	Claim(ctx context.Context, eventID, subject, stream string, streamSeq uint64) (ClaimResult, error)
	MarkProcessed(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID string, cause error) error
}
