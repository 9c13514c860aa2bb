package nats

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/meridianhq/pubsub/internal/config"
	"github.com/meridianhq/pubsub/internal/pubsub"
)

// TopologyManager idempotently creates/updates the primary events stream
// and, when enabled, the DLQ stream (§4.3).
type TopologyManager struct {
	conn *Connection
	cfg  config.Engine
}

// NewTopologyManager constructs a TopologyManager bound to conn.
func NewTopologyManager(conn *Connection, cfg config.Engine) *TopologyManager {
	return &TopologyManager{conn: conn, cfg: cfg}
}

// EnsureTopology creates the primary stream (subjects = {env}.> plus
// {env}.{app}.dlq when DLQ is enabled) if absent, and the DLQ stream if
// enabled and absent. An existing stream with a superset-compatible
// configuration is left untouched (§4.3a); an incompatible one yields
// TopologyError rather than being silently modified. Creation is retriable
// and safe under concurrent racing callers — a "stream already exists"
// response from a racing creator is swallowed.
func (t *TopologyManager) EnsureTopology(ctx context.Context, env, app string) error {
	primarySubjects := []string{pubsub.EventsSubjectFilter(env)}
	if t.cfg.UseDLQ {
		primarySubjects = append(primarySubjects, pubsub.DLQSubject(env, app))
	}

	streamName := streamNameFor(env)
	if err := t.ensureStream(ctx, streamName, primarySubjects); err != nil {
		return err
	}

	if t.cfg.UseDLQ {
		dlqStreamName := streamName + t.cfg.DLQStreamSuffix
		if err := t.ensureStream(ctx, dlqStreamName, []string{pubsub.DLQSubject(env, app)}); err != nil {
			return err
		}
	}
	return nil
}

func streamNameFor(env string) string {
	return pubsub.Normalize(env) + "_events"
}

func (t *TopologyManager) ensureStream(ctx context.Context, name string, subjects []string) error {
	js := t.conn.JetStream()

	existing, err := js.Stream(ctx, name)
	switch {
	case errors.Is(err, jetstream.ErrStreamNotFound):
		return t.createStream(ctx, name, subjects)
	case err != nil:
		return fmt.Errorf("%w: lookup stream %s: %v", pubsub.ErrTopologyError, name, err)
	}

	info, err := existing.Info(ctx)
	if err != nil {
		return fmt.Errorf("%w: stream info %s: %v", pubsub.ErrTopologyError, name, err)
	}
	if !isSupersetCompatible(info.Config, subjects) {
		return fmt.Errorf("%w: stream %s exists with incompatible configuration", pubsub.ErrTopologyError, name)
	}
	return nil
}

// createStream always provisions file-backed storage: §3's StreamSpec
// requires durable (file) storage for both the primary and DLQ streams, so
// buffered/unacked events survive a broker restart.
func (t *TopologyManager) createStream(ctx context.Context, name string, subjects []string) error {
	_, err := t.conn.JetStream().CreateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
		MaxAge:    7 * 24 * time.Hour,
		Discard:   jetstream.DiscardOld,
	})
	if err != nil {
		if errors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
			// First writer wins; a racing caller created it concurrently.
			return nil
		}
		return fmt.Errorf("%w: create stream %s: %v", pubsub.ErrTopologyError, name, err)
	}
	return nil
}

// isSupersetCompatible implements §4.3a's concrete compatibility check: the
// existing stream's subject set must be a superset of what's desired, and
// its retention/storage must match what this engine would have requested.
func isSupersetCompatible(existing jetstream.StreamConfig, desiredSubjects []string) bool {
	if existing.Retention != jetstream.LimitsPolicy {
		return false
	}
	if existing.Storage != jetstream.FileStorage {
		return false
	}
	for _, want := range desiredSubjects {
		if !slices.Contains(existing.Subjects, want) {
			return false
		}
	}
	return true
}
