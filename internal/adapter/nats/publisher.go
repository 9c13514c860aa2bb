package nats

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/meridianhq/pubsub/internal/config"
	"github.com/meridianhq/pubsub/internal/pubsub"
)

// HeaderMessageID is the NATS header JetStream uses for its own
// publish-side dedup window, independent of the Inbox's consumer-side
// dedup. Both are keyed off the envelope's event_id.
const HeaderMessageID = "Nats-Msg-Id"

// Publisher publishes envelopes onto the primary events stream (§4.4). It
// never touches the Outbox table itself — the Outbox Relay calls
// PublishEncoded with rows it has already claimed.
type Publisher struct {
	conn *Connection
	cfg  config.Engine
}

// NewPublisher constructs a Publisher bound to conn.
func NewPublisher(conn *Connection, cfg config.Engine) *Publisher {
	return &Publisher{conn: conn, cfg: cfg}
}

// Publish builds an envelope around message, encodes it and publishes it
// directly to the broker. Use this only when the Outbox is disabled;
// otherwise route events through the Outbox Repository so publish is
// transactional with the caller's business write.
func (p *Publisher) Publish(ctx context.Context, topic string, message []byte, opts ...pubsub.EnvelopeOption) (pubsub.PublishResult, error) {
	env := pubsub.NewEnvelope(topic, p.cfg.AppName, message, opts...)
	data, err := env.Encode()
	if err != nil {
		return pubsub.PublishResult{}, fmt.Errorf("%w: encode envelope: %v", pubsub.ErrPublishError, err)
	}

	subject, err := pubsub.BuildSubject(p.cfg.Env, p.cfg.AppName, topic)
	if err != nil {
		return pubsub.PublishResult{}, err
	}

	return p.PublishEncoded(ctx, subject, env.EventID, data, nil)
}

// PublishEncoded publishes an already-encoded envelope payload, stamping
// the message-id header from eventID for JetStream's publish-side dedup.
// extraHeaders are merged in on top (trace/correlation propagation, DLQ
// metadata when re-publishing a dead-lettered record).
func (p *Publisher) PublishEncoded(ctx context.Context, subject, eventID string, data []byte, extraHeaders map[string]string) (pubsub.PublishResult, error) {
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set(HeaderMessageID, eventID)
	for k, v := range extraHeaders {
		msg.Header.Set(k, v)
	}

	ack, err := p.conn.JetStream().PublishMsg(ctx, msg)
	if err != nil {
		return pubsub.PublishResult{}, fmt.Errorf("%w: %s: %v", pubsub.ErrPublishError, subject, err)
	}

	return pubsub.PublishResult{
		EventID:   eventID,
		Duplicate: ack.Duplicate,
		StreamSeq: ack.Sequence,
	}, nil
}

// PublishBatch publishes multiple messages under a single topic, sharing
// a trace_id so a consumer can correlate the batch (§4.4's batch form).
func (p *Publisher) PublishBatch(ctx context.Context, topic string, messages [][]byte, traceID string) ([]pubsub.PublishResult, error) {
	results := make([]pubsub.PublishResult, 0, len(messages))
	for _, m := range messages {
		res, err := p.Publish(ctx, topic, m, pubsub.WithTraceID(traceID))
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}
