package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/meridianhq/pubsub/internal/config"
	"github.com/meridianhq/pubsub/internal/health"
	"github.com/meridianhq/pubsub/internal/pubsub"
)

// Consumer runs exactly one durable pull consumer per distinct filter
// registered in a Registry (§8's "one durable per filter" invariant),
// fanning each filter's deliveries out across a bounded worker pool.
type Consumer struct {
	conn     *Connection
	cfg      config.Engine
	registry *pubsub.Registry
	process  ProcessFunc
	dlq      *DLQHandler

	mu        sync.RWMutex
	lastFetch map[string]time.Time
}

// ProcessFunc processes one delivered message against a single
// subscription and reports the outcome. err == nil means the handler
// succeeded; otherwise action is the Error Handler's classification for
// that failure. Supplied by the Message Processor (§4.9), which owns
// Inbox dedup, the middleware chain and handler dispatch.
type ProcessFunc func(ctx context.Context, sub pubsub.Subscription, msg jetstream.Msg) (pubsub.ErrorAction, error)

// NewConsumer constructs a Consumer bound to conn, dispatching deliveries
// for every filter in registry through process. dlq may be nil when the
// engine has the DLQ feature disabled, in which case exhausted
// messages are left to Nak and eventually drop per MaxDeliver.
func NewConsumer(conn *Connection, cfg config.Engine, registry *pubsub.Registry, process ProcessFunc, dlq *DLQHandler) *Consumer {
	return &Consumer{conn: conn, cfg: cfg, registry: registry, process: process, dlq: dlq, lastFetch: make(map[string]time.Time)}
}

// Check reports health.StatusDegraded when any registered filter has not
// yet completed a successful fetch (§4.16); Detail carries the oldest
// last-fetch time. A filter that fetched once and then stalled still
// reports ok, since the age of its last fetch is not compared to any limit.
func (c *Consumer) Check(_ context.Context) health.ComponentStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := health.StatusOK
	oldest := time.Now()
	for _, filter := range c.registry.Filters() {
		t, ok := c.lastFetch[filter]
		if !ok {
			status = health.StatusDegraded
			continue
		}
		if t.Before(oldest) {
			oldest = t
		}
	}
	return health.ComponentStatus{
		Name:      "consumer",
		Status:    status,
		Detail:    fmt.Sprintf("oldest last-fetch: %s", oldest.Format(time.RFC3339)),
		CheckedAt: time.Now(),
	}
}

func (c *Consumer) recordFetch(filter string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastFetch[filter] = time.Now()
}

// Run creates (or attaches to) one durable pull consumer per registered
// filter and pumps messages until ctx is cancelled. It returns only once
// every filter's fetch loop has exited.
func (c *Consumer) Run(ctx context.Context) error {
	filters := c.registry.Filters()
	if len(filters) == 0 {
		return nil
	}

	streamName := streamNameFor(c.cfg.Env)
	stream, err := c.conn.JetStream().Stream(ctx, streamName)
	if err != nil {
		return fmt.Errorf("%w: stream %s: %v", pubsub.ErrSubscriptionError, streamName, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, filter := range filters {
		filter := filter
		subs := c.registry.HandlersFor(filter)
		durable := pubsub.DurableName(c.cfg.AppName, filter)

		backoff := c.cfg.Backoff
		maxDeliver := c.cfg.MaxDeliver
		ackWait := c.cfg.AckWait
		if len(subs) > 0 {
			opts := subs[0].Options
			if len(opts.Backoff) > 0 {
				backoff = opts.Backoff
			}
			if opts.MaxDeliver > 0 {
				maxDeliver = opts.MaxDeliver
			}
			if opts.AckWait > 0 {
				ackWait = opts.AckWait
			}
		}

		cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
			Durable:       durable,
			FilterSubject: filter,
			AckPolicy:     jetstream.AckExplicitPolicy,
			MaxDeliver:    maxDeliver,
			AckWait:       ackWait,
			BackOff:       backoff,
			MaxAckPending: max(c.cfg.Concurrency*4, 100),
		})
		if err != nil {
			return fmt.Errorf("%w: create consumer for %s: %v", pubsub.ErrSubscriptionError, filter, err)
		}

		g.Go(func() error {
			return c.pump(gctx, filter, cons, subs, maxDeliver)
		})
	}
	return g.Wait()
}

// pump fetches batches from cons and dispatches each message to the
// filter's subscriptions through a bounded worker pool sized to
// c.cfg.Concurrency, so one slow handler never starves the others' fetch
// loop.
func (c *Consumer) pump(ctx context.Context, filter string, cons jetstream.Consumer, subs []pubsub.Subscription, maxDeliver int) error {
	sem := semaphore.NewWeighted(int64(max(c.cfg.Concurrency, 1)))
	var wg errgroup.Group

	for {
		if ctx.Err() != nil {
			break
		}

		batch, err := cons.Fetch(max(c.cfg.Concurrency, 1), jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, jetstream.ErrNoMessages) {
				continue
			}
			slog.Warn("fetch error", "error", err)
			continue
		}
		c.recordFetch(filter)

		for msg := range batch.Messages() {
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			msg := msg
			wg.Go(func() error {
				defer sem.Release(1)
				c.dispatch(ctx, msg, subs, maxDeliver)
				return nil
			})
		}
		if err := batch.Error(); err != nil && !errors.Is(err, jetstream.ErrNoMessages) {
			slog.Warn("batch error", "error", err)
		}
	}

	_ = wg.Wait()
	return nil
}

// dispatch runs every subscription registered under the message's filter
// and acks, naks, terms or dead-letters the single underlying message
// once, based on the worst outcome among them. A DLQ verdict wins over a
// retry verdict, which wins over a discard verdict. maxDeliver is the
// filter's effective max-delivery count, used only to classify the DLQ
// reason (§3's DLQRecord.reason), not to make the retry/DLQ decision
// itself — that's the Error Handler's job inside c.process.
func (c *Consumer) dispatch(ctx context.Context, msg jetstream.Msg, subs []pubsub.Subscription, maxDeliver int) {
	var anyErr, wantDLQ, wantRetry, wantDiscard bool
	var dlqErr error

	for _, sub := range subs {
		action, err := c.process(ctx, sub, msg)
		if err == nil {
			continue
		}
		anyErr = true
		switch action {
		case pubsub.ActionDLQ:
			wantDLQ = true
			dlqErr = err
		case pubsub.ActionRetry:
			wantRetry = true
		default:
			wantDiscard = true
		}
		slog.Error("message processing failed", "subject", msg.Subject(), "error", err, "action", action.String())
	}

	if !anyErr {
		_ = msg.Ack()
		return
	}

	switch {
	case wantDLQ:
		if c.dlq != nil {
			deliveries := 0
			if jsMeta, err := msg.Metadata(); err == nil {
				deliveries = int(jsMeta.NumDelivered)
			}
			reason := pubsub.DLQReason(dlqErr, deliveries, maxDeliver)
			if err := c.dlq.Send(ctx, msg, reason, dlqErr); err == nil {
				_ = msg.Ack()
				return
			}
		}
		// DLQ publish failed (or no DLQ configured): degrade to nak so the
		// original message is retried later, per §4.11's DLQ action semantics.
		_ = msg.Nak()
	case wantRetry:
		_ = msg.Nak()
	case wantDiscard:
		_ = msg.Term()
	}
}
