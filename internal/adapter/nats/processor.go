package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/meridianhq/pubsub/internal/adapter/ristretto"
	"github.com/meridianhq/pubsub/internal/config"
	"github.com/meridianhq/pubsub/internal/pubsub"
)

// cacheEntryTTL bounds how long a "processed" marker lives in the
// process-local hot cache; the Inbox table remains the source of truth
// for the full Inbox.Retention window.
const cacheEntryTTL = time.Hour

// Processor is the Message Processor (§4.9): it decodes the envelope,
// applies Inbox dedup, runs the middleware chain and handler, and
// classifies any failure through the Error Handler. Its Process method
// has the ProcessFunc shape Consumer expects.
type Processor struct {
	cfg          config.Engine
	errorHandler *pubsub.ErrorHandler
	inbox        pubsub.Inbox // nil when the Inbox feature is disabled
	cache        *ristretto.Cache
	middlewares  []pubsub.Middleware
	streamName   string
}

// NewProcessor constructs a Processor. inbox and cache may both be nil,
// in which case every delivery runs the handler, so a redelivered event is
// handled again under the broker's at-least-once semantics with no extra
// dedup layer.
func NewProcessor(cfg config.Engine, errorHandler *pubsub.ErrorHandler, inbox pubsub.Inbox, cache *ristretto.Cache, middlewares ...pubsub.Middleware) *Processor {
	return &Processor{
		cfg:          cfg,
		errorHandler: errorHandler,
		inbox:        inbox,
		cache:        cache,
		middlewares:  middlewares,
		streamName:   streamNameFor(cfg.Env),
	}
}

// Process implements ProcessFunc.
func (p *Processor) Process(ctx context.Context, sub pubsub.Subscription, msg jetstream.Msg) (pubsub.ErrorAction, error) {
	jsMeta, err := msg.Metadata()
	if err != nil {
		return pubsub.ActionDiscard, fmt.Errorf("%w: read message metadata: %v", pubsub.ErrMalformedMessage, err)
	}
	deliveries := int(jsMeta.NumDelivered)
	maxDeliver := p.cfg.MaxDeliver
	if sub.Options.MaxDeliver > 0 {
		maxDeliver = sub.Options.MaxDeliver
	}

	env, err := pubsub.Decode(msg.Data(), p.cfg.StrictDecode)
	if err != nil {
		return p.classify(err, deliveries, maxDeliver, sub.Options.OnError)
	}

	meta := &pubsub.Metadata{
		Ctx:        ctx,
		Subject:    msg.Subject(),
		EventID:    env.EventID,
		Stream:     p.streamName,
		StreamSeq:  jsMeta.Sequence.Stream,
		Deliveries: deliveries,
		TraceID:    env.TraceID,
	}

	if p.cache != nil {
		if _, found, _ := p.cache.Get(ctx, env.EventID); found {
			return 0, nil
		}
	}

	if p.inbox != nil {
		result, err := p.inbox.Claim(ctx, env.EventID, meta.Subject, p.streamName, meta.StreamSeq)
		if err != nil {
			return p.classify(fmt.Errorf("%w: inbox claim: %v", pubsub.ErrConnectionError, err), deliveries, maxDeliver, sub.Options.OnError)
		}
		switch result {
		case pubsub.ClaimProcessed:
			if p.cache != nil {
				_ = p.cache.Set(ctx, env.EventID, []byte{1}, cacheEntryTTL)
			}
			return 0, nil
		case pubsub.ClaimInProgress:
			// Another worker currently owns this event_id; nak with the
			// consumer's standard retry handling rather than running the
			// handler concurrently for the same event.
			return pubsub.ActionRetry, errors.New("inbox: claim in progress by another worker")
		}
	}

	chain := pubsub.NewChain(p.middlewares...)
	if sub.Options.Schema != nil {
		chain.Use(pubsub.SchemaValidationMiddleware(sub.Options.Schema))
	}

	handlerErr := chain.Run(env.Message, meta, func(payload []byte, m *pubsub.Metadata) error {
		return sub.Handler(payload, m)
	})

	if handlerErr == nil {
		if p.inbox != nil {
			if err := p.inbox.MarkProcessed(ctx, env.EventID); err != nil {
				return pubsub.ActionRetry, fmt.Errorf("%w: mark processed: %v", pubsub.ErrConnectionError, err)
			}
		}
		if p.cache != nil {
			_ = p.cache.Set(ctx, env.EventID, []byte{1}, cacheEntryTTL)
		}
		return 0, nil
	}

	if p.inbox != nil {
		if err := p.inbox.MarkFailed(ctx, env.EventID, handlerErr); err != nil {
			// Still classify and return the handler's own error; the inbox
			// write failing is logged by the caller via the returned error chain.
			handlerErr = fmt.Errorf("%w (inbox mark-failed also failed: %v)", handlerErr, err)
		}
	}
	return p.classify(handlerErr, deliveries, maxDeliver, sub.Options.OnError)
}

func (p *Processor) classify(err error, attempt, maxAttempts int, onError func(pubsub.ErrorContext) pubsub.ErrorAction) (pubsub.ErrorAction, error) {
	action := p.errorHandler.Classify(pubsub.ErrorContext{
		Err:           err,
		AttemptNumber: attempt,
		MaxAttempts:   maxAttempts,
	}, onError)
	return action, err
}
