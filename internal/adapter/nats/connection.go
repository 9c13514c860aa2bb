// Package nats adapts the message-plane engine (internal/pubsub) onto a
// NATS JetStream broker: the Connection, Topology Manager, Publisher,
// Consumer and DLQ Handler components of §4 are all implemented here.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/meridianhq/pubsub/internal/config"
	"github.com/meridianhq/pubsub/internal/pubsub"
)

// Connection is the single shared long-lived JetStream connection (§4.2),
// created once by Connect. JetStream and IsConnected are safe for
// concurrent callers and return the same connection until Close or Drain.
type Connection struct {
	mu  sync.RWMutex
	nc  *nats.Conn
	js  jetstream.JetStream
	cfg config.NATS
}

// Connect dials the broker. The initial dial is retried with an exponential
// backoff (cenkalti/backoff/v5) distinct from the connection's own built-in
// post-establishment reconnect loop, which uses the fixed-wait policy NATS
// expects (§4.2: bounded attempts, fixed 2s wait, 5s connect timeout).
func Connect(ctx context.Context, cfg config.NATS) (*Connection, error) {
	op := func() (*nats.Conn, error) {
		nc, err := nats.Connect(
			joinURLs(cfg.URLs),
			nats.Timeout(cfg.ConnectTimeout),
			nats.MaxReconnects(cfg.MaxReconnects),
			nats.ReconnectWait(cfg.ReconnectWait),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					slog.Warn("nats disconnected", "error", err)
				}
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				slog.Info("nats reconnected", "url", c.ConnectedUrl())
			}),
			nats.ClosedHandler(func(*nats.Conn) {
				slog.Warn("nats connection closed")
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", pubsub.ErrConnectionError, err)
		}
		return nc, nil
	}

	nc, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(max(cfg.MaxReconnects, 1))),
	)
	if err != nil {
		return nil, fmt.Errorf("connect after retries: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: jetstream init: %v", pubsub.ErrConnectionError, err)
	}

	slog.Info("nats connected", "urls", cfg.URLs)
	return &Connection{nc: nc, js: js, cfg: cfg}, nil
}

func joinURLs(urls []string) string {
	out := urls[0]
	for _, u := range urls[1:] {
		out += "," + u
	}
	return out
}

// JetStream returns the shared jetstream.JetStream handle.
func (c *Connection) JetStream() jetstream.JetStream {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.js
}

// IsConnected reports whether the underlying socket is active.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nc != nil && c.nc.IsConnected()
}

// Drain gracefully drains all subscriptions, flushes pending acks, then
// closes the connection, honoring drainTimeout.
func (c *Connection) Drain(drainTimeout time.Duration) error {
	c.mu.RLock()
	nc := c.nc
	c.mu.RUnlock()

	if err := nc.Drain(); err != nil {
		return fmt.Errorf("nats drain: %w", err)
	}

	deadline := time.Now().Add(drainTimeout)
	for nc.IsConnected() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

// Close shuts down the connection immediately without draining.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc != nil {
		c.nc.Close()
	}
	return nil
}
