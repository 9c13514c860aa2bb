// Command pubsubd runs the declarative pub/sub engine as a standalone
// daemon: it loads configuration, establishes the Postgres and NATS
// JetStream connections, ensures topology, wires the Outbox Relay and
// Inbox Sweeper, starts the Consumer's pull loops and serves the
// health-check HTTP surface until signalled to shut down.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meridianhq/pubsub/internal/adapter/nats"
	"github.com/meridianhq/pubsub/internal/adapter/postgres"
	"github.com/meridianhq/pubsub/internal/adapter/ristretto"
	"github.com/meridianhq/pubsub/internal/config"
	"github.com/meridianhq/pubsub/internal/health"
	"github.com/meridianhq/pubsub/internal/logger"
	"github.com/meridianhq/pubsub/internal/pubsub"
	"github.com/meridianhq/pubsub/internal/resilience"
	"github.com/meridianhq/pubsub/internal/telemetry"
)

func main() {
	// Temporary bootstrap logger until config is loaded.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		return fmt.Errorf("flags: %w", err)
	}

	cfg, _, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"env", cfg.Engine.Env, "app", cfg.Engine.AppName,
		"concurrency", cfg.Engine.Concurrency, "use_dlq", cfg.Engine.UseDLQ,
		"outbox_enabled", cfg.Outbox.Enabled, "inbox_enabled", cfg.Inbox.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	conn, err := nats.Connect(ctx, cfg.NATS)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = conn.Close() }()

	topology := nats.NewTopologyManager(conn, cfg.Engine)
	if err := topology.EnsureTopology(ctx, cfg.Engine.Env, cfg.Engine.AppName); err != nil {
		return fmt.Errorf("topology: %w", err)
	}
	slog.Info("topology ensured")

	telemetryProvider, err := telemetry.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = telemetryProvider.Shutdown(context.Background()) }()

	metrics, err := telemetry.NewEngineMetrics(cfg.Engine.AppName)
	if err != nil {
		return fmt.Errorf("telemetry metrics: %w", err)
	}

	// --- Publisher / Outbox ---

	publisher := nats.NewPublisher(conn, cfg.Engine)

	var outboxRelay *postgres.Relay
	var outbox *postgres.Outbox
	if cfg.Outbox.Enabled {
		outbox = postgres.NewOutbox(pool, cfg.Outbox)
		outboxRelay = postgres.NewRelay(outbox, publisher, cfg.Outbox)
	}

	// --- Inbox / hot cache ---

	var inbox pubsub.Inbox
	var inboxRepo *postgres.Inbox
	var sweeper *postgres.Sweeper
	var hotCache *ristretto.Cache
	if cfg.Inbox.Enabled {
		inboxRepo = postgres.NewInbox(pool, cfg.Inbox)
		inbox = inboxRepo
		sweeper = postgres.NewSweeper(inboxRepo)

		hotCache, err = ristretto.NewForItemCount(cfg.Inbox.HotCacheItems)
		if err != nil {
			return fmt.Errorf("hot cache: %w", err)
		}
		defer hotCache.Close()
	}

	// --- Registry / handlers ---

	registry := pubsub.NewRegistry()
	registerHandlers(registry, cfg.Engine, outbox, publisher)

	errorHandler := pubsub.NewErrorHandler(cfg.Engine.OnMaxDeliver)
	breaker := resilience.NewBreakerWithProbeLimit(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout, cfg.Breaker.HalfOpenMaxCalls)

	processor := nats.NewProcessor(cfg.Engine, errorHandler, inbox, hotCache,
		pubsub.LoggingMiddleware(log),
		pubsub.RetryLoggerMiddleware(log),
		pubsub.MetricsMiddleware(metrics),
		pubsub.CircuitBreakerMiddleware(breaker),
		pubsub.DBScopeMiddleware(pool),
	)

	var dlq *nats.DLQHandler
	if cfg.Engine.UseDLQ {
		dlq = nats.NewDLQHandler(conn, cfg.Engine, metrics)
	}

	consumer := nats.NewConsumer(conn, cfg.Engine, registry, processor.Process, dlq)

	// --- Health ---

	healthRegistry := health.NewRegistry()
	healthRegistry.Register("nats_connection", nats.NewConnectionChecker(conn))
	healthRegistry.Register("consumer", consumer)
	if outbox != nil {
		healthRegistry.Register("outbox_relay", postgres.NewRelayChecker(outbox))
	}
	if inboxRepo != nil {
		healthRegistry.Register("inbox_sweep", postgres.NewInboxSweepChecker(inboxRepo))
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           healthRegistry.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// --- Run everything until shutdown ---

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting health server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := consumer.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("consumer: %w", err)
		}
		return nil
	})

	if outboxRelay != nil {
		g.Go(func() error { return outboxRelay.Run(gctx) })
	}
	if sweeper != nil {
		g.Go(func() error { return sweeper.Run(gctx) })
	}

	<-ctx.Done()
	slog.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.DrainTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("health server shutdown error", "error", err)
	}
	if err := conn.Drain(cfg.Engine.DrainTimeout); err != nil {
		slog.Warn("nats drain error", "error", err)
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("shutdown complete")
	return nil
}
