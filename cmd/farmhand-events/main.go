// Command farmhand-events runs the durable event listener (C12): it
// persists chat and engagement events fanned out onto farmhand.events.>
// (spec.md §6).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"farmhand.dev/core/internal/config"
	"farmhand.dev/core/internal/events"
	"farmhand.dev/core/internal/eventlog"
	"farmhand.dev/core/internal/observability/logging"
	"farmhand.dev/core/internal/observability/metrics"
	"farmhand.dev/core/internal/storage"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		os.Stderr.WriteString("farmhand-events: invalid configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.Init(logging.Config{Level: os.Getenv("LOG_LEVEL")})
	recorder := metrics.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewPostgresRepository(ctx, storage.PostgresConfig{DSN: cfg.DatabaseURL})
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	log, err := eventlog.Connect(eventlog.Config{URL: cfg.NATSURL, ConnectName: "farmhand-events"})
	if err != nil {
		logger.Error("failed to connect to event log", "error", err)
		os.Exit(1)
	}
	defer log.Close()
	if err := log.EnsureEventStream(ctx); err != nil {
		logger.Error("failed to ensure event stream", "error", err)
		os.Exit(1)
	}

	listener, err := events.New(events.Config{
		Log:     log,
		Store:   store,
		Durable: "farmhand-events",
		Metrics: recorder,
		Logger:  logging.WithComponent(logger, "events"),
	})
	if err != nil {
		logger.Error("failed to create event listener", "error", err)
		os.Exit(1)
	}

	listener.Start(ctx)
	logger.Info("farmhand-events started")

	<-ctx.Done()
	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := listener.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}

	logger.Info("farmhand-events stopped")
}
