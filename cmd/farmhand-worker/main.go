// Command farmhand-worker runs the HLS transcode (C10) and raw archive
// (C11) job consumers against the durable job stream (spec.md §6).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"farmhand.dev/core/internal/archive"
	"farmhand.dev/core/internal/config"
	"farmhand.dev/core/internal/eventlog"
	"farmhand.dev/core/internal/jobs"
	"farmhand.dev/core/internal/objectstore"
	"farmhand.dev/core/internal/observability/logging"
	"farmhand.dev/core/internal/observability/metrics"
	"farmhand.dev/core/internal/storage"
	"farmhand.dev/core/internal/transcode"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		os.Stderr.WriteString("farmhand-worker: invalid configuration: " + err.Error() + "\n")
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

	log, err := eventlog.Connect(eventlog.Config{URL: cfg.NATSURL, ConnectName: "farmhand-worker"})
	if err != nil {
		logger.Error("failed to connect to event log", "error", err)
		os.Exit(1)
	}
	defer log.Close()
	if err := log.EnsureJobStream(ctx); err != nil {
		logger.Error("failed to ensure job stream", "error", err)
		os.Exit(1)
	}

	objects := objectstore.New(objectstore.Config{
		Endpoint:  cfg.R2Endpoint,
		Bucket:    cfg.UploadBucket,
		Region:    cfg.R2Region,
		AccessKey: cfg.R2AccessKeyID,
		SecretKey: cfg.R2SecretAccessKey,
		UseSSL:    true,
	})
	producer := jobs.NewProducer(log)

	transcoder := transcode.New(transcode.Config{
		Store:       store,
		Objects:     objects,
		Jobs:        producer,
		StorageRoot: cfg.Storage,
		FFmpegPath:  cfg.FFmpegLocation,
		FFprobePath: cfg.FFprobeLocation(),
		Logger:      logging.WithComponent(logger, "transcode"),
	})
	archiver := archive.New(archive.Config{
		Store:       store,
		Objects:     objects,
		StorageRoot: cfg.Storage,
		Logger:      logging.WithComponent(logger, "archive"),
	})

	runner, err := jobs.NewJobRunner(jobs.RunnerConfig{
		Log:     log,
		Durable: "farmhand-worker",
		Metrics: recorder,
		Logger:  logging.WithComponent(logger, "jobs"),
	}, transcoder, archiver)
	if err != nil {
		logger.Error("failed to create job runner", "error", err)
		os.Exit(1)
	}

	runner.Start(ctx)
	logger.Info("farmhand-worker started")

	<-ctx.Done()
	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := runner.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}

	logger.Info("farmhand-worker stopped")
}
