// Command farmhand-api starts the Farmhand HTTP API: auth, user settings,
// resumable upload coordination, video lookup, and the eventsub webhook
// receiver (spec.md §6 process roles).
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

	goredis "github.com/redis/go-redis/v9"

	"farmhand.dev/core/internal/api"
	"farmhand.dev/core/internal/auth"
	"farmhand.dev/core/internal/auth/oauth"
	"farmhand.dev/core/internal/config"
	"farmhand.dev/core/internal/eventlog"
	"farmhand.dev/core/internal/idempotency"
	"farmhand.dev/core/internal/jobs"
	"farmhand.dev/core/internal/objectstore"
	"farmhand.dev/core/internal/observability/logging"
	"farmhand.dev/core/internal/observability/metrics"
	"farmhand.dev/core/internal/ratelimit"
	"farmhand.dev/core/internal/redisconn"
	"farmhand.dev/core/internal/server"
	"farmhand.dev/core/internal/storage"
	"farmhand.dev/core/internal/subscriptions"
	"farmhand.dev/core/internal/uploadlegacy"
	"farmhand.dev/core/internal/webhook"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "farmhand-api: invalid configuration:", err)
		os.Exit(1)
	}

	logger := logging.Init(logging.Config{Level: os.Getenv("LOG_LEVEL")})
	auditLogger := logging.WithComponent(logger, "audit")
	recorder := metrics.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewPostgresRepository(ctx, storage.PostgresConfig{DSN: cfg.DatabaseURL})
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	log, err := eventlog.Connect(eventlog.Config{URL: cfg.NATSURL, ConnectName: "farmhand-api"})
	if err != nil {
		logger.Error("failed to connect to event log", "error", err)
		os.Exit(1)
	}
	defer log.Close()
	if err := log.EnsureJobStream(ctx); err != nil {
		logger.Error("failed to ensure job stream", "error", err)
		os.Exit(1)
	}
	if err := log.EnsureEventStream(ctx); err != nil {
		logger.Error("failed to ensure event stream", "error", err)
		os.Exit(1)
	}

	var redisClient = redisClientOrNil(ctx, cfg, logger)

	objects := objectstore.New(objectstore.Config{
		Endpoint:  cfg.R2Endpoint,
		Bucket:    cfg.UploadBucket,
		Region:    cfg.R2Region,
		AccessKey: cfg.R2AccessKeyID,
		SecretKey: cfg.R2SecretAccessKey,
		UseSSL:    true,
	})

	producer := jobs.NewProducer(log)
	sessions := auth.NewSessionManager(7 * 24 * time.Hour)

	handler := api.NewHandler(store)
	handler.Sessions = sessions
	handler.Objects = objects
	handler.Jobs = producer
	handler.Metrics = recorder
	handler.Logger = logging.WithComponent(logger, "api")
	handler.JWTSecret = cfg.JWTSecret
	handler.FrontendURL = cfg.FrontendURL
	handler.StorageRoot = cfg.Storage
	handler.AllowSelfSignup = true

	if redisClient != nil {
		handler.RateLimiter = ratelimit.New(redisClient, 10, time.Minute)
	}

	var subsManager *subscriptions.Manager
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		subsManager = subscriptions.New(subscriptions.Config{
			ClientID:     cfg.TwitchClientID,
			ClientSecret: cfg.TwitchClientSecret,
			CallbackURL:  cfg.TwitchRedirectURI,
			Secret:       cfg.TwitchClientSecret,
		})
		handler.Subscriptions = subsManager

		oauthManager, err := oauth.NewManager([]oauth.ProviderConfig{
			{
				Name:         "twitch",
				DisplayName:  "Twitch",
				AuthorizeURL: "https://id.twitch.tv/oauth2/authorize",
				TokenURL:     "https://id.twitch.tv/oauth2/token",
				UserInfoURL:  "https://api.twitch.tv/helix/users",
				ClientID:     cfg.TwitchClientID,
				ClientSecret: cfg.TwitchClientSecret,
				RedirectURL:  cfg.TwitchRedirectURI,
				Scopes:       []string{"user:read:email"},
				Profile: oauth.ProfileMapping{
					IDField:    "data.0.id",
					EmailField: "data.0.email",
					NameField:  "data.0.display_name",
				},
			},
		})
		if err != nil {
			logger.Error("failed to configure twitch oauth", "error", err)
			os.Exit(1)
		}
		handler.OAuth = oauthManager
	}

	var webhookHandler http.Handler
	if cfg.TwitchClientSecret != "" {
		idem := idempotency.New(redisClient, store, 24*time.Hour)
		webhookHandler = webhook.New(webhook.Config{
			Secret: cfg.TwitchClientSecret,
			Store:  store,
			Log:    log,
			Idem:   idem,
			Logger: logging.WithComponent(logger, "webhook"),
		})
	}

	legacyUpload := uploadlegacy.New(uploadlegacy.Config{
		Store:       store,
		Jobs:        producer,
		StorageRoot: cfg.Storage,
		Logger:      logging.WithComponent(logger, "uploadlegacy"),
	})

	srv, err := server.New(handler, server.Config{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Logger:      logger,
		AuditLogger: auditLogger,
		Metrics:     recorder,
		RateLimit: server.RateLimitConfig{
			GlobalRPS:   50,
			GlobalBurst: 100,
		},
		CORS:         server.CORSConfig{AllowedOrigins: []string{cfg.FrontendURL}},
		Webhook:      webhookHandler,
		UploadLegacy: legacyUpload,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	stopPurge := startSessionPurgeWorker(ctx, logging.WithComponent(logger, "sessions"), sessions, time.Hour)

	errs := make(chan error, 1)
	go func() {
		logger.Info("farmhand-api listening", "port", cfg.Port)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errs:
		logger.Error("server error", "error", err)
	}

	stopPurge()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}

	logger.Info("farmhand-api stopped")
}

func redisClientOrNil(ctx context.Context, cfg config.Config, logger *slog.Logger) goredis.UniversalClient {
	if cfg.RedisURL == "" {
		return nil
	}
	client, err := redisconn.New(ctx, redisconn.Config{
		Mode:  redisconn.ModeSingle,
		Addrs: []string{cfg.RedisURL},
	})
	if err != nil {
		logger.Warn("failed to connect to redis, continuing without it", "error", err)
		return nil
	}
	return client
}
