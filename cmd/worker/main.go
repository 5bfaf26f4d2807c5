package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spacesedan/reviewguard/config"
	"github.com/spacesedan/reviewguard/internal/clients"
	"github.com/spacesedan/reviewguard/internal/clients/kafka_client"
	"github.com/spacesedan/reviewguard/internal/consumers"
	"github.com/spacesedan/reviewguard/internal/db"
	"github.com/spacesedan/reviewguard/internal/errorlog"
	"github.com/spacesedan/reviewguard/internal/logging"
	"github.com/spacesedan/reviewguard/internal/metrics"
	"github.com/spacesedan/reviewguard/internal/moderation"
	"github.com/spacesedan/reviewguard/internal/monitoring"
)

func main() {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}
	config.LoadEnv(env)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("[Main] Invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := logging.InitLogger(cfg.LogLevel)
	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := clients.NewPostgresPool(ctx, cfg.Postgres.DSN())
	if err != nil {
		logger.Error("[Main] Failed to connect to Postgres", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	producer, err := backoff.RetryWithData(func() (*kafka_client.Producer, error) {
		p, err := kafka_client.NewProducer(cfg.Kafka)
		if err != nil {
			logger.Warn("[Main] Kafka init failed, retrying...", slog.String("error", err.Error()))
		}
		return p, err
	}, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
	if err != nil {
		logger.Error("[Main] Giving up on Kafka producer", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer producer.Close()

	errorStore, err := clients.NewErrorStore(ctx, cfg, pool)
	if err != nil {
		logger.Error("[Main] Failed to initialize error log", slog.String("error", err.Error()))
		os.Exit(1)
	}
	sink := errorlog.NewSink(errorStore, logger)

	var verdicts db.VerdictRepository = db.NewVerdictStore(pool)
	if cfg.Valkey.Enabled() {
		valkeyClient, err := clients.NewValkeyClient(cfg.Valkey)
		if err != nil {
			logger.Warn("[Main] Valkey unavailable, writing verdicts without cache",
				slog.String("error", err.Error()))
		} else {
			defer valkeyClient.Close()
			verdicts = db.NewCachedVerdicts(verdicts, valkeyClient, cfg.Valkey.CacheTTL, logger)
		}
	}

	if !cfg.SpamDetector.Configured() {
		logger.Warn("[Main] SPAM_DETECTOR_URL is not set, spam detection is disabled")
	}
	orchestrator := moderation.NewOrchestrator(
		db.NewReviewStore(pool),
		verdicts,
		clients.NewModerationClient(cfg.Moderation, cfg.Breaker, sink, logger),
		clients.NewSpamClient(cfg.SpamDetector, cfg.Breaker, sink, logger),
		sink,
		logger,
	)

	storeHealthy := &atomic.Bool{}
	storeHealthy.Store(true)
	go monitoring.MonitorStoreHealth(ctx, "postgres", pool, storeHealthy, monitoring.HEALTHCHECK_INTERVAL)

	metricsServer := &http.Server{
		Addr:              ":" + cfg.Server.MetricsPort,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("[Main] Metrics server failed", slog.String("error", err.Error()))
		}
	}()
	defer metricsServer.Close()

	consumer := consumers.NewModerationConsumer(orchestrator, producer, logger)
	consumers.WrapConsumer(consumer.Start).
		WithHealthCheck(storeHealthy).
		Register(kafka_client.ModerationTopic(cfg.Kafka))

	if err := kafka_client.StartConsumer(ctx, cfg.Kafka); err != nil {
		logger.Error("[Main] Failed to start consumer", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("[Main] Worker stopped")
}
