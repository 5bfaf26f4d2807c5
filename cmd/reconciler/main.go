package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cenkalti/backoff/v4"
	"github.com/spacesedan/reviewguard/config"
	"github.com/spacesedan/reviewguard/internal/clients"
	"github.com/spacesedan/reviewguard/internal/clients/kafka_client"
	"github.com/spacesedan/reviewguard/internal/db"
	"github.com/spacesedan/reviewguard/internal/logging"
	"github.com/spacesedan/reviewguard/internal/metrics"
	"github.com/spacesedan/reviewguard/internal/processing"
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

	reconciler := processing.NewReconciler(db.NewReviewStore(pool), producer, cfg.Reconciler, logger)
	reconciler.Run(ctx)
	logger.Info("[Main] Reconciler stopped")
}
