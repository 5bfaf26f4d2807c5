package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spacesedan/reviewguard/config"
	"github.com/spacesedan/reviewguard/internal/clients"
	"github.com/spacesedan/reviewguard/internal/clients/kafka_client"
	"github.com/spacesedan/reviewguard/internal/db"
	"github.com/spacesedan/reviewguard/internal/errorlog"
	"github.com/spacesedan/reviewguard/internal/logging"
	"github.com/spacesedan/reviewguard/internal/metrics"
	"github.com/spacesedan/reviewguard/internal/server"
)

const SHUTDOWN_TIMEOUT = 10 * time.Second

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

	if err := db.Migrate(cfg.Postgres.DSN()); err != nil {
		logger.Error("[Main] Failed to run migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

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

	var verdicts db.VerdictRepository = db.NewVerdictStore(pool)
	if cfg.Valkey.Enabled() {
		valkeyClient, err := clients.NewValkeyClient(cfg.Valkey)
		if err != nil {
			logger.Warn("[Main] Valkey unavailable, serving verdicts without cache",
				slog.String("error", err.Error()))
		} else {
			defer valkeyClient.Close()
			verdicts = db.NewCachedVerdicts(verdicts, valkeyClient, cfg.Valkey.CacheTTL, logger)
		}
	}

	router := server.NewRouter(server.Deps{
		Reviews:    db.NewReviewStore(pool),
		Verdicts:   verdicts,
		Dispatcher: producer,
		Errors:     errorlog.NewSink(errorStore, logger),
		Ready:      pool.Ping,
		AdminToken: cfg.Server.AdminToken,
		Logger:     logger,
	})
	if cfg.Server.AdminToken == "" {
		logger.Warn("[Main] ADMIN_TOKEN is not set, admin endpoints are disabled")
	}

	srv := server.NewHTTPServer(cfg.Server.Port, router)
	go func() {
		logger.Info("[Main] API listening", slog.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("[Main] HTTP server failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("[Main] Shutting down API gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), SHUTDOWN_TIMEOUT)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("[Main] HTTP server shutdown failed", slog.String("error", err.Error()))
	}
}
