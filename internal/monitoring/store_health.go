package monitoring

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/spacesedan/reviewguard/internal/metrics"
)

const (
	HEALTHCHECK_INTERVAL = 15 * time.Second
	HEALTHCHECK_TIMEOUT  = 3 * time.Second
)

// Pinger is satisfied by *pgxpool.Pool and clients.ValkeyClient.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MonitorStoreHealth pings store every interval and publishes the result to
// healthy until ctx is done. The first check runs immediately.
func MonitorStoreHealth(ctx context.Context, name string, store Pinger, healthy *atomic.Bool, interval time.Duration) {
	if interval <= 0 {
		interval = HEALTHCHECK_INTERVAL
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	check := func() {
		pingCtx, cancel := context.WithTimeout(ctx, HEALTHCHECK_TIMEOUT)
		defer cancel()

		err := store.Ping(pingCtx)
		isHealthy := err == nil
		if was := healthy.Swap(isHealthy); was != isHealthy {
			if isHealthy {
				slog.Info("[HealthCheck] Store is healthy again", slog.String("store", name))
			} else {
				slog.Warn("[HealthCheck] Store is unhealthy",
					slog.String("store", name),
					slog.String("error", err.Error()))
			}
		}
		if isHealthy {
			metrics.StoreHealthy.Set(1)
		} else {
			metrics.StoreHealthy.Set(0)
		}
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}
