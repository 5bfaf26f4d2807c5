package clients

import (
	"log/slog"

	"github.com/sony/gobreaker"
	"github.com/spacesedan/reviewguard/config"
	"github.com/spacesedan/reviewguard/internal/metrics"
	"github.com/spacesedan/reviewguard/internal/models"
)

// newBreaker builds the circuit breaker guarding one classifier. While open,
// calls fail fast and the client substitutes its safe default.
func newBreaker(service models.ClassifierService, cfg config.BreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(service),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// zero disables tripping
			return cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			open := 0.0
			if to == gobreaker.StateOpen {
				open = 1
			}
			metrics.BreakerState.WithLabelValues(name).Set(open)
			logger.Warn("[CircuitBreaker] State change",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
}
