package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// ClassifierCallsTotal counts classifier calls by service and outcome kind.
	ClassifierCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reviewguard",
		Subsystem: "classifier",
		Name:      "calls_total",
		Help:      "Classifier calls labeled by service and outcome (ok, fallback, disabled).",
	}, []string{"service", "outcome"})

	ClassifierDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reviewguard",
		Subsystem: "classifier",
		Name:      "duration_seconds",
		Help:      "Wall time of classifier calls including fallback handling.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
	}, []string{"service"})

	// ErrorRecordsTotal counts error records written by the sink.
	ErrorRecordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reviewguard",
		Subsystem: "errorlog",
		Name:      "records_total",
		Help:      "Error records persisted, labeled by service.",
	}, []string{"service"})

	ErrorRecordWriteFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reviewguard",
		Subsystem: "errorlog",
		Name:      "write_failures_total",
		Help:      "Error records that could not be persisted.",
	})

	// OrchestrationsTotal counts orchestrator runs by result
	// (created, duplicate, already_moderated, review_missing, failed).
	OrchestrationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reviewguard",
		Subsystem: "orchestrator",
		Name:      "runs_total",
		Help:      "Orchestrator runs labeled by result.",
	}, []string{"result"})

	DispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reviewguard",
		Subsystem: "dispatch",
		Name:      "messages_total",
		Help:      "Moderation messages handled by the worker, labeled by result.",
	}, []string{"result"})

	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "reviewguard",
		Subsystem: "classifier",
		Name:      "breaker_open",
		Help:      "1 while the classifier circuit breaker is open.",
	}, []string{"service"})

	StoreHealthy = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reviewguard",
		Subsystem: "worker",
		Name:      "store_healthy",
		Help:      "1 while the verdict store answers pings.",
	})
)

// Register registers all collectors with the default registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			ClassifierCallsTotal,
			ClassifierDurationSeconds,
			ErrorRecordsTotal,
			ErrorRecordWriteFailuresTotal,
			OrchestrationsTotal,
			DispatchTotal,
			BreakerState,
			StoreHealthy,
		)
	})
}
