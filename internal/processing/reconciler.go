package processing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spacesedan/reviewguard/config"
)

type UnmoderatedLister interface {
	ListUnmoderated(ctx context.Context, olderThan time.Time, limit int) ([]int64, error)
}

type Scheduler interface {
	ScheduleReview(ctx context.Context, reviewID int64) error
}

// Reconciler re-dispatches reviews whose moderation request was lost, for
// example when the broker was down while the review was submitted. A review
// that is dispatched twice still gets a single verdict.
type Reconciler struct {
	reviews   UnmoderatedLister
	scheduler Scheduler
	cfg       config.ReconcilerConfig
	now       func() time.Time
	logger    *slog.Logger
}

func NewReconciler(reviews UnmoderatedLister, scheduler Scheduler, cfg config.ReconcilerConfig, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Reconciler{
		reviews:   reviews,
		scheduler: scheduler,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.sweepAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("[Reconciler] Shutting down reconciler gracefully...")
			return
		case <-ticker.C:
			r.sweepAndLog(ctx)
		}
	}
}

func (r *Reconciler) sweepAndLog(ctx context.Context) {
	n, err := r.Sweep(ctx)
	if err != nil {
		r.logger.Error("[Reconciler] Sweep failed",
			slog.Int("dispatched", n),
			slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		r.logger.Info("[Reconciler] Re-dispatched unmoderated reviews", slog.Int("count", n))
	}
}

// Sweep dispatches one batch of reviews older than MinAge that have no
// verdict. It stops at the first dispatch failure.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.cfg.MinAge)
	ids, err := r.reviews.ListUnmoderated(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list unmoderated reviews: %w", err)
	}

	for i, id := range ids {
		if err := r.scheduler.ScheduleReview(ctx, id); err != nil {
			return i, fmt.Errorf("dispatch review %d: %w", id, err)
		}
	}
	return len(ids), nil
}
