// Package moderation turns a stored review into exactly one verdict.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spacesedan/reviewguard/internal/db"
	"github.com/spacesedan/reviewguard/internal/metrics"
	"github.com/spacesedan/reviewguard/internal/models"
	"golang.org/x/sync/errgroup"
)

const (
	RESULT_CREATED           = "created"
	RESULT_DUPLICATE         = "duplicate"
	RESULT_ALREADY_MODERATED = "already_moderated"
	RESULT_REVIEW_MISSING    = "review_missing"
	RESULT_FAILED            = "failed"
)

type ReviewReader interface {
	GetReview(ctx context.Context, id int64) (*models.Review, error)
}

type ContentClassifier interface {
	ClassifyContent(ctx context.Context, text string) models.ModerationOutcome
}

type SpamClassifier interface {
	ClassifySpam(ctx context.Context, text string) models.SpamOutcome
}

type ErrorRecorder interface {
	Record(ctx context.Context, service models.ClassifierService, inputText string, err error, statusCode *int) *models.ErrorRecord
}

type Orchestrator struct {
	reviews  ReviewReader
	verdicts db.VerdictRepository
	content  ContentClassifier
	spam     SpamClassifier
	errors   ErrorRecorder
	logger   *slog.Logger
}

func NewOrchestrator(reviews ReviewReader, verdicts db.VerdictRepository, content ContentClassifier, spam SpamClassifier, recorder ErrorRecorder, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		reviews:  reviews,
		verdicts: verdicts,
		content:  content,
		spam:     spam,
		errors:   recorder,
		logger:   logger,
	}
}

// Run moderates one review. A review that no longer exists, or already has a
// verdict, is a no-op. Classifier failures never surface here; only failures to
// load the review or store the verdict are returned.
func (o *Orchestrator) Run(ctx context.Context, reviewID int64) error {
	start := time.Now()

	review, err := o.reviews.GetReview(ctx, reviewID)
	if errors.Is(err, db.ErrReviewNotFound) {
		o.logger.Info("[Orchestrator] Review no longer exists, skipping",
			slog.Int64("review_id", reviewID))
		metrics.OrchestrationsTotal.WithLabelValues(RESULT_REVIEW_MISSING).Inc()
		return nil
	}
	if err != nil {
		metrics.OrchestrationsTotal.WithLabelValues(RESULT_FAILED).Inc()
		return fmt.Errorf("load review %d: %w", reviewID, err)
	}

	existing, err := o.verdicts.GetVerdict(ctx, reviewID)
	if err != nil {
		metrics.OrchestrationsTotal.WithLabelValues(RESULT_FAILED).Inc()
		return fmt.Errorf("check verdict for review %d: %w", reviewID, err)
	}
	if existing != nil {
		o.logger.Info("[Orchestrator] Review already moderated, skipping",
			slog.Int64("review_id", reviewID))
		metrics.OrchestrationsTotal.WithLabelValues(RESULT_ALREADY_MODERATED).Inc()
		return nil
	}

	content, spam := o.classify(ctx, review.Text)
	verdict := Merge(reviewID, content, spam)

	created, err := o.verdicts.SaveVerdict(ctx, verdict)
	if errors.Is(err, db.ErrReviewNotFound) {
		o.logger.Info("[Orchestrator] Review deleted during moderation, dropping verdict",
			slog.Int64("review_id", reviewID))
		metrics.OrchestrationsTotal.WithLabelValues(RESULT_REVIEW_MISSING).Inc()
		return nil
	}
	if err != nil {
		metrics.OrchestrationsTotal.WithLabelValues(RESULT_FAILED).Inc()
		return fmt.Errorf("save verdict for review %d: %w", reviewID, err)
	}
	if !created {
		o.logger.Warn("[Orchestrator] Verdict already written by a concurrent run, keeping existing",
			slog.Int64("review_id", reviewID))
		metrics.OrchestrationsTotal.WithLabelValues(RESULT_DUPLICATE).Inc()
		return nil
	}

	metrics.OrchestrationsTotal.WithLabelValues(RESULT_CREATED).Inc()
	o.logger.Info("[Orchestrator] Verdict stored",
		slog.Int64("review_id", reviewID),
		slog.Bool("flagged", verdict.Flagged),
		slog.Bool("is_spam", verdict.IsSpam),
		slog.String("moderation", content.Kind.String()),
		slog.String("spam_detection", spam.Kind.String()),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// classify calls both classifiers at once. Neither call can fail or block the
// other; a panic becomes that classifier's fallback.
func (o *Orchestrator) classify(ctx context.Context, text string) (models.ModerationOutcome, models.SpamOutcome) {
	var (
		g       errgroup.Group
		content = models.ModerationFallback()
		spam    = models.SpamDefault(models.OutcomeFallback)
	)

	g.Go(func() error {
		defer o.recoverClassifier(ctx, models.ServiceModeration, text)
		out := o.content.ClassifyContent(ctx, text)
		if !out.Kind.Valid() {
			o.rejectOutcome(ctx, models.ServiceModeration, text, out.Kind)
			return nil
		}
		content = out
		return nil
	})
	g.Go(func() error {
		defer o.recoverClassifier(ctx, models.ServiceSpamDetection, text)
		out := o.spam.ClassifySpam(ctx, text)
		if !out.Kind.Valid() {
			o.rejectOutcome(ctx, models.ServiceSpamDetection, text, out.Kind)
			return nil
		}
		spam = out
		return nil
	})
	_ = g.Wait()

	return content, spam
}

func (o *Orchestrator) recoverClassifier(ctx context.Context, service models.ClassifierService, text string) {
	r := recover()
	if r == nil {
		return
	}
	err := fmt.Errorf("classifier panicked: %v", r)
	o.logger.Error("[Orchestrator] Classifier panicked, using safe default",
		slog.String("service", string(service)),
		slog.String("error", err.Error()))
	if o.errors != nil {
		o.errors.Record(ctx, service, text, err, nil)
	}
}

// rejectOutcome handles an outcome without a known kind like a failed call.
func (o *Orchestrator) rejectOutcome(ctx context.Context, service models.ClassifierService, text string, kind models.OutcomeKind) {
	err := fmt.Errorf("classifier returned outcome of unknown kind %d", kind)
	o.logger.Error("[Orchestrator] Classifier returned an unusable outcome, using safe default",
		slog.String("service", string(service)),
		slog.String("error", err.Error()))
	if o.errors != nil {
		o.errors.Record(ctx, service, text, err, nil)
	}
}

// Merge combines both outcomes into a verdict ready to be stored.
func Merge(reviewID int64, content models.ModerationOutcome, spam models.SpamOutcome) *models.Verdict {
	v := &models.Verdict{ReviewID: reviewID}

	switch content.Kind {
	case models.OutcomeOK:
		v.Flagged = content.Flagged
		v.Categories = content.Categories
		v.CategoryScores = content.CategoryScores
	case models.OutcomeFallback, models.OutcomeDisabled:
		v.Flagged = false
		v.Categories = map[string]bool{}
		v.CategoryScores = map[string]float64{}
	default:
		panic(fmt.Sprintf("unhandled moderation outcome %d", content.Kind))
	}

	switch spam.Kind {
	case models.OutcomeOK:
		v.IsSpam = spam.IsSpam
		v.SpamProbability = spam.SpamProbability
		v.NonSpamProbability = spam.NonSpamProbability
	case models.OutcomeFallback, models.OutcomeDisabled:
		v.IsSpam = false
		v.SpamProbability = models.DefaultSpamProbability
		v.NonSpamProbability = models.DefaultNonSpamProbability
	default:
		panic(fmt.Sprintf("unhandled spam outcome %d", spam.Kind))
	}

	v.Sanitize()
	return v
}
