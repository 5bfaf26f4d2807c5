package db

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/spacesedan/reviewguard/internal/models"
)

const VERDICT_CACHE_PREFIX = "reviewguard:verdict:"

// CacheBackend is the subset of clients.ValkeyClient the verdict cache uses.
type CacheBackend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// VerdictReader is the read side used by listings and detail views. A nil
// verdict without error means the review has not been moderated yet.
type VerdictReader interface {
	GetVerdict(ctx context.Context, reviewID int64) (*models.Verdict, error)
}

// VerdictRepository is implemented by VerdictStore and CachedVerdicts.
type VerdictRepository interface {
	VerdictReader
	SaveVerdict(ctx context.Context, v *models.Verdict) (bool, error)
}

// CachedVerdicts reads verdicts through a cache. Verdicts never change once
// written, so entries are only ever added. Only existing verdicts are cached.
// Cache failures degrade to the store.
type CachedVerdicts struct {
	store  VerdictRepository
	cache  CacheBackend
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedVerdicts(store VerdictRepository, cache CacheBackend, ttl time.Duration, logger *slog.Logger) *CachedVerdicts {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedVerdicts{store: store, cache: cache, ttl: ttl, logger: logger}
}

func verdictKey(reviewID int64) string {
	return VERDICT_CACHE_PREFIX + strconv.FormatInt(reviewID, 10)
}

func (c *CachedVerdicts) GetVerdict(ctx context.Context, reviewID int64) (*models.Verdict, error) {
	raw, ok, err := c.cache.Get(ctx, verdictKey(reviewID))
	if err != nil {
		c.logger.Warn("[VerdictCache] Cache read failed, falling back to store",
			slog.Int64("review_id", reviewID),
			slog.String("error", err.Error()))
	}
	if ok {
		var v models.Verdict
		if err := json.Unmarshal(raw, &v); err == nil {
			return &v, nil
		}
		c.logger.Warn("[VerdictCache] Discarding undecodable cache entry",
			slog.Int64("review_id", reviewID))
	}

	v, err := c.store.GetVerdict(ctx, reviewID)
	if err != nil || v == nil {
		return v, err
	}
	c.put(ctx, v)
	return v, nil
}

func (c *CachedVerdicts) SaveVerdict(ctx context.Context, v *models.Verdict) (bool, error) {
	created, err := c.store.SaveVerdict(ctx, v)
	if err != nil {
		return false, err
	}
	if created {
		c.put(ctx, v)
	}
	return created, nil
}

func (c *CachedVerdicts) put(ctx context.Context, v *models.Verdict) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, verdictKey(v.ReviewID), raw, c.ttl); err != nil {
		c.logger.Warn("[VerdictCache] Cache write failed",
			slog.Int64("review_id", v.ReviewID),
			slog.String("error", err.Error()))
	}
}
