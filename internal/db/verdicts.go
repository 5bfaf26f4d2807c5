package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/spacesedan/reviewguard/internal/models"
)

const (
	insertVerdictQuery = `
        INSERT INTO moderation_verdicts
            (review_id, flagged, categories, category_scores, is_spam, spam_probability, non_spam_probability)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (review_id) DO NOTHING
        RETURNING id, created_at
    `
	selectVerdictQuery = `
        SELECT id, review_id, flagged, categories, category_scores, is_spam,
               spam_probability, non_spam_probability, created_at
        FROM moderation_verdicts
        WHERE review_id = $1
    `
)

type VerdictStore struct {
	db DBTX
}

func NewVerdictStore(db DBTX) *VerdictStore {
	return &VerdictStore{db: db}
}

// SaveVerdict inserts v unless the review already has a verdict. created is
// false when an existing verdict was kept; v is then left untouched.
func (s *VerdictStore) SaveVerdict(ctx context.Context, v *models.Verdict) (bool, error) {
	categories, err := json.Marshal(v.Categories)
	if err != nil {
		return false, fmt.Errorf("failed to encode categories: %w", err)
	}
	scores, err := json.Marshal(v.CategoryScores)
	if err != nil {
		return false, fmt.Errorf("failed to encode category scores: %w", err)
	}

	var (
		id        int64
		createdAt time.Time
	)
	err = s.db.QueryRow(ctx, insertVerdictQuery,
		v.ReviewID, v.Flagged, categories, scores, v.IsSpam, v.SpamProbability, v.NonSpamProbability,
	).Scan(&id, &createdAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	case isForeignKeyViolation(err):
		return false, fmt.Errorf("save verdict for review %d: %w", v.ReviewID, ErrReviewNotFound)
	case err != nil:
		return false, fmt.Errorf("failed to insert verdict: %w", err)
	}

	v.ID = id
	v.CreatedAt = createdAt
	return true, nil
}

// GetVerdict returns nil without error when the review has no verdict yet.
func (s *VerdictStore) GetVerdict(ctx context.Context, reviewID int64) (*models.Verdict, error) {
	var (
		v                  models.Verdict
		categories, scores []byte
	)
	err := s.db.QueryRow(ctx, selectVerdictQuery, reviewID).Scan(
		&v.ID, &v.ReviewID, &v.Flagged, &categories, &scores, &v.IsSpam,
		&v.SpamProbability, &v.NonSpamProbability, &v.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load verdict: %w", err)
	}

	if err := decodeVerdictMaps(&v, categories, scores); err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeVerdictMaps(v *models.Verdict, categories, scores []byte) error {
	v.Categories = map[string]bool{}
	v.CategoryScores = map[string]float64{}
	if len(categories) > 0 {
		if err := json.Unmarshal(categories, &v.Categories); err != nil {
			return fmt.Errorf("failed to decode categories: %w", err)
		}
	}
	if len(scores) > 0 {
		if err := json.Unmarshal(scores, &v.CategoryScores); err != nil {
			return fmt.Errorf("failed to decode category scores: %w", err)
		}
	}
	return nil
}
