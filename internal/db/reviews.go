package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/spacesedan/reviewguard/internal/models"
)

const (
	DEFAULT_REVIEW_PAGE = 50
	MAX_REVIEW_PAGE     = 200
)

const (
	insertReviewQuery = `
        INSERT INTO reviews (author_id, text)
        VALUES ($1, $2)
        RETURNING id, created_at
    `
	selectReviewQuery = `
        SELECT id, author_id, text, created_at FROM reviews WHERE id = $1
    `
	selectReviewsWithVerdictsQuery = `
        SELECT r.id, r.author_id, r.text, r.created_at,
               v.id, v.flagged, v.categories, v.category_scores, v.is_spam,
               v.spam_probability, v.non_spam_probability, v.created_at
        FROM reviews r
        LEFT JOIN moderation_verdicts v ON v.review_id = r.id
    `
	selectUnmoderatedQuery = `
        SELECT r.id
        FROM reviews r
        LEFT JOIN moderation_verdicts v ON v.review_id = r.id
        WHERE v.id IS NULL AND r.created_at < $1
        ORDER BY r.id
        LIMIT $2
    `
)

// ReviewFilter narrows ListReviews. A non-empty ViewerID hides gated reviews
// written by someone else; Flagged and Spam are admin filters on the verdict,
// where a missing verdict counts as false.
type ReviewFilter struct {
	ViewerID string
	All      bool
	Flagged  *bool
	Spam     *bool
	Limit    int
}

type ReviewStore struct {
	db DBTX
}

func NewReviewStore(db DBTX) *ReviewStore {
	return &ReviewStore{db: db}
}

func (s *ReviewStore) CreateReview(ctx context.Context, authorID, text string) (*models.Review, error) {
	r := &models.Review{AuthorID: authorID, Text: text}
	if err := s.db.QueryRow(ctx, insertReviewQuery, authorID, text).Scan(&r.ID, &r.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert review: %w", err)
	}
	return r, nil
}

func (s *ReviewStore) GetReview(ctx context.Context, id int64) (*models.Review, error) {
	var r models.Review
	err := s.db.QueryRow(ctx, selectReviewQuery, id).Scan(&r.ID, &r.AuthorID, &r.Text, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReviewNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load review: %w", err)
	}
	return &r, nil
}

// GetReviewWithVerdict loads one review joined with its verdict, if any.
func (s *ReviewStore) GetReviewWithVerdict(ctx context.Context, id int64) (*models.ReviewWithVerdict, error) {
	rows, err := s.db.Query(ctx, selectReviewsWithVerdictsQuery+" WHERE r.id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("failed to load review: %w", err)
	}
	reviews, err := collectReviews(rows)
	if err != nil {
		return nil, err
	}
	if len(reviews) == 0 {
		return nil, ErrReviewNotFound
	}
	return &reviews[0], nil
}

// ListReviews returns reviews newest first.
func (s *ReviewStore) ListReviews(ctx context.Context, f ReviewFilter) ([]models.ReviewWithVerdict, error) {
	query, args := buildListQuery(f)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	return collectReviews(rows)
}

func buildListQuery(f ReviewFilter) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !f.All {
		conditions = append(conditions, fmt.Sprintf(
			"(r.author_id = %s OR v.id IS NULL OR (NOT v.flagged AND NOT v.is_spam))", arg(f.ViewerID)))
	}
	if f.Flagged != nil {
		conditions = append(conditions, "COALESCE(v.flagged, FALSE) = "+arg(*f.Flagged))
	}
	if f.Spam != nil {
		conditions = append(conditions, "COALESCE(v.is_spam, FALSE) = "+arg(*f.Spam))
	}

	var b strings.Builder
	b.WriteString(selectReviewsWithVerdictsQuery)
	if len(conditions) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conditions, " AND "))
	}
	b.WriteString(" ORDER BY r.created_at DESC, r.id DESC LIMIT ")
	b.WriteString(arg(pageSize(f.Limit)))
	return b.String(), args
}

func pageSize(limit int) int {
	if limit <= 0 {
		return DEFAULT_REVIEW_PAGE
	}
	if limit > MAX_REVIEW_PAGE {
		return MAX_REVIEW_PAGE
	}
	return limit
}

func collectReviews(rows pgx.Rows) ([]models.ReviewWithVerdict, error) {
	defer rows.Close()

	out := []models.ReviewWithVerdict{}
	for rows.Next() {
		var (
			r                  models.ReviewWithVerdict
			verdictID          *int64
			flagged, isSpam    *bool
			categories, scores []byte
			spamP, nonSpamP    *float64
			verdictAt          *time.Time
		)
		if err := rows.Scan(
			&r.ID, &r.AuthorID, &r.Text, &r.CreatedAt,
			&verdictID, &flagged, &categories, &scores, &isSpam,
			&spamP, &nonSpamP, &verdictAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}

		if verdictID != nil {
			v := &models.Verdict{
				ID:                 *verdictID,
				ReviewID:           r.ID,
				Flagged:            deref(flagged),
				IsSpam:             deref(isSpam),
				SpamProbability:    deref(spamP),
				NonSpamProbability: deref(nonSpamP),
				CreatedAt:          deref(verdictAt),
			}
			if err := decodeVerdictMaps(v, categories, scores); err != nil {
				return nil, err
			}
			r.Verdict = v
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read reviews: %w", err)
	}
	return out, nil
}

// ListUnmoderated returns ids of reviews created before olderThan that still
// have no verdict.
func (s *ReviewStore) ListUnmoderated(ctx context.Context, olderThan time.Time, limit int) ([]int64, error) {
	rows, err := s.db.Query(ctx, selectUnmoderatedQuery, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unmoderated reviews: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
