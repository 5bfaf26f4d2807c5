package models

import (
	"math"
	"sort"
	"time"
)

const (
	DefaultSpamProbability    = 0.0
	DefaultNonSpamProbability = 1.0
)

// Verdict is the merged moderation and spam result for a single review.
type Verdict struct {
	ID                 int64              `json:"-"`
	ReviewID           int64              `json:"review_id"`
	Flagged            bool               `json:"flagged"`
	Categories         map[string]bool    `json:"categories"`
	CategoryScores     map[string]float64 `json:"category_scores"`
	IsSpam             bool               `json:"is_spam"`
	SpamProbability    float64            `json:"spam_probability"`
	NonSpamProbability float64            `json:"non_spam_probability"`
	CreatedAt          time.Time          `json:"created_at"`
}

// Gated reports whether the verdict hides the review from ordinary users.
// A nil verdict is a clean verdict.
func (v *Verdict) Gated() bool {
	if v == nil {
		return false
	}
	return v.Flagged || v.IsSpam
}

// FlaggedCategories lists the categories that triggered, sorted by name.
func (v *Verdict) FlaggedCategories() []string {
	out := []string{}
	if v == nil || !v.Flagged {
		return out
	}
	for name, hit := range v.Categories {
		if hit {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Sanitize replaces values that cannot be stored with their documented defaults.
func (v *Verdict) Sanitize() {
	if v.Categories == nil {
		v.Categories = map[string]bool{}
	}
	if v.CategoryScores == nil {
		v.CategoryScores = map[string]float64{}
	}
	for name, score := range v.CategoryScores {
		if math.IsNaN(score) || math.IsInf(score, 0) {
			delete(v.CategoryScores, name)
		}
	}
	if !InUnitRange(v.SpamProbability) {
		v.SpamProbability = DefaultSpamProbability
	}
	if !InUnitRange(v.NonSpamProbability) {
		v.NonSpamProbability = DefaultNonSpamProbability
	}
}

// InUnitRange is false for NaN.
func InUnitRange(p float64) bool {
	return p >= 0 && p <= 1
}
