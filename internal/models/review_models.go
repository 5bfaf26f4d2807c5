package models

import "time"

type Review struct {
	ID        int64     `json:"id"`
	AuthorID  string    `json:"user"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// ReviewWithVerdict is a review joined with its verdict, if one has been written.
type ReviewWithVerdict struct {
	Review
	Verdict *Verdict `json:"moderation_result,omitempty"`
}

// Visible reports whether viewer may see the review. Authors always see their own
// reviews, everyone else only sees reviews that are not gated.
func (r ReviewWithVerdict) Visible(viewerID string) bool {
	if viewerID != "" && viewerID == r.AuthorID {
		return true
	}
	return !r.Verdict.Gated()
}
