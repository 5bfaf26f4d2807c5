package models

type SpamRequest struct {
	Text string `json:"text"`
}

// ReviewModerationRequest is the dispatch message published once per created review.
type ReviewModerationRequest struct {
	ReviewID int64 `json:"review_id"`
}
