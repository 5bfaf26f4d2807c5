package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/spacesedan/reviewguard/internal/db"
	"github.com/spacesedan/reviewguard/internal/errorlog"
	"github.com/spacesedan/reviewguard/internal/models"
)

const (
	MAX_REVIEW_LENGTH = 10000
	DISPATCH_TIMEOUT  = 5 * time.Second
)

type createReviewRequest struct {
	Text string `json:"text" binding:"required"`
}

// adminReview is the annotated form admins see.
type adminReview struct {
	models.Review
	Verdict           *models.Verdict `json:"moderation_result"`
	IsFlagged         bool            `json:"is_flagged"`
	IsSpam            bool            `json:"is_spam"`
	FlaggedCategories []string        `json:"flagged_categories"`
}

func annotate(r models.ReviewWithVerdict) adminReview {
	out := adminReview{
		Review:            r.Review,
		Verdict:           r.Verdict,
		FlaggedCategories: r.Verdict.FlaggedCategories(),
	}
	if r.Verdict != nil {
		out.IsFlagged = r.Verdict.Flagged
		out.IsSpam = r.Verdict.IsSpam
	}
	return out
}

// CreateReview stores the review and schedules its moderation. A failed
// dispatch does not fail the request; the reconciler picks the review up.
func (h *Handlers) CreateReview(c *gin.Context) {
	var req createReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	// stored and classified exactly as submitted
	text := req.Text
	if strings.TrimSpace(text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text must not be blank"})
		return
	}
	if utf8.RuneCountInString(text) > MAX_REVIEW_LENGTH {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is too long"})
		return
	}
	author := viewerID(c)
	if author == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + HEADER_USER_ID + " header"})
		return
	}

	review, err := h.reviews.CreateReview(c.Request.Context(), author, text)
	if err != nil {
		h.logger.Error("[Server] Failed to create review", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create review"})
		return
	}

	// the review is committed; dispatch must not be cut short by the client going away
	dispatchCtx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), DISPATCH_TIMEOUT)
	defer cancel()
	if err := h.dispatcher.ScheduleReview(dispatchCtx, review.ID); err != nil {
		h.logger.Warn("[Server] Failed to dispatch review for moderation, leaving it to the reconciler",
			slog.Int64("review_id", review.ID),
			slog.String("error", err.Error()))
	}

	c.JSON(http.StatusCreated, review)
}

// ListReviews shows admins every review. Everyone else sees their own
// reviews and reviews that are not gated, without moderation details.
func (h *Handlers) ListReviews(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}

	admin := isAdmin(c)
	reviews, err := h.reviews.ListReviews(c.Request.Context(), db.ReviewFilter{
		ViewerID: viewerID(c),
		All:      admin,
		Limit:    limit,
	})
	if err != nil {
		h.logger.Error("[Server] Failed to list reviews", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve reviews"})
		return
	}

	if admin {
		out := make([]adminReview, 0, len(reviews))
		for _, r := range reviews {
			out = append(out, annotate(r))
		}
		c.JSON(http.StatusOK, out)
		return
	}

	out := make([]models.Review, 0, len(reviews))
	for _, r := range reviews {
		if r.Visible(viewerID(c)) {
			out = append(out, r.Review)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) GetReview(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	review, err := h.reviews.GetReviewWithVerdict(c.Request.Context(), id)
	if errors.Is(err, db.ErrReviewNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "review not found"})
		return
	}
	if err != nil {
		h.logger.Error("[Server] Failed to load review",
			slog.Int64("review_id", id),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve review"})
		return
	}

	if isAdmin(c) {
		c.JSON(http.StatusOK, annotate(*review))
		return
	}
	// gated reviews look missing to everyone but their author
	if !review.Visible(viewerID(c)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "review not found"})
		return
	}
	c.JSON(http.StatusOK, review.Review)
}

func (h *Handlers) AdminListReviews(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	flagged, ok := queryBool(c, "flagged")
	if !ok {
		return
	}
	spam, ok := queryBool(c, "spam")
	if !ok {
		return
	}

	reviews, err := h.reviews.ListReviews(c.Request.Context(), db.ReviewFilter{
		All:     true,
		Flagged: flagged,
		Spam:    spam,
		Limit:   limit,
	})
	if err != nil {
		h.logger.Error("[Server] Failed to list reviews", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve reviews"})
		return
	}

	out := make([]adminReview, 0, len(reviews))
	for _, r := range reviews {
		out = append(out, annotate(r))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) GetVerdict(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	verdict, err := h.verdicts.GetVerdict(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("[Server] Failed to load verdict",
			slog.Int64("review_id", id),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve verdict"})
		return
	}
	if verdict == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "review has not been moderated"})
		return
	}
	c.JSON(http.StatusOK, verdict)
}

func (h *Handlers) ListErrors(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}

	records, err := h.errors.List(c.Request.Context(), c.Query("service"), limit)
	if errors.Is(err, errorlog.ErrUnknownService) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("[Server] Failed to list error records", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve error records"})
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *Handlers) GetError(c *gin.Context) {
	rec, err := h.errors.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, errorlog.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "error record not found"})
		return
	}
	if err != nil {
		h.logger.Error("[Server] Failed to load error record", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve error record"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handlers) Health(c *gin.Context) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "reviewguard",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'id' parameter. Must be a positive integer."})
		return 0, false
	}
	return id, true
}

// queryInt returns 0 when the parameter is absent.
func queryInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid '" + name + "' parameter. Must be a non-negative integer."})
		return 0, false
	}
	return n, true
}

func queryBool(c *gin.Context, name string) (*bool, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	b, err := strconv.ParseBool(strings.ToLower(raw))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid '" + name + "' parameter. Must be 'true' or 'false'."})
		return nil, false
	}
	return &b, true
}
