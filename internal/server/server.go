// Package server exposes reviews and the admin views over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spacesedan/reviewguard/internal/db"
	"github.com/spacesedan/reviewguard/internal/models"
)

type ReviewRepository interface {
	CreateReview(ctx context.Context, authorID, text string) (*models.Review, error)
	GetReviewWithVerdict(ctx context.Context, id int64) (*models.ReviewWithVerdict, error)
	ListReviews(ctx context.Context, f db.ReviewFilter) ([]models.ReviewWithVerdict, error)
}

type Dispatcher interface {
	ScheduleReview(ctx context.Context, reviewID int64) error
}

// ErrorViewer is the read side of the error log sink.
type ErrorViewer interface {
	List(ctx context.Context, service string, limit int) ([]models.ErrorRecord, error)
	Get(ctx context.Context, id string) (*models.ErrorRecord, error)
}

type Deps struct {
	Reviews    ReviewRepository
	Verdicts   db.VerdictReader
	Dispatcher Dispatcher
	Errors     ErrorViewer
	// Ready reports whether the backing store is reachable. Optional.
	Ready      func(ctx context.Context) error
	AdminToken string
	Logger     *slog.Logger
}

type Handlers struct {
	reviews    ReviewRepository
	verdicts   db.VerdictReader
	dispatcher Dispatcher
	errors     ErrorViewer
	ready      func(ctx context.Context) error
	logger     *slog.Logger
}

func NewHandlers(deps Deps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		reviews:    deps.Reviews,
		verdicts:   deps.Verdicts,
		dispatcher: deps.Dispatcher,
		errors:     deps.Errors,
		ready:      deps.Ready,
		logger:     logger,
	}
}

func NewRouter(deps Deps) *gin.Engine {
	h := NewHandlers(deps)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(h.logger))
	router.Use(Identity(deps.AdminToken))

	reviews := router.Group("/reviews", RequireUser())
	{
		reviews.POST("", h.CreateReview)
		reviews.GET("", h.ListReviews)
		reviews.GET("/:id", h.GetReview)
	}

	admin := router.Group("/admin", RequireAdmin(deps.AdminToken))
	{
		admin.GET("/reviews", h.AdminListReviews)
		admin.GET("/reviews/:id/verdict", h.GetVerdict)
		admin.GET("/errors", h.ListErrors)
		admin.GET("/errors/:id", h.GetError)
	}

	router.GET("/healthz", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

// NewHTTPServer wraps router in an http.Server with the usual timeouts.
func NewHTTPServer(port string, router http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
}
