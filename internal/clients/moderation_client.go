package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"github.com/spacesedan/reviewguard/config"
	"github.com/spacesedan/reviewguard/internal/metrics"
	"github.com/spacesedan/reviewguard/internal/models"
)

const DEFAULT_MODERATION_MODEL = "omni-moderation-latest"

// ModerationClient calls an OpenAI-compatible moderation endpoint.
type ModerationClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	errors  ErrorRecorder
	logger  *slog.Logger
}

func NewModerationClient(cfg config.ModerationConfig, breakerCfg config.BreakerConfig, recorder ErrorRecorder, logger *slog.Logger) *ModerationClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DEFAULT_CLASSIFIER_TIMEOUT
	}
	if cfg.Model == "" {
		cfg.Model = DEFAULT_MODERATION_MODEL
	}
	if cfg.APIKey == "" {
		logger.Warn("[ModerationClient] OPENAI_API_KEY is empty, moderation calls will be rejected upstream")
	}

	oaConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaConfig.BaseURL = cfg.BaseURL
	}
	oaConfig.HTTPClient = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: captureTransport{base: http.DefaultTransport},
	}

	logger.Info("[ModerationClient] Moderation client initialized with custom HTTP timeout",
		slog.Duration("timeout", cfg.Timeout),
		slog.String("model", cfg.Model))

	return &ModerationClient{
		client:  openai.NewClientWithConfig(oaConfig),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		breaker: newBreaker(models.ServiceModeration, breakerCfg, logger),
		errors:  recorder,
		logger:  logger,
	}
}

// ClassifyContent never fails. On any failure one error record is written and
// the unflagged default is returned.
func (c *ModerationClient) ClassifyContent(ctx context.Context, text string) models.ModerationOutcome {
	service := string(models.ServiceModeration)
	start := time.Now()
	defer func() {
		metrics.ClassifierDurationSeconds.WithLabelValues(service).Observe(time.Since(start).Seconds())
	}()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.call(ctx, text)
	})
	if err != nil {
		c.logger.Warn("[ModerationClient] Moderation failed, using safe default",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)))
		if c.errors != nil {
			c.errors.Record(ctx, models.ServiceModeration, text, err, nil)
		}
		metrics.ClassifierCallsTotal.WithLabelValues(service, models.OutcomeFallback.String()).Inc()
		return models.ModerationFallback()
	}

	outcome := result.(models.ModerationOutcome)
	metrics.ClassifierCallsTotal.WithLabelValues(service, models.OutcomeOK.String()).Inc()
	c.logger.Debug("[ModerationClient] Moderation request successful",
		slog.Bool("flagged", outcome.Flagged),
		slog.Duration("elapsed", time.Since(start)))
	return outcome
}

func (c *ModerationClient) call(ctx context.Context, text string) (models.ModerationOutcome, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	var raw []byte
	callCtx = context.WithValue(callCtx, rawBodyKey{}, &raw)

	resp, err := c.client.Moderations(callCtx, openai.ModerationRequest{
		Input: text,
		Model: c.model,
	})
	if err != nil {
		return models.ModerationOutcome{}, wrapOpenAIError(err)
	}
	if len(resp.Results) == 0 {
		return models.ModerationOutcome{}, errors.New("moderation response contained no results")
	}

	return parseModerationBody(raw)
}

// moderationBody mirrors the wire format. The SDK's typed category structs
// only know a fixed set of names, so categories are read from the raw body.
type moderationBody struct {
	Results []struct {
		Flagged        bool               `json:"flagged"`
		Categories     map[string]bool    `json:"categories"`
		CategoryScores map[string]float64 `json:"category_scores"`
	} `json:"results"`
}

func parseModerationBody(raw []byte) (models.ModerationOutcome, error) {
	if len(raw) == 0 {
		return models.ModerationOutcome{}, errors.New("moderation response body was not captured")
	}

	var body moderationBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return models.ModerationOutcome{}, fmt.Errorf("invalid moderation response: %w", err)
	}
	if len(body.Results) == 0 {
		return models.ModerationOutcome{}, errors.New("moderation response contained no results")
	}

	first := body.Results[0]
	if first.Categories == nil {
		first.Categories = map[string]bool{}
	}
	if first.CategoryScores == nil {
		first.CategoryScores = map[string]float64{}
	}
	return models.ModerationOutcome{
		Kind:           models.OutcomeOK,
		Flagged:        first.Flagged,
		Categories:     first.Categories,
		CategoryScores: first.CategoryScores,
	}, nil
}

type rawBodyKey struct{}

// captureTransport copies successful response bodies into the *[]byte stored
// under rawBodyKey in the request context.
type captureTransport struct {
	base http.RoundTripper
}

func (t captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	slot, ok := req.Context().Value(rawBodyKey{}).(*[]byte)
	if !ok || resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MAX_RESPONSE_BYTES))
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read moderation response: %w", err)
	}
	*slot = body
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, nil
}

func wrapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		body, _ := json.Marshal(apiErr)
		return &ResponseError{
			Service:    "moderation API",
			StatusCode: apiErr.HTTPStatusCode,
			Body:       string(body),
			Err:        err,
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ResponseError{
			Service:    "moderation API",
			StatusCode: reqErr.HTTPStatusCode,
			Err:        err,
		}
	}

	return fmt.Errorf("moderation request failed: %w", err)
}
