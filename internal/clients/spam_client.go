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
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/spacesedan/reviewguard/config"
	"github.com/spacesedan/reviewguard/internal/metrics"
	"github.com/spacesedan/reviewguard/internal/models"
)

// SpamClient calls the external spam-probability API.
type SpamClient struct {
	cfg     config.SpamDetectorConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	errors  ErrorRecorder
	logger  *slog.Logger
}

func NewSpamClient(cfg config.SpamDetectorConfig, breakerCfg config.BreakerConfig, recorder ErrorRecorder, logger *slog.Logger) *SpamClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DEFAULT_CLASSIFIER_TIMEOUT
	}

	if cfg.Configured() {
		logger.Info("[SpamClient] Initializing Client",
			slog.String("endpoint", cfg.URL.Redacted()),
			slog.Duration("timeout", cfg.Timeout))
	} else {
		logger.Info("[SpamClient] Spam detection API not configured, classifier disabled")
	}

	return &SpamClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: newBreaker(models.ServiceSpamDetection, breakerCfg, logger),
		errors:  recorder,
		logger:  logger,
	}
}

// ClassifySpam never fails. An unconfigured endpoint yields the disabled
// default without a call; any failure is recorded once and yields the fallback.
func (c *SpamClient) ClassifySpam(ctx context.Context, text string) models.SpamOutcome {
	service := string(models.ServiceSpamDetection)
	if !c.cfg.Configured() {
		metrics.ClassifierCallsTotal.WithLabelValues(service, models.OutcomeDisabled.String()).Inc()
		return models.SpamDefault(models.OutcomeDisabled)
	}

	start := time.Now()
	defer func() {
		metrics.ClassifierDurationSeconds.WithLabelValues(service).Observe(time.Since(start).Seconds())
	}()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.call(ctx, text)
	})
	if err != nil {
		c.logger.Warn("[SpamClient] Spam detection failed, using safe default",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)))
		if c.errors != nil {
			c.errors.Record(ctx, models.ServiceSpamDetection, text, err, nil)
		}
		metrics.ClassifierCallsTotal.WithLabelValues(service, models.OutcomeFallback.String()).Inc()
		return models.SpamDefault(models.OutcomeFallback)
	}

	outcome := result.(models.SpamOutcome)
	metrics.ClassifierCallsTotal.WithLabelValues(service, models.OutcomeOK.String()).Inc()
	c.logger.Debug("[SpamClient] Spam detection successful",
		slog.Bool("is_spam", outcome.IsSpam),
		slog.Float64("spam_probability", outcome.SpamProbability),
		slog.Duration("elapsed", time.Since(start)))
	return outcome
}

func (c *SpamClient) call(ctx context.Context, text string) (models.SpamOutcome, error) {
	// The caller's cancellation must not abort this call; only our own bound does.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(models.SpamRequest{Text: text})
	if err != nil {
		return models.SpamOutcome{}, fmt.Errorf("failed to marshal input: %w", err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.URL.String(), bytes.NewReader(body))
	if err != nil {
		return models.SpamOutcome{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", USER_AGENT)
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-KEY", c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return models.SpamOutcome{}, fmt.Errorf("spam detection request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, MAX_ERROR_BODY_BYTES))
		return models.SpamOutcome{}, &ResponseError{
			Service:    "spam detector",
			StatusCode: resp.StatusCode,
			Body:       string(errBody),
		}
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, MAX_RESPONSE_BYTES))
	if err != nil {
		return models.SpamOutcome{}, fmt.Errorf("failed to read response: %w", err)
	}

	outcome, err := ParseSpamResponse(respBody)
	if err != nil {
		c.logger.Warn("[SpamClient] Unexpected response shape",
			slog.String("error", err.Error()),
			getPreview(respBody))
		return models.SpamOutcome{}, err
	}
	return outcome, nil
}

// ParseSpamResponse coerces the classifier's JSON into a SpamOutcome. Missing
// fields take their defaults. Probabilities outside [0,1] are reset to their
// defaults, not clamped.
func ParseSpamResponse(raw []byte) (models.SpamOutcome, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return models.SpamOutcome{}, fmt.Errorf("invalid spam detection response: %w", err)
	}
	if fields == nil {
		return models.SpamOutcome{}, errors.New("invalid spam detection response: not an object")
	}

	isSpam, err := coerceBool(fields["is_spam"], false)
	if err != nil {
		return models.SpamOutcome{}, fmt.Errorf("invalid is_spam: %w", err)
	}
	spamProbability, err := coerceFloat(fields["spam_probability"], models.DefaultSpamProbability)
	if err != nil {
		return models.SpamOutcome{}, fmt.Errorf("invalid spam_probability: %w", err)
	}
	nonSpamProbability, err := coerceFloat(fields["non_spam_probability"], models.DefaultNonSpamProbability)
	if err != nil {
		return models.SpamOutcome{}, fmt.Errorf("invalid non_spam_probability: %w", err)
	}

	if !models.InUnitRange(spamProbability) {
		spamProbability = models.DefaultSpamProbability
	}
	if !models.InUnitRange(nonSpamProbability) {
		nonSpamProbability = models.DefaultNonSpamProbability
	}

	return models.SpamOutcome{
		Kind:               models.OutcomeOK,
		IsSpam:             isSpam,
		SpamProbability:    spamProbability,
		NonSpamProbability: nonSpamProbability,
	}, nil
}

func coerceBool(raw json.RawMessage, def bool) (bool, error) {
	if isAbsent(raw) {
		return def, nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return def, err
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case float64:
		return t != 0, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(t))
	default:
		return def, fmt.Errorf("unsupported type %T", v)
	}
}

func coerceFloat(raw json.RawMessage, def float64) (float64, error) {
	if isAbsent(raw) {
		return def, nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return def, err
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return def, fmt.Errorf("unsupported type %T", v)
	}
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func getPreview(respBody []byte) slog.Attr {
	raw := string(respBody)
	if len(raw) > 50 {
		raw = raw[:50]
	}
	return slog.String("raw_response", raw)
}
