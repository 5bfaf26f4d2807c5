// Package errorlog records classifier failures for the admin error view.
//
// Recording never fails from the caller's point of view: if the backing store
// is unavailable the failure is written to the process log and dropped.
package errorlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/spacesedan/reviewguard/internal/metrics"
	"github.com/spacesedan/reviewguard/internal/models"
)

const (
	MaxInputLength   = 1000
	TruncationMarker = "..."

	DefaultListLimit = 50
	MaxListLimit     = 200

	writeTimeout = 5 * time.Second
)

var (
	ErrUnknownService = errors.New("unknown classifier service")
	ErrRecordNotFound = errors.New("error record not found")
)

// Store persists error records.
type Store interface {
	InsertError(ctx context.Context, rec *models.ErrorRecord) error
	// ListErrors returns records newest first. An empty service matches all.
	ListErrors(ctx context.Context, service models.ClassifierService, limit int) ([]models.ErrorRecord, error)
	GetError(ctx context.Context, id string) (*models.ErrorRecord, error)
}

// ResponseCarrier is implemented by errors that hold a remote HTTP response.
type ResponseCarrier interface {
	ResponseStatus() int
	ResponseBody() string
}

type Sink struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewSink(store Store, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Record stores a failure of service while classifying inputText. statusCode may
// be nil; it is then taken from err when err carries a response. Returns nil if
// the record could not be stored.
func (s *Sink) Record(ctx context.Context, service models.ClassifierService, inputText string, err error, statusCode *int) *models.ErrorRecord {
	message, statusCode := Describe(err, statusCode)

	rec := &models.ErrorRecord{
		ID:           uuid.NewString(),
		Service:      service,
		InputText:    Truncate(storable(inputText)),
		ErrorMessage: message,
		StatusCode:   statusCode,
		Timestamp:    s.now(),
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if storeErr := s.insert(writeCtx, rec); storeErr != nil {
		metrics.ErrorRecordWriteFailuresTotal.Inc()
		s.logger.Error("[ErrorLog] Failed to store classifier error",
			slog.String("store_error", storeErr.Error()),
			slog.String("service", string(service)),
			slog.String("error", message))
		return nil
	}

	metrics.ErrorRecordsTotal.WithLabelValues(string(service)).Inc()
	s.logger.Error("[ErrorLog] Classifier call failed",
		slog.String("service", string(service)),
		slog.String("error", message),
		statusAttr(statusCode),
		slog.String("input_preview", preview(rec.InputText, 100)))

	return rec
}

// insert shields callers from panics in the store as well as errors.
func (s *Sink) insert(ctx context.Context, rec *models.ErrorRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("store panicked: %v", r)
		}
	}()
	if s.store == nil {
		return errors.New("no error store configured")
	}
	return s.store.InsertError(ctx, rec)
}

// List implements the admin error view. limit <= 0 means DefaultListLimit and
// anything above MaxListLimit is capped.
func (s *Sink) List(ctx context.Context, service string, limit int) ([]models.ErrorRecord, error) {
	svc := models.ClassifierService(service)
	if service != "" && !svc.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, service)
	}

	records, err := s.store.ListErrors(ctx, svc, NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list errors: %w", err)
	}
	if records == nil {
		records = []models.ErrorRecord{}
	}
	return records, nil
}

func (s *Sink) Get(ctx context.Context, id string) (*models.ErrorRecord, error) {
	return s.store.GetError(ctx, id)
}

func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// Describe renders err for storage. Errors carrying a remote response get the
// body appended as "<err> - Response: <body>".
func Describe(err error, statusCode *int) (string, *int) {
	if err == nil {
		return "unknown error", statusCode
	}

	message := err.Error()
	var rc ResponseCarrier
	if errors.As(err, &rc) {
		if body := rc.ResponseBody(); body != "" {
			message = fmt.Sprintf("%s - Response: %s", message, body)
		}
		if statusCode == nil && rc.ResponseStatus() > 0 {
			code := rc.ResponseStatus()
			statusCode = &code
		}
	}
	return storable(message), statusCode
}

// storable drops invalid UTF-8 and NUL bytes, both of which text columns reject.
// Remote bodies are cut at a byte limit and may end mid-character.
func storable(s string) string {
	s = strings.ToValidUTF8(s, "")
	return strings.ReplaceAll(s, "\x00", "")
}

// Truncate caps s at MaxInputLength characters, appending TruncationMarker when cut.
func Truncate(s string) string {
	if utf8.RuneCountInString(s) <= MaxInputLength {
		return s
	}
	return string([]rune(s)[:MaxInputLength]) + TruncationMarker
}

func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + TruncationMarker
}

func statusAttr(code *int) slog.Attr {
	if code == nil {
		return slog.String("status_code", "none")
	}
	return slog.Int("status_code", *code)
}
