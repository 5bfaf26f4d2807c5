package moderation

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spacesedan/reviewguard/config"
	"github.com/spacesedan/reviewguard/internal/clients"
	"github.com/spacesedan/reviewguard/internal/db"
	"github.com/spacesedan/reviewguard/internal/errorlog"
	"github.com/spacesedan/reviewguard/internal/logging"
	"github.com/spacesedan/reviewguard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReviews struct {
	reviews map[int64]*models.Review
	err     error
}

func (f *fakeReviews) GetReview(_ context.Context, id int64) (*models.Review, error) {
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.reviews[id]
	if !ok {
		return nil, db.ErrReviewNotFound
	}
	return r, nil
}

type fakeVerdicts struct {
	mu       sync.Mutex
	verdicts map[int64]*models.Verdict
	saveErr  error
	saves    int
}

func newFakeVerdicts() *fakeVerdicts {
	return &fakeVerdicts{verdicts: map[int64]*models.Verdict{}}
}

func (f *fakeVerdicts) GetVerdict(_ context.Context, reviewID int64) (*models.Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verdicts[reviewID], nil
}

func (f *fakeVerdicts) SaveVerdict(_ context.Context, v *models.Verdict) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return false, f.saveErr
	}
	if _, ok := f.verdicts[v.ReviewID]; ok {
		return false, nil
	}
	f.verdicts[v.ReviewID] = v
	return true, nil
}

type stubContent struct {
	outcome models.ModerationOutcome
	panics  bool
	calls   atomic.Int32
}

func (s *stubContent) ClassifyContent(context.Context, string) models.ModerationOutcome {
	s.calls.Add(1)
	if s.panics {
		panic("moderation exploded")
	}
	return s.outcome
}

type stubSpam struct {
	outcome models.SpamOutcome
	delay   time.Duration
	calls   atomic.Int32
}

func (s *stubSpam) ClassifySpam(context.Context, string) models.SpamOutcome {
	s.calls.Add(1)
	time.Sleep(s.delay)
	return s.outcome
}

type memoryErrorStore struct {
	mu      sync.Mutex
	records []models.ErrorRecord
}

func (m *memoryErrorStore) InsertError(_ context.Context, rec *models.ErrorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return nil
}

func (m *memoryErrorStore) ListErrors(_ context.Context, service models.ClassifierService, limit int) ([]models.ErrorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ErrorRecord
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		if service == "" || m.records[i].Service == service {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

func (m *memoryErrorStore) GetError(_ context.Context, id string) (*models.ErrorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID == id {
			rec := m.records[i]
			return &rec, nil
		}
	}
	return nil, errorlog.ErrRecordNotFound
}

func spamOK(isSpam bool, p, np float64) models.SpamOutcome {
	return models.SpamOutcome{Kind: models.OutcomeOK, IsSpam: isSpam, SpamProbability: p, NonSpamProbability: np}
}

func reviewsWith(text string) *fakeReviews {
	return &fakeReviews{reviews: map[int64]*models.Review{
		1: {ID: 1, AuthorID: "alice", Text: text},
	}}
}

func TestRunModerationFailureWithSpamVerdict(t *testing.T) {
	deadModeration := httptest.NewServer(http.NotFoundHandler())
	moderationURL := deadModeration.URL + "/v1"
	deadModeration.Close()

	spamServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"is_spam": true, "spam_probability": 0.9, "non_spam_probability": 0.1}`))
	}))
	defer spamServer.Close()
	spamURL, err := url.Parse(spamServer.URL)
	require.NoError(t, err)

	errStore := &memoryErrorStore{}
	sink := errorlog.NewSink(errStore, logging.Discard())
	content := clients.NewModerationClient(config.ModerationConfig{APIKey: "sk-test", BaseURL: moderationURL, Model: "text-moderation-latest"},
		config.BreakerConfig{}, sink, logging.Discard())
	spam := clients.NewSpamClient(config.SpamDetectorConfig{URL: spamURL},
		config.BreakerConfig{}, sink, logging.Discard())

	verdicts := newFakeVerdicts()
	o := NewOrchestrator(reviewsWith("buy followers now"), verdicts, content, spam, sink, logging.Discard())

	require.NoError(t, o.Run(context.Background(), 1))

	v := verdicts.verdicts[1]
	require.NotNil(t, v)
	assert.False(t, v.Flagged)
	assert.Empty(t, v.Categories)
	assert.Empty(t, v.CategoryScores)
	assert.True(t, v.IsSpam)
	assert.Equal(t, 0.9, v.SpamProbability)
	assert.Equal(t, 0.1, v.NonSpamProbability)

	require.Len(t, errStore.records, 1)
	assert.Equal(t, models.ServiceModeration, errStore.records[0].Service)
	assert.Equal(t, "buy followers now", errStore.records[0].InputText)
}

func TestRunTwiceKeepsOneVerdict(t *testing.T) {
	verdicts := newFakeVerdicts()
	content := &stubContent{outcome: models.ModerationOutcome{Kind: models.OutcomeOK, Flagged: true,
		Categories: map[string]bool{"hate": true}, CategoryScores: map[string]float64{"hate": 0.7}}}
	spam := &stubSpam{outcome: spamOK(false, 0.2, 0.8)}
	o := NewOrchestrator(reviewsWith("text"), verdicts, content, spam, nil, logging.Discard())

	require.NoError(t, o.Run(context.Background(), 1))
	first := verdicts.verdicts[1]
	require.NoError(t, o.Run(context.Background(), 1))

	assert.Len(t, verdicts.verdicts, 1)
	assert.Same(t, first, verdicts.verdicts[1])
	assert.Equal(t, int32(1), content.calls.Load())
	assert.Equal(t, int32(1), spam.calls.Load())
	assert.Equal(t, 1, verdicts.saves)
}

func TestRunConcurrentRedeliveryKeepsFirstVerdict(t *testing.T) {
	verdicts := newFakeVerdicts()
	o := NewOrchestrator(reviewsWith("text"), verdicts,
		&stubContent{outcome: models.ModerationFallback()},
		&stubSpam{outcome: spamOK(true, 0.6, 0.4), delay: 20 * time.Millisecond},
		nil, logging.Discard())

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, o.Run(context.Background(), 1))
		}()
	}
	wg.Wait()

	assert.Len(t, verdicts.verdicts, 1)
	assert.LessOrEqual(t, verdicts.saves, 2)
}

func TestRunMissingReviewIsNoop(t *testing.T) {
	verdicts := newFakeVerdicts()
	content := &stubContent{}
	spam := &stubSpam{}
	o := NewOrchestrator(&fakeReviews{reviews: map[int64]*models.Review{}}, verdicts, content, spam, nil, logging.Discard())

	require.NoError(t, o.Run(context.Background(), 42))
	assert.Zero(t, content.calls.Load())
	assert.Zero(t, spam.calls.Load())
	assert.Empty(t, verdicts.verdicts)
}

func TestRunPropagatesStoreFailures(t *testing.T) {
	t.Run("review lookup", func(t *testing.T) {
		o := NewOrchestrator(&fakeReviews{err: errors.New("db down")}, newFakeVerdicts(),
			&stubContent{}, &stubSpam{}, nil, logging.Discard())
		assert.ErrorContains(t, o.Run(context.Background(), 1), "db down")
	})

	t.Run("verdict save", func(t *testing.T) {
		verdicts := newFakeVerdicts()
		verdicts.saveErr = errors.New("disk full")
		o := NewOrchestrator(reviewsWith("text"), verdicts,
			&stubContent{outcome: models.ModerationFallback()}, &stubSpam{outcome: models.SpamDefault(models.OutcomeDisabled)},
			nil, logging.Discard())
		assert.ErrorContains(t, o.Run(context.Background(), 1), "disk full")
	})

	t.Run("review deleted before save", func(t *testing.T) {
		verdicts := newFakeVerdicts()
		verdicts.saveErr = db.ErrReviewNotFound
		o := NewOrchestrator(reviewsWith("text"), verdicts,
			&stubContent{outcome: models.ModerationFallback()}, &stubSpam{outcome: models.SpamDefault(models.OutcomeDisabled)},
			nil, logging.Discard())
		assert.NoError(t, o.Run(context.Background(), 1))
	})
}

func TestRunIsolatesClassifierPanic(t *testing.T) {
	errStore := &memoryErrorStore{}
	sink := errorlog.NewSink(errStore, logging.Discard())
	verdicts := newFakeVerdicts()
	o := NewOrchestrator(reviewsWith("text"), verdicts,
		&stubContent{panics: true}, &stubSpam{outcome: spamOK(true, 0.95, 0.05)},
		sink, logging.Discard())

	require.NoError(t, o.Run(context.Background(), 1))

	v := verdicts.verdicts[1]
	require.NotNil(t, v)
	assert.False(t, v.Flagged)
	assert.True(t, v.IsSpam)
	assert.Equal(t, 0.95, v.SpamProbability)
	require.Len(t, errStore.records, 1)
	assert.Equal(t, models.ServiceModeration, errStore.records[0].Service)
	assert.Contains(t, errStore.records[0].ErrorMessage, "moderation exploded")
}

func TestRunTreatsUnsetOutcomesAsFailures(t *testing.T) {
	errStore := &memoryErrorStore{}
	sink := errorlog.NewSink(errStore, logging.Discard())
	verdicts := newFakeVerdicts()
	content := &stubContent{outcome: models.ModerationOutcome{Flagged: true, Categories: map[string]bool{"hate": true}}}
	spam := &stubSpam{outcome: models.SpamOutcome{IsSpam: true, SpamProbability: 0.99}}
	o := NewOrchestrator(reviewsWith("text"), verdicts, content, spam, sink, logging.Discard())

	require.NoError(t, o.Run(context.Background(), 1))

	v := verdicts.verdicts[1]
	require.NotNil(t, v)
	assert.False(t, v.Flagged)
	assert.Empty(t, v.Categories)
	assert.False(t, v.IsSpam)
	assert.Equal(t, 0.0, v.SpamProbability)
	assert.Equal(t, 1.0, v.NonSpamProbability)
	require.Len(t, errStore.records, 2)
	for _, rec := range errStore.records {
		assert.Contains(t, rec.ErrorMessage, "unknown kind 0")
	}
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name    string
		content models.ModerationOutcome
		spam    models.SpamOutcome
		want    models.Verdict
	}{
		{
			name:    "both fall back",
			content: models.ModerationFallback(),
			spam:    models.SpamDefault(models.OutcomeFallback),
			want: models.Verdict{ReviewID: 9, Categories: map[string]bool{}, CategoryScores: map[string]float64{},
				SpamProbability: 0, NonSpamProbability: 1},
		},
		{
			name:    "spam disabled",
			content: models.ModerationOutcome{Kind: models.OutcomeOK, Flagged: true, Categories: map[string]bool{"violence": true}, CategoryScores: map[string]float64{"violence": 0.8}},
			spam:    models.SpamDefault(models.OutcomeDisabled),
			want: models.Verdict{ReviewID: 9, Flagged: true, Categories: map[string]bool{"violence": true},
				CategoryScores: map[string]float64{"violence": 0.8}, NonSpamProbability: 1},
		},
		{
			name:    "ok outcome with nil maps and bad values",
			content: models.ModerationOutcome{Kind: models.OutcomeOK, CategoryScores: map[string]float64{"hate": math.NaN(), "sexual": 0.1}},
			spam:    spamOK(true, math.NaN(), 3),
			want: models.Verdict{ReviewID: 9, IsSpam: true, Categories: map[string]bool{},
				CategoryScores: map[string]float64{"sexual": 0.1}, SpamProbability: 0, NonSpamProbability: 1},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Merge(9, tc.content, tc.spam)
			assert.Equal(t, tc.want, *got)
		})
	}
}
