package processing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spacesedan/reviewguard/config"
	"github.com/spacesedan/reviewguard/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLister struct {
	ids       []int64
	err       error
	olderThan time.Time
	limit     int
}

func (s *stubLister) ListUnmoderated(_ context.Context, olderThan time.Time, limit int) ([]int64, error) {
	s.olderThan = olderThan
	s.limit = limit
	return s.ids, s.err
}

type stubScheduler struct {
	scheduled []int64
	failOn    int64
}

func (s *stubScheduler) ScheduleReview(_ context.Context, id int64) error {
	if id == s.failOn {
		return errors.New("broker down")
	}
	s.scheduled = append(s.scheduled, id)
	return nil
}

func TestSweepDispatchesOldUnmoderatedReviews(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lister := &stubLister{ids: []int64{3, 5, 8}}
	scheduler := &stubScheduler{}
	r := NewReconciler(lister, scheduler, config.ReconcilerConfig{MinAge: 10 * time.Minute, BatchSize: 25}, logging.Discard())
	r.now = func() time.Time { return now }

	n, err := r.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int64{3, 5, 8}, scheduler.scheduled)
	assert.Equal(t, now.Add(-10*time.Minute), lister.olderThan)
	assert.Equal(t, 25, lister.limit)
}

func TestSweepStopsAtDispatchFailure(t *testing.T) {
	scheduler := &stubScheduler{failOn: 5}
	r := NewReconciler(&stubLister{ids: []int64{3, 5, 8}}, scheduler, config.ReconcilerConfig{}, logging.Discard())

	n, err := r.Sweep(context.Background())

	assert.ErrorContains(t, err, "dispatch review 5")
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{3}, scheduler.scheduled)
}

func TestSweepListFailure(t *testing.T) {
	r := NewReconciler(&stubLister{err: errors.New("db down")}, &stubScheduler{}, config.ReconcilerConfig{}, logging.Discard())

	_, err := r.Sweep(context.Background())
	assert.ErrorContains(t, err, "db down")
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	scheduler := &stubScheduler{}
	r := NewReconciler(&stubLister{ids: []int64{1}}, scheduler, config.ReconcilerConfig{Interval: time.Hour}, logging.Discard())

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	// the first sweep runs before the loop looks at ctx
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
	assert.Equal(t, []int64{1}, scheduler.scheduled)
}
