package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spacesedan/reviewguard/internal/logging"
	"github.com/spacesedan/reviewguard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryCache struct {
	entries map[string][]byte
	ttls    map[string]time.Duration
	getErr  error
	setErr  error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *memoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.entries[key] = value
	m.ttls[key] = ttl
	return nil
}

type countingVerdicts struct {
	verdicts map[int64]*models.Verdict
	gets     int
}

func (c *countingVerdicts) GetVerdict(_ context.Context, reviewID int64) (*models.Verdict, error) {
	c.gets++
	return c.verdicts[reviewID], nil
}

func (c *countingVerdicts) SaveVerdict(_ context.Context, v *models.Verdict) (bool, error) {
	if _, ok := c.verdicts[v.ReviewID]; ok {
		return false, nil
	}
	c.verdicts[v.ReviewID] = v
	return true, nil
}

func TestCachedVerdictsReadThrough(t *testing.T) {
	store := &countingVerdicts{verdicts: map[int64]*models.Verdict{
		1: {ReviewID: 1, Flagged: true, Categories: map[string]bool{"hate": true}, CategoryScores: map[string]float64{"hate": 0.8}, NonSpamProbability: 1},
	}}
	cache := newMemoryCache()
	cached := NewCachedVerdicts(store, cache, time.Hour, logging.Discard())

	first, err := cached.GetVerdict(context.Background(), 1)
	require.NoError(t, err)
	second, err := cached.GetVerdict(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 1, store.gets)
	assert.Equal(t, first.Categories, second.Categories)
	assert.True(t, second.Flagged)
	assert.Equal(t, time.Hour, cache.ttls[verdictKey(1)])
}

func TestCachedVerdictsDoesNotCacheMisses(t *testing.T) {
	store := &countingVerdicts{verdicts: map[int64]*models.Verdict{}}
	cache := newMemoryCache()
	cached := NewCachedVerdicts(store, cache, time.Hour, logging.Discard())

	for i := 0; i < 2; i++ {
		v, err := cached.GetVerdict(context.Background(), 2)
		require.NoError(t, err)
		assert.Nil(t, v)
	}
	assert.Equal(t, 2, store.gets)
	assert.Empty(t, cache.entries)
}

func TestCachedVerdictsSaveOnlyCachesCreated(t *testing.T) {
	existing := &models.Verdict{ReviewID: 3, IsSpam: true}
	store := &countingVerdicts{verdicts: map[int64]*models.Verdict{3: existing}}
	cache := newMemoryCache()
	cached := NewCachedVerdicts(store, cache, time.Hour, logging.Discard())

	created, err := cached.SaveVerdict(context.Background(), &models.Verdict{ReviewID: 3})
	require.NoError(t, err)
	assert.False(t, created)
	assert.NotContains(t, cache.entries, verdictKey(3))

	created, err = cached.SaveVerdict(context.Background(), &models.Verdict{ReviewID: 4, Flagged: true})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Contains(t, cache.entries, verdictKey(4))
}

func TestCachedVerdictsSurvivesCacheOutage(t *testing.T) {
	store := &countingVerdicts{verdicts: map[int64]*models.Verdict{5: {ReviewID: 5}}}
	cache := newMemoryCache()
	cache.getErr = errors.New("connection refused")
	cache.setErr = errors.New("connection refused")
	cached := NewCachedVerdicts(store, cache, time.Hour, logging.Discard())

	v, err := cached.GetVerdict(context.Background(), 5)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, int64(5), v.ReviewID)
}
