package calculations

import (
	"testing"
	"time"

	testingpkg "github.com/aristath/recommender/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Symbols []string
	Values  []float64
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "cache")
	t.Cleanup(cleanup)
	return NewCache(db.Conn())
}

func TestCache_StoreAndGetIfFresh(t *testing.T) {
	cache := newTestCache(t)

	in := payload{Symbols: []string{"AAPL", "KO"}, Values: []float64{0.1234567890123, -1e-17}}
	require.NoError(t, cache.Store(KindStatistics, "k1", in, time.Hour))

	var out payload
	found, err := cache.GetIfFresh(KindStatistics, "k1", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, in, out)
}

func TestCache_Miss(t *testing.T) {
	cache := newTestCache(t)

	var out payload
	found, err := cache.GetIfFresh(KindStatistics, "missing", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_ExpiredIsNotFresh(t *testing.T) {
	cache := newTestCache(t)
	now := time.Unix(1_700_000_000, 0)
	cache.now = func() time.Time { return now }

	require.NoError(t, cache.Store(KindStatistics, "k1", payload{}, time.Minute))

	now = now.Add(2 * time.Minute)
	var out payload
	found, err := cache.GetIfFresh(KindStatistics, "k1", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_StoreReplaces(t *testing.T) {
	cache := newTestCache(t)

	require.NoError(t, cache.Store(KindStatistics, "k1", payload{Symbols: []string{"A"}}, time.Hour))
	require.NoError(t, cache.Store(KindStatistics, "k1", payload{Symbols: []string{"B"}}, time.Hour))

	var out payload
	found, err := cache.GetIfFresh(KindStatistics, "k1", &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"B"}, out.Symbols)

	counts, err := cache.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[KindStatistics])
}

func TestCache_Delete(t *testing.T) {
	cache := newTestCache(t)
	require.NoError(t, cache.Store(KindStatistics, "k1", payload{}, time.Hour))
	require.NoError(t, cache.Delete(KindStatistics, "k1"))

	var out payload
	found, err := cache.GetIfFresh(KindStatistics, "k1", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_DeleteExpired(t *testing.T) {
	cache := newTestCache(t)
	now := time.Unix(1_700_000_000, 0)
	cache.now = func() time.Time { return now }

	require.NoError(t, cache.Store(KindStatistics, "old", payload{}, time.Minute))
	require.NoError(t, cache.Store(KindStatistics, "new", payload{}, time.Hour))

	now = now.Add(10 * time.Minute)
	deleted, err := cache.DeleteExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	counts, err := cache.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[KindStatistics])
}

type fakePurger struct{ calls int }

func (f *fakePurger) Purge() int {
	f.calls++
	return 3
}

func TestCleanupJob(t *testing.T) {
	cache := newTestCache(t)
	now := time.Unix(1_700_000_000, 0)
	cache.now = func() time.Time { return now }
	require.NoError(t, cache.Store(KindStatistics, "old", payload{}, time.Minute))
	now = now.Add(time.Hour)

	purger := &fakePurger{}
	job := NewCleanupJob(cache, purger, zerolog.Nop())
	assert.Equal(t, "calculation_cache_cleanup", job.Name())

	require.NoError(t, job.Run())
	assert.Equal(t, 1, purger.calls)

	counts, err := cache.Count()
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestCleanupJob_NilPurger(t *testing.T) {
	job := NewCleanupJob(newTestCache(t), nil, zerolog.Nop())
	assert.NoError(t, job.Run())
}
