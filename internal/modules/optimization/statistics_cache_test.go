package optimization

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/recommender/internal/modules/calculations"
	testingpkg "github.com/aristath/recommender/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot() *StatisticsSnapshot {
	return &StatisticsSnapshot{
		Statistics: &Statistics{
			Symbols:         []string{"A", "B"},
			ExpectedReturns: []float64{0.1, 0.2},
			Covariance:      [][]float64{{0.04, 0.01}, {0.01, 0.09}},
			Observations:    252,
			Estimator:       EstimatorSample,
			StartDate:       "2023-01-03",
			EndDate:         "2023-12-29",
		},
		Dropped: []DroppedSymbol{{Symbol: "C", Coverage: 0.5, Reason: "price coverage 50.0% below 95.0%"}},
	}
}

func TestStatisticsKey(t *testing.T) {
	cfg := NewReturnsCalculator(ReturnsConfig{}).Config()
	a := StatisticsKey([]string{"B", "A"}, 252, "2024-01-02", cfg)
	b := StatisticsKey([]string{"A", "B"}, 252, "2024-01-02", cfg)
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, StatisticsKey([]string{"A", "B"}, 126, "2024-01-02", cfg))
	assert.NotEqual(t, a, StatisticsKey([]string{"A", "B"}, 252, "2024-01-03", cfg))

	cfg.Estimator = EstimatorLedoitWolf
	assert.NotEqual(t, a, StatisticsKey([]string{"A", "B"}, 252, "2024-01-02", cfg))
}

func TestStatisticsCache_MemoryHit(t *testing.T) {
	cache := NewStatisticsCache(nil, time.Hour, zerolog.Nop())
	calls := 0
	compute := func() (*StatisticsSnapshot, error) {
		calls++
		return sampleSnapshot(), nil
	}

	first, hit, err := cache.GetOrCompute("k", compute)
	require.NoError(t, err)
	assert.False(t, hit)

	second, hit, err := cache.GetOrCompute("k", compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)

	// callers get private copies
	second.Statistics.Covariance[0][0] = 99
	third, _, err := cache.GetOrCompute("k", compute)
	require.NoError(t, err)
	assert.Equal(t, 0.04, third.Statistics.Covariance[0][0])
}

func TestStatisticsCache_ComputeErrorNotCached(t *testing.T) {
	cache := NewStatisticsCache(nil, time.Hour, zerolog.Nop())
	boom := errors.New("boom")

	_, _, err := cache.GetOrCompute("k", func() (*StatisticsSnapshot, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, cache.Len())

	_, hit, err := cache.GetOrCompute("k", func() (*StatisticsSnapshot, error) { return sampleSnapshot(), nil })
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestStatisticsCache_SharesConcurrentComputation(t *testing.T) {
	cache := NewStatisticsCache(nil, time.Hour, zerolog.Nop())
	var calls int32
	release := make(chan struct{})

	compute := func() (*StatisticsSnapshot, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return sampleSnapshot(), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, _, err := cache.GetOrCompute("k", compute)
			assert.NoError(t, err)
			assert.Equal(t, []string{"A", "B"}, s.Statistics.Symbols)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestStatisticsCache_ExpiryAndPurge(t *testing.T) {
	cache := NewStatisticsCache(nil, time.Minute, zerolog.Nop())
	now := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	calls := 0
	compute := func() (*StatisticsSnapshot, error) {
		calls++
		return sampleSnapshot(), nil
	}

	_, _, err := cache.GetOrCompute("k", compute)
	require.NoError(t, err)
	assert.Equal(t, 0, cache.Purge())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, cache.Purge())
	assert.Equal(t, 0, cache.Len())

	_, hit, err := cache.GetOrCompute("k", compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, calls)
}

func TestStatisticsCache_PersistentTier(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "cache")
	defer cleanup()
	persistent := calculations.NewCache(db.Conn())

	writer := NewStatisticsCache(persistent, time.Hour, zerolog.Nop())
	stored, _, err := writer.GetOrCompute("k", func() (*StatisticsSnapshot, error) { return sampleSnapshot(), nil })
	require.NoError(t, err)

	// a fresh process reads the snapshot back from cache.db
	reader := NewStatisticsCache(persistent, time.Hour, zerolog.Nop())
	loaded, hit, err := reader.GetOrCompute("k", func() (*StatisticsSnapshot, error) {
		t.Fatal("compute should not run on a persistent hit")
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, stored, loaded)

	counts, err := persistent.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[calculations.KindStatistics])
}
