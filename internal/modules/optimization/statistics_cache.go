package optimization

import (
	"fmt"
	"sync"
	"time"

	"github.com/aristath/recommender/internal/modules/calculations"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// StatisticsSnapshot is the cached outcome of estimating statistics for a symbol set
type StatisticsSnapshot struct {
	Statistics *Statistics     `msgpack:"statistics"`
	Dropped    []DroppedSymbol `msgpack:"dropped"`
}

// PersistentCache is the second cache tier (cache.db)
type PersistentCache interface {
	Store(kind, key string, value interface{}, ttl time.Duration) error
	GetIfFresh(kind, key string, out interface{}) (bool, error)
}

type cachedSnapshot struct {
	snapshot  *StatisticsSnapshot
	expiresAt time.Time
}

// StatisticsCache memoizes statistics in memory and in cache.db. Concurrent
// requests for the same key share one computation.
type StatisticsCache struct {
	mu         sync.RWMutex
	entries    map[string]cachedSnapshot
	group      singleflight.Group
	persistent PersistentCache
	ttl        time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

// NewStatisticsCache creates a statistics cache. persistent may be nil.
func NewStatisticsCache(persistent PersistentCache, ttl time.Duration, log zerolog.Logger) *StatisticsCache {
	if ttl <= 0 {
		ttl = calculations.TTLStatistics
	}
	return &StatisticsCache{
		entries:    make(map[string]cachedSnapshot),
		persistent: persistent,
		ttl:        ttl,
		now:        time.Now,
		log:        log.With().Str("component", "statistics_cache").Logger(),
	}
}

// StatisticsKey identifies statistics by symbol set, price snapshot and estimation settings
func StatisticsKey(symbols []string, lookback int, priceDate string, cfg ReturnsConfig) string {
	return fmt.Sprintf("%s:%d:%s:%d:%d:%g:%s",
		hashSymbols(symbols), lookback, priceDate,
		cfg.PeriodsPerYear, cfg.MinObservations, cfg.CoverageThreshold, cfg.Estimator)
}

// GetOrCompute returns the snapshot for key, computing it at most once per key
// across concurrent callers. The returned snapshot is a private copy.
// hit reports whether the value came from a cache tier.
func (c *StatisticsCache) GetOrCompute(key string, compute func() (*StatisticsSnapshot, error)) (snapshot *StatisticsSnapshot, hit bool, err error) {
	if s, ok := c.memory(key); ok {
		return s.clone(), true, nil
	}

	type result struct {
		snapshot *StatisticsSnapshot
		hit      bool
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if s, ok := c.memory(key); ok {
			return result{snapshot: s, hit: true}, nil
		}

		if c.persistent != nil {
			var stored StatisticsSnapshot
			found, err := c.persistent.GetIfFresh(calculations.KindStatistics, key, &stored)
			if err != nil {
				c.log.Warn().Err(err).Str("key", key).Msg("Failed to read cached statistics")
			} else if found && stored.Statistics != nil {
				c.remember(key, &stored)
				return result{snapshot: &stored, hit: true}, nil
			}
		}

		computed, err := compute()
		if err != nil {
			return nil, err
		}
		c.remember(key, computed)

		if c.persistent != nil {
			if err := c.persistent.Store(calculations.KindStatistics, key, computed, c.ttl); err != nil {
				c.log.Warn().Err(err).Str("key", key).Msg("Failed to persist statistics")
			}
		}
		return result{snapshot: computed}, nil
	})
	if err != nil {
		return nil, false, err
	}

	r := v.(result)
	return r.snapshot.clone(), r.hit, nil
}

// Purge drops expired in-memory entries and returns how many were removed
func (c *StatisticsCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of in-memory entries
func (c *StatisticsCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *StatisticsCache) memory(key string) (*StatisticsSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || !c.now().Before(entry.expiresAt) {
		return nil, false
	}
	return entry.snapshot, true
}

func (c *StatisticsCache) remember(key string, s *StatisticsSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cachedSnapshot{snapshot: s, expiresAt: c.now().Add(c.ttl)}
}

func (s *StatisticsSnapshot) clone() *StatisticsSnapshot {
	out := &StatisticsSnapshot{Dropped: append([]DroppedSymbol(nil), s.Dropped...)}
	if s.Statistics != nil {
		out.Statistics = s.Statistics.Clone()
	}
	return out
}
