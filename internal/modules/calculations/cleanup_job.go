package calculations

import (
	"github.com/rs/zerolog"
)

// Purger drops expired in-memory entries
type Purger interface {
	Purge() int
}

// CleanupJob removes expired calculation cache entries, both persisted and in memory
type CleanupJob struct {
	cache  *Cache
	memory Purger
	log    zerolog.Logger
}

// NewCleanupJob creates a new cache cleanup job. memory may be nil.
func NewCleanupJob(cache *Cache, memory Purger, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		cache:  cache,
		memory: memory,
		log:    log.With().Str("job", "calculation_cache_cleanup").Logger(),
	}
}

// Run executes the cleanup job
func (j *CleanupJob) Run() error {
	deleted, err := j.cache.DeleteExpired()
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to delete expired calculation cache entries")
		return err
	}

	purged := 0
	if j.memory != nil {
		purged = j.memory.Purge()
	}

	if deleted > 0 || purged > 0 {
		j.log.Info().
			Int64("deleted", deleted).
			Int("purged", purged).
			Msg("Calculation cache cleanup completed")
	}
	return nil
}

// Name returns the job name for scheduling and logging
func (j *CleanupJob) Name() string {
	return "calculation_cache_cleanup"
}
