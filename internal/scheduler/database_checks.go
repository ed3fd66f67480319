package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/recommender/internal/database"
	"github.com/rs/zerolog"
)

// walWarnBytes is the WAL size above which a truncating checkpoint is forced
const walWarnBytes = 64 << 20

// CheckDatabasesJob pings every database and checkpoints oversized WAL files
type CheckDatabasesJob struct {
	log       zerolog.Logger
	databases map[string]*database.DB
	timeout   time.Duration
}

// NewCheckDatabasesJob creates a new CheckDatabasesJob
func NewCheckDatabasesJob(historyDB, cacheDB *database.DB) *CheckDatabasesJob {
	return &CheckDatabasesJob{
		log: zerolog.Nop(),
		databases: map[string]*database.DB{
			database.NameHistory: historyDB,
			database.NameCache:   cacheDB,
		},
		timeout: 30 * time.Second,
	}
}

// SetLogger sets the logger for the job
func (j *CheckDatabasesJob) SetLogger(log zerolog.Logger) {
	j.log = log
}

// Name returns the job name
func (j *CheckDatabasesJob) Name() string {
	return "check_databases"
}

// Run executes the check databases job
func (j *CheckDatabasesJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	checked := 0
	var failed []string
	for name, db := range j.databases {
		if db == nil {
			j.log.Warn().Str("database", name).Msg("Database not initialized, skipping")
			continue
		}

		if err := db.QuickCheck(ctx); err != nil {
			j.log.Error().Err(err).Str("database", name).Msg("Database check failed")
			failed = append(failed, name)
			continue
		}

		stats, err := db.GetStats(ctx)
		if err != nil {
			j.log.Warn().Err(err).Str("database", name).Msg("Failed to read database stats")
		} else if stats.WALSizeBytes > walWarnBytes {
			j.log.Warn().
				Str("database", name).
				Int64("wal_bytes", stats.WALSizeBytes).
				Msg("WAL file is large, forcing checkpoint")
			if err := db.WALCheckpoint(ctx, "TRUNCATE"); err != nil {
				j.log.Warn().Err(err).Str("database", name).Msg("Failed to checkpoint WAL")
			}
		}

		checked++
	}

	j.log.Info().Int("checked", checked).Msg("Database check completed")

	if len(failed) > 0 {
		return fmt.Errorf("database check failed for %v", failed)
	}
	return nil
}
