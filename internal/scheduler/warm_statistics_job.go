package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/recommender/internal/modules/optimization"
	"github.com/rs/zerolog"
)

// StatisticsWarmer precomputes return statistics for the full universe
type StatisticsWarmer interface {
	WarmStatistics(ctx context.Context) (*optimization.Statistics, error)
}

// WarmStatisticsJob fills the statistics cache after new prices arrive
type WarmStatisticsJob struct {
	log     zerolog.Logger
	warmer  StatisticsWarmer
	timeout time.Duration
}

// NewWarmStatisticsJob creates a new WarmStatisticsJob
func NewWarmStatisticsJob(warmer StatisticsWarmer) *WarmStatisticsJob {
	return &WarmStatisticsJob{
		log:     zerolog.Nop(),
		warmer:  warmer,
		timeout: 5 * time.Minute,
	}
}

// SetLogger sets the logger for the job
func (j *WarmStatisticsJob) SetLogger(log zerolog.Logger) {
	j.log = log
}

// Name returns the job name
func (j *WarmStatisticsJob) Name() string {
	return "warm_statistics"
}

// Run executes the warm-up
func (j *WarmStatisticsJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	stats, err := j.warmer.WarmStatistics(ctx)
	if err != nil {
		return fmt.Errorf("failed to warm statistics: %w", err)
	}

	j.log.Info().
		Int("symbols", len(stats.Symbols)).
		Int("observations", stats.Observations).
		Str("end_date", stats.EndDate).
		Msg("Statistics cache warmed")
	return nil
}
