package di

import (
	"fmt"

	"github.com/aristath/recommender/internal/config"
	"github.com/aristath/recommender/internal/modules/calculations"
	"github.com/aristath/recommender/internal/scheduler"
	"github.com/rs/zerolog"
)

// RegisterJobs creates the background jobs and adds them to a new scheduler.
// A job with an empty schedule is created but only runs on demand.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) error {
	sched := scheduler.New(log)

	importJob := scheduler.NewImportJob(container.Importer, cfg.UniverseSource, cfg.PricesSource)
	importJob.SetLogger(log)

	warmJob := scheduler.NewWarmStatisticsJob(container.OptimizerService)
	warmJob.SetLogger(log)

	cleanupJob := calculations.NewCleanupJob(container.CalculationCache, container.StatisticsCache, log)

	checkJob := scheduler.NewCheckDatabasesJob(container.HistoryDB, container.CacheDB)
	checkJob.SetLogger(log)

	jobs := &JobInstances{
		Import:         importJob,
		WarmStatistics: warmJob,
		CacheCleanup:   cleanupJob,
		CheckDatabases: checkJob,
	}

	schedules := []struct {
		schedule string
		job      scheduler.Job
	}{
		{cfg.ImportSchedule, importJob},
		{cfg.WarmSchedule, warmJob},
		{cfg.CleanupSchedule, cleanupJob},
		{cfg.CleanupSchedule, checkJob},
	}
	for _, s := range schedules {
		if err := sched.AddJob(s.schedule, s.job); err != nil {
			return fmt.Errorf("failed to register %s: %w", s.job.Name(), err)
		}
	}

	container.Scheduler = sched
	container.Jobs = jobs

	log.Info().Int("scheduled", sched.Entries()).Msg("Jobs registered")
	return nil
}
