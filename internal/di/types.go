// Package di wires the recommender's databases, services and jobs.
package di

import (
	"github.com/aristath/recommender/internal/clients/objectstore"
	"github.com/aristath/recommender/internal/database"
	"github.com/aristath/recommender/internal/metrics"
	"github.com/aristath/recommender/internal/modules/allocation"
	"github.com/aristath/recommender/internal/modules/calculations"
	"github.com/aristath/recommender/internal/modules/optimization"
	"github.com/aristath/recommender/internal/modules/universe"
	"github.com/aristath/recommender/internal/scheduler"
)

// Container holds all application dependencies.
// It is created by Wire and handed to the server and the CLI.
type Container struct {
	// Databases
	HistoryDB *database.DB // Universe membership and daily closes
	CacheDB   *database.DB // Calculation cache (return statistics)

	// Clients
	ObjectStore *objectstore.Client // nil unless a source URI points at s3://

	// Repositories
	SecurityRepo *universe.SecurityRepository
	HistoryRepo  *universe.HistoryDB

	// Services
	MarketData         *universe.MarketData
	Importer           *universe.Importer
	UniverseService    *universe.Service
	CalculationCache   *calculations.Cache
	StatisticsCache    *optimization.StatisticsCache
	PolicyTable        *optimization.PolicyTable
	ConstraintsManager *optimization.ConstraintsManager
	ReturnsCalculator  *optimization.ReturnsCalculator
	MVOptimizer        *optimization.MVOptimizer
	DiscreteAllocator  *allocation.DiscreteAllocator
	OptimizerService   *optimization.OptimizerService

	// Observability
	Metrics *metrics.Collector

	// Background jobs
	Scheduler *scheduler.Scheduler
	Jobs      *JobInstances
}

// JobInstances holds the scheduled jobs so they can also be triggered on demand
type JobInstances struct {
	Import         scheduler.Job
	WarmStatistics scheduler.Job
	CacheCleanup   scheduler.Job
	CheckDatabases scheduler.Job
}

// ByName returns the job registered under name
func (j *JobInstances) ByName(name string) (scheduler.Job, bool) {
	if j == nil {
		return nil, false
	}
	for _, job := range j.All() {
		if job != nil && job.Name() == name {
			return job, true
		}
	}
	return nil, false
}

// All returns every job in registration order
func (j *JobInstances) All() []scheduler.Job {
	return []scheduler.Job{j.Import, j.WarmStatistics, j.CacheCleanup, j.CheckDatabases}
}

// Close releases database connections
func (c *Container) Close() error {
	var firstErr error
	for _, db := range []*database.DB{c.HistoryDB, c.CacheDB} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
