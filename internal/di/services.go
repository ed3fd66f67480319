package di

import (
	"context"
	"fmt"
	"strings"

	"github.com/aristath/recommender/internal/clients/objectstore"
	"github.com/aristath/recommender/internal/config"
	"github.com/aristath/recommender/internal/metrics"
	"github.com/aristath/recommender/internal/modules/allocation"
	"github.com/aristath/recommender/internal/modules/calculations"
	"github.com/aristath/recommender/internal/modules/optimization"
	"github.com/aristath/recommender/internal/modules/universe"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates the history.db repositories
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container.HistoryDB == nil {
		return fmt.Errorf("history database not initialized")
	}
	container.SecurityRepo = universe.NewSecurityRepository(container.HistoryDB.Conn(), log)
	container.HistoryRepo = universe.NewHistoryDB(container.HistoryDB.Conn(), log)
	return nil
}

// InitializeServices creates clients, services and the optimizer pipeline
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	// Object storage is only needed when a snapshot lives in a bucket
	if usesObjectStore(cfg.UniverseSource, cfg.PricesSource) {
		client, err := objectstore.New(ctx, objectstore.Config{
			Region:          cfg.AWSRegion,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create object storage client: %w", err)
		}
		container.ObjectStore = client
	}

	// a nil *Client must not end up inside the ObjectOpener interface
	var opener *universe.SourceOpener
	if container.ObjectStore != nil {
		opener = universe.NewSourceOpener(container.ObjectStore)
	} else {
		opener = universe.NewSourceOpener(nil)
	}

	container.MarketData = universe.NewMarketData(container.SecurityRepo, container.HistoryRepo, log)
	container.Importer = universe.NewImporter(opener, container.SecurityRepo, container.HistoryRepo, log)
	container.UniverseService = universe.NewService(container.SecurityRepo, container.HistoryRepo, container.MarketData, log)

	table := optimization.DefaultPolicyTable()
	if cfg.RiskPolicyFile != "" {
		loaded, err := optimization.LoadPolicyTable(cfg.RiskPolicyFile)
		if err != nil {
			return fmt.Errorf("failed to load risk policy: %w", err)
		}
		table = loaded
		log.Info().Str("file", cfg.RiskPolicyFile).Msg("Loaded risk policy table")
	}
	container.PolicyTable = table

	collector, err := metrics.NewCollector()
	if err != nil {
		return fmt.Errorf("failed to create metrics collector: %w", err)
	}
	container.Metrics = collector

	container.CalculationCache = calculations.NewCache(container.CacheDB.Conn())
	container.StatisticsCache = optimization.NewStatisticsCache(container.CalculationCache, cfg.CacheTTL, log)
	container.ConstraintsManager = optimization.NewConstraintsManager(table, nil, log)
	container.ReturnsCalculator = optimization.NewReturnsCalculator(optimization.ReturnsConfig{
		PeriodsPerYear:    cfg.PeriodsPerYear,
		MinObservations:   cfg.MinObservations,
		CoverageThreshold: cfg.CoverageThreshold,
		Estimator:         cfg.CovarianceEstimator,
	})
	container.MVOptimizer = optimization.NewMVOptimizer(optimization.SolverConfig{
		MaxIterations: cfg.SolverMaxIterations,
		FloorWeight:   cfg.DiversificationFloorWeight,
		RiskFreeRate:  cfg.RiskFreeRate,
	}, log)
	container.DiscreteAllocator = allocation.NewDiscreteAllocator(log)

	container.OptimizerService = optimization.NewOptimizerService(
		container.MarketData,
		container.ConstraintsManager,
		container.ReturnsCalculator,
		container.MVOptimizer,
		container.DiscreteAllocator,
		optimization.ServiceConfig{
			Lookback:     cfg.LookbackPeriods,
			RiskFreeRate: cfg.RiskFreeRate,
		},
		log,
	)
	container.OptimizerService.SetCache(container.StatisticsCache)
	container.OptimizerService.SetRecorder(collector)

	log.Info().
		Str("estimator", cfg.CovarianceEstimator).
		Int("lookback", cfg.LookbackPeriods).
		Bool("object_store", container.ObjectStore != nil).
		Msg("Services initialized")

	return nil
}

func usesObjectStore(uris ...string) bool {
	for _, uri := range uris {
		if strings.HasPrefix(uri, objectstore.Scheme) {
			return true
		}
	}
	return false
}
