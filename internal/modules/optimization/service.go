package optimization

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aristath/recommender/internal/domain"
	"github.com/aristath/recommender/internal/modules/allocation"
	"github.com/aristath/recommender/internal/modules/universe"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// MarketDataProvider supplies the universe, sector tags and prices.
// All data is materialized before the engine runs.
type MarketDataProvider interface {
	Universe(ctx context.Context) ([]universe.Security, error)
	PriceHistory(ctx context.Context, symbols []string, lookback int) (map[string][]universe.DailyPrice, error)
	LatestPrices(ctx context.Context, symbols []string) (map[string]float64, error)
	PriceDate(ctx context.Context) (string, error)
}

// OutcomeRecorder observes optimization outcomes
type OutcomeRecorder interface {
	RecordOptimization(tier, outcome string, backoffSteps []string, duration time.Duration)
}

// Outcome label for successful optimizations; failures use the error kind
const OutcomeOK = "ok"

// Request is one optimize call
type Request struct {
	RiskTier          string   `json:"risk_tier"`
	HorizonYears      float64  `json:"horizon_years"`
	SectorPreferences []string `json:"sector_preferences,omitempty"`
	ExcludeSymbols    []string `json:"exclude_symbols,omitempty"`
}

// Recommendation is the result of an optimize call
type Recommendation struct {
	ID               string                       `json:"id"`
	RiskTier         RiskTier                     `json:"risk_tier"`
	HorizonYears     float64                      `json:"horizon_years"`
	Weights          map[string]float64           `json:"weights"`
	Metrics          Metrics                      `json:"metrics"`
	SectorAllocation map[string]float64           `json:"sector_allocation"`
	Sectors          []allocation.GroupAllocation `json:"sectors"`
	Rationale        string                       `json:"rationale"`
	Backoff          []BackoffStep                `json:"backoff"`
	DroppedSymbols   []DroppedSymbol              `json:"dropped_symbols"`
	ForcedSymbols    []string                     `json:"forced_symbols,omitempty"`
	Observations     int                          `json:"observations"`
	Estimator        string                       `json:"estimator"`
	PriceDate        string                       `json:"price_date"`
	ComputedAt       time.Time                    `json:"computed_at"`
}

// ServiceConfig holds per-call defaults
type ServiceConfig struct {
	Lookback     int
	RiskFreeRate float64
}

// OptimizerService runs the full recommendation pipeline: policy, statistics,
// solver, metrics and rationale. It keeps no per-call state.
type OptimizerService struct {
	market      MarketDataProvider
	constraints *ConstraintsManager
	returns     *ReturnsCalculator
	optimizer   *MVOptimizer
	allocator   *allocation.DiscreteAllocator
	rationale   *RationaleBuilder
	cache       *StatisticsCache
	recorder    OutcomeRecorder
	cfg         ServiceConfig
	log         zerolog.Logger
}

// NewOptimizerService creates a new optimizer service
func NewOptimizerService(
	market MarketDataProvider,
	constraints *ConstraintsManager,
	returns *ReturnsCalculator,
	optimizer *MVOptimizer,
	allocator *allocation.DiscreteAllocator,
	cfg ServiceConfig,
	log zerolog.Logger,
) *OptimizerService {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 252
	}
	return &OptimizerService{
		market:      market,
		constraints: constraints,
		returns:     returns,
		optimizer:   optimizer,
		allocator:   allocator,
		rationale:   NewRationaleBuilder(),
		cfg:         cfg,
		log:         log.With().Str("service", "optimizer").Logger(),
	}
}

// SetCache enables statistics caching
func (s *OptimizerService) SetCache(cache *StatisticsCache) {
	s.cache = cache
}

// SetRecorder sets the outcome recorder
func (s *OptimizerService) SetRecorder(recorder OutcomeRecorder) {
	s.recorder = recorder
}

// Policy returns the immutable policy table
func (s *OptimizerService) Policy() *PolicyTable {
	return s.constraints.Table()
}

// Optimize produces a recommendation for req
func (s *OptimizerService) Optimize(ctx context.Context, req Request) (rec *Recommendation, err error) {
	start := time.Now()
	tierLabel := "unknown"
	defer func() {
		s.record(tierLabel, rec, err, time.Since(start))
	}()

	tier, err := ParseRiskTier(req.RiskTier)
	if err != nil {
		return nil, err
	}
	tierLabel = string(tier)

	securities, err := s.market.Universe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load universe: %w", err)
	}

	cs, err := s.constraints.BuildConstraints(PolicyRequest{
		Tier:              tier,
		HorizonYears:      req.HorizonYears,
		SectorPreferences: req.SectorPreferences,
		ExcludeSymbols:    req.ExcludeSymbols,
		Universe:          securities,
	})
	if err != nil {
		return nil, err
	}

	snapshot, priceDate, err := s.statistics(ctx, cs.Allowed())
	if err != nil {
		return nil, err
	}
	stats := snapshot.Statistics

	dropped := make([]string, len(snapshot.Dropped))
	for i, d := range snapshot.Dropped {
		dropped[i] = d.Symbol
	}
	cs = cs.WithoutSymbols(dropped)

	solution, err := s.optimizer.Optimize(stats, cs)
	if err != nil {
		return nil, err
	}

	metrics, err := CalculateMetrics(solution.Weights, stats, s.cfg.RiskFreeRate)
	if err != nil {
		return nil, err
	}

	sectorOf := cs.SectorOf()
	sectors := allocation.SectorBreakdown(solution.Weights, sectorOf, cs.SectorCaps())

	rationale, err := s.rationale.Build(RationaleInput{
		Constraints: cs,
		Metrics:     metrics,
		Weights:     solution.Weights,
		Sectors:     sectors,
		Statistics:  stats,
		Dropped:     snapshot.Dropped,
		Solution:    solution,
	})
	if err != nil {
		return nil, err
	}

	rec = &Recommendation{
		ID:               uuid.NewString(),
		RiskTier:         tier,
		HorizonYears:     req.HorizonYears,
		Weights:          solution.Weights,
		Metrics:          *metrics,
		SectorAllocation: allocation.SectorAllocation(solution.Weights, sectorOf),
		Sectors:          sectors,
		Rationale:        rationale,
		Backoff:          nonNilSteps(solution.Backoff),
		DroppedSymbols:   nonNilDropped(snapshot.Dropped),
		ForcedSymbols:    solution.Forced,
		Observations:     stats.Observations,
		Estimator:        stats.Estimator,
		PriceDate:        priceDate,
		ComputedAt:       time.Now().UTC(),
	}

	s.log.Info().
		Str("id", rec.ID).
		Str("tier", string(tier)).
		Int("holdings", metrics.Diversification).
		Float64("expected_return", metrics.ExpectedAnnualReturn).
		Float64("volatility", metrics.AnnualVolatility).
		Int("backoff_steps", len(rec.Backoff)).
		Dur("duration", time.Since(start)).
		Msg("Optimization completed")

	return rec, nil
}

// Allocate converts weights into whole shares at the latest prices
func (s *OptimizerService) Allocate(ctx context.Context, weights map[string]float64, budget decimal.Decimal) (*allocation.Result, error) {
	symbols := make([]string, 0, len(weights))
	for symbol, w := range weights {
		if w > 0 {
			symbols = append(symbols, symbol)
		}
	}
	sort.Strings(symbols)

	latest, err := s.market.LatestPrices(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest prices: %w", err)
	}

	prices := make(map[string]decimal.Decimal, len(latest))
	for symbol, p := range latest {
		prices[symbol] = decimal.NewFromFloat(p)
	}

	return s.allocator.Allocate(weights, budget, prices)
}

// WarmStatistics precomputes statistics for the full universe so the first
// unconstrained request is served from cache.
func (s *OptimizerService) WarmStatistics(ctx context.Context) (*Statistics, error) {
	securities, err := s.market.Universe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load universe: %w", err)
	}
	symbols := make([]string, len(securities))
	for i, sec := range securities {
		symbols[i] = sec.Symbol
	}
	sort.Strings(symbols)

	snapshot, _, err := s.statistics(ctx, symbols)
	if err != nil {
		return nil, err
	}
	return snapshot.Statistics, nil
}

func (s *OptimizerService) statistics(ctx context.Context, symbols []string) (*StatisticsSnapshot, string, error) {
	priceDate, err := s.market.PriceDate(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load price date: %w", err)
	}
	if priceDate == "" {
		return nil, "", domain.New(domain.KindInsufficientData, "no price history has been loaded")
	}

	compute := func() (*StatisticsSnapshot, error) {
		history, err := s.market.PriceHistory(ctx, symbols, s.cfg.Lookback)
		if err != nil {
			return nil, fmt.Errorf("failed to load price history: %w", err)
		}
		series, dropped := s.returns.AlignReturns(history, symbols, s.cfg.Lookback)
		stats, err := s.returns.Calculate(series)
		if err != nil {
			return nil, err
		}
		return &StatisticsSnapshot{Statistics: stats, Dropped: dropped}, nil
	}

	if s.cache == nil {
		snapshot, err := compute()
		return snapshot, priceDate, err
	}

	key := StatisticsKey(symbols, s.cfg.Lookback, priceDate, s.returns.Config())
	snapshot, hit, err := s.cache.GetOrCompute(key, compute)
	if err != nil {
		return nil, "", err
	}
	s.log.Debug().Bool("cache_hit", hit).Int("symbols", len(symbols)).Msg("Resolved return statistics")
	return snapshot, priceDate, nil
}

func (s *OptimizerService) record(tier string, rec *Recommendation, err error, duration time.Duration) {
	if s.recorder == nil {
		return
	}
	outcome := OutcomeOK
	var steps []string
	if err != nil {
		outcome = string(domain.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	} else if rec != nil {
		for _, step := range rec.Backoff {
			steps = append(steps, step.Step)
		}
	}
	s.recorder.RecordOptimization(tier, outcome, steps, duration)
}

func nonNilSteps(steps []BackoffStep) []BackoffStep {
	if steps == nil {
		return []BackoffStep{}
	}
	return steps
}

func nonNilDropped(dropped []DroppedSymbol) []DroppedSymbol {
	if dropped == nil {
		return []DroppedSymbol{}
	}
	return dropped
}
