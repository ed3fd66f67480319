package optimization

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aristath/recommender/internal/modules/allocation"
	"github.com/aristath/recommender/internal/modules/universe"
	testingpkg "github.com/aristath/recommender/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeMarket serves an in-memory universe and price table
type fakeMarket struct {
	securities []universe.Security
	history    map[string][]universe.DailyPrice
	priceDate  string

	mu           sync.Mutex
	historyCalls int
}

func newFakeMarket(fixtures []testingpkg.SecurityFixture, days int, seed int64) *fakeMarket {
	series := testingpkg.GeneratePrices(testingpkg.Symbols(fixtures), days, seed)
	m := &fakeMarket{
		history:   historyFromSeries(series),
		priceDate: series.Dates[len(series.Dates)-1],
	}
	for _, f := range fixtures {
		m.securities = append(m.securities, universe.Security{Symbol: f.Symbol, Name: f.Name, Sector: f.Sector})
	}
	return m
}

func (m *fakeMarket) Universe(_ context.Context) ([]universe.Security, error) {
	return append([]universe.Security(nil), m.securities...), nil
}

func (m *fakeMarket) PriceHistory(_ context.Context, symbols []string, lookback int) (map[string][]universe.DailyPrice, error) {
	m.mu.Lock()
	m.historyCalls++
	m.mu.Unlock()

	out := make(map[string][]universe.DailyPrice, len(symbols))
	for _, s := range symbols {
		prices := m.history[s]
		if len(prices) > lookback+1 {
			prices = prices[len(prices)-lookback-1:]
		}
		out[s] = append([]universe.DailyPrice(nil), prices...)
	}
	return out, nil
}

func (m *fakeMarket) LatestPrices(_ context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		if prices := m.history[s]; len(prices) > 0 {
			out[s] = prices[len(prices)-1].Close
		}
	}
	return out, nil
}

func (m *fakeMarket) PriceDate(_ context.Context) (string, error) {
	return m.priceDate, nil
}

func (m *fakeMarket) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.historyCalls
}

type recordedOutcome struct {
	tier    string
	outcome string
	steps   []string
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []recordedOutcome
}

func (r *fakeRecorder) RecordOptimization(tier, outcome string, steps []string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, recordedOutcome{tier: tier, outcome: outcome, steps: steps})
}

func historyFromSeries(series testingpkg.PriceSeries) map[string][]universe.DailyPrice {
	out := make(map[string][]universe.DailyPrice, len(series.Closes))
	for symbol, closes := range series.Closes {
		prices := make([]universe.DailyPrice, len(closes))
		for i, c := range closes {
			prices[i] = universe.DailyPrice{Date: series.Dates[i], Close: c}
		}
		out[symbol] = prices
	}
	return out
}

func toSecurities(fixtures []testingpkg.SecurityFixture) []universe.Security {
	out := make([]universe.Security, len(fixtures))
	for i, f := range fixtures {
		out[i] = universe.Security{Symbol: f.Symbol, Name: f.Name, Sector: f.Sector}
	}
	return out
}

// fixtureStatistics estimates statistics for every fixture symbol over 252 returns
func fixtureStatistics(t *testing.T, fixtures []testingpkg.SecurityFixture) *Statistics {
	t.Helper()
	symbols := testingpkg.Symbols(fixtures)
	sort.Strings(symbols)

	series := testingpkg.GeneratePrices(testingpkg.Symbols(fixtures), 300, 42)
	rc := NewReturnsCalculator(ReturnsConfig{})
	aligned, dropped := rc.AlignReturns(historyFromSeries(series), symbols, 252)
	require.Empty(t, dropped)

	stats, err := rc.Calculate(aligned)
	require.NoError(t, err)
	return stats
}

func buildConstraints(t *testing.T, table *PolicyTable, tier RiskTier, fixtures []testingpkg.SecurityFixture) *ConstraintSet {
	t.Helper()
	cm := NewConstraintsManager(table, nil, zerolog.Nop())
	cs, err := cm.BuildConstraints(PolicyRequest{
		Tier:         tier,
		HorizonYears: 5,
		Universe:     toSecurities(fixtures),
	})
	require.NoError(t, err)
	return cs
}

func newTestService(market MarketDataProvider, table *PolicyTable) *OptimizerService {
	log := zerolog.Nop()
	return NewOptimizerService(
		market,
		NewConstraintsManager(table, nil, log),
		NewReturnsCalculator(ReturnsConfig{}),
		NewMVOptimizer(SolverConfig{RiskFreeRate: 0.02}, log),
		allocation.NewDiscreteAllocator(log),
		ServiceConfig{Lookback: 252, RiskFreeRate: 0.02},
		log,
	)
}

func sumWeights(weights map[string]float64) float64 {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	return total
}

// fixturesWhere filters the standard fixtures by sector
func fixturesWhere(keep func(testingpkg.SecurityFixture) bool) []testingpkg.SecurityFixture {
	var out []testingpkg.SecurityFixture
	for _, f := range testingpkg.NewSecurityFixtures() {
		if keep(f) {
			out = append(out, f)
		}
	}
	return out
}
