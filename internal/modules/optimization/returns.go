package optimization

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/aristath/recommender/internal/domain"
	"github.com/aristath/recommender/internal/modules/universe"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Covariance estimators
const (
	EstimatorSample     = "sample"
	EstimatorLedoitWolf = "ledoit_wolf"
)

// HighCorrelationThreshold flags pairs whose absolute correlation reaches it
const HighCorrelationThreshold = 0.80

// ReturnsConfig parameterizes statistics estimation
type ReturnsConfig struct {
	PeriodsPerYear    int
	MinObservations   int
	CoverageThreshold float64
	Estimator         string
}

// ReturnSeries holds per-symbol simple returns on a shared date axis.
// Returns[i] belongs to Symbols[i]; Dates are the end dates of each return.
type ReturnSeries struct {
	Symbols []string
	Dates   []string
	Returns [][]float64
}

// DroppedSymbol is a symbol removed before estimation for insufficient coverage
type DroppedSymbol struct {
	Symbol   string  `json:"symbol" msgpack:"symbol"`
	Coverage float64 `json:"coverage" msgpack:"coverage"`
	Reason   string  `json:"reason" msgpack:"reason"`
}

// Statistics are the annualized expected returns and covariance of a symbol set.
// Values are read-only once built; use Clone before mutating.
type Statistics struct {
	Symbols         []string    `json:"symbols" msgpack:"symbols"`
	ExpectedReturns []float64   `json:"expected_returns" msgpack:"expected_returns"`
	Covariance      [][]float64 `json:"covariance" msgpack:"covariance"`
	Observations    int         `json:"observations" msgpack:"observations"`
	Estimator       string      `json:"estimator" msgpack:"estimator"`
	Shrinkage       float64     `json:"shrinkage" msgpack:"shrinkage"`
	StartDate       string      `json:"start_date" msgpack:"start_date"`
	EndDate         string      `json:"end_date" msgpack:"end_date"`
}

// CorrelationPair is a pair of symbols with high correlation
type CorrelationPair struct {
	Symbol1     string  `json:"symbol1"`
	Symbol2     string  `json:"symbol2"`
	Correlation float64 `json:"correlation"`
}

// ReturnsCalculator turns price histories into return statistics
type ReturnsCalculator struct {
	cfg ReturnsConfig
}

// NewReturnsCalculator creates a calculator. Zero values fall back to daily data,
// 30 observations, 95% coverage and the sample estimator.
func NewReturnsCalculator(cfg ReturnsConfig) *ReturnsCalculator {
	if cfg.PeriodsPerYear <= 0 {
		cfg.PeriodsPerYear = 252
	}
	if cfg.MinObservations <= 0 {
		cfg.MinObservations = 30
	}
	if cfg.CoverageThreshold <= 0 {
		cfg.CoverageThreshold = 0.95
	}
	if cfg.Estimator == "" {
		cfg.Estimator = EstimatorSample
	}
	return &ReturnsCalculator{cfg: cfg}
}

// Config returns the effective configuration
func (rc *ReturnsCalculator) Config() ReturnsConfig {
	return rc.cfg
}

// AlignReturns builds the shared axis from the last lookback+1 distinct dates across
// all symbols, drops symbols whose coverage of that axis is below the threshold,
// then keeps only dates every remaining symbol traded. Missing closes are never filled.
func (rc *ReturnsCalculator) AlignReturns(history map[string][]universe.DailyPrice, symbols []string, lookback int) (*ReturnSeries, []DroppedSymbol) {
	dateSet := make(map[string]struct{})
	closes := make(map[string]map[string]float64, len(symbols))
	for _, symbol := range symbols {
		byDate := make(map[string]float64, len(history[symbol]))
		for _, p := range history[symbol] {
			byDate[p.Date] = p.Close
			dateSet[p.Date] = struct{}{}
		}
		closes[symbol] = byDate
	}

	axis := make([]string, 0, len(dateSet))
	for d := range dateSet {
		axis = append(axis, d)
	}
	sort.Strings(axis)
	if lookback > 0 && len(axis) > lookback+1 {
		axis = axis[len(axis)-lookback-1:]
	}

	var kept []string
	var dropped []DroppedSymbol
	for _, symbol := range symbols {
		present := 0
		for _, d := range axis {
			if _, ok := closes[symbol][d]; ok {
				present++
			}
		}
		coverage := 0.0
		if len(axis) > 0 {
			coverage = float64(present) / float64(len(axis))
		}
		if coverage < rc.cfg.CoverageThreshold {
			dropped = append(dropped, DroppedSymbol{
				Symbol:   symbol,
				Coverage: coverage,
				Reason:   fmt.Sprintf("price coverage %.1f%% below %.1f%%", coverage*100, rc.cfg.CoverageThreshold*100),
			})
			continue
		}
		kept = append(kept, symbol)
	}

	common := make([]string, 0, len(axis))
	for _, d := range axis {
		all := true
		for _, symbol := range kept {
			if _, ok := closes[symbol][d]; !ok {
				all = false
				break
			}
		}
		if all {
			common = append(common, d)
		}
	}

	series := &ReturnSeries{Symbols: kept, Returns: make([][]float64, len(kept))}
	if len(common) > 1 {
		series.Dates = append([]string(nil), common[1:]...)
	}
	for i, symbol := range kept {
		r := make([]float64, 0, len(series.Dates))
		for k := 1; k < len(common); k++ {
			prev := closes[symbol][common[k-1]]
			r = append(r, closes[symbol][common[k]]/prev-1)
		}
		series.Returns[i] = r
	}

	return series, dropped
}

// Calculate estimates annualized expected returns and covariance from aligned returns
func (rc *ReturnsCalculator) Calculate(series *ReturnSeries) (*Statistics, error) {
	n := len(series.Symbols)
	if n == 0 {
		return nil, domain.New(domain.KindInsufficientData, "no symbols with sufficient price coverage")
	}

	obs := len(series.Dates)
	need := rc.cfg.MinObservations
	if n+1 > need {
		need = n + 1
	}
	for i, symbol := range series.Symbols {
		if len(series.Returns[i]) < need {
			return nil, domain.New(domain.KindInsufficientData,
				"%s has %d aligned observations, need at least %d", symbol, len(series.Returns[i]), need)
		}
	}

	ppy := float64(rc.cfg.PeriodsPerYear)
	x := mat.NewDense(obs, n, nil)
	mu := make([]float64, n)
	for j := 0; j < n; j++ {
		x.SetCol(j, series.Returns[j])
		mu[j] = stat.Mean(series.Returns[j], nil) * ppy
	}

	var sample mat.SymDense
	stat.CovarianceMatrix(&sample, x, nil)
	cov := make([][]float64, n)
	for i := 0; i < n; i++ {
		cov[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			cov[i][j] = sample.At(i, j) * ppy
		}
	}

	stats := &Statistics{
		Symbols:         append([]string(nil), series.Symbols...),
		ExpectedReturns: mu,
		Covariance:      cov,
		Observations:    obs,
		Estimator:       EstimatorSample,
		StartDate:       series.Dates[0],
		EndDate:         series.Dates[obs-1],
	}

	if rc.cfg.Estimator == EstimatorLedoitWolf {
		shrunk, shrinkage := applyLedoitWolfShrinkage(cov)
		stats.Covariance = shrunk
		stats.Shrinkage = shrinkage
		stats.Estimator = EstimatorLedoitWolf
	}

	for i := 0; i < n; i++ {
		if math.IsNaN(mu[i]) || math.IsInf(mu[i], 0) {
			return nil, domain.New(domain.KindInvalidInput, "non-finite expected return for %s", stats.Symbols[i])
		}
		for j := 0; j < n; j++ {
			v := stats.Covariance[i][j]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, domain.New(domain.KindInvalidInput, "non-finite covariance for %s/%s", stats.Symbols[i], stats.Symbols[j])
			}
		}
	}

	return stats, nil
}

// applyLedoitWolfShrinkage shrinks a covariance matrix towards the constant
// correlation target (average variance on the diagonal, average covariance off it).
// Intensity is estimated from the data and capped at 0.5.
func applyLedoitWolfShrinkage(sampleCov [][]float64) ([][]float64, float64) {
	n := len(sampleCov)
	if n < 2 {
		return sampleCov, 0
	}

	var avgVar, avgCov float64
	for i := 0; i < n; i++ {
		avgVar += sampleCov[i][i]
		for j := 0; j < n; j++ {
			if i != j {
				avgCov += sampleCov[i][j]
			}
		}
	}
	avgVar /= float64(n)
	avgCov /= float64(n * (n - 1))

	target := func(i, j int) float64 {
		if i == j {
			return avgVar
		}
		if avgVar > 0 {
			return avgCov
		}
		return 0
	}

	shrinkage := 0.2
	if n > 2 && avgVar > 0 {
		var sumSqDiff, sum, sumSq float64
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				diff := sampleCov[i][j] - target(i, j)
				sumSqDiff += diff * diff
				sum += sampleCov[i][j]
				sumSq += sampleCov[i][j] * sampleCov[i][j]
			}
		}
		count := float64(n * n)
		meanSqDiff := sumSqDiff / count
		mean := sum / count
		varSample := sumSq/count - mean*mean

		if varSample > 0 && meanSqDiff > 0 {
			shrinkage = math.Min(0.5, math.Max(0.0, varSample/(varSample+meanSqDiff)))
		}
	}

	shrunk := make([][]float64, n)
	for i := 0; i < n; i++ {
		shrunk[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			shrunk[i][j] = (1-shrinkage)*sampleCov[i][j] + shrinkage*target(i, j)
		}
	}
	return shrunk, shrinkage
}

// Index returns the position of symbol, or -1
func (s *Statistics) Index(symbol string) int {
	for i, sym := range s.Symbols {
		if sym == symbol {
			return i
		}
	}
	return -1
}

// Sigma returns the covariance as a gonum symmetric matrix
func (s *Statistics) Sigma() *mat.SymDense {
	n := len(s.Symbols)
	sigma := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sigma.SetSym(i, j, s.Covariance[i][j])
		}
	}
	return sigma
}

// Volatility returns a symbol's standalone annualized volatility
func (s *Statistics) Volatility(i int) float64 {
	return math.Sqrt(math.Max(s.Covariance[i][i], 0))
}

// Clone returns a deep copy
func (s *Statistics) Clone() *Statistics {
	out := *s
	out.Symbols = append([]string(nil), s.Symbols...)
	out.ExpectedReturns = append([]float64(nil), s.ExpectedReturns...)
	out.Covariance = make([][]float64, len(s.Covariance))
	for i, row := range s.Covariance {
		out.Covariance[i] = append([]float64(nil), row...)
	}
	return &out
}

// HighCorrelations lists symbol pairs whose absolute correlation reaches threshold,
// in symbol order.
func (s *Statistics) HighCorrelations(threshold float64) []CorrelationPair {
	pairs := make([]CorrelationPair, 0)
	n := len(s.Symbols)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			vi, vj := s.Covariance[i][i], s.Covariance[j][j]
			if vi <= 0 || vj <= 0 {
				continue
			}
			corr := s.Covariance[i][j] / math.Sqrt(vi*vj)
			if math.Abs(corr) >= threshold {
				pairs = append(pairs, CorrelationPair{Symbol1: s.Symbols[i], Symbol2: s.Symbols[j], Correlation: corr})
			}
		}
	}
	return pairs
}

// hashSymbols creates a deterministic hash from a list of symbols for cache keys.
// Symbols are sorted so input order does not matter.
func hashSymbols(symbols []string) string {
	sorted := make([]string, len(symbols))
	copy(sorted, symbols)
	sort.Strings(sorted)
	h := sha256.Sum256([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(h[:16])
}
