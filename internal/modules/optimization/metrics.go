package optimization

import (
	"math"

	"github.com/aristath/recommender/internal/domain"
	"github.com/aristath/recommender/pkg/formulas"
	"gonum.org/v1/gonum/mat"
)

// degenerateVolatility is the volatility below which a Sharpe ratio is meaningless
const degenerateVolatility = 1e-12

// Metrics summarize a weight vector
type Metrics struct {
	ExpectedAnnualReturn float64 `json:"expected_annual_return"`
	AnnualVolatility     float64 `json:"annual_volatility"`
	SharpeRatio          float64 `json:"sharpe_ratio"`
	Diversification      int     `json:"diversification"`
}

// CalculateMetrics computes expected return, volatility, Sharpe ratio and holding
// count for weights against stats. Symbols missing from stats are an input error.
func CalculateMetrics(weights map[string]float64, stats *Statistics, riskFreeRate float64) (*Metrics, error) {
	n := len(stats.Symbols)
	w := make([]float64, n)
	held := 0
	for symbol, v := range weights {
		if v <= 0 {
			continue
		}
		i := stats.Index(symbol)
		if i < 0 {
			return nil, domain.New(domain.KindInvalidInput, "no statistics for %s", symbol)
		}
		w[i] = v
		held++
	}

	vec := mat.NewVecDense(n, w)
	expected := mat.Dot(vec, mat.NewVecDense(n, append([]float64(nil), stats.ExpectedReturns...)))
	vol := math.Sqrt(math.Max(mat.Inner(vec, stats.Sigma(), vec), 0))

	sharpe := formulas.SharpeFromMoments(expected, vol, riskFreeRate)
	if vol < degenerateVolatility || sharpe == nil {
		return nil, domain.New(domain.KindDegenerateVolatility,
			"portfolio volatility %.3g is too small for a Sharpe ratio", vol)
	}

	return &Metrics{
		ExpectedAnnualReturn: expected,
		AnnualVolatility:     vol,
		SharpeRatio:          *sharpe,
		Diversification:      held,
	}, nil
}
