package formulas

import (
	"math"
)

// CalculateSharpeRatio calculates the annualized Sharpe ratio of periodic returns.
//
//	Sharpe = (mean - rf/periodsPerYear) / stddev * sqrt(periodsPerYear)
//
// Returns nil when there is not enough data or the returns have no dispersion.
func CalculateSharpeRatio(returns []float64, riskFreeRate float64, periodsPerYear int) *float64 {
	if len(returns) < 2 || periodsPerYear <= 0 {
		return nil
	}

	stdDev := StdDev(returns)
	if stdDev == 0 {
		return nil
	}

	periodicRiskFree := riskFreeRate / float64(periodsPerYear)
	sharpe := (Mean(returns) - periodicRiskFree) / stdDev
	annualized := sharpe * math.Sqrt(float64(periodsPerYear))

	return &annualized
}

// SharpeFromMoments computes a Sharpe ratio from an already annualized
// return and volatility. Returns nil when volatility is not positive.
func SharpeFromMoments(annualReturn, annualVolatility, riskFreeRate float64) *float64 {
	if annualVolatility <= 0 || math.IsNaN(annualVolatility) {
		return nil
	}
	sharpe := (annualReturn - riskFreeRate) / annualVolatility
	return &sharpe
}
