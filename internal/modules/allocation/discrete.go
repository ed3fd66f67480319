// Package allocation converts target weights into whole-share purchases and
// rolls weights up by sector.
package allocation

import (
	"sort"

	"github.com/aristath/recommender/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Line is the purchase for one symbol
type Line struct {
	Symbol       string          `json:"symbol"`
	Shares       int64           `json:"shares"`
	Price        decimal.Decimal `json:"price"`
	Value        decimal.Decimal `json:"value"`
	TargetWeight float64         `json:"target_weight"`
	ActualWeight float64         `json:"actual_weight"`
}

// Result is a discrete allocation. Spent + Leftover == Budget exactly.
type Result struct {
	Shares   map[string]int64 `json:"shares"`
	Lines    []Line           `json:"lines"`
	Budget   decimal.Decimal  `json:"budget"`
	Spent    decimal.Decimal  `json:"spent"`
	Leftover decimal.Decimal  `json:"leftover"`
}

// DiscreteAllocator turns weights into integer share counts under a budget
type DiscreteAllocator struct {
	log zerolog.Logger
}

// NewDiscreteAllocator creates a new discrete allocator
func NewDiscreteAllocator(log zerolog.Logger) *DiscreteAllocator {
	return &DiscreteAllocator{log: log.With().Str("component", "discrete_allocator").Logger()}
}

// Allocate buys floor(weight × budget / price) shares of each symbol, then spends
// the remainder one share at a time on the affordable symbol furthest below its
// target, ties broken by symbol, until nothing affordable remains.
func (a *DiscreteAllocator) Allocate(weights map[string]float64, budget decimal.Decimal, prices map[string]decimal.Decimal) (*Result, error) {
	if !budget.IsPositive() {
		return nil, domain.New(domain.KindInvalidInput, "budget must be positive, got %s", budget)
	}

	normalized, err := NormalizeWeights(weights)
	if err != nil {
		return nil, domain.Wrap(domain.KindInvalidInput, err, "invalid weights")
	}

	var symbols []string
	for symbol, w := range normalized {
		if w > 0 {
			symbols = append(symbols, symbol)
		}
	}
	sort.Strings(symbols)
	if len(symbols) == 0 {
		return nil, domain.New(domain.KindInvalidInput, "no symbol has a positive weight")
	}

	cheapest := decimal.Zero
	for i, symbol := range symbols {
		price, ok := prices[symbol]
		if !ok {
			return nil, domain.New(domain.KindInvalidInput, "no price for %s", symbol)
		}
		if !price.IsPositive() {
			return nil, domain.New(domain.KindInvalidInput, "price for %s must be positive, got %s", symbol, price)
		}
		if i == 0 || price.LessThan(cheapest) {
			cheapest = price
		}
	}
	if budget.LessThan(cheapest) {
		return nil, domain.New(domain.KindBudgetTooSmall,
			"budget %s cannot buy a single share (cheapest eligible price is %s)", budget.StringFixed(2), cheapest.StringFixed(2))
	}

	target := make(map[string]decimal.Decimal, len(symbols))
	shares := make(map[string]int64, len(symbols))
	spent := decimal.Zero
	for _, symbol := range symbols {
		target[symbol] = decimal.NewFromFloat(normalized[symbol]).Mul(budget)
		q, _ := target[symbol].QuoRem(prices[symbol], 0)
		shares[symbol] = q.IntPart()
		spent = spent.Add(q.Mul(prices[symbol]))
	}

	// float weights can sum a hair above 1; give back shares until within budget
	for spent.GreaterThan(budget) {
		symbol := pickSymbol(symbols, func(s string) (decimal.Decimal, bool) {
			if shares[s] == 0 {
				return decimal.Zero, false
			}
			held := decimal.NewFromInt(shares[s]).Mul(prices[s])
			return held.Sub(target[s]), true
		})
		shares[symbol]--
		spent = spent.Sub(prices[symbol])
	}

	for {
		leftover := budget.Sub(spent)
		symbol := pickSymbol(symbols, func(s string) (decimal.Decimal, bool) {
			if prices[s].GreaterThan(leftover) {
				return decimal.Zero, false
			}
			held := decimal.NewFromInt(shares[s]).Mul(prices[s])
			return target[s].Sub(held), true
		})
		if symbol == "" {
			break
		}
		shares[symbol]++
		spent = spent.Add(prices[symbol])
	}

	result := &Result{
		Shares:   shares,
		Lines:    make([]Line, 0, len(symbols)),
		Budget:   budget,
		Spent:    spent,
		Leftover: budget.Sub(spent),
	}
	for _, symbol := range symbols {
		value := decimal.NewFromInt(shares[symbol]).Mul(prices[symbol])
		actual, _ := value.Div(budget).Float64()
		result.Lines = append(result.Lines, Line{
			Symbol:       symbol,
			Shares:       shares[symbol],
			Price:        prices[symbol],
			Value:        value,
			TargetWeight: normalized[symbol],
			ActualWeight: actual,
		})
	}

	a.log.Debug().
		Int("symbols", len(symbols)).
		Str("budget", budget.String()).
		Str("spent", result.Spent.String()).
		Str("leftover", result.Leftover.String()).
		Msg("Discrete allocation completed")

	return result, nil
}

// pickSymbol returns the eligible symbol with the largest score, earliest symbol on ties,
// or "" when none is eligible. symbols must be sorted.
func pickSymbol(symbols []string, score func(string) (decimal.Decimal, bool)) string {
	best := ""
	var bestScore decimal.Decimal
	for _, s := range symbols {
		v, ok := score(s)
		if !ok {
			continue
		}
		if best == "" || v.GreaterThan(bestScore) {
			best, bestScore = s, v
		}
	}
	return best
}
