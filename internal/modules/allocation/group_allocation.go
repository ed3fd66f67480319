package allocation

import (
	"fmt"
	"math"
	"sort"
)

// WeightTolerance is how far a weight vector's sum may drift from 1
const WeightTolerance = 1e-4

// GroupAllocation represents the weight held in a single sector
type GroupAllocation struct {
	Name     string  `json:"name"`
	Weight   float64 `json:"weight"`
	Cap      float64 `json:"cap,omitempty"`
	Headroom float64 `json:"headroom,omitempty"`
	Holdings int     `json:"holdings"`
}

// SectorAllocation aggregates weights by sector. Symbols without a sector roll up into "OTHER".
func SectorAllocation(weights map[string]float64, sectorOf map[string]string) map[string]float64 {
	out := make(map[string]float64)
	for symbol, w := range weights {
		if w <= 0 {
			continue
		}
		sector := sectorOf[symbol]
		if sector == "" {
			sector = "OTHER"
		}
		out[sector] += w
	}
	return out
}

// SectorBreakdown lists sectors by descending weight (then name), with the cap and
// remaining headroom when caps are given.
func SectorBreakdown(weights map[string]float64, sectorOf map[string]string, caps map[string]float64) []GroupAllocation {
	totals := SectorAllocation(weights, sectorOf)
	counts := make(map[string]int)
	for symbol, w := range weights {
		if w <= 0 {
			continue
		}
		sector := sectorOf[symbol]
		if sector == "" {
			sector = "OTHER"
		}
		counts[sector]++
	}

	groups := make([]GroupAllocation, 0, len(totals))
	for name, w := range totals {
		g := GroupAllocation{Name: name, Weight: round(w, 6), Holdings: counts[name]}
		if c, ok := caps[name]; ok {
			g.Cap = c
			g.Headroom = round(math.Max(0, c-w), 6)
		}
		groups = append(groups, g)
	}

	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Weight != groups[j].Weight {
			return groups[i].Weight > groups[j].Weight
		}
		return groups[i].Name < groups[j].Name
	})
	return groups
}

// NormalizeWeights validates a weight vector and rescales it to sum to exactly 1.
// Weights must be finite and non-negative, with a sum within WeightTolerance of 1.
func NormalizeWeights(weights map[string]float64) (map[string]float64, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("weights are empty")
	}

	symbols := make([]string, 0, len(weights))
	for symbol := range weights {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	sum := 0.0
	for _, symbol := range symbols {
		w := weights[symbol]
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("weight for %s is not finite", symbol)
		}
		if w < 0 {
			return nil, fmt.Errorf("weight for %s is negative (%v)", symbol, w)
		}
		sum += w
	}
	if math.Abs(sum-1) > WeightTolerance {
		return nil, fmt.Errorf("weights sum to %.6f, expected 1", sum)
	}

	out := make(map[string]float64, len(weights))
	for _, symbol := range symbols {
		out[symbol] = weights[symbol] / sum
	}
	return out, nil
}

// round rounds a float64 to n decimal places
func round(val float64, decimals int) float64 {
	multiplier := math.Pow(10, float64(decimals))
	return math.Round(val*multiplier) / multiplier
}
