package allocation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSectorAllocation(t *testing.T) {
	weights := map[string]float64{"AAPL": 0.3, "MSFT": 0.2, "KO": 0.5, "XYZ": 0, "ZZZ": 0.0}
	sectorOf := map[string]string{"AAPL": "IT", "MSFT": "IT", "KO": "Food & Beverages"}

	result := SectorAllocation(weights, sectorOf)
	assert.InDelta(t, 0.5, result["IT"], 1e-12)
	assert.InDelta(t, 0.5, result["Food & Beverages"], 1e-12)
	assert.NotContains(t, result, "OTHER")
}

func TestSectorAllocation_UnknownSectorIsOther(t *testing.T) {
	result := SectorAllocation(map[string]float64{"AAPL": 0.4, "NEW": 0.6}, map[string]string{"AAPL": "IT"})
	assert.InDelta(t, 0.6, result["OTHER"], 1e-12)
}

func TestSectorBreakdown(t *testing.T) {
	weights := map[string]float64{"AAPL": 0.2, "MSFT": 0.15, "KO": 0.35, "JPM": 0.3}
	sectorOf := map[string]string{"AAPL": "IT", "MSFT": "IT", "KO": "Food & Beverages", "JPM": "Finance"}
	caps := map[string]float64{"IT": 0.35, "Food & Beverages": 0.42, "Finance": 0.35}

	groups := SectorBreakdown(weights, sectorOf, caps)
	require.Len(t, groups, 3)

	// IT and Food & Beverages tie at 0.35; name breaks the tie
	assert.Equal(t, "Food & Beverages", groups[0].Name)
	assert.Equal(t, "IT", groups[1].Name)
	assert.Equal(t, 2, groups[1].Holdings)
	assert.InDelta(t, 0.0, groups[1].Headroom, 1e-9)
	assert.InDelta(t, 0.07, groups[0].Headroom, 1e-9)
	assert.Equal(t, "Finance", groups[2].Name)
}

func TestNormalizeWeights(t *testing.T) {
	out, err := NormalizeWeights(map[string]float64{"A": 0.50003, "B": 0.5})
	require.NoError(t, err)

	sum := 0.0
	for _, w := range out {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-15)
	assert.Greater(t, out["A"], out["B"])
}

func TestNormalizeWeights_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		weights map[string]float64
	}{
		{"empty", map[string]float64{}},
		{"negative", map[string]float64{"A": 1.1, "B": -0.1}},
		{"sum too low", map[string]float64{"A": 0.4, "B": 0.4}},
		{"sum too high", map[string]float64{"A": 0.6, "B": 0.6}},
		{"nan", map[string]float64{"A": math.NaN(), "B": 1}},
		{"inf", map[string]float64{"A": math.Inf(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeWeights(tt.weights)
			assert.Error(t, err)
		})
	}
}
