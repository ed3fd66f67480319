package optimization

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aristath/recommender/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRiskTier(t *testing.T) {
	tests := []struct {
		input string
		want  RiskTier
	}{
		{"low", TierLow},
		{"Conservative", TierLow},
		{" medium ", TierMedium},
		{"balanced", TierMedium},
		{"HIGH", TierHigh},
		{"aggressive", TierHigh},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseRiskTier(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseRiskTier("yolo")
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))
}

func TestDefaultPolicyTable(t *testing.T) {
	table := DefaultPolicyTable()
	require.NoError(t, table.Validate())

	low, ok := table.Tier(TierLow)
	require.True(t, ok)
	assert.Equal(t, 0.15, low.TargetVolatility)
	assert.InDelta(t, 0.165, low.VolatilityCeiling(), 1e-12)
	assert.Equal(t, 0.25, low.MaxSectorWeight)
	assert.Equal(t, 8, low.MinDiversification)

	high, ok := table.Tier(TierHigh)
	require.True(t, ok)
	assert.Equal(t, 4, high.MinDiversification)
	assert.Equal(t, 0.5, high.MaxSectorWeight)

	views := table.Tiers()
	require.Len(t, views, 3)
	assert.Equal(t, TierLow, views[0].Tier)
	assert.Equal(t, TierHigh, views[2].Tier)
	assert.InDelta(t, 0.385, views[2].VolatilityCeiling, 1e-12)
	assert.Equal(t, DefaultPreferenceBoost, table.PreferenceBoost())
}

func TestPolicyTable_TierReturnsCopy(t *testing.T) {
	table := DefaultPolicyTable()
	low, _ := table.Tier(TierLow)
	low.PreferredSectors[0] = "Changed"
	low.MinDiversification = 1

	again, _ := table.Tier(TierLow)
	assert.Equal(t, "Healthcare", again.PreferredSectors[0])
	assert.Equal(t, 8, again.MinDiversification)
}

func validTiers() map[RiskTier]TierPolicy {
	return map[RiskTier]TierPolicy{
		TierLow:    {TargetVolatility: 0.1, VolatilityTolerance: 0.1, MaxSectorWeight: 0.3, MinDiversification: 8},
		TierMedium: {TargetVolatility: 0.2, VolatilityTolerance: 0.1, MaxSectorWeight: 0.4, MinDiversification: 6},
		TierHigh:   {TargetVolatility: 0.3, VolatilityTolerance: 0.1, MaxSectorWeight: 0.5, MinDiversification: 4},
	}
}

func TestNewPolicyTable_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[RiskTier]TierPolicy)
		boost  float64
	}{
		{"missing tier", func(m map[RiskTier]TierPolicy) { delete(m, TierMedium) }, 0.2},
		{"zero volatility", func(m map[RiskTier]TierPolicy) {
			p := m[TierLow]
			p.TargetVolatility = 0
			m[TierLow] = p
		}, 0.2},
		{"sector cap above one", func(m map[RiskTier]TierPolicy) {
			p := m[TierHigh]
			p.MaxSectorWeight = 1.5
			m[TierHigh] = p
		}, 0.2},
		{"volatility not monotone", func(m map[RiskTier]TierPolicy) {
			p := m[TierHigh]
			p.TargetVolatility = 0.15
			m[TierHigh] = p
		}, 0.2},
		{"diversification not monotone", func(m map[RiskTier]TierPolicy) {
			p := m[TierHigh]
			p.MinDiversification = 10
			m[TierHigh] = p
		}, 0.2},
		{"negative boost", func(map[RiskTier]TierPolicy) {}, -0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tiers := validTiers()
			tt.mutate(tiers)
			_, err := NewPolicyTable(tiers, tt.boost)
			assert.Error(t, err)
		})
	}

	_, err := NewPolicyTable(validTiers(), 0)
	assert.NoError(t, err)
}

func TestNewPolicyTable_ComparesAdjacentTiers(t *testing.T) {
	tiers := validTiers()
	high := tiers[TierHigh]
	high.MaxSectorWeight = tiers[TierMedium].MaxSectorWeight - 0.01
	tiers[TierHigh] = high

	_, err := NewPolicyTable(tiers, 0.2)
	assert.ErrorContains(t, err, "is below tier medium")

	// equal neighbours are allowed
	tiers = validTiers()
	medium := tiers[TierMedium]
	medium.TargetVolatility = tiers[TierLow].TargetVolatility
	tiers[TierMedium] = medium
	_, err = NewPolicyTable(tiers, 0.2)
	assert.NoError(t, err)
}

func TestLoadPolicyTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	content := `{
  "preference_boost": 0.1,
  "tiers": {
    "conservative": {"target_volatility": 0.12, "volatility_tolerance": 0.05, "max_sector_weight": 0.2, "min_diversification": 10},
    "medium": {"target_volatility": 0.2, "volatility_tolerance": 0.1, "max_sector_weight": 0.35, "min_diversification": 6, "preferred_sectors": ["IT"]},
    "high": {"target_volatility": 0.3, "volatility_tolerance": 0.1, "max_sector_weight": 0.5, "min_diversification": 4}
  }
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	table, err := LoadPolicyTable(path)
	require.NoError(t, err)
	assert.Equal(t, 0.1, table.PreferenceBoost())

	low, ok := table.Tier(TierLow)
	require.True(t, ok)
	assert.Equal(t, 10, low.MinDiversification)
	assert.InDelta(t, 0.126, low.VolatilityCeiling(), 1e-12)

	medium, _ := table.Tier(TierMedium)
	assert.Equal(t, []string{"IT"}, medium.PreferredSectors)
}

func TestLoadPolicyTable_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadPolicyTable(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"tiers": {"extreme": {}}}`), 0644))
	_, err = LoadPolicyTable(bad)
	assert.Error(t, err)

	dup := filepath.Join(dir, "dup.json")
	require.NoError(t, os.WriteFile(dup, []byte(`{"tiers": {"low": {}, "safe": {}}}`), 0644))
	_, err = LoadPolicyTable(dup)
	assert.ErrorContains(t, err, "defined twice")
}
