package optimization

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/aristath/recommender/internal/domain"
)

// RiskTier is a named risk appetite
type RiskTier string

// Risk tiers, ordered from least to most volatile
const (
	TierLow    RiskTier = "low"
	TierMedium RiskTier = "medium"
	TierHigh   RiskTier = "high"
)

// AllTiers lists tiers in ascending order of risk
var AllTiers = []RiskTier{TierLow, TierMedium, TierHigh}

var tierSynonyms = map[string]RiskTier{
	"low":          TierLow,
	"conservative": TierLow,
	"safe":         TierLow,
	"cautious":     TierLow,
	"medium":       TierMedium,
	"moderate":     TierMedium,
	"balanced":     TierMedium,
	"high":         TierHigh,
	"aggressive":   TierHigh,
	"growth":       TierHigh,
}

// ParseRiskTier maps a tier name or synonym to a RiskTier, case-insensitively
func ParseRiskTier(s string) (RiskTier, error) {
	tier, ok := tierSynonyms[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", domain.New(domain.KindInvalidInput, "unknown risk tier %q (expected low, medium or high)", s)
	}
	return tier, nil
}

// DefaultPreferenceBoost raises a preferred sector's cap by this fraction
const DefaultPreferenceBoost = 0.2

// TierPolicy holds the constraint parameters for one tier
type TierPolicy struct {
	TargetVolatility    float64  `json:"target_volatility"`
	VolatilityTolerance float64  `json:"volatility_tolerance"`
	MaxSectorWeight     float64  `json:"max_sector_weight"`
	MinDiversification  int      `json:"min_diversification"`
	PreferredSectors    []string `json:"preferred_sectors,omitempty"`
}

// VolatilityCeiling is the highest acceptable annualized volatility:
// the target widened by the relative tolerance.
func (p TierPolicy) VolatilityCeiling() float64 {
	return p.TargetVolatility * (1 + p.VolatilityTolerance)
}

func (p TierPolicy) clone() TierPolicy {
	p.PreferredSectors = append([]string(nil), p.PreferredSectors...)
	return p
}

// PolicyTable maps every tier to its policy. It is immutable once built.
type PolicyTable struct {
	tiers           map[RiskTier]TierPolicy
	preferenceBoost float64
}

// DefaultPolicyTable returns the built-in tier table
func DefaultPolicyTable() *PolicyTable {
	table, err := NewPolicyTable(map[RiskTier]TierPolicy{
		TierLow: {
			TargetVolatility:    0.15,
			VolatilityTolerance: 0.10,
			MaxSectorWeight:     0.25,
			MinDiversification:  8,
			PreferredSectors:    []string{"Healthcare", "Food & Beverages", "IT"},
		},
		TierMedium: {
			TargetVolatility:    0.22,
			VolatilityTolerance: 0.10,
			MaxSectorWeight:     0.35,
			MinDiversification:  6,
			PreferredSectors:    []string{"Finance", "Engineering", "IT", "Natural Resources"},
		},
		TierHigh: {
			TargetVolatility:    0.35,
			VolatilityTolerance: 0.10,
			MaxSectorWeight:     0.50,
			MinDiversification:  4,
			PreferredSectors:    []string{"Military Engineering", "Pharmaceuticals", "Agriculture"},
		},
	}, DefaultPreferenceBoost)
	if err != nil {
		panic(err)
	}
	return table
}

// NewPolicyTable validates and copies tiers into a table
func NewPolicyTable(tiers map[RiskTier]TierPolicy, preferenceBoost float64) (*PolicyTable, error) {
	table := &PolicyTable{
		tiers:           make(map[RiskTier]TierPolicy, len(tiers)),
		preferenceBoost: preferenceBoost,
	}
	for tier, policy := range tiers {
		table.tiers[tier] = policy.clone()
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

// Validate checks that every tier is present, each policy is well-formed and
// the tiers are monotone: volatility and sector caps rise with risk while the
// diversification requirement falls.
func (t *PolicyTable) Validate() error {
	if t.preferenceBoost < 0 || math.IsNaN(t.preferenceBoost) {
		return fmt.Errorf("preference boost must be non-negative, got %v", t.preferenceBoost)
	}
	for tier := range t.tiers {
		if _, ok := tierSynonyms[string(tier)]; !ok || tierSynonyms[string(tier)] != tier {
			return fmt.Errorf("unknown tier %q in policy table", tier)
		}
	}

	var prev *TierPolicy
	var prevTier RiskTier
	for _, tier := range AllTiers {
		p, ok := t.tiers[tier]
		if !ok {
			return fmt.Errorf("policy table is missing tier %q", tier)
		}
		if !(p.TargetVolatility > 0) {
			return fmt.Errorf("tier %s: target volatility must be positive", tier)
		}
		if p.VolatilityTolerance < 0 || math.IsNaN(p.VolatilityTolerance) {
			return fmt.Errorf("tier %s: volatility tolerance must be non-negative", tier)
		}
		if !(p.MaxSectorWeight > 0 && p.MaxSectorWeight <= 1) {
			return fmt.Errorf("tier %s: max sector weight must be in (0, 1]", tier)
		}
		if p.MinDiversification < 1 {
			return fmt.Errorf("tier %s: min diversification must be at least 1", tier)
		}
		if prev != nil {
			if p.TargetVolatility < prev.TargetVolatility {
				return fmt.Errorf("tier %s target volatility %.4f is below tier %s", tier, p.TargetVolatility, prevTier)
			}
			if p.MaxSectorWeight < prev.MaxSectorWeight {
				return fmt.Errorf("tier %s max sector weight %.4f is below tier %s", tier, p.MaxSectorWeight, prevTier)
			}
			if p.MinDiversification > prev.MinDiversification {
				return fmt.Errorf("tier %s min diversification %d exceeds tier %s", tier, p.MinDiversification, prevTier)
			}
		}
		prev = &p
		prevTier = tier
	}
	return nil
}

// Tier returns a copy of the policy for tier
func (t *PolicyTable) Tier(tier RiskTier) (TierPolicy, bool) {
	p, ok := t.tiers[tier]
	if !ok {
		return TierPolicy{}, false
	}
	return p.clone(), true
}

// PreferenceBoost returns the fractional cap increase for preferred sectors
func (t *PolicyTable) PreferenceBoost() float64 {
	return t.preferenceBoost
}

// TierView is the display form of one tier
type TierView struct {
	Tier              RiskTier `json:"tier"`
	VolatilityCeiling float64  `json:"volatility_ceiling"`
	TierPolicy
}

// Tiers returns every tier in ascending risk order
func (t *PolicyTable) Tiers() []TierView {
	views := make([]TierView, 0, len(AllTiers))
	for _, tier := range AllTiers {
		p := t.tiers[tier].clone()
		views = append(views, TierView{Tier: tier, VolatilityCeiling: p.VolatilityCeiling(), TierPolicy: p})
	}
	return views
}

type policyFile struct {
	PreferenceBoost *float64              `json:"preference_boost"`
	Tiers           map[string]TierPolicy `json:"tiers"`
}

// LoadPolicyTable reads a JSON policy file:
//
//	{"preference_boost": 0.2, "tiers": {"low": {...}, "medium": {...}, "high": {...}}}
func LoadPolicyTable(path string) (*PolicyTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var file policyFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}

	tiers := make(map[RiskTier]TierPolicy, len(file.Tiers))
	for name, policy := range file.Tiers {
		tier, err := ParseRiskTier(name)
		if err != nil {
			return nil, fmt.Errorf("policy file %s: %w", path, err)
		}
		if _, dup := tiers[tier]; dup {
			return nil, fmt.Errorf("policy file %s: tier %s defined twice", path, tier)
		}
		tiers[tier] = policy
	}

	boost := DefaultPreferenceBoost
	if file.PreferenceBoost != nil {
		boost = *file.PreferenceBoost
	}

	table, err := NewPolicyTable(tiers, boost)
	if err != nil {
		return nil, fmt.Errorf("policy file %s: %w", path, err)
	}
	return table, nil
}
