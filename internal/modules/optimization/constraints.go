package optimization

import (
	"math"
	"sort"
	"strings"

	"github.com/aristath/recommender/internal/domain"
	"github.com/aristath/recommender/internal/modules/universe"
	"github.com/rs/zerolog"
)

// Preference sources recorded on a ConstraintSet
const (
	PreferenceSourceRequest = "request"
	PreferenceSourceTier    = "tier_default"
)

// HorizonPolicy adjusts a tier's policy for the investment horizon
type HorizonPolicy interface {
	Adjust(tier RiskTier, horizonYears float64, policy TierPolicy) TierPolicy
}

// NoHorizonAdjustment leaves the policy unchanged; horizon only informs the rationale
type NoHorizonAdjustment struct{}

// Adjust returns policy unchanged
func (NoHorizonAdjustment) Adjust(_ RiskTier, _ float64, policy TierPolicy) TierPolicy {
	return policy
}

// PolicyRequest carries everything needed to build constraints for one call
type PolicyRequest struct {
	Tier              RiskTier
	HorizonYears      float64
	SectorPreferences []string
	ExcludeSymbols    []string
	Universe          []universe.Security
}

// ConstraintSet is the resolved, immutable constraint set for one optimization
type ConstraintSet struct {
	tier               RiskTier
	horizonYears       float64
	targetVolatility   float64
	volatilityCeiling  float64
	baseSectorCap      float64
	sectorCaps         map[string]float64
	minDiversification int
	allowed            []string
	preferred          map[string]bool
	sectorOf           map[string]string
	excluded           []string
	ignoredPreferences []string
	preferenceSource   string
}

// Tier returns the resolved tier
func (c *ConstraintSet) Tier() RiskTier { return c.tier }

// HorizonYears returns the investment horizon
func (c *ConstraintSet) HorizonYears() float64 { return c.horizonYears }

// TargetVolatility returns the tier's volatility target
func (c *ConstraintSet) TargetVolatility() float64 { return c.targetVolatility }

// VolatilityCeiling returns the target widened by its tolerance
func (c *ConstraintSet) VolatilityCeiling() float64 { return c.volatilityCeiling }

// BaseSectorCap returns the tier's sector cap before preference tilts
func (c *ConstraintSet) BaseSectorCap() float64 { return c.baseSectorCap }

// MinDiversification returns the minimum number of holdings
func (c *ConstraintSet) MinDiversification() int { return c.minDiversification }

// PreferenceSource reports whether preferences came from the request or the tier defaults
func (c *ConstraintSet) PreferenceSource() string { return c.preferenceSource }

// Allowed returns the allowed symbols in ascending order
func (c *ConstraintSet) Allowed() []string {
	return append([]string(nil), c.allowed...)
}

// Excluded returns the excluded symbols in ascending order
func (c *ConstraintSet) Excluded() []string {
	return append([]string(nil), c.excluded...)
}

// IgnoredPreferences returns requested sectors absent from the universe
func (c *ConstraintSet) IgnoredPreferences() []string {
	return append([]string(nil), c.ignoredPreferences...)
}

// SectorCaps returns sector -> cap for sectors with allowed symbols
func (c *ConstraintSet) SectorCaps() map[string]float64 {
	out := make(map[string]float64, len(c.sectorCaps))
	for k, v := range c.sectorCaps {
		out[k] = v
	}
	return out
}

// SectorCap returns the cap for one sector
func (c *ConstraintSet) SectorCap(sector string) float64 {
	return c.sectorCaps[sector]
}

// SectorOf returns symbol -> sector for allowed symbols
func (c *ConstraintSet) SectorOf() map[string]string {
	out := make(map[string]string, len(c.sectorOf))
	for k, v := range c.sectorOf {
		out[k] = v
	}
	return out
}

// Sector returns the sector of one symbol
func (c *ConstraintSet) Sector(symbol string) string {
	return c.sectorOf[symbol]
}

// IsPreferred reports whether sector is preferred
func (c *ConstraintSet) IsPreferred(sector string) bool {
	return c.preferred[sector]
}

// PreferredSectors returns the preferred sectors present in the universe, sorted
func (c *ConstraintSet) PreferredSectors() []string {
	out := make([]string, 0, len(c.preferred))
	for s := range c.preferred {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Sectors returns the sectors of allowed symbols, sorted
func (c *ConstraintSet) Sectors() []string {
	out := make([]string, 0, len(c.sectorCaps))
	for s := range c.sectorCaps {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// WithoutSymbols returns a copy with symbols removed from the allowed set.
// Used when price data rules symbols out after the policy was built.
func (c *ConstraintSet) WithoutSymbols(symbols []string) *ConstraintSet {
	if len(symbols) == 0 {
		return c
	}
	remove := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		remove[s] = true
	}

	out := *c
	out.allowed = make([]string, 0, len(c.allowed))
	out.sectorOf = make(map[string]string, len(c.sectorOf))
	for _, s := range c.allowed {
		if remove[s] {
			continue
		}
		out.allowed = append(out.allowed, s)
		out.sectorOf[s] = c.sectorOf[s]
	}
	out.sectorCaps = make(map[string]float64, len(c.sectorCaps))
	for _, sector := range out.sectorOf {
		out.sectorCaps[sector] = c.sectorCaps[sector]
	}
	return &out
}

// ConstraintsManager resolves requests against the policy table
type ConstraintsManager struct {
	table   *PolicyTable
	horizon HorizonPolicy
	log     zerolog.Logger
}

// NewConstraintsManager creates a constraints manager. horizon may be nil.
func NewConstraintsManager(table *PolicyTable, horizon HorizonPolicy, log zerolog.Logger) *ConstraintsManager {
	if horizon == nil {
		horizon = NoHorizonAdjustment{}
	}
	return &ConstraintsManager{
		table:   table,
		horizon: horizon,
		log:     log.With().Str("component", "constraints_manager").Logger(),
	}
}

// Table returns the policy table
func (cm *ConstraintsManager) Table() *PolicyTable {
	return cm.table
}

// BuildConstraints resolves tier, exclusions and preferences into a ConstraintSet
func (cm *ConstraintsManager) BuildConstraints(req PolicyRequest) (*ConstraintSet, error) {
	policy, ok := cm.table.Tier(req.Tier)
	if !ok {
		return nil, domain.New(domain.KindInvalidInput, "unknown risk tier %q", req.Tier)
	}
	if math.IsNaN(req.HorizonYears) || math.IsInf(req.HorizonYears, 0) || req.HorizonYears <= 0 {
		return nil, domain.New(domain.KindInvalidInput, "horizon must be a positive number of years, got %v", req.HorizonYears)
	}
	if len(req.Universe) == 0 {
		return nil, domain.New(domain.KindInsufficientData, "universe is empty")
	}

	policy = cm.horizon.Adjust(req.Tier, req.HorizonYears, policy)

	universeSector := make(map[string]string, len(req.Universe))
	sectorNames := make(map[string]string)
	for _, sec := range req.Universe {
		universeSector[sec.Symbol] = sec.Sector
		sectorNames[strings.ToLower(sec.Sector)] = sec.Sector
	}

	excluded := make(map[string]bool, len(req.ExcludeSymbols))
	for _, raw := range req.ExcludeSymbols {
		symbol := strings.ToUpper(strings.TrimSpace(raw))
		if symbol == "" {
			continue
		}
		if _, known := universeSector[symbol]; !known {
			return nil, domain.New(domain.KindInvalidExclusion, "cannot exclude unknown symbol %q", raw)
		}
		excluded[symbol] = true
	}

	cs := &ConstraintSet{
		tier:               req.Tier,
		horizonYears:       req.HorizonYears,
		targetVolatility:   policy.TargetVolatility,
		volatilityCeiling:  policy.VolatilityCeiling(),
		baseSectorCap:      policy.MaxSectorWeight,
		minDiversification: policy.MinDiversification,
		sectorOf:           make(map[string]string, len(universeSector)),
		sectorCaps:         make(map[string]float64),
		preferred:          make(map[string]bool),
	}

	for symbol, sector := range universeSector {
		if excluded[symbol] {
			cs.excluded = append(cs.excluded, symbol)
			continue
		}
		cs.allowed = append(cs.allowed, symbol)
		cs.sectorOf[symbol] = sector
	}
	sort.Strings(cs.allowed)
	sort.Strings(cs.excluded)

	if len(cs.allowed) < policy.MinDiversification && len(universeSector) >= policy.MinDiversification {
		return nil, domain.New(domain.KindInvalidExclusion,
			"excluding %d symbols leaves %d, but the %s tier requires at least %d holdings",
			len(cs.excluded), len(cs.allowed), req.Tier, policy.MinDiversification)
	}

	if err := checkEmptiedSectors(universeSector, cs.sectorOf, policy.MaxSectorWeight); err != nil {
		return nil, err
	}

	requested := req.SectorPreferences
	cs.preferenceSource = PreferenceSourceRequest
	if len(requested) == 0 {
		requested = policy.PreferredSectors
		cs.preferenceSource = PreferenceSourceTier
	}
	for _, raw := range requested {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		sector, ok := sectorNames[strings.ToLower(name)]
		if !ok {
			if cs.preferenceSource == PreferenceSourceRequest {
				cs.ignoredPreferences = append(cs.ignoredPreferences, name)
			}
			continue
		}
		cs.preferred[sector] = true
	}
	sort.Strings(cs.ignoredPreferences)

	boosted := math.Min(1, policy.MaxSectorWeight*(1+cm.table.PreferenceBoost()))
	for _, sector := range cs.sectorOf {
		if cs.preferred[sector] {
			cs.sectorCaps[sector] = boosted
		} else {
			cs.sectorCaps[sector] = policy.MaxSectorWeight
		}
	}

	if len(cs.ignoredPreferences) > 0 {
		cm.log.Debug().Strs("sectors", cs.ignoredPreferences).Msg("Ignoring preferences for sectors outside the universe")
	}

	return cs, nil
}

// checkEmptiedSectors rejects exclusions that remove every symbol of a sector
// when the remaining sectors can no longer hold a fully invested portfolio
// under the cap, although the full universe could.
func checkEmptiedSectors(universeSector, allowedSector map[string]string, sectorCap float64) error {
	all := distinctSectors(universeSector)
	remaining := distinctSectors(allowedSector)

	var emptied []string
	for _, sector := range all {
		if !containsString(remaining, sector) {
			emptied = append(emptied, sector)
		}
	}
	if len(emptied) == 0 {
		return nil
	}

	const eps = 1e-9
	fullCapacity := float64(len(all)) * sectorCap
	capacity := float64(len(remaining)) * sectorCap
	if fullCapacity >= 1-eps && capacity < 1-eps {
		return domain.New(domain.KindInvalidExclusion,
			"excluding every symbol in %s leaves %d sectors, which cannot hold 100%% at a %.0f%% sector cap",
			strings.Join(emptied, ", "), len(remaining), sectorCap*100)
	}
	return nil
}

func distinctSectors(sectorOf map[string]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, sector := range sectorOf {
		if !seen[sector] {
			seen[sector] = true
			out = append(out, sector)
		}
	}
	sort.Strings(out)
	return out
}

func containsString(sorted []string, s string) bool {
	i := sort.SearchStrings(sorted, s)
	return i < len(sorted) && sorted[i] == s
}
