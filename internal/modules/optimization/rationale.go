package optimization

import (
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/aristath/recommender/internal/modules/allocation"
)

const topHoldings = 10

// Horizon buckets used for rationale context
const (
	shortHorizonYears = 3
	longHorizonYears  = 7
)

var backoffMessages = map[string]string{
	StepVolatilityBandRelaxed: "Volatility target relaxed to meet diversification floor",
	StepSectorCapRelaxed:      "Sector cap relaxed to meet diversification floor",
}

const rationaleTemplate = `{{.TierTitle}} risk profile over {{.Horizon}} years ({{.HorizonNote}}).
Target volatility {{pct .Target}} (ceiling {{pct .Ceiling}}), sector cap {{pct .SectorCap}}, at least {{.MinDiversification}} holdings.
Expected annual return {{pct .Metrics.ExpectedAnnualReturn}}, volatility {{pct .Metrics.AnnualVolatility}}, Sharpe ratio {{printf "%.2f" .Metrics.SharpeRatio}} across {{.Metrics.Diversification}} holdings.
Top holdings:
{{- range .Top}}
  - {{.Symbol}} ({{.Sector}}): {{pct .Weight}}
{{- end}}
Sector allocation:
{{- range .Sectors}}
  - {{.Name}}: {{pct .Weight}}{{if .Cap}} of {{pct .Cap}} cap{{end}}
{{- end}}
{{- if .Preferred}}
Preferred sectors ({{.PreferenceSource}}): {{join .Preferred ", "}}.
{{- end}}
{{- if .Ignored}}
Ignored preferences not in the universe: {{join .Ignored ", "}}.
{{- end}}
{{- if .Excluded}}
Excluded: {{join .Excluded ", "}}.
{{- end}}
{{- if .Forced}}
Held at the diversification floor: {{join .Forced ", "}}.
{{- end}}
{{- range .Dropped}}
Dropped {{.Symbol}}: {{.Reason}}.
{{- end}}
{{- range .Correlated}}
{{.Symbol1}} and {{.Symbol2}} are highly correlated ({{printf "%.2f" .Correlation}}).
{{- end}}
{{- range .Backoff}}
{{.}}.
{{- end}}
`

// RationaleInput is everything the rationale describes
type RationaleInput struct {
	Constraints *ConstraintSet
	Metrics     *Metrics
	Weights     map[string]float64
	Sectors     []allocation.GroupAllocation
	Statistics  *Statistics
	Dropped     []DroppedSymbol
	Solution    *Solution
}

type holdingLine struct {
	Symbol string
	Sector string
	Weight float64
}

type rationaleData struct {
	TierTitle          string
	Horizon            string
	HorizonNote        string
	Target             float64
	Ceiling            float64
	SectorCap          float64
	MinDiversification int
	Metrics            *Metrics
	Top                []holdingLine
	Sectors            []allocation.GroupAllocation
	Preferred          []string
	PreferenceSource   string
	Ignored            []string
	Excluded           []string
	Forced             []string
	Dropped            []DroppedSymbol
	Correlated         []CorrelationPair
	Backoff            []string
}

// RationaleBuilder renders a deterministic plain-text explanation of a recommendation
type RationaleBuilder struct {
	tmpl *template.Template
}

// NewRationaleBuilder parses the rationale template
func NewRationaleBuilder() *RationaleBuilder {
	funcs := template.FuncMap{
		"pct":  func(v float64) string { return fmt.Sprintf("%.1f%%", v*100) },
		"join": strings.Join,
	}
	return &RationaleBuilder{
		tmpl: template.Must(template.New("rationale").Funcs(funcs).Parse(rationaleTemplate)),
	}
}

// Build renders the rationale
func (rb *RationaleBuilder) Build(in RationaleInput) (string, error) {
	cs := in.Constraints
	tier := string(cs.Tier())

	data := rationaleData{
		TierTitle:          strings.ToUpper(tier[:1]) + tier[1:],
		Horizon:            strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.1f", cs.HorizonYears()), "0"), "."),
		HorizonNote:        horizonNote(cs.HorizonYears()),
		Target:             cs.TargetVolatility(),
		Ceiling:            cs.VolatilityCeiling(),
		SectorCap:          cs.BaseSectorCap(),
		MinDiversification: cs.MinDiversification(),
		Metrics:            in.Metrics,
		Sectors:            in.Sectors,
		Preferred:          cs.PreferredSectors(),
		PreferenceSource:   strings.ReplaceAll(cs.PreferenceSource(), "_", " "),
		Ignored:            cs.IgnoredPreferences(),
		Excluded:           cs.Excluded(),
		Dropped:            in.Dropped,
	}

	holdings := make([]holdingLine, 0, len(in.Weights))
	for symbol, w := range in.Weights {
		if w > 0 {
			holdings = append(holdings, holdingLine{Symbol: symbol, Sector: cs.Sector(symbol), Weight: w})
		}
	}
	sort.Slice(holdings, func(i, j int) bool {
		if holdings[i].Weight != holdings[j].Weight {
			return holdings[i].Weight > holdings[j].Weight
		}
		return holdings[i].Symbol < holdings[j].Symbol
	})
	if len(holdings) > topHoldings {
		holdings = holdings[:topHoldings]
	}
	data.Top = holdings

	if in.Statistics != nil {
		for _, pair := range in.Statistics.HighCorrelations(HighCorrelationThreshold) {
			if in.Weights[pair.Symbol1] > 0 && in.Weights[pair.Symbol2] > 0 {
				data.Correlated = append(data.Correlated, pair)
			}
		}
	}

	if in.Solution != nil {
		data.Forced = in.Solution.Forced
		for _, step := range in.Solution.Backoff {
			msg := backoffMessages[step.Step]
			if step.Reason != "" {
				msg += " (" + step.Reason + ")"
			}
			data.Backoff = append(data.Backoff, msg)
		}
	}

	var sb strings.Builder
	if err := rb.tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render rationale: %w", err)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func horizonNote(years float64) string {
	switch {
	case years <= shortHorizonYears:
		return "short horizon, conservative positioning recommended"
	case years >= longHorizonYears:
		return "long horizon, can absorb volatility"
	default:
		return "medium horizon"
	}
}
