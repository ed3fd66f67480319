package testing

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// SecurityFixture is a symbol with its sector label.
type SecurityFixture struct {
	Symbol string
	Name   string
	Sector string
}

// NewSecurityFixtures returns a 22-symbol universe over nine sectors.
func NewSecurityFixtures() []SecurityFixture {
	return []SecurityFixture{
		{"AAPL", "Apple Inc.", "IT"},
		{"MSFT", "Microsoft Corporation", "IT"},
		{"CSCO", "Cisco Systems", "IT"},
		{"DDOG", "Datadog", "IT"},
		{"JPM", "JPMorgan Chase", "Finance"},
		{"MS", "Morgan Stanley", "Finance"},
		{"IBKR", "Interactive Brokers", "Finance"},
		{"MSCI", "MSCI Inc.", "Finance"},
		{"HUM", "Humana", "Healthcare"},
		{"PFE", "Pfizer", "Healthcare"},
		{"BA", "Boeing", "Military Engineering"},
		{"LMT", "Lockheed Martin", "Military Engineering"},
		{"AGCO", "AGCO Corporation", "Agriculture"},
		{"BG", "Bunge Global", "Agriculture"},
		{"CALM", "Cal-Maine Foods", "Agriculture"},
		{"DE", "Deere & Company", "Agriculture"},
		{"GRWG", "GrowGeneration", "Agriculture"},
		{"CAT", "Caterpillar", "Engineering"},
		{"IEX", "IDEX Corporation", "Engineering"},
		{"CVX", "Chevron", "Natural Resources"},
		{"KO", "Coca-Cola", "Food & Beverages"},
		{"ADAP", "Adaptimmune", "Pharmaceuticals"},
	}
}

// PriceSeries is a wide table of closes: Closes[symbol][i] is the close on Dates[i].
type PriceSeries struct {
	Dates  []string
	Closes map[string][]float64
}

// TradingDates returns n consecutive weekdays starting at 2023-01-02, formatted YYYY-MM-DD.
func TradingDates(n int) []string {
	dates := make([]string, 0, n)
	d := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	for len(dates) < n {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			dates = append(dates, d.Format("2006-01-02"))
		}
		d = d.AddDate(0, 0, 1)
	}
	return dates
}

// GeneratePrices produces deterministic geometric random walks for symbols.
// Each symbol gets its own drift and volatility derived from its position, plus a
// shared market factor, so the covariance matrix is dense and well conditioned.
func GeneratePrices(symbols []string, days int, seed int64) PriceSeries {
	rng := rand.New(rand.NewSource(seed))
	dates := TradingDates(days)

	series := PriceSeries{
		Dates:  dates,
		Closes: make(map[string][]float64, len(symbols)),
	}

	closes := make([][]float64, len(symbols))
	for i := range symbols {
		closes[i] = make([]float64, days)
		closes[i][0] = 50 + float64(10*i%200)
	}

	for t := 1; t < days; t++ {
		market := rng.NormFloat64() * 0.006
		for i := range symbols {
			drift := 0.0001 + 0.00005*float64(i%7)
			vol := 0.008 + 0.002*float64(i%5)
			r := drift + market + vol*rng.NormFloat64()
			closes[i][t] = closes[i][t-1] * math.Exp(r)
		}
	}

	for i, s := range symbols {
		series.Closes[s] = closes[i]
	}
	return series
}

// Symbols extracts the symbols of fixtures in order.
func Symbols(fixtures []SecurityFixture) []string {
	out := make([]string, len(fixtures))
	for i, f := range fixtures {
		out[i] = f.Symbol
	}
	return out
}

// SectorMap builds symbol -> sector from fixtures.
func SectorMap(fixtures []SecurityFixture) map[string]string {
	out := make(map[string]string, len(fixtures))
	for _, f := range fixtures {
		out[f.Symbol] = f.Sector
	}
	return out
}

// WriteSnapshots writes a universe CSV and a wide prices CSV for fixtures
// into dir and returns their paths.
func WriteSnapshots(t *testing.T, dir string, fixtures []SecurityFixture, days int, seed int64) (universePath, pricesPath string) {
	t.Helper()

	var u strings.Builder
	u.WriteString("Ticker,Sector,Name\n")
	for _, f := range fixtures {
		fmt.Fprintf(&u, "%s,%s,%s\n", f.Symbol, f.Sector, f.Name)
	}

	symbols := Symbols(fixtures)
	series := GeneratePrices(symbols, days, seed)

	var p strings.Builder
	p.WriteString("Date," + strings.Join(symbols, ",") + "\n")
	for i, date := range series.Dates {
		p.WriteString(date)
		for _, s := range symbols {
			fmt.Fprintf(&p, ",%.4f", series.Closes[s][i])
		}
		p.WriteString("\n")
	}

	universePath = filepath.Join(dir, "universe.csv")
	pricesPath = filepath.Join(dir, "prices.csv")
	if err := os.WriteFile(universePath, []byte(u.String()), 0o644); err != nil {
		t.Fatalf("failed to write universe snapshot: %v", err)
	}
	if err := os.WriteFile(pricesPath, []byte(p.String()), 0o644); err != nil {
		t.Fatalf("failed to write prices snapshot: %v", err)
	}
	return universePath, pricesPath
}
