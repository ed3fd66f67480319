package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/aristath/recommender/internal/config"
	"github.com/aristath/recommender/internal/di"
	"github.com/aristath/recommender/internal/domain"
	"github.com/aristath/recommender/internal/modules/optimization"
	"github.com/aristath/recommender/pkg/logger"
	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
)

func commands(out io.Writer) []subcommands.Command {
	return []subcommands.Command{
		&importCmd{out: out},
		&optimizeCmd{out: out},
		&allocateCmd{out: out},
		&tiersCmd{out: out},
	}
}

// wire loads configuration from the environment and builds the container.
// CLI runs log warnings and errors only, to stderr.
func wire(ctx context.Context) (*di.Container, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	level := cfg.LogLevel
	if level == "info" || level == "debug" {
		level = "warn"
	}
	log := logger.New(logger.Config{Level: level, Output: os.Stderr})

	container, err := di.Wire(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return container, cfg, nil
}

func fail(err error) subcommands.ExitStatus {
	if kind := domain.KindOf(err); kind != "" {
		fmt.Fprintf(os.Stderr, "%s: %s\n", kind, domain.ReasonOf(err))
	} else {
		fmt.Fprintln(os.Stderr, err)
	}
	return subcommands.ExitFailure
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type importCmd struct {
	out      io.Writer
	universe string
	prices   string
}

func (*importCmd) Name() string     { return "import" }
func (*importCmd) Synopsis() string { return "load universe and price snapshots into history.db" }
func (*importCmd) Usage() string {
	return `recommend import [-universe <path|s3://bucket/key>] [-prices <path|s3://bucket/key>]

  Replaces the universe and upserts daily closes. Sources default to
  UNIVERSE_SOURCE and PRICES_SOURCE.
`
}

func (c *importCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.universe, "universe", "", "Universe CSV (Ticker, Sector, Name).")
	f.StringVar(&c.prices, "prices", "", "Prices CSV in wide or long layout.")
}

func (c *importCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	container, cfg, err := wire(ctx)
	if err != nil {
		return fail(err)
	}
	defer container.Close()

	universeURI, pricesURI := c.universe, c.prices
	if universeURI == "" {
		universeURI = cfg.UniverseSource
	}
	if pricesURI == "" {
		pricesURI = cfg.PricesSource
	}
	if universeURI == "" || pricesURI == "" {
		fmt.Fprintln(os.Stderr, "both a universe and a prices source are required")
		return subcommands.ExitUsageError
	}

	result, err := container.Importer.Import(ctx, universeURI, pricesURI)
	if err != nil {
		return fail(err)
	}

	fmt.Fprintf(c.out, "Imported %d securities and %d price rows (%d skipped) in %s\n",
		result.Securities, result.PriceRows, result.SkippedRows, result.Duration.Round(time.Millisecond))
	if len(result.UnknownSymbols) > 0 {
		fmt.Fprintf(c.out, "Ignored symbols not in the universe: %s\n", strings.Join(result.UnknownSymbols, ", "))
	}
	return subcommands.ExitSuccess
}

// requestFlags are shared by optimize and allocate
type requestFlags struct {
	tier    string
	horizon float64
	prefer  string
	exclude string
}

func (r *requestFlags) register(f *flag.FlagSet) {
	f.StringVar(&r.tier, "tier", "medium", "Risk tier (low, medium, high or a synonym).")
	f.Float64Var(&r.horizon, "horizon", 5, "Investment horizon in years.")
	f.StringVar(&r.prefer, "prefer", "", "Comma-separated preferred sectors; defaults to the tier's.")
	f.StringVar(&r.exclude, "exclude", "", "Comma-separated symbols to exclude.")
}

func (r *requestFlags) request() optimization.Request {
	return optimization.Request{
		RiskTier:          r.tier,
		HorizonYears:      r.horizon,
		SectorPreferences: splitList(r.prefer),
		ExcludeSymbols:    splitList(r.exclude),
	}
}

type optimizeCmd struct {
	out    io.Writer
	req    requestFlags
	asJSON bool
}

func (*optimizeCmd) Name() string     { return "optimize" }
func (*optimizeCmd) Synopsis() string { return "recommend portfolio weights for a risk tier" }
func (*optimizeCmd) Usage() string {
	return `recommend optimize [-tier <tier>] [-horizon <years>] [-prefer <sectors>] [-exclude <symbols>] [-json]

  Prints weights, metrics and the rationale for the recommendation.
`
}

func (c *optimizeCmd) SetFlags(f *flag.FlagSet) {
	c.req.register(f)
	f.BoolVar(&c.asJSON, "json", false, "Print the full recommendation as JSON.")
}

func (c *optimizeCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	container, _, err := wire(ctx)
	if err != nil {
		return fail(err)
	}
	defer container.Close()

	rec, err := container.OptimizerService.Optimize(ctx, c.req.request())
	if err != nil {
		return fail(err)
	}

	if c.asJSON {
		if err := writeJSON(c.out, rec); err != nil {
			return fail(err)
		}
		return subcommands.ExitSuccess
	}

	fmt.Fprintf(c.out, "Expected return %.2f%%, volatility %.2f%%, Sharpe %.2f, %d holdings\n\n",
		rec.Metrics.ExpectedAnnualReturn*100, rec.Metrics.AnnualVolatility*100,
		rec.Metrics.SharpeRatio, rec.Metrics.Diversification)
	printWeights(c.out, rec.Weights)
	fmt.Fprintf(c.out, "\n%s\n", rec.Rationale)
	return subcommands.ExitSuccess
}

func printWeights(out io.Writer, weights map[string]float64) {
	symbols := make([]string, 0, len(weights))
	for s := range weights {
		symbols = append(symbols, s)
	}
	sort.Slice(symbols, func(a, b int) bool {
		if weights[symbols[a]] != weights[symbols[b]] {
			return weights[symbols[a]] > weights[symbols[b]]
		}
		return symbols[a] < symbols[b]
	})

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tWEIGHT")
	for _, s := range symbols {
		fmt.Fprintf(tw, "%s\t%.2f%%\n", s, weights[s]*100)
	}
	tw.Flush()
}

type allocateCmd struct {
	out    io.Writer
	req    requestFlags
	budget string
	asJSON bool
}

func (*allocateCmd) Name() string     { return "allocate" }
func (*allocateCmd) Synopsis() string { return "optimize, then turn the weights into whole shares" }
func (*allocateCmd) Usage() string {
	return `recommend allocate -budget <amount> [-tier <tier>] [-horizon <years>] [-prefer <sectors>] [-exclude <symbols>] [-json]

  Buys whole shares at the latest close. Spent plus leftover equals the budget.
`
}

func (c *allocateCmd) SetFlags(f *flag.FlagSet) {
	c.req.register(f)
	f.StringVar(&c.budget, "budget", "", "Cash to invest, e.g. 10000.50.")
	f.BoolVar(&c.asJSON, "json", false, "Print the allocation as JSON.")
}

func (c *allocateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	budget, err := decimal.NewFromString(c.budget)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid budget %q\n", c.budget)
		return subcommands.ExitUsageError
	}

	container, _, err := wire(ctx)
	if err != nil {
		return fail(err)
	}
	defer container.Close()

	rec, err := container.OptimizerService.Optimize(ctx, c.req.request())
	if err != nil {
		return fail(err)
	}
	result, err := container.OptimizerService.Allocate(ctx, rec.Weights, budget)
	if err != nil {
		return fail(err)
	}

	if c.asJSON {
		if err := writeJSON(c.out, result); err != nil {
			return fail(err)
		}
		return subcommands.ExitSuccess
	}

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tSHARES\tPRICE\tVALUE\tTARGET\tACTUAL")
	for _, line := range result.Lines {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%.2f%%\t%.2f%%\n",
			line.Symbol, line.Shares, line.Price.StringFixed(2), line.Value.StringFixed(2),
			line.TargetWeight*100, line.ActualWeight*100)
	}
	tw.Flush()
	fmt.Fprintf(c.out, "\nSpent %s, leftover %s of %s\n",
		result.Spent.StringFixed(2), result.Leftover.StringFixed(2), result.Budget.StringFixed(2))
	return subcommands.ExitSuccess
}

type tiersCmd struct {
	out io.Writer
}

func (*tiersCmd) Name() string     { return "tiers" }
func (*tiersCmd) Synopsis() string { return "print the risk-tier policy table" }
func (*tiersCmd) Usage() string {
	return `recommend tiers

  Shows each tier's volatility band, sector cap, holding floor and preferred sectors.
`
}

func (*tiersCmd) SetFlags(*flag.FlagSet) {}

func (c *tiersCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	container, _, err := wire(ctx)
	if err != nil {
		return fail(err)
	}
	defer container.Close()

	printTiers(c.out, container.PolicyTable)
	return subcommands.ExitSuccess
}

func printTiers(out io.Writer, table *optimization.PolicyTable) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIER\tTARGET VOL\tCEILING\tSECTOR CAP\tMIN HOLDINGS\tPREFERRED")
	for _, v := range table.Tiers() {
		fmt.Fprintf(tw, "%s\t%.1f%%\t%.1f%%\t%.1f%%\t%d\t%s\n",
			v.Tier, v.TargetVolatility*100, v.VolatilityCeiling*100, v.MaxSectorWeight*100,
			v.MinDiversification, strings.Join(v.PreferredSectors, ", "))
	}
	tw.Flush()
	fmt.Fprintf(out, "\nPreferred sectors get their cap raised by %.0f%%.\n", table.PreferenceBoost()*100)
}
