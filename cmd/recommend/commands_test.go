package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"testing"

	"github.com/aristath/recommender/internal/modules/allocation"
	"github.com/aristath/recommender/internal/modules/optimization"
	testingpkg "github.com/aristath/recommender/internal/testing"
	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEnv(t *testing.T) {
	t.Helper()
	universePath, pricesPath := testingpkg.WriteSnapshots(t, t.TempDir(), testingpkg.NewSecurityFixtures(), 300, 42)
	t.Setenv("RECOMMENDER_DATA_DIR", t.TempDir())
	t.Setenv("UNIVERSE_SOURCE", universePath)
	t.Setenv("PRICES_SOURCE", pricesPath)
	t.Setenv("RISK_FREE_RATE", "0.02")
	t.Setenv("LOG_LEVEL", "error")
}

func run(t *testing.T, cmd subcommands.Command, args ...string) subcommands.ExitStatus {
	t.Helper()
	f := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	cmd.SetFlags(f)
	require.NoError(t, f.Parse(args))
	return cmd.Execute(context.Background(), f)
}

func TestImportThenOptimize(t *testing.T) {
	setupEnv(t)

	var out bytes.Buffer
	require.Equal(t, subcommands.ExitSuccess, run(t, &importCmd{out: &out}))
	assert.Contains(t, out.String(), "Imported 22 securities and 6600 price rows (0 skipped)")

	out.Reset()
	status := run(t, &optimizeCmd{out: &out}, "-tier", "conservative", "-horizon", "2", "-exclude", "KO", "-json")
	require.Equal(t, subcommands.ExitSuccess, status)

	var rec optimization.Recommendation
	require.NoError(t, json.Unmarshal(out.Bytes(), &rec))
	assert.Equal(t, optimization.TierLow, rec.RiskTier)
	assert.NotContains(t, rec.Weights, "KO")
	assert.GreaterOrEqual(t, len(rec.Weights), 8)

	out.Reset()
	require.Equal(t, subcommands.ExitSuccess, run(t, &optimizeCmd{out: &out}, "-tier", "high", "-horizon", "12"))
	assert.Contains(t, out.String(), "SYMBOL")
	assert.Contains(t, out.String(), "High risk profile over 12 years")
}

func TestOptimize_Failures(t *testing.T) {
	setupEnv(t)

	var out bytes.Buffer
	// empty history.db
	assert.Equal(t, subcommands.ExitFailure, run(t, &optimizeCmd{out: &out}, "-tier", "medium"))

	require.Equal(t, subcommands.ExitSuccess, run(t, &importCmd{out: &out}))
	assert.Equal(t, subcommands.ExitFailure, run(t, &optimizeCmd{out: &out}, "-tier", "reckless"))
	assert.Equal(t, subcommands.ExitFailure, run(t, &optimizeCmd{out: &out}, "-exclude", "TSLA"))
}

func TestAllocate(t *testing.T) {
	setupEnv(t)

	var out bytes.Buffer
	require.Equal(t, subcommands.ExitSuccess, run(t, &importCmd{out: &out}))

	out.Reset()
	require.Equal(t, subcommands.ExitSuccess, run(t, &allocateCmd{out: &out}, "-budget", "25000", "-json"))

	var result allocation.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	budget := decimal.NewFromInt(25000)
	assert.True(t, result.Spent.Add(result.Leftover).Equal(budget))
	assert.NotEmpty(t, result.Lines)

	out.Reset()
	require.Equal(t, subcommands.ExitSuccess, run(t, &allocateCmd{out: &out}, "-budget", "25000"))
	assert.Contains(t, out.String(), "of 25000.00")

	assert.Equal(t, subcommands.ExitUsageError, run(t, &allocateCmd{out: &out}, "-budget", "lots"))
}

func TestImport_MissingSources(t *testing.T) {
	setupEnv(t)
	t.Setenv("UNIVERSE_SOURCE", "")

	var out bytes.Buffer
	assert.Equal(t, subcommands.ExitUsageError, run(t, &importCmd{out: &out}))
}

func TestTiers(t *testing.T) {
	setupEnv(t)

	var out bytes.Buffer
	require.Equal(t, subcommands.ExitSuccess, run(t, &tiersCmd{out: &out}))
	text := out.String()
	assert.Contains(t, text, "TIER")
	assert.Contains(t, text, "low")
	assert.Contains(t, text, "Healthcare")
	assert.Contains(t, text, "raised by 20%")
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"IT", "Finance"}, splitList(" IT, ,Finance "))
}

func TestCommandsRegistered(t *testing.T) {
	var names []string
	for _, c := range commands(&bytes.Buffer{}) {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"import", "optimize", "allocate", "tiers"}, names)
}
