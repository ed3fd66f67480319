package universe

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// defaultFetchConcurrency bounds parallel per-symbol history queries
const defaultFetchConcurrency = 8

// MarketData is the price/sector collaborator consumed by the optimizer.
// It materializes everything in memory before the engine runs.
type MarketData struct {
	securities  *SecurityRepository
	history     *HistoryDB
	concurrency int
	log         zerolog.Logger
}

// NewMarketData creates a market data adapter over the history database
func NewMarketData(securities *SecurityRepository, history *HistoryDB, log zerolog.Logger) *MarketData {
	return &MarketData{
		securities:  securities,
		history:     history,
		concurrency: defaultFetchConcurrency,
		log:         log.With().Str("component", "market_data").Logger(),
	}
}

// Universe returns the closed symbol universe ordered by symbol
func (m *MarketData) Universe(ctx context.Context) ([]Security, error) {
	return m.securities.GetAll(ctx)
}

// SectorMapping returns symbol -> sector
func (m *MarketData) SectorMapping(ctx context.Context) (map[string]string, error) {
	return m.securities.SectorMapping(ctx)
}

// PriceHistory returns up to lookback+1 most recent closes per symbol (enough for
// lookback returns), ascending by date. Symbols without history map to an empty slice.
func (m *MarketData) PriceHistory(ctx context.Context, symbols []string, lookback int) (map[string][]DailyPrice, error) {
	if lookback <= 0 {
		return nil, fmt.Errorf("lookback must be positive, got %d", lookback)
	}

	series := make([][]DailyPrice, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, symbol := range symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			prices, err := m.history.GetDailyPrices(gctx, symbol, lookback+1)
			if err != nil {
				return fmt.Errorf("price history for %s: %w", symbol, err)
			}
			series[i] = prices
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string][]DailyPrice, len(symbols))
	for i, symbol := range symbols {
		out[symbol] = series[i]
	}

	m.log.Debug().
		Int("symbols", len(symbols)).
		Int("lookback", lookback).
		Msg("Loaded price history")

	return out, nil
}

// LatestPrices returns the latest close per symbol
func (m *MarketData) LatestPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	return m.history.LatestPrices(ctx, symbols)
}

// PriceDate identifies the price snapshot: the most recent date in the history
func (m *MarketData) PriceDate(ctx context.Context) (string, error) {
	return m.history.LatestDate(ctx)
}
