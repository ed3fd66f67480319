package universe

import (
	"context"
	"fmt"

	"github.com/aristath/recommender/pkg/formulas"
	"github.com/rs/zerolog"
)

// Service answers read-only questions about the universe for the API
type Service struct {
	securities *SecurityRepository
	history    *HistoryDB
	market     *MarketData
	log        zerolog.Logger
}

// NewService creates a new universe service
func NewService(securities *SecurityRepository, history *HistoryDB, market *MarketData, log zerolog.Logger) *Service {
	return &Service{
		securities: securities,
		history:    history,
		market:     market,
		log:        log.With().Str("service", "universe").Logger(),
	}
}

// Securities returns the universe ordered by symbol
func (s *Service) Securities(ctx context.Context) ([]Security, error) {
	return s.securities.GetAll(ctx)
}

// Stats returns symbol and sector counts plus price-history freshness
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	sectors, err := s.securities.Sectors(ctx)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, sc := range sectors {
		total += sc.Count
	}

	rows, withPrices, err := s.history.Counts(ctx)
	if err != nil {
		return nil, err
	}

	date, err := s.history.LatestDate(ctx)
	if err != nil {
		return nil, err
	}

	return &Stats{
		TotalSymbols:     total,
		SymbolsWithPrice: withPrices,
		Sectors:          sectors,
		PriceDate:        date,
		PriceRows:        rows,
	}, nil
}

// ReturnProfiles computes each symbol's standalone annualized return, volatility,
// Sharpe ratio and max drawdown over the lookback window.
func (s *Service) ReturnProfiles(ctx context.Context, lookback, periodsPerYear int, riskFreeRate float64) ([]ReturnProfile, error) {
	securities, err := s.securities.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	symbols := make([]string, len(securities))
	for i, sec := range securities {
		symbols[i] = sec.Symbol
	}

	history, err := s.market.PriceHistory(ctx, symbols, lookback)
	if err != nil {
		return nil, fmt.Errorf("failed to load price history: %w", err)
	}

	profiles := make([]ReturnProfile, 0, len(securities))
	for _, sec := range securities {
		closes := make([]float64, len(history[sec.Symbol]))
		for i, p := range history[sec.Symbol] {
			closes[i] = p.Close
		}
		returns := formulas.CalculateReturns(closes)

		profiles = append(profiles, ReturnProfile{
			Symbol:           sec.Symbol,
			Sector:           sec.Sector,
			Observations:     len(returns),
			AnnualReturn:     formulas.AnnualizedMean(returns, periodsPerYear),
			AnnualVolatility: formulas.AnnualizedVolatility(returns, periodsPerYear),
			SharpeRatio:      formulas.CalculateSharpeRatio(returns, riskFreeRate, periodsPerYear),
			MaxDrawdown:      formulas.CalculateMaxDrawdown(closes),
		})
	}

	return profiles, nil
}
