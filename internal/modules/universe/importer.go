package universe

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Opener returns a reader over a snapshot URI
type Opener interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// Importer loads universe and price snapshots into history.db
type Importer struct {
	opener     Opener
	securities *SecurityRepository
	history    *HistoryDB
	log        zerolog.Logger
}

// NewImporter creates a new importer
func NewImporter(opener Opener, securities *SecurityRepository, history *HistoryDB, log zerolog.Logger) *Importer {
	return &Importer{
		opener:     opener,
		securities: securities,
		history:    history,
		log:        log.With().Str("component", "importer").Logger(),
	}
}

// Import reads the universe CSV (Ticker,Sector[,Name]) and the price CSV
// (wide Date,<SYM>... or long Date,Ticker,Close) concurrently, then writes both.
// Price rows for symbols outside the universe are reported and not stored.
func (i *Importer) Import(ctx context.Context, universeURI, pricesURI string) (*ImportResult, error) {
	start := time.Now()

	var (
		securities []Security
		prices     map[string][]DailyPrice
		skipped    int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rc, err := i.opener.Open(gctx, universeURI)
		if err != nil {
			return fmt.Errorf("universe source: %w", err)
		}
		defer rc.Close()
		securities, err = ParseUniverseCSV(rc)
		return err
	})
	g.Go(func() error {
		rc, err := i.opener.Open(gctx, pricesURI)
		if err != nil {
			return fmt.Errorf("prices source: %w", err)
		}
		defer rc.Close()
		prices, skipped, err = ParsePricesCSV(rc)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := i.securities.Upsert(ctx, securities); err != nil {
		return nil, fmt.Errorf("failed to store universe: %w", err)
	}

	known := make(map[string]bool, len(securities))
	for _, s := range securities {
		known[s.Symbol] = true
	}

	symbols := make([]string, 0, len(prices))
	for symbol := range prices {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	result := &ImportResult{
		Securities:  len(securities),
		SkippedRows: skipped,
	}
	for _, symbol := range symbols {
		if !known[symbol] {
			result.UnknownSymbols = append(result.UnknownSymbols, symbol)
			continue
		}
		if err := i.history.SyncPrices(ctx, symbol, prices[symbol]); err != nil {
			return nil, fmt.Errorf("failed to store prices for %s: %w", symbol, err)
		}
		result.PriceRows += len(prices[symbol])
	}
	result.Duration = time.Since(start)

	if len(result.UnknownSymbols) > 0 {
		i.log.Warn().
			Strs("symbols", result.UnknownSymbols).
			Msg("Price history for symbols outside the universe was ignored")
	}
	i.log.Info().
		Int("securities", result.Securities).
		Int("price_rows", result.PriceRows).
		Int("skipped_rows", result.SkippedRows).
		Dur("duration", result.Duration).
		Msg("Import completed")

	return result, nil
}

// ParseUniverseCSV reads Ticker/Symbol, Sector and optional Name/Company columns.
// The result is ordered by symbol.
func ParseUniverseCSV(r io.Reader) ([]Security, error) {
	records, header, err := readCSV(r)
	if err != nil {
		return nil, err
	}

	symbolCol := findColumn(header, "ticker", "symbol")
	sectorCol := findColumn(header, "sector")
	nameCol := findColumn(header, "name", "company")
	if symbolCol < 0 || sectorCol < 0 {
		return nil, fmt.Errorf("universe CSV needs Ticker and Sector columns, got %v", header)
	}

	bySymbol := make(map[string]Security)
	for line, rec := range records {
		symbol := strings.ToUpper(cell(rec, symbolCol))
		if symbol == "" {
			continue
		}
		sector := cell(rec, sectorCol)
		if sector == "" {
			return nil, fmt.Errorf("universe CSV line %d: %s has no sector", line+2, symbol)
		}
		if prev, ok := bySymbol[symbol]; ok && prev.Sector != sector {
			return nil, fmt.Errorf("universe CSV line %d: %s tagged with both %q and %q", line+2, symbol, prev.Sector, sector)
		}
		bySymbol[symbol] = Security{Symbol: symbol, Name: cell(rec, nameCol), Sector: sector}
	}

	securities := make([]Security, 0, len(bySymbol))
	for _, s := range bySymbol {
		securities = append(securities, s)
	}
	sort.Slice(securities, func(a, b int) bool { return securities[a].Symbol < securities[b].Symbol })

	if len(securities) == 0 {
		return nil, fmt.Errorf("universe CSV has no securities")
	}
	return securities, nil
}

// ParsePricesCSV reads closes in wide (Date,<SYM>...) or long (Date,Ticker,Close) layout.
// Blank, unparsable and non-positive closes are skipped and counted, never zero-filled.
// Each series is returned in ascending date order; a repeated date keeps the last value.
func ParsePricesCSV(r io.Reader) (map[string][]DailyPrice, int, error) {
	records, header, err := readCSV(r)
	if err != nil {
		return nil, 0, err
	}

	dateCol := findColumn(header, "date")
	if dateCol < 0 {
		return nil, 0, fmt.Errorf("prices CSV needs a Date column, got %v", header)
	}

	raw := make(map[string]map[string]float64)
	skipped := 0
	add := func(symbol, date, value string) {
		price, ok := parsePrice(value)
		if !ok {
			skipped++
			return
		}
		if raw[symbol] == nil {
			raw[symbol] = make(map[string]float64)
		}
		raw[symbol][date] = price
	}

	symbolCol := findColumn(header, "ticker", "symbol")
	closeCol := findColumn(header, "adj close", "adj_close", "close", "price")

	for line, rec := range records {
		date, err := normalizeDate(cell(rec, dateCol))
		if err != nil {
			return nil, 0, fmt.Errorf("prices CSV line %d: %w", line+2, err)
		}

		if symbolCol >= 0 && closeCol >= 0 {
			symbol := strings.ToUpper(cell(rec, symbolCol))
			if symbol == "" {
				skipped++
				continue
			}
			add(symbol, date, cell(rec, closeCol))
			continue
		}

		for col, name := range header {
			if col == dateCol {
				continue
			}
			add(strings.ToUpper(name), date, cell(rec, col))
		}
	}

	prices := make(map[string][]DailyPrice, len(raw))
	for symbol, byDate := range raw {
		series := make([]DailyPrice, 0, len(byDate))
		for date, price := range byDate {
			series = append(series, DailyPrice{Date: date, Close: price})
		}
		sort.Slice(series, func(a, b int) bool { return series[a].Date < series[b].Date })
		prices[symbol] = series
	}

	return prices, skipped, nil
}

func readCSV(r io.Reader) ([][]string, []string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("CSV is empty")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	return records, header, nil
}

func findColumn(header []string, names ...string) int {
	for _, name := range names {
		for i, h := range header {
			if strings.EqualFold(h, name) {
				return i
			}
		}
	}
	return -1
}

func cell(rec []string, col int) string {
	if col < 0 || col >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[col])
}

func parsePrice(value string) (float64, bool) {
	if value == "" {
		return 0, false
	}
	price, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return 0, false
	}
	return price, true
}

var dateLayouts = []string{
	dateLayout,
	"2006-01-02 15:04:05",
	time.RFC3339,
	"01/02/2006",
	"2006/01/02",
}

func normalizeDate(value string) (string, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format(dateLayout), nil
		}
	}
	return "", fmt.Errorf("unrecognized date %q", value)
}
