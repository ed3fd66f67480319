// Package universe provides the closed investable universe and its price history.
package universe

import "time"

// Security is a member of the investable universe. Each symbol carries exactly one sector.
type Security struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Sector string `json:"sector"`
}

// DailyPrice is a single close on a trading date (YYYY-MM-DD).
type DailyPrice struct {
	Date  string  `json:"date"`
	Close float64 `json:"close"`
}

// SectorCount is the number of securities tagged with a sector.
type SectorCount struct {
	Sector string `json:"sector"`
	Count  int    `json:"count"`
}

// Stats summarizes the universe and the freshness of its price history.
type Stats struct {
	TotalSymbols     int           `json:"total_symbols"`
	SymbolsWithPrice int           `json:"symbols_with_prices"`
	Sectors          []SectorCount `json:"sectors"`
	PriceDate        string        `json:"price_date"`
	PriceRows        int64         `json:"price_rows"`
}

// ReturnProfile describes one symbol's standalone historical behavior over a lookback window.
type ReturnProfile struct {
	Symbol           string   `json:"symbol"`
	Sector           string   `json:"sector"`
	Observations     int      `json:"observations"`
	AnnualReturn     float64  `json:"annual_return"`
	AnnualVolatility float64  `json:"annual_volatility"`
	SharpeRatio      *float64 `json:"sharpe_ratio,omitempty"`
	MaxDrawdown      *float64 `json:"max_drawdown,omitempty"`
}

// ImportResult reports what an import wrote.
type ImportResult struct {
	Securities     int           `json:"securities"`
	PriceRows      int           `json:"price_rows"`
	SkippedRows    int           `json:"skipped_rows"`
	UnknownSymbols []string      `json:"unknown_symbols,omitempty"`
	Duration       time.Duration `json:"duration"`
}

const dateLayout = "2006-01-02"
