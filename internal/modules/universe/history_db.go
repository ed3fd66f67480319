package universe

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/aristath/recommender/internal/database"
	"github.com/rs/zerolog"
)

// HistoryDB provides access to historical price data
type HistoryDB struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewHistoryDB creates a new history database accessor
func NewHistoryDB(db *sql.DB, log zerolog.Logger) *HistoryDB {
	return &HistoryDB{
		db:  db,
		log: log.With().Str("component", "history_db").Logger(),
	}
}

// SyncPrices upserts daily closes for a symbol in one transaction.
// Non-positive closes are rejected by the schema, so callers filter them first.
func (h *HistoryDB) SyncPrices(ctx context.Context, symbol string, prices []DailyPrice) error {
	if len(prices) == 0 {
		return nil
	}

	err := database.WithTransaction(h.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO daily_prices (symbol, date, close)
			VALUES (?, ?, ?)
			ON CONFLICT(symbol, date) DO UPDATE SET close = excluded.close
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare price upsert: %w", err)
		}
		defer stmt.Close()

		for _, p := range prices {
			if _, err := stmt.ExecContext(ctx, symbol, p.Date, p.Close); err != nil {
				return fmt.Errorf("failed to upsert price %s@%s: %w", symbol, p.Date, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	h.log.Debug().Str("symbol", symbol).Int("rows", len(prices)).Msg("Synced prices")
	return nil
}

// GetDailyPrices returns the last limit closes for a symbol in ascending date order
func (h *HistoryDB) GetDailyPrices(ctx context.Context, symbol string, limit int) ([]DailyPrice, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT date, close
		FROM daily_prices
		WHERE symbol = ?
		ORDER BY date DESC
		LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily prices: %w", err)
	}
	defer rows.Close()

	var prices []DailyPrice
	for rows.Next() {
		var p DailyPrice
		if err := rows.Scan(&p.Date, &p.Close); err != nil {
			return nil, fmt.Errorf("failed to scan daily price: %w", err)
		}
		prices = append(prices, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily prices: %w", err)
	}

	sort.Slice(prices, func(i, j int) bool { return prices[i].Date < prices[j].Date })
	return prices, nil
}

// LatestPrices returns the most recent close for each requested symbol.
// Symbols without any history are absent from the result.
func (h *HistoryDB) LatestPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT p.symbol, p.close
		FROM daily_prices p
		JOIN (
			SELECT symbol, MAX(date) AS date FROM daily_prices GROUP BY symbol
		) latest ON latest.symbol = p.symbol AND latest.date = p.date
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest prices: %w", err)
	}
	defer rows.Close()

	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[s] = true
	}

	prices := make(map[string]float64, len(symbols))
	for rows.Next() {
		var symbol string
		var price float64
		if err := rows.Scan(&symbol, &price); err != nil {
			return nil, fmt.Errorf("failed to scan latest price: %w", err)
		}
		if wanted[symbol] {
			prices[symbol] = price
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating latest prices: %w", err)
	}

	return prices, nil
}

// LatestDate returns the most recent trading date in the history, or "" when empty
func (h *HistoryDB) LatestDate(ctx context.Context) (string, error) {
	var date string
	if err := h.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(date), '') FROM daily_prices`).Scan(&date); err != nil {
		return "", fmt.Errorf("failed to query latest price date: %w", err)
	}
	return date, nil
}

// Counts returns the number of price rows and of distinct symbols with prices
func (h *HistoryDB) Counts(ctx context.Context) (rows int64, symbols int, err error) {
	err = h.db.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(DISTINCT symbol) FROM daily_prices`).Scan(&rows, &symbols)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count prices: %w", err)
	}
	return rows, symbols, nil
}
