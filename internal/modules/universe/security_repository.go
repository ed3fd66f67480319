package universe

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/recommender/internal/database"
	"github.com/rs/zerolog"
)

// SecurityRepository reads and writes the securities table of history.db
type SecurityRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSecurityRepository creates a new security repository
func NewSecurityRepository(db *sql.DB, log zerolog.Logger) *SecurityRepository {
	return &SecurityRepository{
		db:  db,
		log: log.With().Str("repo", "securities").Logger(),
	}
}

// Upsert inserts or replaces securities in a single transaction
func (r *SecurityRepository) Upsert(ctx context.Context, securities []Security) error {
	if len(securities) == 0 {
		return nil
	}
	now := time.Now().Unix()

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO securities (symbol, name, sector, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(symbol) DO UPDATE SET
				name = excluded.name,
				sector = excluded.sector,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare security upsert: %w", err)
		}
		defer stmt.Close()

		for _, s := range securities {
			if _, err := stmt.ExecContext(ctx, s.Symbol, s.Name, s.Sector, now); err != nil {
				return fmt.Errorf("failed to upsert security %s: %w", s.Symbol, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Debug().Int("count", len(securities)).Msg("Upserted securities")
	return nil
}

// GetAll returns every security ordered by symbol
func (r *SecurityRepository) GetAll(ctx context.Context) ([]Security, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT symbol, name, sector FROM securities ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to query securities: %w", err)
	}
	defer rows.Close()

	var securities []Security
	for rows.Next() {
		var s Security
		if err := rows.Scan(&s.Symbol, &s.Name, &s.Sector); err != nil {
			return nil, fmt.Errorf("failed to scan security: %w", err)
		}
		securities = append(securities, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating securities: %w", err)
	}

	return securities, nil
}

// SectorMapping returns symbol -> sector for the whole universe
func (r *SecurityRepository) SectorMapping(ctx context.Context) (map[string]string, error) {
	securities, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	mapping := make(map[string]string, len(securities))
	for _, s := range securities {
		mapping[s.Symbol] = s.Sector
	}
	return mapping, nil
}

// Sectors returns the per-sector security counts ordered by sector name
func (r *SecurityRepository) Sectors(ctx context.Context) ([]SectorCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sector, COUNT(*) FROM securities
		GROUP BY sector
		ORDER BY sector
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sectors: %w", err)
	}
	defer rows.Close()

	var sectors []SectorCount
	for rows.Next() {
		var sc SectorCount
		if err := rows.Scan(&sc.Sector, &sc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan sector: %w", err)
		}
		sectors = append(sectors, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sectors: %w", err)
	}

	return sectors, nil
}
