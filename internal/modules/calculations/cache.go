// Package calculations provides the persistent calculation cache in cache.db.
// Values are msgpack blobs with an expiration timestamp; the table is safe to
// truncate at any time.
package calculations

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Cache kinds
const (
	KindStatistics = "statistics"
)

// TTL constants, added to time.Now() when storing to calculate expires_at
const (
	TTLStatistics = 6 * time.Hour // price snapshots change at most daily
)

// Cache stores encoded calculation results keyed by (kind, key)
type Cache struct {
	db  *sql.DB
	now func() time.Time
}

// NewCache creates a new calculation cache over cache.db
func NewCache(db *sql.DB) *Cache {
	return &Cache{db: db, now: time.Now}
}

// Store encodes value with msgpack and saves it with expiration = now + ttl
func (c *Cache) Store(kind, key string, value interface{}, ttl time.Duration) error {
	payload, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", kind, key, err)
	}

	_, err = c.db.Exec(
		`INSERT OR REPLACE INTO calculation_cache (kind, key, payload, expires_at) VALUES (?, ?, ?, ?)`,
		kind, key, payload, c.now().Add(ttl).Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to store %s/%s: %w", kind, key, err)
	}
	return nil
}

// GetIfFresh decodes the cached value into out when it exists and has not expired.
// Returns false, nil on a miss.
func (c *Cache) GetIfFresh(kind, key string, out interface{}) (bool, error) {
	var payload []byte
	err := c.db.QueryRow(
		`SELECT payload FROM calculation_cache WHERE kind = ? AND key = ? AND expires_at > ?`,
		kind, key, c.now().Unix(),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s/%s: %w", kind, key, err)
	}

	if err := msgpack.Unmarshal(payload, out); err != nil {
		return false, fmt.Errorf("failed to decode %s/%s: %w", kind, key, err)
	}
	return true, nil
}

// Delete removes a single entry
func (c *Cache) Delete(kind, key string) error {
	if _, err := c.db.Exec(`DELETE FROM calculation_cache WHERE kind = ? AND key = ?`, kind, key); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", kind, key, err)
	}
	return nil
}

// DeleteExpired removes all rows whose expires_at has passed and returns the count
func (c *Cache) DeleteExpired() (int64, error) {
	result, err := c.db.Exec(`DELETE FROM calculation_cache WHERE expires_at <= ?`, c.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// Count returns the number of rows, fresh or not, per kind
func (c *Cache) Count() (map[string]int64, error) {
	rows, err := c.db.Query(`SELECT kind, COUNT(*) FROM calculation_cache GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to count cache entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("failed to scan cache count: %w", err)
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}
