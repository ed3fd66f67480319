package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T, name string, profile DatabaseProfile) *DB {
	t.Helper()
	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: profile,
		Name:    name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrate_HistorySchema(t *testing.T) {
	db := openTemp(t, NameHistory, ProfileStandard)
	require.NoError(t, db.Migrate())
	// Idempotent
	require.NoError(t, db.Migrate())

	_, err := db.Conn().Exec(`INSERT INTO securities (symbol, name, sector, updated_at) VALUES ('AAA', 'A', 'IT', 0)`)
	require.NoError(t, err)
	_, err = db.Conn().Exec(`INSERT INTO daily_prices (symbol, date, close) VALUES ('AAA', '2024-01-02', 10.5)`)
	require.NoError(t, err)

	_, err = db.Conn().Exec(`INSERT INTO daily_prices (symbol, date, close) VALUES ('AAA', '2024-01-03', 0)`)
	assert.Error(t, err, "non-positive closes are rejected")
}

func TestMigrate_CacheSchema(t *testing.T) {
	db := openTemp(t, NameCache, ProfileCache)
	require.NoError(t, db.Migrate())

	_, err := db.Conn().Exec(`INSERT INTO calculation_cache (kind, key, payload, expires_at) VALUES ('k', 'v', x'00', 1)`)
	require.NoError(t, err)
}

func TestMigrate_UnknownNameIsNoop(t *testing.T) {
	db := openTemp(t, "scratch", ProfileStandard)
	assert.NoError(t, db.Migrate())
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	db := openTemp(t, NameHistory, ProfileStandard)
	require.NoError(t, db.Migrate())

	boom := errors.New("boom")
	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO securities (symbol, sector, updated_at) VALUES ('BBB', 'IT', 0)`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.Conn().QueryRow(`SELECT COUNT(*) FROM securities`).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestWithTransaction_RecoversPanic(t *testing.T) {
	db := openTemp(t, NameHistory, ProfileStandard)

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		panic("unexpected")
	})
	assert.ErrorContains(t, err, "panic in transaction")
}

func TestHealthAndStats(t *testing.T) {
	ctx := context.Background()
	db := openTemp(t, NameCache, ProfileCache)
	require.NoError(t, db.Migrate())

	assert.NoError(t, db.QuickCheck(ctx))
	assert.NoError(t, db.WALCheckpoint(ctx, ""))
	assert.Error(t, db.WALCheckpoint(ctx, "BOGUS"))

	stats, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, NameCache, stats.Name)
	assert.Greater(t, stats.PageSize, int64(0))
}
