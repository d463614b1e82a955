package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T, schema string, profile DatabaseProfile) *DB {
	t.Helper()
	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), "test.db"),
		Profile: profile,
		Name:    "test",
		Schema:  schema,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrate_AllSchemas(t *testing.T) {
	for _, schema := range []string{SchemaLedger, SchemaPrices, SchemaClientData} {
		t.Run(schema, func(t *testing.T) {
			db := newTestDB(t, schema, ProfileStandard)
			require.NoError(t, db.Migrate())
			// Running twice must be harmless
			require.NoError(t, db.Migrate())
		})
	}
}

func TestMigrate_UnknownSchema(t *testing.T) {
	db := newTestDB(t, "nope", ProfileStandard)
	assert.Error(t, db.Migrate())
}

func TestMigrate_LedgerConstraints(t *testing.T) {
	db := newTestDB(t, SchemaLedger, ProfileLedger)
	require.NoError(t, db.Migrate())

	_, err := db.Conn().Exec(`INSERT INTO transactions
		(id, asset_id, asset_name, quantity, unit_price_usd, kind, occurred_on, cost_basis_price_usd, created_at)
		VALUES ('a', 'bitcoin', 'Bitcoin', 0, 1, 'buy', '2024-01-01', 1, 0)`)
	assert.Error(t, err, "zero quantity must violate the CHECK constraint")
}

func TestWithTransaction_CommitAndRollback(t *testing.T) {
	db := newTestDB(t, SchemaPrices, ProfileCache)
	require.NoError(t, db.Migrate())

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO price_cache (asset_id, price_usd, fetched_at) VALUES ('bitcoin', 1, 1)`)
		return err
	})
	require.NoError(t, err)

	sentinel := errors.New("boom")
	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO price_cache (asset_id, price_usd, fetched_at) VALUES ('ethereum', 1, 1)`); err != nil {
			return err
		}
		return sentinel
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel))

	var count int
	require.NoError(t, db.Conn().QueryRow(`SELECT COUNT(*) FROM price_cache`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestWithTransaction_RecoversPanic(t *testing.T) {
	db := newTestDB(t, "", ProfileStandard)

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		panic("kaboom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestHealthCheck(t *testing.T) {
	db := newTestDB(t, SchemaLedger, ProfileLedger)
	require.NoError(t, db.Migrate())

	assert.NoError(t, db.HealthCheck(context.Background()))
	assert.NoError(t, db.QuickCheck(context.Background()))
	assert.Equal(t, "test", db.Name())
	assert.Equal(t, ProfileLedger, db.Profile())
}

func TestBuildConnectionString(t *testing.T) {
	s := buildConnectionString("/tmp/x.db", ProfileLedger)
	assert.Contains(t, s, "/tmp/x.db?_pragma=journal_mode(WAL)")
	assert.Contains(t, s, "synchronous(FULL)")

	s = buildConnectionString("file:mem?mode=memory", ProfileCache)
	assert.Contains(t, s, "file:mem?mode=memory&_pragma=journal_mode(WAL)")
	assert.Contains(t, s, "synchronous(OFF)")
}

func TestMaintenanceHelpers(t *testing.T) {
	db := newTestDB(t, SchemaPrices, ProfileCache)
	require.NoError(t, db.Migrate())
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		_, err := db.Conn().Exec(`INSERT INTO price_cache (asset_id, price_usd, fetched_at) VALUES (?, 1, 1)`,
			fmt.Sprintf("asset-%d", i))
		require.NoError(t, err)
	}
	_, err := db.Conn().Exec(`DELETE FROM price_cache`)
	require.NoError(t, err)

	require.NoError(t, db.Checkpoint(ctx))

	size, err := db.SizeBytes(ctx)
	require.NoError(t, err)
	assert.Positive(t, size)

	reclaimed, err := db.Vacuum(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, reclaimed, int64(0))
}
