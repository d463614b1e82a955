// Package testing provides testing utilities and helpers for the cryptofolio project.
package testing

import (
	"fmt"
	"os"
	"testing"

	"github.com/aristath/cryptofolio/internal/database"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// NewTestDB creates a temporary file-backed SQLite database with the named schema applied.
// Returns the database instance and a cleanup function that closes and removes it.
//
// Supported schema names:
//   - "ledger" - applies ledger_schema.sql
//   - "prices" - applies prices_schema.sql
//   - "client_data" - applies client_data_schema.sql
//   - "" - creates an empty database
func NewTestDB(t *testing.T, schema string) (*database.DB, func()) {
	t.Helper()

	// Temporary files keep each test isolated; WAL does not work on :memory:
	tmpFile, err := os.CreateTemp("", fmt.Sprintf("test_%s_*.db", schema))
	if err != nil {
		t.Fatalf("Failed to create temporary database file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: database.ProfileStandard,
		Name:    "test_" + schema,
		Schema:  schema,
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to create test database %s: %v", schema, err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to migrate test database %s: %v", schema, err)
	}

	return db, func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", schema, err)
		}
		for _, suffix := range []string{"", "-wal", "-shm"} {
			_ = os.Remove(tmpPath + suffix)
		}
	}
}

// NewTestLogger returns a logger that discards everything unless -v is set
func NewTestLogger(t *testing.T) zerolog.Logger {
	t.Helper()
	if testing.Verbose() {
		return zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()
	}
	return zerolog.Nop()
}
