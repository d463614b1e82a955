package di

import (
	"fmt"
	"path/filepath"

	"github.com/aristath/cryptofolio/internal/config"
	"github.com/aristath/cryptofolio/internal/database"
	"github.com/aristath/cryptofolio/internal/modules/ledger"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens and migrates the shared databases and the ledger manager
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// 1. prices.db - last-known price per asset; rebuilt by the next refresh if lost
	pricesDB, err := openDatabase(cfg.DataDir, "prices", database.ProfileCache, database.SchemaPrices)
	if err != nil {
		return nil, err
	}
	container.PricesDB = pricesDB

	// 2. client_data.db - provider response cache with per-row expiry
	clientDataDB, err := openDatabase(cfg.DataDir, "client_data", database.ProfileCache, database.SchemaClientData)
	if err != nil {
		pricesDB.Close()
		return nil, err
	}
	container.ClientDataDB = clientDataDB

	// 3. portfolios/<id>.db - one ledger per portfolio, opened lazily
	ledgers, err := ledger.NewManager(cfg.DataDir, log)
	if err != nil {
		pricesDB.Close()
		clientDataDB.Close()
		return nil, fmt.Errorf("failed to initialize ledger manager: %w", err)
	}
	container.Ledgers = ledgers

	log.Info().Str("data_dir", cfg.DataDir).Msg("Databases initialized")
	return container, nil
}

func openDatabase(dataDir, name string, profile database.DatabaseProfile, schema string) (*database.DB, error) {
	db, err := database.New(database.Config{
		Path:    filepath.Join(dataDir, name+".db"),
		Profile: profile,
		Name:    name,
		Schema:  schema,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s database: %w", name, err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate %s database: %w", name, err)
	}
	return db, nil
}
