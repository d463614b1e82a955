// Package di provides dependency injection wiring and initialization.
package di

import (
	"github.com/aristath/cryptofolio/internal/clientdata"
	"github.com/aristath/cryptofolio/internal/clients/coingecko"
	"github.com/aristath/cryptofolio/internal/database"
	"github.com/aristath/cryptofolio/internal/events"
	"github.com/aristath/cryptofolio/internal/modules/ledger"
	"github.com/aristath/cryptofolio/internal/modules/portfolio"
	"github.com/aristath/cryptofolio/internal/modules/prices"
	"github.com/aristath/cryptofolio/internal/modules/valuation"
	"github.com/aristath/cryptofolio/internal/reliability"
	"github.com/aristath/cryptofolio/internal/scheduler"
)

// Container holds every long-lived dependency of the process
type Container struct {
	// Databases
	PricesDB     *database.DB // prices.db - last-known price per asset
	ClientDataDB *database.DB // client_data.db - provider response cache
	Ledgers      *ledger.Manager

	// Repositories
	ClientDataRepo *clientdata.Repository
	PriceRepo      *prices.Repository

	// Services
	EventBus         *events.Bus
	CoinGeckoClient  *coingecko.Client
	PriceOracle      *prices.Oracle
	BackupService    *reliability.R2BackupService // nil when backups are not configured
	PortfolioService *portfolio.Service
	ValuationEngine  *valuation.Engine

	Scheduler *scheduler.Scheduler
	Jobs      *JobInstances
}

// JobInstances holds the registered background jobs
type JobInstances struct {
	PriceRefresh    *scheduler.PriceRefreshJob
	ClientDataClean *clientdata.CleanupJob
	Maintenance     *reliability.MaintenanceJob
	PortfolioBackup *reliability.BackupJob // nil when backups are not configured
}

// SharedDatabases returns the process-wide databases (not the per-portfolio ledgers)
func (c *Container) SharedDatabases() []*database.DB {
	return []*database.DB{c.PricesDB, c.ClientDataDB}
}

// Close stops the scheduler and closes every database
func (c *Container) Close() error {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	var firstErr error
	if c.Ledgers != nil {
		if err := c.Ledgers.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, db := range c.SharedDatabases() {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
