package di

import (
	"context"
	"fmt"

	"github.com/aristath/cryptofolio/internal/clients/coingecko"
	"github.com/aristath/cryptofolio/internal/config"
	"github.com/aristath/cryptofolio/internal/events"
	"github.com/aristath/cryptofolio/internal/modules/portfolio"
	"github.com/aristath/cryptofolio/internal/modules/prices"
	"github.com/aristath/cryptofolio/internal/modules/valuation"
	"github.com/aristath/cryptofolio/internal/reliability"
	"github.com/rs/zerolog"
)

// InitializeServices creates the provider client, the price oracle and the
// portfolio and valuation services. Backups are wired only when configured.
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.EventBus = events.NewBus(log)

	container.CoinGeckoClient = coingecko.NewClient(coingecko.Config{
		BaseURL:           cfg.Provider.BaseURL,
		APIKey:            cfg.Provider.APIKey,
		Timeout:           cfg.Provider.Timeout,
		MaxAttempts:       cfg.Provider.MaxAttempts,
		BackoffBase:       cfg.Provider.BackoffBase,
		RequestsPerMinute: cfg.Provider.RequestsPerMinute,
		CacheTTL:          cfg.Provider.CacheTTL,
	}, container.ClientDataRepo, log)

	container.PriceOracle = prices.NewOracle(container.CoinGeckoClient, container.PriceRepo, container.EventBus, log)

	// A typed nil would defeat the service's "backups disabled" check
	var backups portfolio.BackupStore
	if cfg.Backup != nil {
		client, err := reliability.NewR2Client(ctx, cfg.Backup, log)
		if err != nil {
			return fmt.Errorf("failed to create backup client: %w", err)
		}
		container.BackupService = reliability.NewR2BackupService(client, cfg.Backup.Prefix, log)
		backups = container.BackupService
		log.Info().Str("bucket", cfg.Backup.Bucket).Msg("Off-site backups enabled")
	} else {
		log.Info().Msg("Off-site backups not configured")
	}

	retention := 0
	if cfg.Backup != nil {
		retention = cfg.Backup.RetentionDays
	}
	container.PortfolioService = portfolio.NewService(
		container.Ledgers,
		container.PriceOracle,
		backups,
		container.EventBus,
		portfolio.Options{
			RejectOversell:      cfg.Ledger.RejectOversell,
			BackupRetentionDays: retention,
		},
		log,
	)

	container.ValuationEngine = valuation.NewEngine(
		container.PortfolioService,
		container.PriceOracle,
		cfg.Ledger.AccountingMode,
		log,
	)

	log.Debug().Str("accounting_mode", cfg.Ledger.AccountingMode).Msg("Services initialized")
	return nil
}
