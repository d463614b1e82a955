// Package main is the entry point for the cryptofolio portfolio ledger and valuation server.
//
// Startup order:
//  1. Load configuration from the environment (.env supported)
//  2. Initialize logging
//  3. Wire databases, repositories, services and jobs via the DI container
//  4. Start the scheduler and the HTTP server
//  5. Wait for SIGINT/SIGTERM and shut down gracefully
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/cryptofolio/internal/config"
	"github.com/aristath/cryptofolio/internal/di"
	portfoliohandlers "github.com/aristath/cryptofolio/internal/modules/portfolio/handlers"
	priceshandlers "github.com/aristath/cryptofolio/internal/modules/prices/handlers"
	"github.com/aristath/cryptofolio/internal/server"
	"github.com/aristath/cryptofolio/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("accounting_mode", cfg.Ledger.AccountingMode).
		Bool("reject_oversell", cfg.Ledger.RejectOversell).
		Msg("Starting cryptofolio")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	portfolioHandler := portfoliohandlers.NewHandler(container.PortfolioService, container.ValuationEngine, log)
	pricesHandler := priceshandlers.NewHandler(container.PriceOracle, container.Jobs.PriceRefresh, container.EventBus, log)
	systemHandlers := server.NewSystemHandlers(log, cfg.DataDir, container.SharedDatabases(), container.Ledgers, container.Scheduler)

	srv := server.New(server.Config{
		Log:     log,
		Port:    cfg.Port,
		DevMode: cfg.DevMode,
		Bus:     container.EventBus,
		System:  systemHandlers,
		Routes:  []server.RouteRegistrar{portfolioHandler, pricesHandler},
		Streams: []server.StreamRegistrar{pricesHandler},
	})

	container.Scheduler.Start()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}

	// Stop accepting new runs before the databases close
	cancel()
	container.Scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
