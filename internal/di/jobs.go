package di

import (
	"fmt"

	"github.com/aristath/cryptofolio/internal/clientdata"
	"github.com/aristath/cryptofolio/internal/config"
	"github.com/aristath/cryptofolio/internal/reliability"
	"github.com/aristath/cryptofolio/internal/scheduler"
	"github.com/rs/zerolog"
)

// RegisterJobs creates the scheduler and registers every background job.
// The scheduler is not started.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}

	sched := scheduler.New(container.EventBus, log)
	instances := &JobInstances{}

	// Job 1: Price refresh over every asset held or tracked by any portfolio
	instances.PriceRefresh = scheduler.NewPriceRefreshJob(
		container.Ledgers,
		container.PriceOracle,
		container.EventBus,
		cfg.Provider.RequestsPerMinute,
		log,
	)
	if err := sched.AddJob(cfg.Refresh.Schedule, instances.PriceRefresh); err != nil {
		return nil, fmt.Errorf("failed to register price refresh job: %w", err)
	}

	// Job 2: Expired provider cache rows
	instances.ClientDataClean = clientdata.NewCleanupJob(container.ClientDataRepo, log)
	if err := sched.AddJob(cfg.Refresh.CleanupSchedule, instances.ClientDataClean); err != nil {
		return nil, fmt.Errorf("failed to register client data cleanup job: %w", err)
	}

	// Job 3: Integrity checks, WAL checkpoints and VACUUM
	instances.Maintenance = reliability.NewMaintenanceJob(
		cfg.DataDir,
		container.SharedDatabases(),
		container.Ledgers,
		log,
	)
	if err := sched.AddJob(cfg.Refresh.MaintenanceSchedule, instances.Maintenance); err != nil {
		return nil, fmt.Errorf("failed to register maintenance job: %w", err)
	}

	// Job 4: Off-site portfolio backups
	if container.PortfolioService.BackupsEnabled() {
		instances.PortfolioBackup = reliability.NewBackupJob(container.PortfolioService, log)
		if err := sched.AddJob(cfg.Backup.Schedule, instances.PortfolioBackup); err != nil {
			return nil, fmt.Errorf("failed to register backup job: %w", err)
		}
	}

	container.Scheduler = sched
	container.Jobs = instances

	log.Info().Int("jobs", len(sched.Jobs())).Msg("Jobs registered")
	return instances, nil
}
