package reliability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/cryptofolio/internal/database"
	"github.com/aristath/cryptofolio/internal/scheduler/base"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

const (
	// DefaultMinFreeBytes below this the maintenance run fails
	DefaultMinFreeBytes = 500 * 1000 * 1000
	lowDiskWarningBytes = 5 * 1000 * 1000 * 1000
)

// LedgerDatabases lists the per-portfolio ledger handles
type LedgerDatabases interface {
	Databases() ([]*database.DB, error)
}

// MaintenanceJob runs integrity checks, WAL checkpoints and VACUUM over
// every database, and checks free disk space under the data directory.
type MaintenanceJob struct {
	base.JobBase
	dataDir      string
	shared       []*database.DB
	ledgers      LedgerDatabases
	minFreeBytes uint64
	log          zerolog.Logger
}

// NewMaintenanceJob creates the maintenance job. shared are the
// process-wide databases (prices, client data).
func NewMaintenanceJob(dataDir string, shared []*database.DB, ledgers LedgerDatabases, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		dataDir:      dataDir,
		shared:       shared,
		ledgers:      ledgers,
		minFreeBytes: DefaultMinFreeBytes,
		log:          log.With().Str("job", "database_maintenance").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *MaintenanceJob) Name() string {
	return "database_maintenance"
}

// Run executes one maintenance pass. A failing database does not stop
// the others; all failures are returned together.
func (j *MaintenanceJob) Run(ctx context.Context) error {
	j.log.Info().Msg("Starting database maintenance")
	startTime := time.Now()

	if err := j.checkDiskSpace(ctx); err != nil {
		return err
	}

	dbs := append([]*database.DB(nil), j.shared...)
	if j.ledgers != nil {
		ledgerDBs, err := j.ledgers.Databases()
		if err != nil {
			return fmt.Errorf("failed to list ledgers: %w", err)
		}
		dbs = append(dbs, ledgerDBs...)
	}

	var errs []error
	for _, db := range dbs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := j.maintain(ctx, db); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("Database maintenance failed")
			errs = append(errs, err)
		}
	}

	j.log.Info().
		Int("databases", len(dbs)).
		Int("failed", len(errs)).
		Dur("duration_ms", time.Since(startTime)).
		Msg("Database maintenance completed")

	return errors.Join(errs...)
}

func (j *MaintenanceJob) maintain(ctx context.Context, db *database.DB) error {
	if err := db.HealthCheck(ctx); err != nil {
		return err
	}

	if err := db.Checkpoint(ctx); err != nil {
		// not critical
		j.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
	}

	// Ledgers are small and written with FULL sync; rebuilding them buys nothing
	if db.Profile() == database.ProfileLedger {
		return nil
	}

	reclaimed, err := db.Vacuum(ctx)
	if err != nil {
		return err
	}
	j.log.Debug().
		Str("database", db.Name()).
		Int64("reclaimed_bytes", reclaimed).
		Msg("VACUUM completed")
	return nil
}

func (j *MaintenanceJob) checkDiskSpace(ctx context.Context) error {
	usage, err := disk.UsageWithContext(ctx, j.dataDir)
	if err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	availableGB := float64(usage.Free) / 1e9
	switch {
	case usage.Free < j.minFreeBytes:
		j.log.Error().Float64("available_gb", availableGB).Msg("Insufficient disk space")
		return fmt.Errorf("only %.2f GB free under %s", availableGB, j.dataDir)
	case usage.Free < lowDiskWarningBytes:
		j.log.Warn().Float64("available_gb", availableGB).Msg("Disk space running low")
	default:
		j.log.Debug().Float64("available_gb", availableGB).Msg("Disk space check")
	}
	return nil
}
