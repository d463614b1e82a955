package reliability

import (
	"context"
	"errors"
	"fmt"

	"github.com/aristath/cryptofolio/internal/scheduler/base"
	"github.com/rs/zerolog"
)

// PortfolioBackupper lists portfolios and backs one up
type PortfolioBackupper interface {
	List() ([]string, error)
	Backup(ctx context.Context, portfolioID string) (*BackupInfo, error)
}

// BackupJob uploads the export of every portfolio
type BackupJob struct {
	base.JobBase
	portfolios PortfolioBackupper
	log        zerolog.Logger
}

// NewBackupJob creates the scheduled backup job
func NewBackupJob(portfolios PortfolioBackupper, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		portfolios: portfolios,
		log:        log.With().Str("job", "portfolio_backup").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *BackupJob) Name() string {
	return "portfolio_backup"
}

// Run backs up each portfolio in turn; one failure does not stop the rest
func (j *BackupJob) Run(ctx context.Context) error {
	ids, err := j.portfolios.List()
	if err != nil {
		return fmt.Errorf("failed to list portfolios: %w", err)
	}

	var errs []error
	uploaded := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := j.portfolios.Backup(ctx, id); err != nil {
			j.log.Error().Err(err).Str("portfolio", id).Msg("Portfolio backup failed")
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		uploaded++
	}

	j.log.Info().
		Int("portfolios", len(ids)).
		Int("uploaded", uploaded).
		Msg("Scheduled backup completed")
	return errors.Join(errs...)
}
