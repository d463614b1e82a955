package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/cryptofolio/internal/events"
	"github.com/aristath/cryptofolio/internal/modules/prices"
	"github.com/aristath/cryptofolio/internal/scheduler/base"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultRefreshBatchSize is how many assets go into one provider price call
const DefaultRefreshBatchSize = 50

// AssetSource lists every asset id known to any portfolio
type AssetSource interface {
	AllAssetIDs() ([]string, error)
}

// PriceRefresher fetches and caches current prices
type PriceRefresher interface {
	Refresh(ctx context.Context, assetIDs ...string) (prices.RefreshResult, error)
}

// PriceRefreshJob keeps the price cache warm for every asset of every portfolio.
// Provider calls are paced by a per-minute limiter; a failed batch is logged
// and the run moves on to the next one.
type PriceRefreshJob struct {
	base.JobBase
	assets    AssetSource
	refresher PriceRefresher
	bus       *events.Bus
	limiter   *rate.Limiter
	batchSize int
	log       zerolog.Logger
}

// NewPriceRefreshJob creates the refresh job. requestsPerMinute <= 0 disables pacing.
func NewPriceRefreshJob(assets AssetSource, refresher PriceRefresher, bus *events.Bus, requestsPerMinute int, log zerolog.Logger) *PriceRefreshJob {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
	}
	return &PriceRefreshJob{
		assets:    assets,
		refresher: refresher,
		bus:       bus,
		limiter:   limiter,
		batchSize: DefaultRefreshBatchSize,
		log:       log.With().Str("job", "price_refresh").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *PriceRefreshJob) Name() string {
	return "price_refresh"
}

// Run refreshes every known asset
func (j *PriceRefreshJob) Run(ctx context.Context) error {
	_, err := j.RefreshAll(ctx)
	return err
}

// RefreshAll refreshes every known asset and returns the combined result.
// Only cancellation and a failure to list assets abort the run.
func (j *PriceRefreshJob) RefreshAll(ctx context.Context) (prices.RefreshResult, error) {
	var total prices.RefreshResult

	ids, err := j.assets.AllAssetIDs()
	if err != nil {
		return total, fmt.Errorf("failed to list assets: %w", err)
	}
	total.Requested = len(ids)
	if len(ids) == 0 {
		j.log.Debug().Msg("No assets to refresh")
		return total, nil
	}

	var failed []string
	var errs []error
	for start := 0; start < len(ids); start += j.batchSize {
		end := start + j.batchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		if err := j.limiter.Wait(ctx); err != nil {
			return total, err
		}

		result, err := j.refresher.Refresh(ctx, batch...)
		total.Updated += result.Updated
		total.Missing = append(total.Missing, result.Missing...)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return total, ctxErr
			}
			j.log.Warn().Err(err).Strs("assets", batch).Msg("Price refresh batch failed")
			failed = append(failed, batch...)
			errs = append(errs, err)
		}
	}

	if j.bus != nil {
		j.bus.Emit("scheduler", &events.PriceRefreshCompletedData{
			Requested: total.Requested,
			Updated:   total.Updated,
			Failed:    failed,
		})
	}

	j.log.Info().
		Int("requested", total.Requested).
		Int("updated", total.Updated).
		Int("missing", len(total.Missing)).
		Int("failed", len(failed)).
		Msg("Price refresh completed")

	return total, errors.Join(errs...)
}
