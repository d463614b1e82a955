package prices

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/cryptofolio/internal/clients/coingecko"
	"github.com/aristath/cryptofolio/internal/domain"
	"github.com/aristath/cryptofolio/internal/events"
	"github.com/rs/zerolog"
)

// MarketDataClient is the subset of the provider client the oracle needs
type MarketDataClient interface {
	Search(ctx context.Context, query string) ([]coingecko.Coin, error)
	SimplePrice(ctx context.Context, ids ...string) (map[string]float64, error)
	History(ctx context.Context, id string, date time.Time) (float64, bool, error)
}

// AssetRef is a resolved provider asset
type AssetRef struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

// RefreshResult summarises a refresh run
type RefreshResult struct {
	Requested int      `json:"requested"`
	Updated   int      `json:"updated"`
	Missing   []string `json:"missing,omitempty"`
}

// Oracle answers price questions from the cache, falling back to the provider
type Oracle struct {
	client MarketDataClient
	repo   *Repository
	bus    *events.Bus
	log    zerolog.Logger
	now    func() time.Time
}

// NewOracle creates a price oracle. bus is optional.
func NewOracle(client MarketDataClient, repo *Repository, bus *events.Bus, log zerolog.Logger) *Oracle {
	return &Oracle{
		client: client,
		repo:   repo,
		bus:    bus,
		log:    log.With().Str("component", "price_oracle").Logger(),
		now:    time.Now,
	}
}

// ResolveAssetID maps a user supplied name or id to the provider's canonical asset.
// Matching is case-insensitive on id or name and the first match in provider order wins.
func (o *Oracle) ResolveAssetID(ctx context.Context, nameOrID string) (AssetRef, error) {
	query := strings.TrimSpace(nameOrID)
	if query == "" {
		return AssetRef{}, fmt.Errorf("%w: asset name is required", domain.ErrValidation)
	}

	coins, err := o.client.Search(ctx, query)
	if err != nil {
		return AssetRef{}, fmt.Errorf("failed to resolve %q: %w", query, err)
	}

	for _, coin := range coins {
		if strings.EqualFold(coin.ID, query) || strings.EqualFold(coin.Name, query) {
			return AssetRef{ID: coin.ID, Name: coin.Name, Symbol: coin.Symbol}, nil
		}
	}
	return AssetRef{}, fmt.Errorf("%w: no asset matches %q", domain.ErrNotFound, query)
}

// GetCurrentPrice returns the cached price, fetching synchronously on a miss.
// On failure the entry carries a zero price and the error wraps ErrPriceUnavailable.
func (o *Oracle) GetCurrentPrice(ctx context.Context, assetID string) (domain.PriceCacheEntry, error) {
	cached, err := o.repo.Get(assetID)
	if err != nil {
		o.log.Warn().Err(err).Str("asset", assetID).Msg("Price cache read failed, fetching from provider")
	}
	if cached != nil {
		return *cached, nil
	}

	if _, err := o.Refresh(ctx, assetID); err != nil {
		return domain.PriceCacheEntry{AssetID: assetID}, fmt.Errorf("%w: %s: %w", domain.ErrPriceUnavailable, assetID, err)
	}

	cached, err = o.repo.Get(assetID)
	if err != nil {
		return domain.PriceCacheEntry{AssetID: assetID}, fmt.Errorf("%w: %s: %w", domain.ErrPriceUnavailable, assetID, err)
	}
	if cached == nil {
		return domain.PriceCacheEntry{AssetID: assetID}, fmt.Errorf("%w: provider has no price for %s", domain.ErrPriceUnavailable, assetID)
	}
	return *cached, nil
}

// GetHistoricalPrice returns the USD price of an asset on a given day
func (o *Oracle) GetHistoricalPrice(ctx context.Context, assetID string, date time.Time) (float64, error) {
	price, found, err := o.client.History(ctx, assetID, date)
	if err != nil {
		return 0, fmt.Errorf("%w: %s on %s: %w", domain.ErrPriceUnavailable, assetID, date.Format(domain.DateLayout), err)
	}
	if !found {
		return 0, fmt.Errorf("%w: no market data for %s on %s", domain.ErrPriceUnavailable, assetID, date.Format(domain.DateLayout))
	}
	return price, nil
}

// Refresh fetches current prices for the given assets in one provider call and caches them.
// Entries are stamped with the time the request started, so a slow response never
// overwrites a price fetched after it. A failed call leaves the cache untouched.
func (o *Oracle) Refresh(ctx context.Context, assetIDs ...string) (RefreshResult, error) {
	result := RefreshResult{Requested: len(assetIDs)}
	if len(assetIDs) == 0 {
		return result, nil
	}

	started := o.now().UTC()
	quotes, err := o.client.SimplePrice(ctx, assetIDs...)
	if err != nil {
		return result, err
	}

	var errs []error
	for _, id := range assetIDs {
		price, ok := quotes[id]
		if !ok {
			result.Missing = append(result.Missing, id)
			continue
		}

		entry := domain.PriceCacheEntry{AssetID: id, PriceUSD: price, FetchedAt: started}
		accepted, err := o.repo.Upsert(entry)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !accepted {
			continue
		}

		result.Updated++
		if o.bus != nil {
			o.bus.Emit("prices", &events.PriceUpdatedData{AssetID: id, PriceUSD: price, FetchedAt: started})
		}
	}

	if len(result.Missing) > 0 {
		o.log.Debug().Strs("missing", result.Missing).Msg("Provider returned no price for some assets")
	}
	return result, errors.Join(errs...)
}

// Cached returns the cached price of an asset without contacting the provider, or nil
func (o *Oracle) Cached(assetID string) (*domain.PriceCacheEntry, error) {
	return o.repo.Get(assetID)
}

// CachedAll returns every cached price
func (o *Oracle) CachedAll() ([]domain.PriceCacheEntry, error) {
	return o.repo.GetAll()
}
