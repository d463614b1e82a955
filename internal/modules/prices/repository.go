// Package prices provides the price oracle: asset id resolution, current and
// historical prices, and the global max-wins price cache.
package prices

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/cryptofolio/internal/domain"
	"github.com/rs/zerolog"
)

// Repository handles price cache database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new price cache repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "price_cache").Logger(),
	}
}

// Upsert stores a price unless a newer one is already cached.
// Returns false when the entry lost to a newer fetched_at.
func (r *Repository) Upsert(entry domain.PriceCacheEntry) (bool, error) {
	if entry.AssetID == "" {
		return false, fmt.Errorf("%w: asset id is required", domain.ErrValidation)
	}
	if !(entry.PriceUSD >= 0) {
		return false, fmt.Errorf("%w: price must not be negative, got %v", domain.ErrValidation, entry.PriceUSD)
	}

	result, err := r.db.Exec(`
		INSERT INTO price_cache (asset_id, price_usd, fetched_at) VALUES (?, ?, ?)
		ON CONFLICT(asset_id) DO UPDATE SET
			price_usd = excluded.price_usd,
			fetched_at = excluded.fetched_at
		WHERE excluded.fetched_at > price_cache.fetched_at`,
		entry.AssetID, entry.PriceUSD, entry.FetchedAt.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert price for %s: %w", entry.AssetID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		r.log.Debug().Str("asset", entry.AssetID).Time("fetched_at", entry.FetchedAt).Msg("Stale price discarded")
	}
	return n > 0, nil
}

// Get returns the cached price of an asset, or nil if none is cached
func (r *Repository) Get(assetID string) (*domain.PriceCacheEntry, error) {
	var entry domain.PriceCacheEntry
	var fetchedAt int64

	err := r.db.QueryRow(
		`SELECT asset_id, price_usd, fetched_at FROM price_cache WHERE asset_id = ?`, assetID,
	).Scan(&entry.AssetID, &entry.PriceUSD, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached price for %s: %w", assetID, err)
	}

	entry.FetchedAt = time.Unix(0, fetchedAt).UTC()
	return &entry, nil
}

// GetAll returns every cached price ordered by asset id
func (r *Repository) GetAll() ([]domain.PriceCacheEntry, error) {
	rows, err := r.db.Query(`SELECT asset_id, price_usd, fetched_at FROM price_cache ORDER BY asset_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query price cache: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.PriceCacheEntry, 0)
	for rows.Next() {
		var entry domain.PriceCacheEntry
		var fetchedAt int64
		if err := rows.Scan(&entry.AssetID, &entry.PriceUSD, &fetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cached price: %w", err)
		}
		entry.FetchedAt = time.Unix(0, fetchedAt).UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
