package prices

import (
	"testing"
	"time"

	"github.com/aristath/cryptofolio/internal/domain"
	testingpkg "github.com/aristath/cryptofolio/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "prices")
	t.Cleanup(cleanup)
	return NewRepository(db.Conn(), zerolog.Nop())
}

func TestRepository_UpsertIsMaxWins(t *testing.T) {
	repo := newTestRepository(t)
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	accepted, err := repo.Upsert(domain.PriceCacheEntry{AssetID: "bitcoin", PriceUSD: 100, FetchedAt: t0.Add(time.Minute)})
	require.NoError(t, err)
	assert.True(t, accepted)

	// An older fetch arriving late must not overwrite the newer price
	accepted, err = repo.Upsert(domain.PriceCacheEntry{AssetID: "bitcoin", PriceUSD: 90, FetchedAt: t0})
	require.NoError(t, err)
	assert.False(t, accepted)

	entry, err := repo.Get("bitcoin")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 100.0, entry.PriceUSD)
	assert.True(t, entry.FetchedAt.Equal(t0.Add(time.Minute)))

	// Same timestamp does not replace either
	accepted, err = repo.Upsert(domain.PriceCacheEntry{AssetID: "bitcoin", PriceUSD: 95, FetchedAt: t0.Add(time.Minute)})
	require.NoError(t, err)
	assert.False(t, accepted)

	accepted, err = repo.Upsert(domain.PriceCacheEntry{AssetID: "bitcoin", PriceUSD: 110, FetchedAt: t0.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.True(t, accepted)

	entry, err = repo.Get("bitcoin")
	require.NoError(t, err)
	assert.Equal(t, 110.0, entry.PriceUSD)
}

func TestRepository_FetchedAtNeverDecreases(t *testing.T) {
	repo := newTestRepository(t)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	offsets := []int{5, 1, 9, 3, 9, 2, 12, 0}
	var last time.Time
	for i, off := range offsets {
		_, err := repo.Upsert(domain.PriceCacheEntry{
			AssetID:   "ethereum",
			PriceUSD:  float64(i),
			FetchedAt: t0.Add(time.Duration(off) * time.Second),
		})
		require.NoError(t, err)

		entry, err := repo.Get("ethereum")
		require.NoError(t, err)
		assert.False(t, entry.FetchedAt.Before(last), "fetched_at went backwards at step %d", i)
		last = entry.FetchedAt
	}
	assert.True(t, last.Equal(t0.Add(12*time.Second)))
}

func TestRepository_GetMissing(t *testing.T) {
	repo := newTestRepository(t)

	entry, err := repo.Get("nothing")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestRepository_UpsertValidation(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.Upsert(domain.PriceCacheEntry{PriceUSD: 1, FetchedAt: time.Now()})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = repo.Upsert(domain.PriceCacheEntry{AssetID: "x", PriceUSD: -1, FetchedAt: time.Now()})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRepository_GetAll(t *testing.T) {
	repo := newTestRepository(t)
	now := time.Now()

	for _, id := range []string{"solana", "bitcoin"} {
		_, err := repo.Upsert(domain.PriceCacheEntry{AssetID: id, PriceUSD: 1, FetchedAt: now})
		require.NoError(t, err)
	}

	all, err := repo.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "bitcoin", all[0].AssetID)
}
