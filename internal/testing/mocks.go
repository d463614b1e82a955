package testing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/cryptofolio/internal/clients/coingecko"
	"github.com/aristath/cryptofolio/internal/domain"
	"github.com/stretchr/testify/mock"
)

// MockMarketDataClient is a testify mock of the market-data provider client
type MockMarketDataClient struct {
	mock.Mock
}

// Search mocks coin search
func (m *MockMarketDataClient) Search(ctx context.Context, query string) ([]coingecko.Coin, error) {
	args := m.Called(ctx, query)
	coins, _ := args.Get(0).([]coingecko.Coin)
	return coins, args.Error(1)
}

// SimplePrice mocks the batch current-price lookup. ids arrive as one []string argument.
func (m *MockMarketDataClient) SimplePrice(ctx context.Context, ids ...string) (map[string]float64, error) {
	args := m.Called(ctx, ids)
	prices, _ := args.Get(0).(map[string]float64)
	return prices, args.Error(1)
}

// History mocks the historical price lookup
func (m *MockMarketDataClient) History(ctx context.Context, id string, date time.Time) (float64, bool, error) {
	args := m.Called(ctx, id, date)
	return args.Get(0).(float64), args.Bool(1), args.Error(2)
}

// StaticPriceSource serves current prices from a fixed map and counts lookups.
// Unknown assets fail with domain.ErrPriceUnavailable.
type StaticPriceSource struct {
	mu     sync.Mutex
	prices map[string]float64
	calls  map[string]int
}

// NewStaticPriceSource creates a price source over prices (may be nil)
func NewStaticPriceSource(prices map[string]float64) *StaticPriceSource {
	return &StaticPriceSource{prices: prices, calls: make(map[string]int)}
}

// GetCurrentPrice returns the configured price of assetID
func (p *StaticPriceSource) GetCurrentPrice(ctx context.Context, assetID string) (domain.PriceCacheEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls[assetID]++
	price, ok := p.prices[assetID]
	if !ok {
		return domain.PriceCacheEntry{AssetID: assetID}, fmt.Errorf("%w: %s", domain.ErrPriceUnavailable, assetID)
	}
	return domain.PriceCacheEntry{AssetID: assetID, PriceUSD: price, FetchedAt: time.Now()}, nil
}

// Calls returns how many times assetID was looked up
func (p *StaticPriceSource) Calls(assetID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[assetID]
}
