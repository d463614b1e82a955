package coingecko

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/cryptofolio/internal/clientdata"
	"github.com/aristath/cryptofolio/internal/domain"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, cacheRepo *clientdata.Repository) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(Config{
		BaseURL:           server.URL,
		Timeout:           100 * time.Millisecond,
		MaxAttempts:       4,
		BackoffBase:       time.Millisecond,
		RequestsPerMinute: 600000,
	}, cacheRepo, zerolog.Nop())
}

func newCacheRepo(t *testing.T) *clientdata.Repository {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE provider_responses (
		cache_key TEXT PRIMARY KEY, endpoint TEXT NOT NULL, data TEXT NOT NULL, expires_at INTEGER NOT NULL)`)
	require.NoError(t, err)
	return clientdata.NewRepository(db)
}

func TestSimplePrice(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "bitcoin,ethereum", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		w.Write([]byte(`{"bitcoin":{"usd":20000},"ethereum":{"usd":1500.5}}`))
	}, nil)

	prices, err := client.SimplePrice(context.Background(), "bitcoin", "ethereum")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"bitcoin": 20000, "ethereum": 1500.5}, prices)
}

func TestSimplePrice_UnknownIDIsAbsent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}, nil)

	prices, err := client.SimplePrice(context.Background(), "not-a-coin")
	require.NoError(t, err)
	_, ok := prices["not-a-coin"]
	assert.False(t, ok)
}

func TestAPIKeyHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("x-cg-demo-api-key"))
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, APIKey: "secret", RequestsPerMinute: 600000}, nil, zerolog.Nop())
	_, err := client.SimplePrice(context.Background(), "bitcoin")
	require.NoError(t, err)
}

func TestRetry_RecoversAfterServerErrors(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"bitcoin":{"usd":1}}`))
	}, nil)

	prices, err := client.SimplePrice(context.Background(), "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, 1.0, prices["bitcoin"])
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRetry_RateLimitedIsSticky(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		// Last attempt times out
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}, nil)

	_, err := client.SimplePrice(context.Background(), "bitcoin")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.NotErrorIs(t, err, domain.ErrProvider)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestRetry_ExhaustedServerErrorsAreProviderErrors(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, nil)

	_, err := client.SimplePrice(context.Background(), "bitcoin")
	assert.ErrorIs(t, err, domain.ErrProvider)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestClientErrorsFailFast(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}, nil)

	_, err := client.SimplePrice(context.Background(), "bitcoin")
	assert.ErrorIs(t, err, domain.ErrProvider)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHistory_UnknownCoinIsNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, nil)

	_, _, err := client.History(context.Background(), "nope", time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancelledContextStopsRetries(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, nil)
	client.backoffBase = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.SimplePrice(ctx, "bitcoin")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSearch_CachesResults(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bitcoin", r.URL.Query().Get("query"))
		w.Write([]byte(`{"coins":[{"id":"bitcoin","name":"Bitcoin","symbol":"BTC"},{"id":"wrapped-bitcoin","name":"Wrapped Bitcoin","symbol":"WBTC"}]}`))
	}, newCacheRepo(t))

	for i := 0; i < 2; i++ {
		coins, err := client.Search(context.Background(), "Bitcoin")
		require.NoError(t, err)
		require.Len(t, coins, 2)
		assert.Equal(t, "bitcoin", coins[0].ID)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSearch_StaleFallback(t *testing.T) {
	repo := newCacheRepo(t)
	require.NoError(t, repo.Store(clientdata.EndpointSearch, "eth", []Coin{{ID: "ethereum", Name: "Ethereum"}}, -time.Minute))

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}, repo)

	coins, err := client.Search(context.Background(), "eth")
	require.NoError(t, err)
	require.Len(t, coins, 1)
	assert.Equal(t, "ethereum", coins[0].ID)
}

func TestHistory(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/bitcoin/history", r.URL.Path)
		assert.Equal(t, "15-01-2024", r.URL.Query().Get("date"))
		w.Write([]byte(`{"id":"bitcoin","market_data":{"current_price":{"usd":42750.5,"eur":39000}}}`))
	}, newCacheRepo(t))

	price, found, err := client.History(context.Background(), "bitcoin", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 42750.5, price)
}

func TestHistory_NoMarketData(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"bitcoin"}`))
	}, nil)

	price, found, err := client.History(context.Background(), "bitcoin", time.Date(2009, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, price)
}
