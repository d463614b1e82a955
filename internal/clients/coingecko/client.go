// Package coingecko provides a rate-limited CoinGecko API client with retry and response caching.
package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aristath/cryptofolio/internal/clientdata"
	"github.com/aristath/cryptofolio/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL           = "https://api.coingecko.com/api/v3"
	DefaultTimeout           = 10 * time.Second
	DefaultMaxAttempts       = 5
	DefaultBackoffBase       = time.Second
	DefaultRequestsPerMinute = 30

	maxResponseBytes  = 4 << 20
	historyDateLayout = "02-01-2006"
)

// Config holds client settings. Zero values fall back to the defaults above.
type Config struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	MaxAttempts       int
	BackoffBase       time.Duration
	RequestsPerMinute int
	CacheTTL          time.Duration
}

// Client talks to the CoinGecko public API.
// Every request waits on the limiter, runs under its own timeout and is retried
// with exponential backoff on 429, 5xx and transport errors.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	limiter     *rate.Limiter
	timeout     time.Duration
	maxAttempts int
	backoffBase time.Duration
	cacheTTL    time.Duration
	cacheRepo   *clientdata.Repository
	log         zerolog.Logger
}

// NewClient creates a new CoinGecko client.
// cacheRepo is optional - if nil, search and history responses are not cached.
func NewClient(cfg Config, cacheRepo *clientdata.Repository, log zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.RequestsPerMinute < 1 {
		cfg.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = clientdata.DefaultTTL
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		httpClient:  &http.Client{},
		limiter:     rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		cacheTTL:    cfg.CacheTTL,
		cacheRepo:   cacheRepo,
		log:         log.With().Str("client", "coingecko").Logger(),
	}
}

// StatusError is a non-2xx answer from the provider
type StatusError struct {
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Path, e.StatusCode)
}

// get performs a GET with the full retry discipline and decodes the JSON body into out.
//
// Any 429 seen during the attempts makes the final error ErrRateLimited, even when
// a later attempt failed differently. 404 maps to ErrNotFound, other 4xx fail fast.
func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var lastErr error
	rateLimited := false

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			wait := c.backoffBase * time.Duration(1<<(attempt-1))
			c.log.Debug().Str("path", path).Int("attempt", attempt+1).Dur("wait", wait).Msg("Retrying provider request")
			if err := sleep(ctx, wait); err != nil {
				return err
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}

		status, err := c.do(ctx, reqURL, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err

		switch {
		case status == http.StatusTooManyRequests:
			rateLimited = true
			c.log.Warn().Str("path", path).Int("attempt", attempt+1).Msg("Rate limited by provider")
		case status == http.StatusNotFound:
			return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
		case status >= 400 && status < 500:
			return fmt.Errorf("%w: %v", domain.ErrProvider, err)
		case status == http.StatusOK:
			// Body could not be decoded; retrying will not help
			return fmt.Errorf("%w: %v", domain.ErrProvider, err)
		default:
			c.log.Warn().Err(err).Str("path", path).Int("attempt", attempt+1).Msg("Provider request failed")
		}
	}

	if rateLimited {
		return fmt.Errorf("%w: %s after %d attempts (last error: %v)", domain.ErrRateLimited, path, c.maxAttempts, lastErr)
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", domain.ErrProvider, path, c.maxAttempts, lastErr)
}

// do runs a single attempt. The returned status is 0 on transport errors.
func (c *Client) do(ctx context.Context, reqURL string, out interface{}) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed after %s: %w", time.Since(start), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, &StatusError{Path: req.URL.Path, StatusCode: resp.StatusCode}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Coin is a search hit
type Coin struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

// Search returns coins matching the query, in provider order.
// Fresh cached results are served without a request; stale ones are used when the provider fails.
func (c *Client) Search(ctx context.Context, query string) ([]Coin, error) {
	key := strings.ToLower(strings.TrimSpace(query))

	var cached []Coin
	if c.readCache(clientdata.EndpointSearch, key, true, &cached) {
		return cached, nil
	}

	var result struct {
		Coins []Coin `json:"coins"`
	}
	err := c.get(ctx, "/search", url.Values{"query": {query}}, &result)
	if err != nil {
		if errors.Is(err, domain.ErrRateLimited) || errors.Is(err, domain.ErrProvider) {
			if c.readCache(clientdata.EndpointSearch, key, false, &cached) {
				c.log.Warn().Err(err).Str("query", query).Msg("Provider failed, using stale search results")
				return cached, nil
			}
		}
		return nil, err
	}

	if result.Coins == nil {
		result.Coins = []Coin{}
	}
	c.writeCache(clientdata.EndpointSearch, key, result.Coins)
	return result.Coins, nil
}

// SimplePrice returns the current USD price of each id the provider knows.
// Unknown ids are absent from the map. Current prices are never cached here.
func (c *Client) SimplePrice(ctx context.Context, ids ...string) (map[string]float64, error) {
	if len(ids) == 0 {
		return map[string]float64{}, nil
	}

	var result map[string]map[string]float64
	err := c.get(ctx, "/simple/price", url.Values{
		"ids":           {strings.Join(ids, ",")},
		"vs_currencies": {"usd"},
	}, &result)
	if err != nil {
		return nil, err
	}

	prices := make(map[string]float64, len(ids))
	for id, quote := range result {
		if usd, ok := quote["usd"]; ok {
			prices[id] = usd
		}
	}
	return prices, nil
}

type cachedHistory struct {
	PriceUSD float64 `json:"price_usd"`
	Found    bool    `json:"found"`
}

// History returns the USD price of a coin on a given day.
// found is false when the provider has no market data for that day.
func (c *Client) History(ctx context.Context, id string, date time.Time) (price float64, found bool, err error) {
	day := date.Format(historyDateLayout)
	key := id + ":" + day

	var cached cachedHistory
	if c.readCache(clientdata.EndpointHistory, key, true, &cached) {
		return cached.PriceUSD, cached.Found, nil
	}

	var result struct {
		MarketData *struct {
			CurrentPrice map[string]float64 `json:"current_price"`
		} `json:"market_data"`
	}
	err = c.get(ctx, "/coins/"+url.PathEscape(id)+"/history", url.Values{
		"date":         {day},
		"localization": {"false"},
	}, &result)
	if err != nil {
		if errors.Is(err, domain.ErrRateLimited) || errors.Is(err, domain.ErrProvider) {
			if c.readCache(clientdata.EndpointHistory, key, false, &cached) {
				c.log.Warn().Err(err).Str("id", id).Str("date", day).Msg("Provider failed, using stale historical price")
				return cached.PriceUSD, cached.Found, nil
			}
		}
		return 0, false, err
	}

	entry := cachedHistory{}
	if result.MarketData != nil {
		entry.PriceUSD, entry.Found = result.MarketData.CurrentPrice["usd"]
	}
	c.writeCache(clientdata.EndpointHistory, key, entry)
	return entry.PriceUSD, entry.Found, nil
}

func (c *Client) readCache(endpoint, key string, freshOnly bool, out interface{}) bool {
	if c.cacheRepo == nil {
		return false
	}

	var data json.RawMessage
	var err error
	if freshOnly {
		data, err = c.cacheRepo.GetIfFresh(endpoint, key)
	} else {
		data, err = c.cacheRepo.Get(endpoint, key)
	}
	if err != nil {
		c.log.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to read response cache")
		return false
	}
	if data == nil {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false
	}

	c.log.Debug().Str("endpoint", endpoint).Str("key", key).Bool("fresh_only", freshOnly).Msg("Cache hit")
	return true
}

func (c *Client) writeCache(endpoint, key string, value interface{}) {
	if c.cacheRepo == nil {
		return
	}
	if err := c.cacheRepo.Store(endpoint, key, value, c.cacheTTL); err != nil {
		c.log.Warn().Err(err).Str("endpoint", endpoint).Str("key", key).Msg("Failed to cache response")
	}
}
