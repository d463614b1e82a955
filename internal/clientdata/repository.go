// Package clientdata provides persistent caching for market-data provider responses.
// All data is stored as JSON blobs with expiration timestamps for cache-first behavior.
package clientdata

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/cryptofolio/internal/database"
)

// Provider endpoints whose responses may be cached.
const (
	EndpointSearch  = "search"
	EndpointHistory = "history"
)

// AllEndpoints lists every cacheable endpoint.
var AllEndpoints = []string{EndpointSearch, EndpointHistory}

var validEndpoints = func() map[string]bool {
	m := make(map[string]bool, len(AllEndpoints))
	for _, e := range AllEndpoints {
		m[e] = true
	}
	return m
}()

// Repository provides cache operations for provider responses.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a new client data repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func validateEndpoint(endpoint string) error {
	if !validEndpoints[endpoint] {
		return fmt.Errorf("invalid endpoint: %s", endpoint)
	}
	return nil
}

func cacheKey(endpoint, key string) string {
	return endpoint + ":" + key
}

// Store saves data with expiration = now + ttl, replacing any previous entry.
func (r *Repository) Store(endpoint, key string, data interface{}, ttl time.Duration) error {
	if err := validateEndpoint(endpoint); err != nil {
		return err
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	expiresAt := r.now().Add(ttl).Unix()
	_, err = r.db.Exec(
		`INSERT OR REPLACE INTO provider_responses (cache_key, endpoint, data, expires_at) VALUES (?, ?, ?, ?)`,
		cacheKey(endpoint, key), endpoint, string(jsonData), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store %s response: %w", endpoint, err)
	}
	return nil
}

// GetIfFresh returns data only if expires_at > now.
// Returns nil, nil if the key doesn't exist or data is expired.
// Use Get() to retrieve stale data as a fallback when API calls fail.
func (r *Repository) GetIfFresh(endpoint, key string) (json.RawMessage, error) {
	if err := validateEndpoint(endpoint); err != nil {
		return nil, err
	}
	return r.get(
		`SELECT data FROM provider_responses WHERE cache_key = ? AND expires_at > ?`,
		cacheKey(endpoint, key), r.now().Unix(),
	)
}

// Get returns data regardless of expiration status.
// Returns nil, nil if the key doesn't exist.
func (r *Repository) Get(endpoint, key string) (json.RawMessage, error) {
	if err := validateEndpoint(endpoint); err != nil {
		return nil, err
	}
	return r.get(`SELECT data FROM provider_responses WHERE cache_key = ?`, cacheKey(endpoint, key))
}

func (r *Repository) get(query string, args ...interface{}) (json.RawMessage, error) {
	var data string
	err := r.db.QueryRow(query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached response: %w", err)
	}
	return json.RawMessage(data), nil
}

// Delete removes a specific entry.
func (r *Repository) Delete(endpoint, key string) error {
	if err := validateEndpoint(endpoint); err != nil {
		return err
	}
	if _, err := r.db.Exec(`DELETE FROM provider_responses WHERE cache_key = ?`, cacheKey(endpoint, key)); err != nil {
		return fmt.Errorf("failed to delete %s response: %w", endpoint, err)
	}
	return nil
}

// DeleteExpired removes every entry whose expires_at has passed.
// Returns the number of rows deleted per endpoint.
func (r *Repository) DeleteExpired() (map[string]int64, error) {
	results := make(map[string]int64)
	now := r.now().Unix()

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		rows, err := tx.Query(
			`SELECT endpoint, COUNT(*) FROM provider_responses WHERE expires_at < ? GROUP BY endpoint`, now)
		if err != nil {
			return err
		}
		for rows.Next() {
			var endpoint string
			var count int64
			if err := rows.Scan(&endpoint, &count); err != nil {
				rows.Close()
				return err
			}
			results[endpoint] = count
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		_, err = tx.Exec(`DELETE FROM provider_responses WHERE expires_at < ?`, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete expired responses: %w", err)
	}
	return results, nil
}
