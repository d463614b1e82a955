// Package ledger provides the per-portfolio transaction store.
// Every portfolio lives in its own sqlite file so a slow or corrupt
// portfolio cannot affect another one.
package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/aristath/cryptofolio/internal/database"
	"github.com/aristath/cryptofolio/internal/domain"
	"github.com/rs/zerolog"
)

const ledgerFileExt = ".db"

// portfolio ids name files on disk
var portfolioIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// ValidatePortfolioID rejects ids that cannot safely name a ledger file
func ValidatePortfolioID(id string) error {
	if !portfolioIDPattern.MatchString(id) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: invalid portfolio id %q", domain.ErrValidation, id)
	}
	return nil
}

// Manager owns the ledger databases of every portfolio.
// Handles are opened lazily and kept open until Destroy or Close.
type Manager struct {
	dir string
	log zerolog.Logger

	mu    sync.Mutex
	repos map[string]*Repository
	locks map[string]*sync.Mutex
}

// NewManager creates a manager storing ledgers under <dataDir>/portfolios
func NewManager(dataDir string, log zerolog.Logger) (*Manager, error) {
	dir := filepath.Join(dataDir, "portfolios")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create portfolios directory: %w", err)
	}
	return &Manager{
		dir:   dir,
		log:   log.With().Str("component", "ledger_manager").Logger(),
		repos: make(map[string]*Repository),
		locks: make(map[string]*sync.Mutex),
	}, nil
}

func (m *Manager) path(portfolioID string) string {
	return filepath.Join(m.dir, portfolioID+ledgerFileExt)
}

// Exists reports whether a ledger file exists for the portfolio
func (m *Manager) Exists(portfolioID string) bool {
	if ValidatePortfolioID(portfolioID) != nil {
		return false
	}
	_, err := os.Stat(m.path(portfolioID))
	return err == nil
}

// Initialize creates the portfolio ledger if absent and returns its repository.
// Calling it again for an existing portfolio is a no-op.
func (m *Manager) Initialize(portfolioID string) (*Repository, error) {
	if err := ValidatePortfolioID(portfolioID); err != nil {
		return nil, err
	}
	return m.open(portfolioID, true)
}

// Open returns the repository of an existing portfolio
func (m *Manager) Open(portfolioID string) (*Repository, error) {
	if err := ValidatePortfolioID(portfolioID); err != nil {
		return nil, err
	}
	return m.open(portfolioID, false)
}

func (m *Manager) open(portfolioID string, create bool) (*Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if repo, ok := m.repos[portfolioID]; ok {
		return repo, nil
	}

	path := m.path(portfolioID)
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat ledger for %s: %w", portfolioID, err)
		}
		if !create {
			return nil, fmt.Errorf("%w: portfolio %s", domain.ErrNotFound, portfolioID)
		}
	}

	db, err := database.New(database.Config{
		Path:    path,
		Profile: database.ProfileLedger,
		Name:    "ledger:" + portfolioID,
		Schema:  database.SchemaLedger,
	})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate ledger for %s: %w", portfolioID, err)
	}

	repo := NewRepository(portfolioID, db, m.log)
	if err := repo.ensureMeta(); err != nil {
		_ = db.Close()
		return nil, err
	}

	m.repos[portfolioID] = repo
	if create {
		m.log.Info().Str("portfolio", portfolioID).Msg("Portfolio ledger ready")
	}
	return repo, nil
}

// List returns the ids of every portfolio with a ledger file, sorted
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read portfolios directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ledgerFileExt) {
			continue
		}
		id := strings.TrimSuffix(name, ledgerFileExt)
		if ValidatePortfolioID(id) == nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Destroy closes the portfolio ledger and removes it with all its data
func (m *Manager) Destroy(portfolioID string) error {
	if err := ValidatePortfolioID(portfolioID); err != nil {
		return err
	}

	unlock := m.Lock(portfolioID)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.path(portfolioID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("%w: portfolio %s", domain.ErrNotFound, portfolioID)
	}

	if repo, ok := m.repos[portfolioID]; ok {
		if err := repo.db.Close(); err != nil {
			m.log.Warn().Err(err).Str("portfolio", portfolioID).Msg("Failed to close ledger before removal")
		}
		delete(m.repos, portfolioID)
	}

	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove ledger file %s: %w", path+suffix, err)
		}
	}

	m.log.Info().Str("portfolio", portfolioID).Msg("Portfolio destroyed")
	return nil
}

// Lock takes the single-writer lock of a portfolio and returns its release func.
// Writers that read-then-write (oversell checks, imports) hold it for the whole operation.
func (m *Manager) Lock(portfolioID string) func() {
	m.mu.Lock()
	l, ok := m.locks[portfolioID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[portfolioID] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Close closes every open ledger
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for id, repo := range m.repos {
		if err := repo.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close ledger %s: %w", id, err)
		}
		delete(m.repos, id)
	}
	return firstErr
}

// AllAssetIDs returns the sorted union of asset ids across every portfolio.
// Portfolios that fail to open are logged and skipped.
func (m *Manager) AllAssetIDs() ([]string, error) {
	ids, err := m.List()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, id := range ids {
		repo, err := m.Open(id)
		if err != nil {
			m.log.Warn().Err(err).Str("portfolio", id).Msg("Skipping ledger that failed to open")
			continue
		}
		assetIDs, err := repo.DistinctAssetIDs()
		if err != nil {
			m.log.Warn().Err(err).Str("portfolio", id).Msg("Failed to list assets of ledger")
			continue
		}
		for _, a := range assetIDs {
			seen[a] = struct{}{}
		}
	}

	all := make([]string, 0, len(seen))
	for a := range seen {
		all = append(all, a)
	}
	sort.Strings(all)
	return all, nil
}

// Databases opens every portfolio ledger and returns the handles.
// Portfolios that fail to open are logged and skipped.
func (m *Manager) Databases() ([]*database.DB, error) {
	ids, err := m.List()
	if err != nil {
		return nil, err
	}

	dbs := make([]*database.DB, 0, len(ids))
	for _, id := range ids {
		repo, err := m.Open(id)
		if err != nil {
			m.log.Warn().Err(err).Str("portfolio", id).Msg("Skipping ledger that failed to open")
			continue
		}
		dbs = append(dbs, repo.db)
	}
	return dbs, nil
}

// HealthCheck runs a quick check against every open ledger
func (m *Manager) HealthCheck(ctx context.Context) map[string]string {
	m.mu.Lock()
	repos := make(map[string]*Repository, len(m.repos))
	for id, r := range m.repos {
		repos[id] = r
	}
	m.mu.Unlock()

	status := make(map[string]string, len(repos))
	for id, r := range repos {
		if err := r.db.QuickCheck(ctx); err != nil {
			status[id] = err.Error()
		} else {
			status[id] = "ok"
		}
	}
	return status
}
