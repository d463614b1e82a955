package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/cryptofolio/internal/database"
	"github.com/aristath/cryptofolio/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const transactionColumns = `id, asset_id, asset_name, quantity, unit_price_usd, kind, venue,
	occurred_on, cost_basis_price_usd, created_at`

// Repository is the transaction store of a single portfolio.
// It holds no business rules beyond the record invariants.
type Repository struct {
	portfolioID string
	db          *database.DB
	log         zerolog.Logger
}

// NewRepository creates a repository over an already migrated ledger database
func NewRepository(portfolioID string, db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		portfolioID: portfolioID,
		db:          db,
		log:         log.With().Str("repo", "ledger").Str("portfolio", portfolioID).Logger(),
	}
}

// PortfolioID returns the id of the portfolio this repository serves
func (r *Repository) PortfolioID() string {
	return r.portfolioID
}

func (r *Repository) ensureMeta() error {
	_, err := r.db.Conn().Exec(
		`INSERT OR IGNORE INTO portfolio_meta (key, value) VALUES ('portfolio_id', ?), ('created_at', ?)`,
		r.portfolioID, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to write portfolio metadata: %w", err)
	}
	return nil
}

// AddTransaction validates and appends a transaction, returning its id.
// An id is generated when the caller leaves it empty.
func (r *Repository) AddTransaction(tx domain.Transaction) (string, error) {
	if err := tx.Validate(); err != nil {
		return "", err
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	err := database.WithTransaction(r.db.Conn(), func(sqlTx *sql.Tx) error {
		return insertTransaction(sqlTx, tx)
	})
	if err != nil {
		return "", fmt.Errorf("failed to add transaction: %w", err)
	}

	r.log.Debug().
		Str("id", tx.ID).
		Str("asset", tx.AssetID).
		Str("kind", string(tx.Kind)).
		Float64("quantity", tx.Quantity).
		Msg("Transaction added")

	return tx.ID, nil
}

func insertTransaction(sqlTx *sql.Tx, tx domain.Transaction) error {
	_, err := sqlTx.Exec(`INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.AssetID, tx.AssetName, tx.Quantity, tx.UnitPriceUSD, string(tx.Kind), tx.Venue,
		tx.OccurredOn, tx.CostBasisPriceUSD, tx.CreatedAt.UnixNano(),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return fmt.Errorf("%w: transaction %s", domain.ErrAlreadyExists, tx.ID)
	}
	return err
}

// GetTransaction returns a single transaction by id
func (r *Repository) GetTransaction(id string) (*domain.Transaction, error) {
	row := r.db.Conn().QueryRow(`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	tx, err := r.scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &tx, nil
}

// ListTransactions returns every transaction in insertion order
func (r *Repository) ListTransactions() ([]domain.Transaction, error) {
	return r.queryTransactions(`SELECT ` + transactionColumns + ` FROM transactions ORDER BY seq`)
}

// ListTransactionsForAsset returns the transactions of one asset in insertion order
func (r *Repository) ListTransactionsForAsset(assetID string) ([]domain.Transaction, error) {
	return r.queryTransactions(
		`SELECT `+transactionColumns+` FROM transactions WHERE asset_id = ? ORDER BY seq`, assetID)
}

func (r *Repository) queryTransactions(query string, args ...interface{}) ([]domain.Transaction, error) {
	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]domain.Transaction, 0)
	for rows.Next() {
		tx, err := r.scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *Repository) scanTransaction(row rowScanner) (domain.Transaction, error) {
	var tx domain.Transaction
	var kind string
	var createdAt int64

	err := row.Scan(&tx.ID, &tx.AssetID, &tx.AssetName, &tx.Quantity, &tx.UnitPriceUSD, &kind,
		&tx.Venue, &tx.OccurredOn, &tx.CostBasisPriceUSD, &createdAt)
	if err != nil {
		return tx, err
	}
	tx.Kind = domain.TransactionKind(kind)
	tx.CreatedAt = time.Unix(0, createdAt).UTC()
	tx.PortfolioID = r.portfolioID
	return tx, nil
}

// UpdateTransaction replaces every user field of an existing transaction.
// Insertion order and creation time are kept.
func (r *Repository) UpdateTransaction(tx domain.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}

	result, err := r.db.Conn().Exec(`UPDATE transactions
		SET asset_id = ?, asset_name = ?, quantity = ?, unit_price_usd = ?, kind = ?, venue = ?,
		    occurred_on = ?, cost_basis_price_usd = ?
		WHERE id = ?`,
		tx.AssetID, tx.AssetName, tx.Quantity, tx.UnitPriceUSD, string(tx.Kind), tx.Venue,
		tx.OccurredOn, tx.CostBasisPriceUSD, tx.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return requireAffected(result, "transaction", tx.ID)
}

// DeleteTransaction removes a transaction
func (r *Repository) DeleteTransaction(id string) error {
	result, err := r.db.Conn().Exec(`DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return requireAffected(result, "transaction", id)
}

func requireAffected(result sql.Result, what, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", domain.ErrNotFound, what, id)
	}
	return nil
}

// AddTrackedAsset starts tracking an asset
func (r *Repository) AddTrackedAsset(asset domain.TrackedAsset) error {
	if asset.AssetID == "" {
		return fmt.Errorf("%w: asset id is required", domain.ErrValidation)
	}
	if asset.AddedAt.IsZero() {
		asset.AddedAt = time.Now().UTC()
	}

	result, err := r.db.Conn().Exec(
		`INSERT OR IGNORE INTO tracked_assets (asset_id, display_name, added_at) VALUES (?, ?, ?)`,
		asset.AssetID, asset.DisplayName, asset.AddedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to add tracked asset: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: asset %s is already tracked", domain.ErrAlreadyExists, asset.AssetID)
	}
	return nil
}

// RemoveTrackedAsset stops tracking an asset and deletes all of its transactions.
// Returns the number of transactions removed.
func (r *Repository) RemoveTrackedAsset(assetID string) (int64, error) {
	var removed int64
	err := database.WithTransaction(r.db.Conn(), func(sqlTx *sql.Tx) error {
		result, err := sqlTx.Exec(`DELETE FROM transactions WHERE asset_id = ?`, assetID)
		if err != nil {
			return err
		}
		removed, _ = result.RowsAffected()
		_, err = sqlTx.Exec(`DELETE FROM tracked_assets WHERE asset_id = ?`, assetID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to remove tracked asset: %w", err)
	}

	r.log.Info().Str("asset", assetID).Int64("transactions_removed", removed).Msg("Tracked asset removed")
	return removed, nil
}

// ListTrackedAssets returns the tracked assets in the order they were added
func (r *Repository) ListTrackedAssets() ([]domain.TrackedAsset, error) {
	rows, err := r.db.Conn().Query(
		`SELECT asset_id, display_name, added_at FROM tracked_assets ORDER BY added_at, asset_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracked assets: %w", err)
	}
	defer rows.Close()

	assets := make([]domain.TrackedAsset, 0)
	for rows.Next() {
		var a domain.TrackedAsset
		var addedAt int64
		if err := rows.Scan(&a.AssetID, &a.DisplayName, &addedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tracked asset: %w", err)
		}
		a.AddedAt = time.Unix(0, addedAt).UTC()
		a.PortfolioID = r.portfolioID
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// IsTracked reports whether the asset is tracked by this portfolio
func (r *Repository) IsTracked(assetID string) (bool, error) {
	var one int
	err := r.db.Conn().QueryRow(`SELECT 1 FROM tracked_assets WHERE asset_id = ?`, assetID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check tracked asset: %w", err)
	}
	return true, nil
}

// DistinctAssetIDs returns every asset id that is tracked or appears in a transaction
func (r *Repository) DistinctAssetIDs() ([]string, error) {
	rows, err := r.db.Conn().Query(`
		SELECT asset_id FROM tracked_assets
		UNION
		SELECT DISTINCT asset_id FROM transactions
		ORDER BY asset_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query asset ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan asset id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Snapshot reads the whole ledger for export
func (r *Repository) Snapshot() (*Snapshot, error) {
	assets, err := r.ListTrackedAssets()
	if err != nil {
		return nil, err
	}
	txs, err := r.ListTransactions()
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Version:       SnapshotVersion,
		PortfolioID:   r.portfolioID,
		ExportedAt:    time.Now().UTC(),
		TrackedAssets: assets,
		Transactions:  txs,
	}, nil
}

// ReplaceAll atomically swaps the ledger contents for the given assets and transactions.
// Transactions keep the given order. Nothing is visible until the swap commits.
func (r *Repository) ReplaceAll(assets []domain.TrackedAsset, txs []domain.Transaction) error {
	for _, tx := range txs {
		if err := tx.Validate(); err != nil {
			return err
		}
	}

	err := database.WithTransaction(r.db.Conn(), func(sqlTx *sql.Tx) error {
		if _, err := sqlTx.Exec(`DELETE FROM transactions`); err != nil {
			return err
		}
		if _, err := sqlTx.Exec(`DELETE FROM tracked_assets`); err != nil {
			return err
		}
		for _, a := range assets {
			addedAt := a.AddedAt
			if addedAt.IsZero() {
				addedAt = time.Now().UTC()
			}
			if _, err := sqlTx.Exec(
				`INSERT OR IGNORE INTO tracked_assets (asset_id, display_name, added_at) VALUES (?, ?, ?)`,
				a.AssetID, a.DisplayName, addedAt.UnixNano(),
			); err != nil {
				return err
			}
		}
		for _, tx := range txs {
			if tx.ID == "" {
				tx.ID = uuid.New().String()
			}
			if tx.CreatedAt.IsZero() {
				tx.CreatedAt = time.Now().UTC()
			}
			if err := insertTransaction(sqlTx, tx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace ledger: %w", err)
	}

	r.log.Info().Int("assets", len(assets)).Int("transactions", len(txs)).Msg("Ledger replaced")
	return nil
}
