// Package portfolio orchestrates ledger writes: asset resolution, cost basis
// snapshots, the oversell policy, export/import and backups.
package portfolio

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/cryptofolio/internal/domain"
	"github.com/aristath/cryptofolio/internal/events"
	"github.com/aristath/cryptofolio/internal/modules/ledger"
	"github.com/aristath/cryptofolio/internal/modules/prices"
	"github.com/aristath/cryptofolio/internal/modules/valuation"
	"github.com/aristath/cryptofolio/internal/reliability"
	"github.com/rs/zerolog"
)

const moduleName = "portfolio"

// Ledger change actions carried by LedgerChanged events
const (
	ActionTransactionAdded   = "transaction_added"
	ActionTransactionUpdated = "transaction_updated"
	ActionTransactionDeleted = "transaction_deleted"
	ActionAssetTracked       = "asset_tracked"
	ActionAssetRemoved       = "asset_removed"
	ActionImported           = "imported"
)

// AssetResolver is the part of the price oracle used on the write path
type AssetResolver interface {
	ResolveAssetID(ctx context.Context, nameOrID string) (prices.AssetRef, error)
	GetHistoricalPrice(ctx context.Context, assetID string, date time.Time) (float64, error)
}

// LedgerStore opens per-portfolio ledgers; *ledger.Manager implements it
type LedgerStore interface {
	Initialize(portfolioID string) (*ledger.Repository, error)
	Open(portfolioID string) (*ledger.Repository, error)
	Exists(portfolioID string) bool
	List() ([]string, error)
	Destroy(portfolioID string) error
	Lock(portfolioID string) func()
}

// BackupStore keeps portfolio export blobs off-site
type BackupStore interface {
	UploadPortfolio(ctx context.Context, portfolioID string, blob []byte) (reliability.BackupInfo, error)
	ListBackups(ctx context.Context, portfolioID string) ([]reliability.BackupInfo, error)
	Download(ctx context.Context, portfolioID, key string) ([]byte, error)
	RotateOldBackups(ctx context.Context, portfolioID string, retentionDays int) (int, error)
}

// Options are the policy switches of the service
type Options struct {
	// RejectOversell fails writes that drive a running balance negative
	RejectOversell bool
	// BackupRetentionDays is passed to backup rotation; 0 keeps everything
	BackupRetentionDays int
}

// TransactionInput is a transaction as submitted by a caller. Asset may be
// a display name or an asset id.
type TransactionInput struct {
	Asset        string  `json:"asset"`
	Quantity     float64 `json:"quantity"`
	UnitPriceUSD float64 `json:"unit_price_usd"`
	Kind         string  `json:"kind"`
	Venue        string  `json:"venue"`
	OccurredOn   string  `json:"occurred_on"`
	// CostBasisPriceUSD overrides the historical price lookup when set
	CostBasisPriceUSD *float64 `json:"cost_basis_price_usd,omitempty"`
}

// Import outcomes
const (
	ImportStatusOK      = "ok"
	ImportStatusPartial = "partial"
)

// SkippedTransaction is an imported row that was not stored
type SkippedTransaction struct {
	Index  int    `json:"index"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
}

// ImportResult reports what an import kept and what it could not
type ImportResult struct {
	Status              string               `json:"status"`
	Imported            int                  `json:"imported"`
	TrackedAssets       int                  `json:"tracked_assets"`
	MissingAssets       []string             `json:"missing_assets"`
	SkippedTransactions []SkippedTransaction `json:"skipped_transactions"`
}

// Service is the write path over portfolio ledgers
type Service struct {
	ledgers  LedgerStore
	resolver AssetResolver
	backups  BackupStore // nil when backups are disabled
	bus      *events.Bus
	opts     Options
	log      zerolog.Logger
}

// NewService creates the portfolio service. backups may be nil.
func NewService(ledgers LedgerStore, resolver AssetResolver, backups BackupStore, bus *events.Bus, opts Options, log zerolog.Logger) *Service {
	return &Service{
		ledgers:  ledgers,
		resolver: resolver,
		backups:  backups,
		bus:      bus,
		opts:     opts,
		log:      log.With().Str("service", "portfolio").Logger(),
	}
}

func (s *Service) emit(data events.EventData) {
	if s.bus != nil {
		s.bus.Emit(moduleName, data)
	}
}

// Initialize creates a portfolio. It is a no-op for an existing one.
func (s *Service) Initialize(portfolioID string) (created bool, err error) {
	existed := s.ledgers.Exists(portfolioID)
	if _, err := s.ledgers.Initialize(portfolioID); err != nil {
		return false, err
	}
	if !existed {
		s.emit(&events.PortfolioLifecycleData{PortfolioID: portfolioID})
	}
	return !existed, nil
}

// Destroy removes a portfolio with all its data
func (s *Service) Destroy(portfolioID string) error {
	if err := s.ledgers.Destroy(portfolioID); err != nil {
		return err
	}
	s.emit(&events.PortfolioLifecycleData{PortfolioID: portfolioID, Destroyed: true})
	return nil
}

// List returns every portfolio id
func (s *Service) List() ([]string, error) {
	return s.ledgers.List()
}

// ListTransactions returns a portfolio's transactions in insertion order
func (s *Service) ListTransactions(portfolioID string) ([]domain.Transaction, error) {
	repo, err := s.ledgers.Open(portfolioID)
	if err != nil {
		return nil, err
	}
	return repo.ListTransactions()
}

// ListAssetTransactions returns the transactions of one asset in insertion order
func (s *Service) ListAssetTransactions(portfolioID, assetID string) ([]domain.Transaction, error) {
	repo, err := s.ledgers.Open(portfolioID)
	if err != nil {
		return nil, err
	}
	return repo.ListTransactionsForAsset(assetID)
}

// ListTrackedAssets returns the assets a portfolio watches
func (s *Service) ListTrackedAssets(portfolioID string) ([]domain.TrackedAsset, error) {
	repo, err := s.ledgers.Open(portfolioID)
	if err != nil {
		return nil, err
	}
	return repo.ListTrackedAssets()
}

// AddTransaction resolves the asset, snapshots the cost basis and stores the transaction
func (s *Service) AddTransaction(ctx context.Context, portfolioID string, in TransactionInput) (*domain.Transaction, error) {
	tx, err := in.toTransaction()
	if err != nil {
		return nil, err
	}

	repo, err := s.ledgers.Open(portfolioID)
	if err != nil {
		return nil, err
	}

	ref, err := s.resolve(ctx, repo, in.Asset)
	if err != nil {
		return nil, err
	}
	tx.AssetID = ref.ID
	tx.AssetName = ref.Name
	tx.CostBasisPriceUSD = s.costBasis(ctx, tx, in.CostBasisPriceUSD)

	unlock := s.ledgers.Lock(portfolioID)
	defer unlock()

	if s.opts.RejectOversell {
		existing, err := repo.ListTransactions()
		if err != nil {
			return nil, err
		}
		if err := valuation.CheckRunningBalance(append(existing, tx)); err != nil {
			return nil, err
		}
	}

	id, err := repo.AddTransaction(tx)
	if err != nil {
		return nil, err
	}
	stored, err := repo.GetTransaction(id)
	if err != nil {
		return nil, err
	}

	s.emit(&events.LedgerChangedData{
		PortfolioID:   portfolioID,
		Action:        ActionTransactionAdded,
		AssetID:       stored.AssetID,
		TransactionID: id,
	})
	return stored, nil
}

// UpdateTransaction fully replaces a transaction. The asset is re-resolved
// when it changes, and the cost basis is re-snapshotted when the asset or
// date changes.
func (s *Service) UpdateTransaction(ctx context.Context, portfolioID, txID string, in TransactionInput) (*domain.Transaction, error) {
	tx, err := in.toTransaction()
	if err != nil {
		return nil, err
	}

	repo, err := s.ledgers.Open(portfolioID)
	if err != nil {
		return nil, err
	}
	current, err := repo.GetTransaction(txID)
	if err != nil {
		return nil, err
	}

	tx.ID = current.ID
	tx.CreatedAt = current.CreatedAt
	if sameAsset(current, in.Asset) {
		tx.AssetID = current.AssetID
		tx.AssetName = current.AssetName
	} else {
		ref, err := s.resolve(ctx, repo, in.Asset)
		if err != nil {
			return nil, err
		}
		tx.AssetID = ref.ID
		tx.AssetName = ref.Name
	}

	switch {
	case in.CostBasisPriceUSD != nil:
		tx.CostBasisPriceUSD = *in.CostBasisPriceUSD
	case tx.AssetID != current.AssetID || tx.OccurredOn != current.OccurredOn:
		tx.CostBasisPriceUSD = s.costBasis(ctx, tx, nil)
	default:
		tx.CostBasisPriceUSD = current.CostBasisPriceUSD
	}

	unlock := s.ledgers.Lock(portfolioID)
	defer unlock()

	if s.opts.RejectOversell {
		existing, err := repo.ListTransactions()
		if err != nil {
			return nil, err
		}
		for i := range existing {
			if existing[i].ID == tx.ID {
				existing[i] = tx
			}
		}
		if err := valuation.CheckRunningBalance(existing); err != nil {
			return nil, err
		}
	}

	if err := repo.UpdateTransaction(tx); err != nil {
		return nil, err
	}
	stored, err := repo.GetTransaction(tx.ID)
	if err != nil {
		return nil, err
	}

	s.emit(&events.LedgerChangedData{
		PortfolioID:   portfolioID,
		Action:        ActionTransactionUpdated,
		AssetID:       stored.AssetID,
		TransactionID: stored.ID,
	})
	return stored, nil
}

// DeleteTransaction removes a transaction. With the oversell policy on,
// deleting a buy that later sells depend on is rejected.
func (s *Service) DeleteTransaction(portfolioID, txID string) error {
	repo, err := s.ledgers.Open(portfolioID)
	if err != nil {
		return err
	}

	unlock := s.ledgers.Lock(portfolioID)
	defer unlock()

	current, err := repo.GetTransaction(txID)
	if err != nil {
		return err
	}

	if s.opts.RejectOversell {
		existing, err := repo.ListTransactions()
		if err != nil {
			return err
		}
		remaining := existing[:0]
		for _, t := range existing {
			if t.ID != txID {
				remaining = append(remaining, t)
			}
		}
		if err := valuation.CheckRunningBalance(remaining); err != nil {
			return err
		}
	}

	if err := repo.DeleteTransaction(txID); err != nil {
		return err
	}

	s.emit(&events.LedgerChangedData{
		PortfolioID:   portfolioID,
		Action:        ActionTransactionDeleted,
		AssetID:       current.AssetID,
		TransactionID: txID,
	})
	return nil
}

// AddTrackedAsset resolves name through the provider and starts tracking it
func (s *Service) AddTrackedAsset(ctx context.Context, portfolioID, name string) (*domain.TrackedAsset, error) {
	repo, err := s.ledgers.Open(portfolioID)
	if err != nil {
		return nil, err
	}

	ref, err := s.resolver.ResolveAssetID(ctx, name)
	if err != nil {
		return nil, err
	}

	asset := domain.TrackedAsset{
		PortfolioID: portfolioID,
		AssetID:     ref.ID,
		DisplayName: ref.Name,
		AddedAt:     time.Now().UTC(),
	}
	if err := repo.AddTrackedAsset(asset); err != nil {
		return nil, err
	}

	s.emit(&events.LedgerChangedData{
		PortfolioID: portfolioID,
		Action:      ActionAssetTracked,
		AssetID:     ref.ID,
	})
	return &asset, nil
}

// RemoveTrackedAsset stops tracking an asset and deletes its transactions.
// It returns the number of transactions removed, and NotFound when the asset
// is neither tracked nor present in any transaction.
func (s *Service) RemoveTrackedAsset(portfolioID, assetID string) (int64, error) {
	repo, err := s.ledgers.Open(portfolioID)
	if err != nil {
		return 0, err
	}

	unlock := s.ledgers.Lock(portfolioID)
	defer unlock()

	tracked, err := repo.IsTracked(assetID)
	if err != nil {
		return 0, err
	}
	removed, err := repo.RemoveTrackedAsset(assetID)
	if err != nil {
		return 0, err
	}
	if !tracked && removed == 0 {
		return 0, fmt.Errorf("%w: asset %s is not tracked by %s", domain.ErrNotFound, assetID, portfolioID)
	}

	s.emit(&events.LedgerChangedData{
		PortfolioID: portfolioID,
		Action:      ActionAssetRemoved,
		AssetID:     assetID,
	})
	return removed, nil
}

// Export serializes a whole portfolio ledger
func (s *Service) Export(portfolioID string) ([]byte, error) {
	repo, err := s.ledgers.Open(portfolioID)
	if err != nil {
		return nil, err
	}
	snap, err := repo.Snapshot()
	if err != nil {
		return nil, err
	}
	return ledger.EncodeSnapshot(snap)
}

// Import replaces a portfolio ledger with the contents of an export blob,
// creating the portfolio if needed. Invalid rows are skipped and reported;
// asset ids used by transactions but not tracked are reported as missing.
func (s *Service) Import(portfolioID string, blob []byte) (*ImportResult, error) {
	snap, err := ledger.DecodeSnapshot(blob)
	if err != nil {
		return nil, err
	}

	repo, err := s.ledgers.Initialize(portfolioID)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{
		Status:              ImportStatusOK,
		MissingAssets:       []string{},
		SkippedTransactions: []SkippedTransaction{},
	}

	tracked := make(map[string]bool, len(snap.TrackedAssets))
	assets := make([]domain.TrackedAsset, 0, len(snap.TrackedAssets))
	for _, a := range snap.TrackedAssets {
		if a.AssetID == "" || tracked[a.AssetID] {
			continue
		}
		tracked[a.AssetID] = true
		assets = append(assets, a)
	}

	seenIDs := make(map[string]bool, len(snap.Transactions))
	missing := make(map[string]bool)
	txs := make([]domain.Transaction, 0, len(snap.Transactions))
	for i, tx := range snap.Transactions {
		if err := tx.Validate(); err != nil {
			result.SkippedTransactions = append(result.SkippedTransactions, SkippedTransaction{Index: i, ID: tx.ID, Reason: err.Error()})
			continue
		}
		if tx.ID != "" && seenIDs[tx.ID] {
			result.SkippedTransactions = append(result.SkippedTransactions, SkippedTransaction{Index: i, ID: tx.ID, Reason: "duplicate transaction id"})
			continue
		}
		seenIDs[tx.ID] = true

		if !tracked[tx.AssetID] && !missing[tx.AssetID] {
			missing[tx.AssetID] = true
			result.MissingAssets = append(result.MissingAssets, tx.AssetID)
		}
		tx.PortfolioID = portfolioID
		txs = append(txs, tx)
	}

	unlock := s.ledgers.Lock(portfolioID)
	defer unlock()

	if err := repo.ReplaceAll(assets, txs); err != nil {
		return nil, err
	}

	result.Imported = len(txs)
	result.TrackedAssets = len(assets)
	if len(result.MissingAssets) > 0 || len(result.SkippedTransactions) > 0 {
		result.Status = ImportStatusPartial
	}

	s.log.Info().
		Str("portfolio", portfolioID).
		Str("status", result.Status).
		Int("imported", result.Imported).
		Int("skipped", len(result.SkippedTransactions)).
		Strs("missing_assets", result.MissingAssets).
		Msg("Portfolio imported")

	s.emit(&events.LedgerChangedData{PortfolioID: portfolioID, Action: ActionImported})
	return result, nil
}

// BackupsEnabled reports whether a backup store is configured
func (s *Service) BackupsEnabled() bool {
	return s.backups != nil
}

// Backup uploads the current export of a portfolio and rotates old backups
func (s *Service) Backup(ctx context.Context, portfolioID string) (*reliability.BackupInfo, error) {
	if s.backups == nil {
		return nil, domain.ErrBackupsDisabled
	}

	blob, err := s.Export(portfolioID)
	if err != nil {
		return nil, err
	}
	info, err := s.backups.UploadPortfolio(ctx, portfolioID, blob)
	if err != nil {
		return nil, err
	}

	if _, err := s.backups.RotateOldBackups(ctx, portfolioID, s.opts.BackupRetentionDays); err != nil {
		s.log.Warn().Err(err).Str("portfolio", portfolioID).Msg("Backup rotation failed")
	}

	s.emit(&events.BackupCompletedData{
		PortfolioID: portfolioID,
		Key:         info.Key,
		SizeBytes:   int(info.SizeBytes),
	})
	return &info, nil
}

// ListBackups lists the stored backups of a portfolio, newest first
func (s *Service) ListBackups(ctx context.Context, portfolioID string) ([]reliability.BackupInfo, error) {
	if s.backups == nil {
		return nil, domain.ErrBackupsDisabled
	}
	if err := ledger.ValidatePortfolioID(portfolioID); err != nil {
		return nil, err
	}
	return s.backups.ListBackups(ctx, portfolioID)
}

// Restore imports a stored backup into the portfolio
func (s *Service) Restore(ctx context.Context, portfolioID, key string) (*ImportResult, error) {
	if s.backups == nil {
		return nil, domain.ErrBackupsDisabled
	}
	if err := ledger.ValidatePortfolioID(portfolioID); err != nil {
		return nil, err
	}
	blob, err := s.backups.Download(ctx, portfolioID, key)
	if err != nil {
		return nil, err
	}
	return s.Import(portfolioID, blob)
}

// resolve matches input case-insensitively against the portfolio's tracked
// assets (id or display name) and only asks the provider when nothing local
// matches. A tracked asset therefore wins over the provider's first match.
func (s *Service) resolve(ctx context.Context, repo *ledger.Repository, input string) (prices.AssetRef, error) {
	input = strings.TrimSpace(input)
	assets, err := repo.ListTrackedAssets()
	if err != nil {
		return prices.AssetRef{}, err
	}
	for _, a := range assets {
		if strings.EqualFold(a.AssetID, input) || strings.EqualFold(a.DisplayName, input) {
			return prices.AssetRef{ID: a.AssetID, Name: a.DisplayName}, nil
		}
	}
	return s.resolver.ResolveAssetID(ctx, input)
}

// costBasis snapshots the historical price on the transaction date,
// falling back to the unit price when none can be had
func (s *Service) costBasis(ctx context.Context, tx domain.Transaction, override *float64) float64 {
	if override != nil {
		return *override
	}

	date, _ := time.Parse(domain.DateLayout, tx.OccurredOn)
	price, err := s.resolver.GetHistoricalPrice(ctx, tx.AssetID, date)
	if err != nil {
		s.log.Warn().
			Err(err).
			Str("asset", tx.AssetID).
			Str("date", tx.OccurredOn).
			Msg("Historical price unavailable, using unit price as cost basis")
		return tx.UnitPriceUSD
	}
	return price
}

func sameAsset(current *domain.Transaction, input string) bool {
	input = strings.TrimSpace(input)
	return input == current.AssetID || strings.EqualFold(input, current.AssetName)
}

// toTransaction validates everything that does not need the provider, so
// malformed input fails before any remote call
func (in TransactionInput) toTransaction() (domain.Transaction, error) {
	if strings.TrimSpace(in.Asset) == "" {
		return domain.Transaction{}, fmt.Errorf("%w: asset is required", domain.ErrValidation)
	}
	kind, err := domain.ParseKind(strings.ToLower(strings.TrimSpace(in.Kind)))
	if err != nil {
		return domain.Transaction{}, err
	}

	tx := domain.Transaction{
		AssetID:           strings.TrimSpace(in.Asset),
		Quantity:          in.Quantity,
		UnitPriceUSD:      in.UnitPriceUSD,
		Kind:              kind,
		Venue:             strings.TrimSpace(in.Venue),
		OccurredOn:        strings.TrimSpace(in.OccurredOn),
		CostBasisPriceUSD: in.UnitPriceUSD,
	}
	if in.CostBasisPriceUSD != nil {
		tx.CostBasisPriceUSD = *in.CostBasisPriceUSD
	}
	if err := tx.Validate(); err != nil {
		return domain.Transaction{}, err
	}
	return tx, nil
}
