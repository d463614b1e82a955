// Package handlers provides HTTP handlers for portfolio ledgers and their valuation.
package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/aristath/cryptofolio/internal/domain"
	"github.com/aristath/cryptofolio/internal/httpapi"
	"github.com/aristath/cryptofolio/internal/modules/portfolio"
	"github.com/aristath/cryptofolio/internal/reliability"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const maxImportBytes = 32 << 20

// msgpackContentType is the media type of export blobs
const msgpackContentType = "application/x-msgpack"

// PortfolioService is the portfolio write path used by the handlers
type PortfolioService interface {
	Initialize(portfolioID string) (bool, error)
	Destroy(portfolioID string) error
	List() ([]string, error)
	ListTransactions(portfolioID string) ([]domain.Transaction, error)
	ListAssetTransactions(portfolioID, assetID string) ([]domain.Transaction, error)
	ListTrackedAssets(portfolioID string) ([]domain.TrackedAsset, error)
	AddTransaction(ctx context.Context, portfolioID string, in portfolio.TransactionInput) (*domain.Transaction, error)
	UpdateTransaction(ctx context.Context, portfolioID, txID string, in portfolio.TransactionInput) (*domain.Transaction, error)
	DeleteTransaction(portfolioID, txID string) error
	AddTrackedAsset(ctx context.Context, portfolioID, name string) (*domain.TrackedAsset, error)
	RemoveTrackedAsset(portfolioID, assetID string) (int64, error)
	Export(portfolioID string) ([]byte, error)
	Import(portfolioID string, blob []byte) (*portfolio.ImportResult, error)
	Backup(ctx context.Context, portfolioID string) (*reliability.BackupInfo, error)
	ListBackups(ctx context.Context, portfolioID string) ([]reliability.BackupInfo, error)
	Restore(ctx context.Context, portfolioID, key string) (*portfolio.ImportResult, error)
}

// Valuator computes valuations on demand
type Valuator interface {
	ComputePortfolioValuation(ctx context.Context, portfolioID string) (*domain.PortfolioValuation, error)
	ComputeAssetValuation(ctx context.Context, portfolioID, assetID string) (*domain.ValuationSnapshot, error)
}

// Handler handles portfolio HTTP requests
type Handler struct {
	service  PortfolioService
	valuator Valuator
	log      zerolog.Logger
}

// NewHandler creates a new portfolio handler
func NewHandler(service PortfolioService, valuator Valuator, log zerolog.Logger) *Handler {
	return &Handler{
		service:  service,
		valuator: valuator,
		log:      log.With().Str("handler", "portfolio").Logger(),
	}
}

func portfolioID(r *http.Request) string {
	return chi.URLParam(r, "portfolioID")
}

// HandleList handles GET /api/portfolios
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ids, err := h.service.List()
	if err != nil {
		httpapi.WriteError(w, err, h.log)
		return
	}
	httpapi.WriteData(w, http.StatusOK, map[string]interface{}{
		"portfolios": ids,
		"count":      len(ids),
	}, h.log)
}

// HandleCreate handles POST /api/portfolios {"portfolio_id": "..."}
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PortfolioID string `json:"portfolio_id"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, err, h.log)
		return
	}
	h.initialize(w, req.PortfolioID)
}

// HandleInitialize handles PUT /api/portfolios/{portfolioID}
func (h *Handler) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	h.initialize(w, portfolioID(r))
}

func (h *Handler) initialize(w http.ResponseWriter, id string) {
	created, err := h.service.Initialize(id)
	if err != nil {
		httpapi.WriteError(w, err, h.log)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpapi.WriteData(w, status, map[string]interface{}{
		"portfolio_id": id,
		"created":      created,
	}, h.log)
}

// HandleDestroy handles DELETE /api/portfolios/{portfolioID}
func (h *Handler) HandleDestroy(w http.ResponseWriter, r *http.Request) {
	id := portfolioID(r)
	if err := h.service.Destroy(id); err != nil {
		httpapi.WriteError(w, err, h.log)
		return
	}
	httpapi.WriteData(w, http.StatusOK, map[string]interface{}{
		"portfolio_id": id,
		"destroyed":    true,
	}, h.log)
}

// HandleListTransactions handles GET /api/portfolios/{portfolioID}/transactions[?asset_id=]
func (h *Handler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	var txs []domain.Transaction
	var err error
	if assetID := r.URL.Query().Get("asset_id"); assetID != "" {
		txs, err = h.service.ListAssetTransactions(portfolioID(r), assetID)
	} else {
		txs, err = h.service.ListTransactions(portfolioID(r))
	}
	if err != nil {
		httpapi.WriteError(w, err, h.log)
		return
	}
	httpapi.WriteData(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"count":        len(txs),
	}, h.log)
}

// HandleAddTransaction handles POST /api/portfolios/{portfolioID}/transactions
func (h *Handler) HandleAddTransaction(w http.ResponseWriter, r *http.Request) {
	var in portfolio.TransactionInput
	if err := httpapi.DecodeJSON(r, &in); err != nil {
		httpapi.WriteError(w, err, h.log)
		return
	}
	tx, err := h.service.AddTransaction(r.Context(), portfolioID(r), in)
	if err != nil {
		httpapi.WriteError(w, err, h.log)
		return
	}
	httpapi.WriteData(w, http.StatusCreated, tx, h.log)
}

// HandleUpdateTransaction handles PUT /api/portfolios/{portfolioID}/transactions/{txID}
func (h *Handler) HandleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var in portfolio.TransactionInput
	if err := httpapi.DecodeJSON(r, &in); err != nil {
		httpapi.WriteError(w, err, h.log)
		return
	}
	tx, err := h.service.UpdateTransaction(r.Context(), portfolioID(r), chi.URLParam(r, "txID"), in)
	if err != nil {
		httpapi.WriteError(w, err, h.log)
		return
	}
	httpapi.WriteData(w, http.StatusOK, tx, h.log)
}

// HandleDeleteTransaction handles DELETE /api/portfolios/{portfolioID}/transactions/{txID}
func (h *Handler) HandleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txID")
	if err := h.service.DeleteTransaction(portfolioID(r), txID); err != nil {
		httpapi.WriteError(w, err, h.log)
		return
	}
	httpapi.WriteData(w, http.StatusOK, map[string]interface{}{
		"id":      txID,
		"deleted": true,
	}, h.log)
}

// HandleListAssets handles GET /api/portfolios/{portfolioID}/assets
func (h *Handler) HandleListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.service.ListTrackedAssets(portfolioID(r))
	if err != nil {
		httpapi.WriteError(w, err, h.log)
		return
	}
	httpapi.WriteData(w, http.StatusOK, map[string]interface{}{
		"assets": assets,
		"count":  len(assets),
	}, h.log)
}

// HandleAddAsset handles POST /api/portfolios/{portfolioID}/assets {"name": "..."}
func (h *Handler) HandleAddAsset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, err, h.log)
		return
	}
	asset, err := h.service.AddTrackedAsset(r.Context(), portfolioID(r), req.Name)
	if err != nil {
		httpapi.WriteError(w, err, h.log)
		return
	}
	httpapi.WriteData(w, http.StatusCreated, asset, h.log)
}

// HandleRemoveAsset handles DELETE /api/portfolios/{portfolioID}/assets/{assetID}
func (h *Handler) HandleRemoveAsset(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")
	removed, err := h.service.RemoveTrackedAsset(portfolioID(r), assetID)
	if err != nil {
		httpapi.WriteError(w, err, h.log)
		return
	}
	httpapi.WriteData(w, http.StatusOK, map[string]interface{}{
		"asset_id":             assetID,
		"removed_transactions": removed,
	}, h.log)
}

// HandleValuation handles GET /api/portfolios/{portfolioID}/valuation[?asset_id=]
func (h *Handler) HandleValuation(w http.ResponseWriter, r *http.Request) {
	if assetID := r.URL.Query().Get("asset_id"); assetID != "" {
		snap, err := h.valuator.ComputeAssetValuation(r.Context(), portfolioID(r), assetID)
		if err != nil {
			httpapi.WriteError(w, err, h.log)
			return
		}
		httpapi.WriteData(w, http.StatusOK, snap, h.log)
		return
	}

	val, err := h.valuator.ComputePortfolioValuation(r.Context(), portfolioID(r))
	if err != nil {
		httpapi.WriteError(w, err, h.log)
		return
	}
	httpapi.WriteData(w, http.StatusOK, val, h.log)
}

// HandleExport handles GET /api/portfolios/{portfolioID}/export
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	id := portfolioID(r)
	blob, err := h.service.Export(id)
	if err != nil {
		httpapi.WriteError(w, err, h.log)
		return
	}

	w.Header().Set("Content-Type", msgpackContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".msgpack"))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(blob); err != nil {
		h.log.Error().Err(err).Str("portfolio", id).Msg("Failed to write export")
	}
}

// HandleImport handles POST /api/portfolios/{portfolioID}/import with an export blob as body
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	blob, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		httpapi.WriteError(w, fmt.Errorf("%w: failed to read import body: %v", domain.ErrValidation, err), h.log)
		return
	}
	result, err := h.service.Import(portfolioID(r), blob)
	if err != nil {
		httpapi.WriteError(w, err, h.log)
		return
	}
	httpapi.WriteData(w, http.StatusOK, result, h.log)
}

// HandleBackup handles POST /api/portfolios/{portfolioID}/backups
func (h *Handler) HandleBackup(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.Backup(r.Context(), portfolioID(r))
	if err != nil {
		httpapi.WriteError(w, err, h.log)
		return
	}
	httpapi.WriteData(w, http.StatusCreated, info, h.log)
}

// HandleListBackups handles GET /api/portfolios/{portfolioID}/backups
func (h *Handler) HandleListBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := h.service.ListBackups(r.Context(), portfolioID(r))
	if err != nil {
		httpapi.WriteError(w, err, h.log)
		return
	}
	httpapi.WriteData(w, http.StatusOK, map[string]interface{}{
		"backups": backups,
		"count":   len(backups),
	}, h.log)
}

// HandleRestore handles POST /api/portfolios/{portfolioID}/backups/restore {"key": "..."}
func (h *Handler) HandleRestore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, err, h.log)
		return
	}
	if req.Key == "" {
		httpapi.WriteError(w, fmt.Errorf("%w: key is required", domain.ErrValidation), h.log)
		return
	}
	result, err := h.service.Restore(r.Context(), portfolioID(r), req.Key)
	if err != nil {
		httpapi.WriteError(w, err, h.log)
		return
	}
	httpapi.WriteData(w, http.StatusOK, result, h.log)
}
