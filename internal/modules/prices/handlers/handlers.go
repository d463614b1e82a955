// Package handlers provides HTTP handlers for the price oracle.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/aristath/cryptofolio/internal/domain"
	"github.com/aristath/cryptofolio/internal/events"
	"github.com/aristath/cryptofolio/internal/httpapi"
	"github.com/aristath/cryptofolio/internal/modules/prices"
	"github.com/aristath/cryptofolio/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Oracle is the price oracle surface the handlers use
type Oracle interface {
	ResolveAssetID(ctx context.Context, nameOrID string) (prices.AssetRef, error)
	GetCurrentPrice(ctx context.Context, assetID string) (domain.PriceCacheEntry, error)
	Refresh(ctx context.Context, assetIDs ...string) (prices.RefreshResult, error)
	CachedAll() ([]domain.PriceCacheEntry, error)
}

// FullRefresher refreshes every asset known to any portfolio
type FullRefresher interface {
	RefreshAll(ctx context.Context) (prices.RefreshResult, error)
}

// Handler handles price HTTP requests
type Handler struct {
	oracle    Oracle
	refresher FullRefresher
	bus       *events.Bus
	log       zerolog.Logger
}

// NewHandler creates a new price handler. refresher and bus are optional.
func NewHandler(oracle Oracle, refresher FullRefresher, bus *events.Bus, log zerolog.Logger) *Handler {
	return &Handler{
		oracle:    oracle,
		refresher: refresher,
		bus:       bus,
		log:       log.With().Str("handler", "prices").Logger(),
	}
}

// HandleListCached handles GET /api/prices
func (h *Handler) HandleListCached(w http.ResponseWriter, r *http.Request) {
	entries, err := h.oracle.CachedAll()
	if err != nil {
		httpapi.WriteError(w, err, h.log)
		return
	}
	httpapi.WriteData(w, http.StatusOK, map[string]interface{}{
		"prices": entries,
		"count":  len(entries),
	}, h.log)
}

// HandleResolve handles GET /api/prices/resolve?q=
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	ref, err := h.oracle.ResolveAssetID(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		httpapi.WriteError(w, err, h.log)
		return
	}
	httpapi.WriteData(w, http.StatusOK, ref, h.log)
}

// HandleGetPrice handles GET /api/prices/{assetID}
func (h *Handler) HandleGetPrice(w http.ResponseWriter, r *http.Request) {
	entry, err := h.oracle.GetCurrentPrice(r.Context(), chi.URLParam(r, "assetID"))
	if err != nil {
		httpapi.WriteError(w, err, h.log)
		return
	}
	httpapi.WriteData(w, http.StatusOK, entry, h.log)
}

// HandleRefresh handles POST /api/prices/refresh[?ids=a,b].
// Without ids every asset of every portfolio is refreshed.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	ids := utils.ParseCSV(r.URL.Query().Get("ids"))

	var result prices.RefreshResult
	var err error
	switch {
	case len(ids) > 0:
		result, err = h.oracle.Refresh(r.Context(), ids...)
	case h.refresher != nil:
		result, err = h.refresher.RefreshAll(r.Context())
	default:
		httpapi.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "ids query parameter is required"}, h.log)
		return
	}
	if err != nil {
		httpapi.WriteError(w, err, h.log)
		return
	}

	h.log.Info().Int("requested", result.Requested).Int("updated", result.Updated).Msg("Manual price refresh")
	httpapi.WriteData(w, http.StatusOK, result, h.log)
}

// priceMessage is one websocket frame of the price stream
type priceMessage struct {
	Type      string                   `json:"type"` // snapshot, price
	AssetID   string                   `json:"asset_id,omitempty"`
	PriceUSD  float64                  `json:"price_usd,omitempty"`
	FetchedAt *time.Time               `json:"fetched_at,omitempty"`
	Prices    []domain.PriceCacheEntry `json:"prices,omitempty"`
}
