package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/aristath/cryptofolio/internal/events"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	streamBuffer       = 64
	streamWriteTimeout = 5 * time.Second
	streamPingInterval = 30 * time.Second
)

// HandleStream handles GET /api/prices/stream.
// The client first receives a snapshot of every cached price, then one
// message per accepted price update. Updates are dropped for slow clients.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		http.Error(w, "price stream is not available", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to accept websocket")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	// The stream is write-only; CloseRead handles control frames and cancels on disconnect
	ctx := conn.CloseRead(r.Context())

	updates := make(chan *events.PriceUpdatedData, streamBuffer)
	unsubscribe := h.bus.Subscribe(events.PriceUpdated, func(e *events.Event) {
		data, ok := e.Data.(*events.PriceUpdatedData)
		if !ok {
			return
		}
		select {
		case updates <- data:
		default:
			h.log.Warn().Str("asset", data.AssetID).Msg("Price stream buffer full, dropping update")
		}
	})
	defer unsubscribe()

	h.log.Info().Str("remote", r.RemoteAddr).Msg("Client connected to price stream")

	snapshot, err := h.oracle.CachedAll()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read price cache for stream snapshot")
		return
	}
	if err := h.write(ctx, conn, priceMessage{Type: "snapshot", Prices: snapshot}); err != nil {
		return
	}

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Str("remote", r.RemoteAddr).Msg("Client disconnected from price stream")
			conn.Close(websocket.StatusNormalClosure, "")
			return

		case update := <-updates:
			fetchedAt := update.FetchedAt
			msg := priceMessage{Type: "price", AssetID: update.AssetID, PriceUSD: update.PriceUSD, FetchedAt: &fetchedAt}
			if err := h.write(ctx, conn, msg); err != nil {
				return
			}

		case <-ping.C:
			pingCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				h.log.Debug().Err(err).Msg("Price stream ping failed")
				return
			}
		}
	}
}

func (h *Handler) write(ctx context.Context, conn *websocket.Conn, msg priceMessage) error {
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()

	if err := wsjson.Write(writeCtx, conn, msg); err != nil {
		h.log.Debug().Err(err).Msg("Price stream write failed")
		return err
	}
	return nil
}
