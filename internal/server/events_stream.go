package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aristath/cryptofolio/internal/events"
	"github.com/aristath/cryptofolio/internal/utils"
	"github.com/rs/zerolog"
)

// streamedEventTypes are forwarded when the client sends no ?types filter
var streamedEventTypes = []events.EventType{
	events.PriceUpdated,
	events.PriceRefreshCompleted,
	events.LedgerChanged,
	events.PortfolioCreated,
	events.PortfolioDestroyed,
	events.BackupCompleted,
	events.ErrorOccurred,
}

const (
	eventBufferSize   = 100
	heartbeatInterval = 30 * time.Second
)

// EventsStreamHandler streams bus events to clients as Server-Sent Events
type EventsStreamHandler struct {
	eventBus  *events.Bus
	log       zerolog.Logger
	heartbeat time.Duration
}

// NewEventsStreamHandler creates a new events stream handler
func NewEventsStreamHandler(eventBus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		eventBus:  eventBus,
		log:       log.With().Str("component", "events_stream").Logger(),
		heartbeat: heartbeatInterval,
	}
}

// ServeHTTP handles GET /api/events/stream.
// ?types=LEDGER_CHANGED,BACKUP_COMPLETED narrows the stream; ?portfolio_id=main
// drops ledger and lifecycle events for other portfolios.
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	eventTypes := streamedEventTypes
	if filter := utils.ParseCSV(r.URL.Query().Get("types")); filter != nil {
		eventTypes = make([]events.EventType, 0, len(filter))
		for _, t := range filter {
			eventTypes = append(eventTypes, events.EventType(t))
		}
	}
	portfolioID := r.URL.Query().Get("portfolio_id")

	eventChan := make(chan *events.Event, eventBufferSize)
	eventHandler := func(event *events.Event) {
		if portfolioID != "" && !matchesPortfolio(event, portfolioID) {
			return
		}
		select {
		case eventChan <- event:
		default:
			h.log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Event channel full, dropping event")
		}
	}

	for _, eventType := range eventTypes {
		unsubscribe := h.eventBus.Subscribe(eventType, eventHandler)
		defer unsubscribe()
	}

	h.log.Debug().
		Int("types", len(eventTypes)).
		Str("portfolio_id", portfolioID).
		Msg("Client connected to event stream")

	h.send(w, flusher, map[string]interface{}{
		"type":    "connected",
		"message": "Connected to event stream",
	})

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.log.Debug().Msg("Client disconnected from event stream")
			return

		case event := <-eventChan:
			h.send(w, flusher, map[string]interface{}{
				"type":      string(event.Type),
				"module":    event.Module,
				"timestamp": event.Timestamp.Format(time.RFC3339),
				"data":      event.Data,
			})

		case <-heartbeat.C:
			h.send(w, flusher, map[string]interface{}{
				"type":      "heartbeat",
				"timestamp": time.Now().Format(time.RFC3339),
			})
		}
	}
}

func (h *EventsStreamHandler) send(w http.ResponseWriter, flusher http.Flusher, payload map[string]interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal event")
		data = []byte(`{"error":"failed to encode event"}`)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// matchesPortfolio reports whether a portfolio-scoped event belongs to id.
// Events without a portfolio (prices, errors) always match.
func matchesPortfolio(event *events.Event, id string) bool {
	switch data := event.Data.(type) {
	case *events.LedgerChangedData:
		return data.PortfolioID == id
	case *events.PortfolioLifecycleData:
		return data.PortfolioID == id
	case *events.BackupCompletedData:
		return data.PortfolioID == id
	default:
		return true
	}
}
