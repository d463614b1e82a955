package handlers

import "github.com/go-chi/chi/v5"

// RegisterRoutes registers the request/response price routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/prices", func(r chi.Router) {
		r.Get("/", h.HandleListCached)
		r.Get("/resolve", h.HandleResolve)
		r.Post("/refresh", h.HandleRefresh)
		r.Get("/{assetID}", h.HandleGetPrice)
	})
}

// RegisterStreamRoutes registers the long-lived websocket route. It must be
// mounted on a router without a request timeout.
func (h *Handler) RegisterStreamRoutes(r chi.Router) {
	r.Get("/prices/stream", h.HandleStream)
}
