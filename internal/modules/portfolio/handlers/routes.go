package handlers

import "github.com/go-chi/chi/v5"

// RegisterRoutes registers all portfolio routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/portfolios", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleCreate)

		r.Route("/{portfolioID}", func(r chi.Router) {
			r.Put("/", h.HandleInitialize)
			r.Delete("/", h.HandleDestroy)

			r.Get("/transactions", h.HandleListTransactions)
			r.Post("/transactions", h.HandleAddTransaction)
			r.Put("/transactions/{txID}", h.HandleUpdateTransaction)
			r.Delete("/transactions/{txID}", h.HandleDeleteTransaction)

			r.Get("/assets", h.HandleListAssets)
			r.Post("/assets", h.HandleAddAsset)
			r.Delete("/assets/{assetID}", h.HandleRemoveAsset)

			r.Get("/valuation", h.HandleValuation)

			r.Get("/export", h.HandleExport)
			r.Post("/import", h.HandleImport)

			r.Get("/backups", h.HandleListBackups)
			r.Post("/backups", h.HandleBackup)
			r.Post("/backups/restore", h.HandleRestore)
		})
	})
}
