package server

import (
	"net/http"

	"github.com/aristath/cryptofolio/internal/httpapi"
)

// handleHealth handles GET /health. It answers 503 when any database fails its ping.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"service": "cryptofolio",
	}

	if s.system != nil {
		checks := s.system.DatabaseChecks(r.Context())
		response["databases"] = checks
		for _, result := range checks {
			if result != "ok" {
				response["status"] = "degraded"
				httpapi.WriteJSON(w, http.StatusServiceUnavailable, response, s.log)
				return
			}
		}
	}

	httpapi.WriteJSON(w, http.StatusOK, response, s.log)
}
