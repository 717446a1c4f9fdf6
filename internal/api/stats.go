package api

import (
	"net/http"
)

// handleEarnings handles GET /api/v1/earnings requests.
func (s *Server) handleEarnings(w http.ResponseWriter, r *http.Request) {
	result, err := s.earnings.Summary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleStats handles GET /api/v1/stats, the polling form of STATS_UPDATE.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	result, err := s.stats.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
