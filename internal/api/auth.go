package api

import (
	"net/http"

	"github.com/graaaaa/attention-collector/internal/api/sseauth"
)

// tokenResponse is the response for POST /api/v1/auth/token.
type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"` // seconds
}

// handleAuthToken handles POST /api/v1/auth/token requests.
// Requires Basic Auth. Issues a short-lived token for the event stream,
// which EventSource cannot authenticate with headers.
func (s *Server) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		writeError(w, http.StatusServiceUnavailable, "stream tokens not configured", nil)
		return
	}

	token, err := s.tokens.Issue(sseauth.ScopeStats, s.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate token", err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresIn: int(s.tokens.TTL().Seconds()),
	})
}
