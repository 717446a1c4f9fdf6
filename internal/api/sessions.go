package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/graaaaa/attention-collector/internal/app"
	"github.com/graaaaa/attention-collector/internal/collector"
	"github.com/graaaaa/attention-collector/internal/page"
)

// signalsRequest is the body of POST /api/v1/sessions/{id}/signals.
type signalsRequest struct {
	Signals []page.Signal `json:"signals"`
}

// sessionsResponse lists open sessions.
type sessionsResponse struct {
	Items []app.SessionInfo `json:"items"`
}

// handleListSessions handles GET /api/v1/sessions.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	items := s.sessions.List()
	if items == nil {
		items = []app.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Items: items})
}

// handleOpenSession handles POST /api/v1/sessions.
func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req app.OpenRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	info, err := s.sessions.Open(r.Context(), req)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// handleGetSession handles GET /api/v1/sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, ok := s.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleSignals handles POST /api/v1/sessions/{id}/signals.
func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	var req signalsRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	info, err := s.sessions.Apply(r.Context(), chi.URLParam(r, "id"), req.Signals)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleCloseSession handles DELETE /api/v1/sessions/{id}.
func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.sessions.Close(r.Context(), chi.URLParam(r, "id"))
	if err != nil && !errors.Is(err, app.ErrSessionNotFound) && info.ID != "" {
		// The session is gone but its final flush failed; events stay queued.
		s.logger.Warn("session closed with flush error", "session", info.ID, "error", err)
		writeJSON(w, http.StatusOK, info)
		return
	}
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found", nil)
	case errors.Is(err, collector.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "collector shutting down", nil)
	case errors.Is(err, page.ErrUnknownNode), errors.Is(err, page.ErrUnknownSignal):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), nil)
	case errors.Is(err, app.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, "", err)
	}
}
