package api

import (
	"errors"
	"net/http"

	"github.com/graaaaa/attention-collector/internal/messaging"
)

// handleMessage handles POST /api/v1/messages. The body is one extension
// message; the response is the handler's reply.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg messaging.Message
	if err := decodeJSON(w, r, &msg, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	reply, err := s.bus.Send(r.Context(), msg)
	if err != nil {
		switch {
		case errors.Is(err, messaging.ErrUnknownMessage):
			writeError(w, http.StatusBadRequest, "unknown message type", nil)
		case errors.Is(err, messaging.ErrNoHandler):
			writeError(w, http.StatusNotImplemented, "message type not handled", nil)
		default:
			s.logger.Debug("message rejected", "type", msg.Type, "error", err)
			writeError(w, http.StatusUnprocessableEntity, err.Error(), nil)
		}
		return
	}
	writeJSON(w, http.StatusOK, reply)
}
