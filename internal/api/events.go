package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/graaaaa/attention-collector/internal/event"
	"github.com/graaaaa/attention-collector/internal/storage"
)

// eventsResponse represents the response for the events endpoint.
type eventsResponse struct {
	Items      []event.Event `json:"items"`
	NextCursor *string       `json:"next_cursor,omitempty"`
}

// handleEvents handles GET /api/v1/events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventsFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	result, err := s.events.Query(r.Context(), filter)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidCursor):
			writeError(w, http.StatusBadRequest, "invalid cursor", nil)
		case errors.Is(err, storage.ErrStaleCursor):
			writeError(w, http.StatusConflict, "stale cursor", nil)
		default:
			writeError(w, http.StatusInternalServerError, "", err)
		}
		return
	}

	resp := eventsResponse{
		Items:      result.Items,
		NextCursor: result.NextCursor,
	}
	if resp.Items == nil {
		resp.Items = []event.Event{}
	}

	writeJSON(w, http.StatusOK, resp)
}

// parseEventsFilter parses query parameters into a QueryFilter.
func parseEventsFilter(r *http.Request) (storage.QueryFilter, error) {
	var filter storage.QueryFilter
	q := r.URL.Query()

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("invalid since: %w", err)
		}
		filter.Since = &t
	}

	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("invalid until: %w", err)
		}
		filter.Until = &t
	}

	filter.Type = q.Get("type")

	if v := q.Get("category"); v != "" {
		c := event.Category(v)
		if !c.Valid() {
			return filter, fmt.Errorf("invalid category: %s", v)
		}
		filter.Category = c
	}

	filter.SessionID = q.Get("session")

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return filter, fmt.Errorf("invalid limit: %s", v)
		}
		filter.Limit = limit
	}

	filter.Cursor = q.Get("cursor")

	return filter, nil
}
