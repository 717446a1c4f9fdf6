package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/graaaaa/attention-collector/internal/messaging"
)

// heartbeatInterval is the interval for sending SSE heartbeat comments.
const heartbeatInterval = 20 * time.Second

// handleStream handles GET /api/v1/stream (SSE). A new client first receives
// the current stats, then every notice the hub publishes.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)

	fmt.Fprintf(w, ": connected\n\n")
	s.sendInitial(r.Context(), w, lastEventID(r))
	flusher.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case n, ok := <-sub.Events():
			if !ok {
				return
			}
			writeSSE(w, n)
			flusher.Flush()

		case <-ticker.C:
			fmt.Fprintf(w, ":\n\n")
			flusher.Flush()

		case <-ctx.Done():
			return

		case <-sub.Done():
			return
		}
	}
}

func lastEventID(r *http.Request) uint64 {
	v := r.Header.Get("Last-Event-ID")
	if v == "" {
		v = r.URL.Query().Get("last_event_id")
	}
	id, _ := strconv.ParseUint(v, 10, 64)
	return id
}

// sendInitial writes a fresh stats snapshot. Without a stats source it
// replays the latest notice the client has not seen.
func (s *Server) sendInitial(ctx context.Context, w http.ResponseWriter, seen uint64) {
	if s.stats != nil {
		update, err := s.stats.Snapshot(ctx)
		if err != nil {
			s.logger.Warn("stats snapshot for stream failed", "error", err)
			return
		}
		data, err := json.Marshal(update)
		if err != nil {
			return
		}
		writeSSE(w, &Notice{Type: string(messaging.TypeStatsUpdate), Data: data})
		return
	}
	if last := s.hub.Last(); last != nil && last.ID > seen {
		writeSSE(w, last)
	}
}

// writeSSE writes one notice in SSE format. Notices without an id (the
// initial snapshot) omit the id line so Last-Event-ID is not reset.
func writeSSE(w http.ResponseWriter, n *Notice) {
	if n.ID > 0 {
		fmt.Fprintf(w, "id: %d\n", n.ID)
	}
	fmt.Fprintf(w, "event: %s\n", n.Type)
	data := n.Data
	if len(data) == 0 {
		data = []byte("{}")
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
