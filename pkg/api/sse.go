package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/promptdeck/agentgate/pkg/approvals"
)

// watchHeartbeat is how often the SSE stream emits a keep-alive comment
// so idle connections survive intermediaries.
const watchHeartbeat = 15 * time.Second

// handleWatch streams approval lifecycle events as Server-Sent Events.
// A ready event is emitted first so clients know the subscription is
// live; the optional session query parameter filters events.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	if s.bus == nil {
		WriteError(w, http.StatusServiceUnavailable, "Service Unavailable", "Event stream is not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteInternal(w, fmt.Errorf("response writer does not support streaming"))
		return
	}

	session := r.URL.Query().Get("session")
	ch, cancel := s.bus.Subscribe(approvals.TopicNew, approvals.TopicUpdate)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, "event: ready\ndata: {}\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(watchHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				return
			}
			if session != "" && ev.Approval != nil && ev.Approval.SessionID != session {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn("dropping unencodable event", "topic", ev.Topic, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Topic, data)
			flusher.Flush()
		}
	}
}
