package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MimeLyc/subtrans/internal/notify"
)

// handleJobStream sends a snapshot of the caller's jobs, then every change to
// jobs the caller may view. Events published while the client is slow are dropped.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	if s.broker == nil {
		writeError(w, http.StatusNotImplemented, "event stream is not configured")
		return
	}
	p, _ := principalFrom(r)

	events, unsubscribe := s.broker.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(event string, data any) bool {
		payload, err := json.Marshal(data)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	list := s.service.List(r.Context(), p)
	views := make([]jobView, 0, len(list))
	for _, job := range list {
		views = append(views, s.viewOf(job))
	}
	if !send("snapshot", views) {
		return
	}

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			if !s.service.CanView(p, ev.JobID) {
				continue
			}
			if !send(eventName(ev), ev) {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func eventName(ev notify.Event) string {
	if ev.Terminal() {
		return "job_terminal"
	}
	return "job_progress"
}
