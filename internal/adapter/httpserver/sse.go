package httpserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/adapter/broadcast"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/domain"
)

// sseHeartbeat is how often an idle stream emits a comment line so proxies
// do not reap the connection.
const sseHeartbeat = 25 * time.Second

// AgentEventsHandler streams one agent's job lifecycle events as
// server-sent events. The stream stays open until the client disconnects
// or the hub shuts down; the router mounts it outside the request-timeout
// middleware.
func (s *Server) AgentEventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if vr := ValidateAgentID(userID); !vr.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid agent id", domain.ErrInvalidArgument), vr.Errors)
			return
		}
		s.streamEvents(w, r, s.Events.Subscribe(userID))
	}
}

// FirmEventsHandler streams every agent's events, for the firm-wide
// dashboard.
func (s *Server) FirmEventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.streamEvents(w, r, s.Events.SubscribeAll())
	}
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, sub *broadcast.Subscription) {
	defer sub.Close()
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, fmt.Errorf("%w: streaming unsupported", domain.ErrInternal), nil)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	// Ask clients to back off briefly before reconnecting.
	_, _ = fmt.Fprint(w, "retry: 3000\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case evt, open := <-sub.C:
			if !open {
				return
			}
			if err := writeSSE(w, evt); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, evt domain.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
	return err
}
