package server

import (
	"fmt"
	"net/http"
	"time"
)

const heartbeatInterval = 25 * time.Second

// handleSSE streams hub events as named server-sent events. The stream is
// receive-only; clients send through the HTTP API.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.UserID(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.hub.Join(userID)
	defer s.hub.Leave(userID, ch)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case env, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.Type, env.Payload)
			flusher.Flush()
		}
	}
}
