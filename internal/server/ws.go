package server

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Same-host dev server, every origin is fine.
	},
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.UserID(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}

	conn := NewConnection(s.hub, ws, userID, s.log)
	if err := conn.Handle(r.Context()); err != nil {
		s.log.Debug("websocket closed", "user_id", userID, "error", err)
	}
}
