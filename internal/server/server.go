// Package server exposes the realtime backend over HTTP: the websocket and
// SSE endpoints the transports connect to, and the REST endpoints the polling
// transport and the pages use.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"akort/internal/auth"
	"akort/internal/hub"
	"akort/internal/models"
	"akort/internal/storage"
)

// Store is the persistence the HTTP handlers need.
type Store interface {
	MessagesSince(since time.Time) ([]models.Message, error)
	SaveSubscription(models.PushSubscription) error
}

var _ Store = (*storage.BboltStorage)(nil)

type Server struct {
	auth  *auth.Service
	hub   *hub.Hub
	store Store
	log   *slog.Logger
	srv   *http.Server
}

func New(authService *auth.Service, h *hub.Hub, store Store, addr string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		auth:  authService,
		hub:   h,
		store: store,
		log:   log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("GET /messages/poll", s.handlePoll)
	mux.HandleFunc("POST /messages", s.handleSend)
	mux.HandleFunc("POST /messages/mark-read", s.handleMarkRead)
	mux.HandleFunc("POST /conversations/join", s.handleJoin)
	mux.HandleFunc("POST /push/subscribe", s.handleSubscribe)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /sse", s.handleSSE)

	s.srv = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler exposes the route table, mainly for tests built on httptest.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) Start() error {
	s.log.Info("listening", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
