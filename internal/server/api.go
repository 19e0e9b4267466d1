package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"akort/internal/models"
)

const pollLookback = 60 * time.Second

func (s *Server) bearerUser(r *http.Request) (string, error) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return s.auth.UserID(token)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	token, userID, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		http.Error(w, "Login failed", http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"token":  token,
		"userId": userID,
	})
}

// handlePoll serves the polling transport: every message newer than the
// client's cursor, restricted to conversations the caller belongs to.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	userID, err := s.bearerUser(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	since := time.Now().Add(-pollLookback)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			http.Error(w, "Invalid since timestamp", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	all, err := s.store.MessagesSince(since)
	if err != nil {
		s.log.Error("poll query failed", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	messages := make([]models.Message, 0, len(all))
	for _, msg := range all {
		if s.hub.MemberOf(userID, msg.ConversationID) {
			messages = append(messages, msg)
		}
	}

	writeJSON(w, http.StatusOK, models.PollResponse{Messages: messages})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	userID, err := s.bearerUser(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req models.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	msg, err := s.hub.Send(userID, req)
	if err != nil {
		http.Error(w, "Send rejected", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, err := s.bearerUser(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req models.MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConversationID == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	s.hub.MarkRead(userID, req.ConversationID)
	w.WriteHeader(http.StatusNoContent)
}

// handleJoin lets HTTP-only transports join a conversation, since they have
// no join_conversation signal of their own.
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	userID, err := s.bearerUser(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req models.ConversationRef
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConversationID == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	s.hub.JoinConversation(userID, req.ConversationID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	userID, err := s.bearerUser(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var sub models.PushSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil || sub.Endpoint == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	sub.UserID = userID

	if err := s.store.SaveSubscription(sub); err != nil {
		s.log.Error("subscription save failed", "user_id", userID, "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
