// Package hub routes realtime events between connected subscribers. Every
// websocket and SSE connection registers a subscriber channel; polling reads
// the message log that the hub appends to on every send.
package hub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"akort/internal/content"
	"akort/internal/models"
)

// MessageStore is the persistent message log the poll endpoint reads.
type MessageStore interface {
	AppendMessage(models.Message) error
}

// Notifier reaches users who are not connected over any transport.
type Notifier interface {
	NotifyNewMessage(userID string, msg models.Message)
}

type Hub struct {
	// Map of conversationID -> set of member userIDs
	conversations map[string]map[string]bool

	// Map of userID -> subscriber channel
	subscribers map[string]chan models.Envelope

	store    MessageStore
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time

	mu sync.RWMutex
}

func NewHub(store MessageStore, notifier Notifier, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		conversations: make(map[string]map[string]bool),
		subscribers:   make(map[string]chan models.Envelope),
		store:         store,
		notifier:      notifier,
		log:           log,
		now:           time.Now,
	}
}

// Join registers a subscriber channel for the user and announces them online
// to everyone else. A second Join for the same user supersedes the first: the
// old channel is closed so its pump can exit.
func (h *Hub) Join(userID string) chan models.Envelope {
	h.mu.Lock()
	if old, ok := h.subscribers[userID]; ok {
		close(old)
	}
	ch := make(chan models.Envelope, 100)
	h.subscribers[userID] = ch
	h.mu.Unlock()

	h.broadcastStatus(userID, true)
	return ch
}

// Leave drops the user's subscriber channel and announces them offline. The
// caller passes the channel Join handed it: a stale Leave from a superseded
// connection must not take down the user's fresh one.
func (h *Hub) Leave(userID string, ch chan models.Envelope) {
	h.mu.Lock()
	cur, ok := h.subscribers[userID]
	if ok && cur == ch {
		close(cur)
		delete(h.subscribers, userID)
	} else {
		ok = false
	}
	h.mu.Unlock()

	if ok {
		h.broadcastStatus(userID, false)
	}
}

func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.subscribers[userID]
	return ok
}

// JoinConversation subscribes the user to a room, creating it on first join.
func (h *Hub) JoinConversation(userID, conversationID string) {
	if userID == "" || conversationID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.conversations[conversationID]
	if !ok {
		members = make(map[string]bool)
		h.conversations[conversationID] = members
	}
	members[userID] = true
}

func (h *Hub) LeaveConversation(userID, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.conversations[conversationID]; ok {
		delete(members, userID)
	}
}

// MemberOf reports whether the user belongs to the conversation.
func (h *Hub) MemberOf(userID, conversationID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conversations[conversationID][userID]
}

// Send persists the message and fans it out to every conversation member.
// The sender receives an echo too; clients reconcile it against their
// optimistic copy via the client-generated message id. Members without a live
// subscriber channel get a push notification instead.
func (h *Hub) Send(senderID string, req models.SendRequest) (models.Message, error) {
	clean := content.Sanitize(req.Content)
	if req.ConversationID == "" || clean == "" {
		return models.Message{}, fmt.Errorf("conversation id and content are required")
	}
	if !h.MemberOf(senderID, req.ConversationID) {
		return models.Message{}, fmt.Errorf("sender %s is not in conversation %s", senderID, req.ConversationID)
	}

	msg := models.Message{
		ID:             req.MessageID,
		ConversationID: req.ConversationID,
		SenderID:       senderID,
		Content:        clean,
		CreatedAt:      h.now().UTC(),
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	if h.store != nil {
		if err := h.store.AppendMessage(msg); err != nil {
			return models.Message{}, fmt.Errorf("append message: %w", err)
		}
	}

	h.fanOut(req.ConversationID, "", models.SignalNewMessage, msg)
	h.fanOut(req.ConversationID, "", models.SignalConversationUpdated,
		models.ConversationRef{ConversationID: req.ConversationID})

	if h.notifier != nil {
		for _, member := range h.members(req.ConversationID) {
			if member != senderID && !h.IsOnline(member) {
				go h.notifier.NotifyNewMessage(member, msg)
			}
		}
	}

	return msg, nil
}

// MarkRead tells the other members that userID caught up on the conversation.
func (h *Hub) MarkRead(userID, conversationID string) {
	if !h.MemberOf(userID, conversationID) {
		return
	}
	h.fanOut(conversationID, userID, models.SignalMessagesRead, models.ReadReceipt{
		ConversationID: conversationID,
		ReadBy:         userID,
		ReadAt:         h.now().UTC(),
	})
}

// Typing relays a typing indicator to the other conversation members.
func (h *Hub) Typing(userID, conversationID string, started bool) {
	if !h.MemberOf(userID, conversationID) {
		return
	}
	sig := models.SignalUserTyping
	if !started {
		sig = models.SignalUserStoppedTyping
	}
	h.fanOut(conversationID, userID, sig, models.TypingEvent{
		ConversationID: conversationID,
		UserID:         userID,
	})
}

func (h *Hub) members(conversationID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.conversations[conversationID]))
	for id := range h.conversations[conversationID] {
		out = append(out, id)
	}
	return out
}

// fanOut delivers one event to every online member of the conversation,
// skipping exclude. Slow subscribers get dropped frames, not backpressure.
func (h *Hub) fanOut(conversationID, exclude string, sig models.SignalType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("fan-out encode failed", "signal", sig, "error", err)
		return
	}
	env := models.Envelope{Type: sig, Payload: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for member := range h.conversations[conversationID] {
		if member == exclude {
			continue
		}
		ch, online := h.subscribers[member]
		if !online {
			continue
		}
		select {
		case ch <- env:
		default:
			h.log.Debug("subscriber channel full, dropping event", "user_id", member, "signal", sig)
		}
	}
}

// broadcastStatus announces a presence flip to every subscriber.
func (h *Hub) broadcastStatus(userID string, online bool) {
	data, err := json.Marshal(models.StatusChange{UserID: userID, IsOnline: online})
	if err != nil {
		return
	}
	env := models.Envelope{Type: models.SignalUserStatusChanged, Payload: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subscribers {
		if id == userID {
			continue
		}
		select {
		case ch <- env:
		default:
		}
	}
}
