package models

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

// Message is a chat message as delivered over any transport.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ReadReceipt tells other conversation members that someone caught up.
type ReadReceipt struct {
	ConversationID string    `json:"conversationId"`
	ReadBy         string    `json:"readBy"`
	ReadAt         time.Time `json:"readAt"`
}

// StatusChange announces that a user went online or offline.
type StatusChange struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

// TypingEvent is the ephemeral typing indicator for one conversation.
type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// ConversationRef is the payload for signals that only carry a conversation id.
type ConversationRef struct {
	ConversationID string `json:"conversationId"`
}

type UserStatus string

const (
	UserStatusCreated UserStatus = "created"
	UserStatusActive  UserStatus = "active"
	UserStatusDeleted UserStatus = "deleted"
)

// User represents a user in the system.
type User struct {
	ID          string     `json:"id"`
	UserName    string     `json:"userName"`
	DisplayName string     `json:"displayName"`
	Presence    Presence   `json:"presence"`
	Status      UserStatus `json:"status"`
}

// Presence represents the online status of a user.
type Presence struct {
	Online   bool  `json:"online"`
	LastSeen int64 `json:"lastSeen"` // Unix timestamp (seconds)
}

// PushSubscription is one browser push endpoint registered by a user.
type PushSubscription struct {
	UserID   string `json:"userId"`
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

// SignalType names a frame on the wire. The same names are used as websocket
// envelope types and as SSE event names.
type SignalType string

// Client to server.
const (
	SignalJoinConversation  SignalType = "join_conversation"
	SignalLeaveConversation SignalType = "leave_conversation"
	SignalSendMessage       SignalType = "send_message"
	SignalTypingStart       SignalType = "typing_start"
	SignalTypingStop        SignalType = "typing_stop"
)

// Server to client.
const (
	SignalNewMessage          SignalType = "new_message"
	SignalMessagesRead        SignalType = "messages_read"
	SignalConversationUpdated SignalType = "conversation_updated"
	SignalUserTyping          SignalType = "user_typing"
	SignalUserStoppedTyping   SignalType = "user_stopped_typing"
	SignalUserStatusChanged   SignalType = "user_status_changed"
)

// Envelope is the JSON frame read off the websocket or the SSE stream.
// Payload stays raw until the signal type is known.
type Envelope struct {
	Type    SignalType      `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ClientEnvelope is the client-to-server frame. Payload is marshalled as-is.
type ClientEnvelope struct {
	Type    SignalType `json:"type"`
	Payload any        `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into a server-to-client frame.
func NewEnvelope(t SignalType, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, Payload: data}, nil
}

// SendRequest is the body of POST /messages and of the send_message signal.
// MessageID is a client-generated idempotency id so receivers can reconcile
// the delivered copy against an optimistically rendered one.
type SendRequest struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	MessageID      string `json:"messageId"`
}

// MarkReadRequest is the body of POST /messages/mark-read.
type MarkReadRequest struct {
	ConversationID string `json:"conversationId"`
}

// PollResponse is the body returned by GET /messages/poll.
type PollResponse struct {
	Messages []Message `json:"messages"`
}
