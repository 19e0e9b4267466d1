package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"akort/internal/models"
)

// socketTransport keeps one duplex websocket open, reconnecting a bounded
// number of times with a fixed delay when the link drops. It is the only
// transport that supports room subscription and typing indicators.
type socketTransport struct {
	opts     Options
	log      *slog.Logger
	cbs      *callbackCell
	presence *presenceSet

	mu        sync.Mutex
	conn      *websocket.Conn
	cancel    context.CancelFunc
	active    bool
	connected bool
}

func newSocketTransport(opts Options) *socketTransport {
	return &socketTransport{
		opts:     opts,
		log:      opts.Logger,
		cbs:      opts.callbacks,
		presence: newPresenceSet(),
	}
}

func (t *socketTransport) Activate() {
	if !t.opts.hasIdentity() {
		t.log.Debug("socket not started: missing credentials")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.active = true

	go t.run(ctx)
}

func (t *socketTransport) Teardown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	t.active = false
	t.connected = false
}

func (t *socketTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *socketTransport) socketURL() string {
	base := t.opts.BaseURL
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return fmt.Sprintf("%s/ws?token=%s", base, url.QueryEscape(t.opts.Token))
}

// run dials, pumps inbound frames until the link breaks, then retries with a
// fixed delay. The attempt counter resets after every successful connect; once
// it is exhausted the transport stays disconnected for good.
func (t *socketTransport) run(ctx context.Context) {
	attempts := 0
	for {
		conn, err := t.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempts++
			t.log.Debug("socket connect failed", "attempt", attempts, "error", err)
			if attempts >= t.opts.ReconnectAttempts {
				t.log.Warn("socket reconnect attempts exhausted")
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(t.opts.ReconnectDelay):
			}
			continue
		}

		attempts = 0
		t.mu.Lock()
		// Teardown may have landed while the dial was in flight; the
		// established connection must not be installed after it.
		if !t.active {
			t.mu.Unlock()
			_ = conn.Close()
			return
		}
		t.conn = conn
		t.connected = true
		t.mu.Unlock()

		err = t.readLoop(ctx, conn)

		t.mu.Lock()
		if t.conn == conn {
			_ = conn.Close()
			t.conn = nil
		}
		t.connected = false
		t.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		t.log.Debug("socket disconnected", "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(t.opts.ReconnectDelay):
		}
	}
}

func (t *socketTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: t.opts.ConnectTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, t.opts.ConnectTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, t.socketURL(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

func (t *socketTransport) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.handle(env)
	}
}

// handle dispatches one inbound frame. A payload that fails to decode is
// logged and dropped; the connection stays up.
func (t *socketTransport) handle(env models.Envelope) {
	switch env.Type {
	case models.SignalNewMessage:
		var msg models.Message
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			t.log.Debug("bad new_message payload", "error", err)
			return
		}
		t.cbs.newMessage(msg)
	case models.SignalMessagesRead:
		var r models.ReadReceipt
		if err := json.Unmarshal(env.Payload, &r); err != nil {
			t.log.Debug("bad messages_read payload", "error", err)
			return
		}
		t.cbs.messagesRead(r)
	case models.SignalConversationUpdated:
		var ref models.ConversationRef
		if err := json.Unmarshal(env.Payload, &ref); err != nil {
			t.log.Debug("bad conversation_updated payload", "error", err)
			return
		}
		t.cbs.conversationUpdated(ref.ConversationID)
	case models.SignalUserStatusChanged:
		var sc models.StatusChange
		if err := json.Unmarshal(env.Payload, &sc); err != nil {
			t.log.Debug("bad user_status_changed payload", "error", err)
			return
		}
		t.presence.apply(sc)
	case models.SignalUserTyping, models.SignalUserStoppedTyping:
		var ev models.TypingEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			t.log.Debug("bad typing payload", "error", err)
			return
		}
		t.cbs.typing(ev, env.Type == models.SignalUserTyping)
	default:
		// Unknown signals are ignored.
	}
}

// emit writes one frame if the link is up; otherwise it is a silent no-op.
// Signals are never queued for later delivery.
func (t *socketTransport) emit(sig models.SignalType, payload any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected || t.conn == nil {
		return
	}
	if err := t.conn.WriteJSON(models.ClientEnvelope{Type: sig, Payload: payload}); err != nil {
		t.log.Debug("socket write failed", "signal", sig, "error", err)
	}
}

func (t *socketTransport) JoinConversation(conversationID string) {
	if conversationID == "" {
		return
	}
	t.emit(models.SignalJoinConversation, models.ConversationRef{ConversationID: conversationID})
}

func (t *socketTransport) LeaveConversation(conversationID string) {
	if conversationID == "" {
		return
	}
	t.emit(models.SignalLeaveConversation, models.ConversationRef{ConversationID: conversationID})
}

func (t *socketTransport) SendMessage(conversationID, content, clientMessageID string) {
	if conversationID == "" || content == "" || clientMessageID == "" {
		return
	}
	t.emit(models.SignalSendMessage, models.SendRequest{
		ConversationID: conversationID,
		Content:        content,
		MessageID:      clientMessageID,
	})
}

// MarkRead is not carried over the socket; pages mark read through the HTTP
// API instead.
func (t *socketTransport) MarkRead(string) {}

func (t *socketTransport) StartTyping(conversationID string) {
	if conversationID == "" {
		return
	}
	t.emit(models.SignalTypingStart, models.ConversationRef{ConversationID: conversationID})
}

func (t *socketTransport) StopTyping(conversationID string) {
	if conversationID == "" {
		return
	}
	t.emit(models.SignalTypingStop, models.ConversationRef{ConversationID: conversationID})
}

func (t *socketTransport) IsUserOnline(userID string) bool {
	return t.presence.contains(userID)
}

func (t *socketTransport) OnlineUsers() []string {
	return t.presence.list()
}
