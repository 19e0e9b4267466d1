// Package realtime delivers chat and notification events to a subscriber over
// one of three interchangeable transports: a duplex websocket, a server-sent
// event stream, or plain HTTP polling. The subscriber talks to a Client; the
// Client owns at most one active Transport at a time.
package realtime

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"akort/internal/models"
)

// Kind selects which delivery mechanism a Client uses. The choice is made
// once, by configuration, and never changes at runtime.
type Kind string

const (
	KindSocket  Kind = "socket"
	KindSSE     Kind = "sse"
	KindPolling Kind = "polling"
)

// Transport is one concrete delivery mechanism. Delivery is best effort:
// methods never return errors, failures are logged and dropped. Operations a
// transport cannot support (room subscription over polling, read marks over
// SSE) are silent no-ops.
type Transport interface {
	Activate()
	Teardown()
	Connected() bool
	JoinConversation(conversationID string)
	LeaveConversation(conversationID string)
	SendMessage(conversationID, content, clientMessageID string)
	MarkRead(conversationID string)
	StartTyping(conversationID string)
	StopTyping(conversationID string)
	IsUserOnline(userID string) bool
	OnlineUsers() []string
}

// Callbacks are the subscriber's event handlers. Every field is optional.
type Callbacks struct {
	OnNewMessage          func(models.Message)
	OnMessagesRead        func(models.ReadReceipt)
	OnConversationUpdated func(conversationID string)
	// OnTyping fires for user_typing (started=true) and user_stopped_typing.
	OnTyping func(ev models.TypingEvent, started bool)
}

// callbackCell routes every inbound event through the current callbacks, so
// the subscriber can swap handlers without tearing the transport down.
type callbackCell struct {
	mu  sync.RWMutex
	cbs Callbacks
}

func (c *callbackCell) store(cbs Callbacks) {
	c.mu.Lock()
	c.cbs = cbs
	c.mu.Unlock()
}

func (c *callbackCell) load() Callbacks {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cbs
}

func (c *callbackCell) newMessage(msg models.Message) {
	if cb := c.load().OnNewMessage; cb != nil {
		cb(msg)
	}
}

func (c *callbackCell) messagesRead(r models.ReadReceipt) {
	if cb := c.load().OnMessagesRead; cb != nil {
		cb(r)
	}
}

func (c *callbackCell) conversationUpdated(conversationID string) {
	if cb := c.load().OnConversationUpdated; cb != nil {
		cb(conversationID)
	}
}

func (c *callbackCell) typing(ev models.TypingEvent, started bool) {
	if cb := c.load().OnTyping; cb != nil {
		cb(ev, started)
	}
}

// Options carries everything a transport needs at construction time.
// Credentials are fixed for the transport's lifetime; an identity change is a
// new transport, never a mutation.
type Options struct {
	BaseURL    string
	Token      string
	UserID     string
	HTTPClient *http.Client
	Logger     *slog.Logger

	// Polling.
	PollInterval time.Duration
	// DedupWindow enables client-side message-id dedup for polling when > 0.
	DedupWindow time.Duration

	// Socket.
	ConnectTimeout    time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration

	// SSE.
	StreamRetryDelay time.Duration

	callbacks *callbackCell
}

const (
	defaultPollInterval      = 2 * time.Second
	defaultConnectTimeout    = 10 * time.Second
	defaultReconnectAttempts = 5
	defaultReconnectDelay    = 2 * time.Second
	defaultStreamRetryDelay  = 3 * time.Second

	// First poll looks this far back so a freshly activated transport picks
	// up messages that arrived just before it.
	pollLookback = 60 * time.Second
)

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = http.DefaultClient
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.ReconnectAttempts <= 0 {
		o.ReconnectAttempts = defaultReconnectAttempts
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = defaultReconnectDelay
	}
	if o.StreamRetryDelay <= 0 {
		o.StreamRetryDelay = defaultStreamRetryDelay
	}
	if o.callbacks == nil {
		o.callbacks = &callbackCell{}
	}
	return o
}

// hasIdentity reports whether the transport has everything it needs to talk
// to the server. Without both values activation is a no-op.
func (o Options) hasIdentity() bool {
	return o.Token != "" && o.UserID != ""
}

// selectTransport maps a Kind to a concrete transport. Pure: no side effects,
// no fallback between kinds at runtime.
func selectTransport(kind Kind, opts Options) Transport {
	opts = opts.withDefaults()
	switch kind {
	case KindPolling:
		return newPollingTransport(opts)
	case KindSSE:
		return newSSETransport(opts)
	default:
		return newSocketTransport(opts)
	}
}
