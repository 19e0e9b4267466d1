package realtime

import (
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Config configures a Client. Kind is decided once by the caller; there is no
// import-time environment probe and no runtime fallback between kinds.
type Config struct {
	Kind       Kind
	BaseURL    string
	Logger     *slog.Logger
	HTTPClient *http.Client

	PollInterval      time.Duration
	DedupWindow       time.Duration
	ConnectTimeout    time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	StreamRetryDelay  time.Duration
}

// Client is the single stable interface UI code talks to, independent of the
// active transport. It owns at most one transport; changing credentials tears
// the old one down completely before a new one is created, so two transports
// can never deliver for the same client at once.
type Client struct {
	cfg Config
	log *slog.Logger
	cbs *callbackCell

	mu        sync.Mutex
	token     string
	userID    string
	transport Transport

	// Replaced in tests to observe transport lifecycles.
	factory func(Kind, Options) Transport
}

func New(cfg Config) *Client {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		log:     log,
		cbs:     &callbackCell{},
		factory: selectTransport,
	}
}

// SetCallbacks swaps the subscriber's handlers. The active transport keeps
// running: events are always routed through the current callbacks, so a new
// set of closures never forces a reconnect.
func (c *Client) SetCallbacks(cbs Callbacks) {
	c.cbs.store(cbs)
}

// SetCredentials activates the client for an identity. Passing a different
// token or user id tears the previous transport down first, then creates and
// activates a fresh one. Empty token or user id leaves the client inert.
func (c *Client) SetCredentials(token, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if token == c.token && userID == c.userID && c.transport != nil {
		return
	}

	if c.transport != nil {
		c.transport.Teardown()
		c.transport = nil
	}

	c.token = token
	c.userID = userID
	if token == "" || userID == "" {
		return
	}

	t := c.factory(c.cfg.Kind, Options{
		BaseURL:           c.cfg.BaseURL,
		Token:             token,
		UserID:            userID,
		HTTPClient:        c.cfg.HTTPClient,
		Logger:            c.log,
		PollInterval:      c.cfg.PollInterval,
		DedupWindow:       c.cfg.DedupWindow,
		ConnectTimeout:    c.cfg.ConnectTimeout,
		ReconnectAttempts: c.cfg.ReconnectAttempts,
		ReconnectDelay:    c.cfg.ReconnectDelay,
		StreamRetryDelay:  c.cfg.StreamRetryDelay,
		callbacks:         c.cbs,
	})
	c.transport = t
	t.Activate()
}

// Close tears down the active transport, if any. Safe to call repeatedly and
// at any point in the lifecycle.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport != nil {
		c.transport.Teardown()
		c.transport = nil
	}
	c.token = ""
	c.userID = ""
}

func (c *Client) current() Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

func (c *Client) Connected() bool {
	if t := c.current(); t != nil {
		return t.Connected()
	}
	return false
}

func (c *Client) IsUserOnline(userID string) bool {
	if t := c.current(); t != nil {
		return t.IsUserOnline(userID)
	}
	return false
}

// OnlineUsers lists everyone the active transport believes online. Empty for
// transports without presence and for inert clients.
func (c *Client) OnlineUsers() []string {
	if t := c.current(); t != nil {
		return t.OnlineUsers()
	}
	return nil
}

func (c *Client) JoinConversation(conversationID string) {
	if t := c.current(); t != nil {
		t.JoinConversation(conversationID)
	}
}

func (c *Client) LeaveConversation(conversationID string) {
	if t := c.current(); t != nil {
		t.LeaveConversation(conversationID)
	}
}

func (c *Client) SendMessage(conversationID, content, clientMessageID string) {
	if t := c.current(); t != nil {
		t.SendMessage(conversationID, content, clientMessageID)
	}
}

func (c *Client) MarkRead(conversationID string) {
	if t := c.current(); t != nil {
		t.MarkRead(conversationID)
	}
}

func (c *Client) StartTyping(conversationID string) {
	if t := c.current(); t != nil {
		t.StartTyping(conversationID)
	}
}

func (c *Client) StopTyping(conversationID string) {
	if t := c.current(); t != nil {
		t.StopTyping(conversationID)
	}
}
