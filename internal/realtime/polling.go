package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/c-pro/geche"

	"akort/internal/models"
)

// pollingTransport fetches new messages on a fixed interval using the poll
// cursor as the "since" watermark. Delivery is at-least-once: the server
// dedups by timestamp only, so overlapping windows may repeat events unless
// DedupWindow turns on client-side id tracking.
type pollingTransport struct {
	opts  Options
	log   *slog.Logger
	httpc *http.Client
	cbs   *callbackCell

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	active bool
	cursor time.Time
	seen   geche.Geche[string, struct{}]
}

func newPollingTransport(opts Options) *pollingTransport {
	return &pollingTransport{
		opts:  opts,
		log:   opts.Logger,
		httpc: opts.HTTPClient,
		cbs:   opts.callbacks,
	}
}

func (t *pollingTransport) Activate() {
	if !t.opts.hasIdentity() {
		t.log.Debug("polling not started: missing credentials")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.ctx = ctx
	t.cancel = cancel
	t.active = true
	t.cursor = time.Now().Add(-pollLookback)
	if t.opts.DedupWindow > 0 {
		t.seen = geche.NewMapTTLCache[string, struct{}](ctx, t.opts.DedupWindow, t.opts.DedupWindow)
	}

	go t.loop(ctx)
}

func (t *pollingTransport) Teardown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.active = false
}

// Connected reports whether the poll loop is running. Individual failed polls
// do not flip it; the next tick retries anyway.
func (t *pollingTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *pollingTransport) loop(ctx context.Context) {
	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.poll(ctx)
		}
	}
}

func (t *pollingTransport) poll(ctx context.Context) {
	t.mu.Lock()
	since := t.cursor
	t.mu.Unlock()

	u := fmt.Sprintf("%s/messages/poll?since=%s",
		t.opts.BaseURL, url.QueryEscape(since.Format(time.RFC3339Nano)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		t.log.Error("poll request", "error", err)
		return
	}
	req.Header.Set("Authorization", "Bearer "+t.opts.Token)

	resp, err := t.httpc.Do(req)
	if err != nil {
		t.log.Debug("poll failed", "error", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.log.Debug("poll rejected", "status", resp.StatusCode)
		return
	}

	var pr models.PollResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		t.log.Debug("poll decode failed", "error", err)
		return
	}

	// Deliver in server-response order, advancing the cursor after each
	// message so it never moves backward.
	for _, msg := range pr.Messages {
		if t.duplicate(msg.ID) {
			t.advance(msg.CreatedAt)
			continue
		}
		t.cbs.newMessage(msg)
		t.advance(msg.CreatedAt)
	}
}

func (t *pollingTransport) advance(ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ts.After(t.cursor) {
		t.cursor = ts
	}
}

func (t *pollingTransport) duplicate(id string) bool {
	if id == "" {
		return false
	}
	t.mu.Lock()
	seen := t.seen
	t.mu.Unlock()
	if seen == nil {
		return false
	}
	if _, err := seen.Get(id); err == nil {
		return true
	}
	seen.Set(id, struct{}{})
	return false
}

// SendMessage posts the message out of band. Fire and forget: a rejected send
// is logged, never retried, never surfaced.
func (t *pollingTransport) SendMessage(conversationID, content, clientMessageID string) {
	if conversationID == "" || content == "" {
		return
	}
	t.post("/messages", models.SendRequest{
		ConversationID: conversationID,
		Content:        content,
		MessageID:      clientMessageID,
	})
}

func (t *pollingTransport) MarkRead(conversationID string) {
	if conversationID == "" {
		return
	}
	t.post("/messages/mark-read", models.MarkReadRequest{ConversationID: conversationID})
}

func (t *pollingTransport) post(path string, body any) {
	t.mu.Lock()
	ctx := t.ctx
	active := t.active
	t.mu.Unlock()
	if !active {
		return
	}

	go func() {
		data, err := json.Marshal(body)
		if err != nil {
			t.log.Error("post encode", "path", path, "error", err)
			return
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.opts.BaseURL+path, bytes.NewReader(data))
		if err != nil {
			t.log.Error("post request", "path", path, "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+t.opts.Token)

		resp, err := t.httpc.Do(req)
		if err != nil {
			t.log.Debug("post failed", "path", path, "error", err)
			return
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= http.StatusBadRequest {
			t.log.Debug("post rejected", "path", path, "status", resp.StatusCode)
		}
	}()
}

// Room subscription and typing indicators are not supported over polling.

func (t *pollingTransport) JoinConversation(string)  {}
func (t *pollingTransport) LeaveConversation(string) {}
func (t *pollingTransport) StartTyping(string)       {}
func (t *pollingTransport) StopTyping(string)        {}

// Polling carries no presence events, so everyone looks offline.

func (t *pollingTransport) IsUserOnline(string) bool { return false }
func (t *pollingTransport) OnlineUsers() []string    { return nil }
