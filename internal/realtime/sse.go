package realtime

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"akort/internal/models"
)

// The stream endpoint lives at the server root, not under the versioned API
// prefix the send/poll endpoints use.
var versionSuffix = regexp.MustCompile(`/(api/)?v\d+$`)

// sseTransport holds one long-lived receive-only event stream. Sends go out
// of band over HTTP POST; read marks are not supported at all — a known
// capability gap of this transport.
type sseTransport struct {
	opts     Options
	log      *slog.Logger
	httpc    *http.Client
	cbs      *callbackCell
	presence *presenceSet

	mu        sync.Mutex
	cancel    context.CancelFunc
	active    bool
	connected bool
}

func newSSETransport(opts Options) *sseTransport {
	return &sseTransport{
		opts:     opts,
		log:      opts.Logger,
		httpc:    opts.HTTPClient,
		cbs:      opts.callbacks,
		presence: newPresenceSet(),
	}
}

func (t *sseTransport) Activate() {
	if !t.opts.hasIdentity() {
		t.log.Debug("sse not started: missing credentials")
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

func (t *sseTransport) Teardown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.active = false
	t.connected = false
}

func (t *sseTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// run keeps the stream open until teardown, mirroring EventSource's own
// retry behaviour: a broken stream is reopened after a fixed delay.
func (t *sseTransport) run(ctx context.Context) {
	for {
		if err := t.stream(ctx); err != nil && ctx.Err() == nil {
			t.log.Debug("event stream ended", "error", err)
		}
		t.setConnected(false)

		select {
		case <-ctx.Done():
			return
		case <-time.After(t.opts.StreamRetryDelay):
		}
	}
}

func (t *sseTransport) streamURL() string {
	base := versionSuffix.ReplaceAllString(strings.TrimRight(t.opts.BaseURL, "/"), "")
	return fmt.Sprintf("%s/sse?token=%s", base, url.QueryEscape(t.opts.Token))
}

func (t *sseTransport) stream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.streamURL(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.httpc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream status %d", resp.StatusCode)
	}

	t.setConnected(true)

	var (
		event string
		data  bytes.Buffer
	)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				t.dispatch(event, data.Bytes())
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// Heartbeat comment.
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("stream closed by server")
}

// dispatch decodes one named event. A malformed payload is dropped without
// disturbing the rest of the stream.
func (t *sseTransport) dispatch(event string, data []byte) {
	switch models.SignalType(event) {
	case models.SignalNewMessage:
		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.log.Debug("bad new_message payload", "error", err)
			return
		}
		t.cbs.newMessage(msg)
	case models.SignalConversationUpdated:
		var ref models.ConversationRef
		if err := json.Unmarshal(data, &ref); err != nil {
			t.log.Debug("bad conversation_updated payload", "error", err)
			return
		}
		t.cbs.conversationUpdated(ref.ConversationID)
	case models.SignalUserStatusChanged:
		var sc models.StatusChange
		if err := json.Unmarshal(data, &sc); err != nil {
			t.log.Debug("bad user_status_changed payload", "error", err)
			return
		}
		t.presence.apply(sc)
	default:
		// Unrecognized event names are ignored.
	}
}

func (t *sseTransport) setConnected(v bool) {
	t.mu.Lock()
	if t.active || !v {
		t.connected = v
	}
	t.mu.Unlock()
}

// SendMessage posts out of band; the stream itself is receive-only.
func (t *sseTransport) SendMessage(conversationID, content, clientMessageID string) {
	if conversationID == "" || content == "" {
		return
	}
	t.mu.Lock()
	active := t.active
	t.mu.Unlock()
	if !active {
		return
	}

	go func() {
		body, err := json.Marshal(models.SendRequest{
			ConversationID: conversationID,
			Content:        content,
			MessageID:      clientMessageID,
		})
		if err != nil {
			t.log.Error("send encode", "error", err)
			return
		}
		req, err := http.NewRequest(http.MethodPost, t.opts.BaseURL+"/messages", bytes.NewReader(body))
		if err != nil {
			t.log.Error("send request", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+t.opts.Token)

		resp, err := t.httpc.Do(req)
		if err != nil {
			t.log.Debug("send failed", "error", err)
			return
		}
		_ = resp.Body.Close()
	}()
}

// MarkRead is not supported over SSE.
func (t *sseTransport) MarkRead(string) {}

// Room subscription and typing indicators are not supported over SSE.

func (t *sseTransport) JoinConversation(string)  {}
func (t *sseTransport) LeaveConversation(string) {}
func (t *sseTransport) StartTyping(string)       {}
func (t *sseTransport) StopTyping(string)        {}

func (t *sseTransport) IsUserOnline(userID string) bool {
	return t.presence.contains(userID)
}

func (t *sseTransport) OnlineUsers() []string {
	return t.presence.list()
}
