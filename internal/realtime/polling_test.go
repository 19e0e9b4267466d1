package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"akort/internal/models"
)

type pollScript struct {
	mu      sync.Mutex
	batches [][]models.Message
	since   []string
	posts   []string
}

func (p *pollScript) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /messages/poll", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.since = append(p.since, r.URL.Query().Get("since"))
		var batch []models.Message
		if len(p.batches) > 0 {
			batch = p.batches[0]
			p.batches = p.batches[1:]
		}
		p.mu.Unlock()
		_ = json.NewEncoder(w).Encode(models.PollResponse{Messages: batch})
	})
	record := func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.posts = append(p.posts, r.URL.Path)
		p.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
	mux.HandleFunc("POST /messages", record)
	mux.HandleFunc("POST /messages/mark-read", record)
	return mux
}

func msgAt(id string, ts time.Time) models.Message {
	return models.Message{ID: id, ConversationID: "c1", SenderID: "u2", Content: "hi", CreatedAt: ts}
}

func newPollingForTest(t *testing.T, baseURL string, dedup time.Duration, onMsg func(models.Message)) *pollingTransport {
	t.Helper()
	cell := &callbackCell{}
	cell.store(Callbacks{OnNewMessage: onMsg})
	opts := Options{
		BaseURL:      baseURL,
		Token:        "tok",
		UserID:       "u1",
		PollInterval: 10 * time.Millisecond,
		DedupWindow:  dedup,
		callbacks:    cell,
	}
	return newPollingTransport(opts.withDefaults())
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestPolling_CursorAdvancesToMaxTimestamp(t *testing.T) {
	base := time.Now().UTC().Truncate(time.Second)
	script := &pollScript{batches: [][]models.Message{
		{msgAt("m1", base.Add(1 * time.Second)), msgAt("m2", base.Add(2 * time.Second))},
		{msgAt("m3", base.Add(5 * time.Second))},
	}}
	srv := httptest.NewServer(script.handler())
	defer srv.Close()

	var mu sync.Mutex
	var delivered []string
	tr := newPollingForTest(t, srv.URL, 0, func(m models.Message) {
		mu.Lock()
		delivered = append(delivered, m.ID)
		mu.Unlock()
	})

	tr.Activate()
	defer tr.Teardown()

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == 3
	})

	mu.Lock()
	got := append([]string(nil), delivered...)
	mu.Unlock()
	for i, want := range []string{"m1", "m2", "m3"} {
		if got[i] != want {
			t.Errorf("delivery order: expected %s at %d, got %v", want, i, got)
		}
	}

	tr.mu.Lock()
	cursor := tr.cursor
	tr.mu.Unlock()
	if !cursor.Equal(base.Add(5 * time.Second)) {
		t.Errorf("cursor should equal max timestamp seen, got %v", cursor)
	}
}

func TestPolling_CursorNeverMovesBackward(t *testing.T) {
	base := time.Now().UTC().Truncate(time.Second)
	// Second batch carries an older timestamp than the first.
	script := &pollScript{batches: [][]models.Message{
		{msgAt("m1", base.Add(10 * time.Second))},
		{msgAt("m0", base.Add(1 * time.Second))},
	}}
	srv := httptest.NewServer(script.handler())
	defer srv.Close()

	var count atomic.Int32
	tr := newPollingForTest(t, srv.URL, 0, func(models.Message) { count.Add(1) })

	tr.Activate()
	defer tr.Teardown()

	waitFor(t, 2*time.Second, func() bool { return count.Load() == 2 })

	tr.mu.Lock()
	cursor := tr.cursor
	tr.mu.Unlock()
	if !cursor.Equal(base.Add(10 * time.Second)) {
		t.Errorf("cursor moved backward: %v", cursor)
	}
}

func TestPolling_AtLeastOnceWithoutDedup(t *testing.T) {
	base := time.Now().UTC().Truncate(time.Second)
	dup := msgAt("m1", base.Add(time.Second))
	script := &pollScript{batches: [][]models.Message{{dup}, {dup}}}
	srv := httptest.NewServer(script.handler())
	defer srv.Close()

	var count atomic.Int32
	tr := newPollingForTest(t, srv.URL, 0, func(models.Message) { count.Add(1) })

	tr.Activate()
	defer tr.Teardown()

	// Overlapping server windows repeat the event; without client dedup both
	// copies reach the subscriber.
	waitFor(t, 2*time.Second, func() bool { return count.Load() == 2 })
}

func TestPolling_DedupWindowSkipsRepeatedIDs(t *testing.T) {
	base := time.Now().UTC().Truncate(time.Second)
	dup := msgAt("m1", base.Add(time.Second))
	fresh := msgAt("m2", base.Add(2*time.Second))
	script := &pollScript{batches: [][]models.Message{{dup}, {dup, fresh}}}
	srv := httptest.NewServer(script.handler())
	defer srv.Close()

	var mu sync.Mutex
	var delivered []string
	tr := newPollingForTest(t, srv.URL, time.Minute, func(m models.Message) {
		mu.Lock()
		delivered = append(delivered, m.ID)
		mu.Unlock()
	})

	tr.Activate()
	defer tr.Teardown()

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if delivered[0] != "m1" || delivered[1] != "m2" {
		t.Errorf("expected [m1 m2], got %v", delivered)
	}
}

func TestPolling_NoCredentialsNoNetwork(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer srv.Close()

	cell := &callbackCell{}
	opts := Options{
		BaseURL:      srv.URL,
		PollInterval: 10 * time.Millisecond,
		callbacks:    cell,
	}
	tr := newPollingTransport(opts.withDefaults())

	tr.Activate()
	if tr.Connected() {
		t.Error("transport must stay disconnected without credentials")
	}

	// No operation may reach the network or panic.
	tr.SendMessage("c1", "hi", "m1")
	tr.MarkRead("c1")
	tr.JoinConversation("c1")
	tr.StartTyping("c1")
	tr.Teardown()

	time.Sleep(50 * time.Millisecond)
	if n := requests.Load(); n != 0 {
		t.Errorf("expected 0 requests, got %d", n)
	}
}

func TestPolling_SendAndMarkReadFireAndForget(t *testing.T) {
	script := &pollScript{}
	srv := httptest.NewServer(script.handler())
	defer srv.Close()

	tr := newPollingForTest(t, srv.URL, 0, nil)
	tr.Activate()
	defer tr.Teardown()

	tr.SendMessage("c1", "hello", "m1")
	tr.MarkRead("c1")
	// Missing arguments are no-ops.
	tr.SendMessage("", "hello", "m2")
	tr.SendMessage("c1", "", "m3")
	tr.MarkRead("")

	waitFor(t, 2*time.Second, func() bool {
		script.mu.Lock()
		defer script.mu.Unlock()
		return len(script.posts) == 2
	})
}

func TestPolling_TeardownIdempotent(t *testing.T) {
	tr := newPollingForTest(t, "http://localhost:0", 0, nil)

	// Never activated.
	tr.Teardown()
	tr.Teardown()

	tr.Activate()
	tr.Teardown()
	tr.Teardown()

	if tr.Connected() {
		t.Error("must be disconnected after teardown")
	}
}
