package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"akort/internal/auth"
	"akort/internal/models"
)

func newTestStorage(t *testing.T) *BboltStorage {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "storage_test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	store, err := NewBboltStorage(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStorage_Users(t *testing.T) {
	store := newTestStorage(t)

	creds := auth.UserCredentials{
		UserID:       "user1",
		UserName:     "alice",
		DisplayName:  "Alice",
		PasswordHash: "hash",
	}
	if err := store.UpsertUser(creds); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}

	users, err := store.ListUsers()
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0].UserID != "user1" || users[0].PasswordHash != "hash" {
		t.Errorf("unexpected user %+v", users[0])
	}

	// Upsert with the same username overwrites.
	creds.DisplayName = "Alice G."
	if err := store.UpsertUser(creds); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	users, _ = store.ListUsers()
	if len(users) != 1 || users[0].DisplayName != "Alice G." {
		t.Errorf("expected overwritten user, got %+v", users)
	}
}

func TestStorage_MessagesSince(t *testing.T) {
	store := newTestStorage(t)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"m1", "m2", "m3"} {
		err := store.AppendMessage(models.Message{
			ID:             id,
			ConversationID: "c1",
			SenderID:       "u1",
			Content:        "msg " + id,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	t.Run("StrictlyAfterCursor", func(t *testing.T) {
		msgs, err := store.MessagesSince(base)
		if err != nil {
			t.Fatalf("MessagesSince failed: %v", err)
		}
		// m1 sits exactly on the cursor and must be excluded.
		if len(msgs) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(msgs))
		}
		if msgs[0].ID != "m2" || msgs[1].ID != "m3" {
			t.Errorf("expected [m2 m3] in timestamp order, got %+v", msgs)
		}
	})

	t.Run("AllFromThePast", func(t *testing.T) {
		msgs, err := store.MessagesSince(base.Add(-time.Hour))
		if err != nil {
			t.Fatalf("MessagesSince failed: %v", err)
		}
		if len(msgs) != 3 {
			t.Errorf("expected 3 messages, got %d", len(msgs))
		}
	})

	t.Run("NothingInTheFuture", func(t *testing.T) {
		msgs, err := store.MessagesSince(base.Add(time.Hour))
		if err != nil {
			t.Fatalf("MessagesSince failed: %v", err)
		}
		if len(msgs) != 0 {
			t.Errorf("expected no messages, got %+v", msgs)
		}
	})

	t.Run("RoundTripFields", func(t *testing.T) {
		msgs, _ := store.MessagesSince(base.Add(-time.Hour))
		m := msgs[0]
		if m.ConversationID != "c1" || m.SenderID != "u1" || m.Content != "msg m1" {
			t.Errorf("fields lost in round trip: %+v", m)
		}
		if !m.CreatedAt.Equal(base) {
			t.Errorf("timestamp lost in round trip: %v", m.CreatedAt)
		}
	})
}

func TestStorage_Subscriptions(t *testing.T) {
	store := newTestStorage(t)

	subs := []models.PushSubscription{
		{UserID: "u1", Endpoint: "https://push.example/a", P256dh: "k1", Auth: "a1"},
		{UserID: "u1", Endpoint: "https://push.example/b", P256dh: "k2", Auth: "a2"},
		{UserID: "u2", Endpoint: "https://push.example/c", P256dh: "k3", Auth: "a3"},
	}
	for _, sub := range subs {
		if err := store.SaveSubscription(sub); err != nil {
			t.Fatalf("SaveSubscription failed: %v", err)
		}
	}

	got, err := store.SubscriptionsFor("u1")
	if err != nil {
		t.Fatalf("SubscriptionsFor failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 subscriptions for u1, got %d", len(got))
	}
	for _, sub := range got {
		if sub.UserID != "u1" {
			t.Errorf("subscription for wrong user: %+v", sub)
		}
	}

	// Same endpoint overwrites, no duplicates.
	if err := store.SaveSubscription(subs[0]); err != nil {
		t.Fatal(err)
	}
	got, _ = store.SubscriptionsFor("u1")
	if len(got) != 2 {
		t.Errorf("re-registering must not duplicate, got %d", len(got))
	}

	got, _ = store.SubscriptionsFor("u3")
	if len(got) != 0 {
		t.Errorf("expected no subscriptions for u3, got %+v", got)
	}
}
