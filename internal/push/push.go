// Package push delivers web push notifications to users who are not
// connected over any realtime transport.
package push

import (
	"encoding/json"
	"fmt"
	"log/slog"

	webpush "github.com/SherClockHolmes/webpush-go"

	"akort/internal/content"
	"akort/internal/models"
)

// SubscriptionStore looks up the push endpoints a user registered.
type SubscriptionStore interface {
	SubscriptionsFor(userID string) ([]models.PushSubscription, error)
}

type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// Subscriber is the contact address required by the push services,
	// usually a mailto: URL.
	Subscriber string
}

// Enabled reports whether push is configured at all.
func (c Config) Enabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

type Notifier struct {
	cfg   Config
	store SubscriptionStore
	log   *slog.Logger
}

func NewNotifier(cfg Config, store SubscriptionStore, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{cfg: cfg, store: store, log: log}
}

type notificationPayload struct {
	Title          string `json:"title"`
	Body           string `json:"body"`
	ConversationID string `json:"conversationId"`
}

// NotifyNewMessage pushes a preview of msg to every endpoint userID
// registered. Failed deliveries are logged and dropped.
func (n *Notifier) NotifyNewMessage(userID string, msg models.Message) {
	if !n.cfg.Enabled() {
		return
	}

	subs, err := n.store.SubscriptionsFor(userID)
	if err != nil {
		n.log.Error("push subscription lookup failed", "user_id", userID, "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(notificationPayload{
		Title:          "New message",
		Body:           content.Preview(msg.Content, 120),
		ConversationID: msg.ConversationID,
	})
	if err != nil {
		n.log.Error("push payload encode failed", "error", err)
		return
	}

	for _, sub := range subs {
		if err := n.send(payload, sub); err != nil {
			n.log.Debug("push delivery failed", "user_id", userID, "error", err)
		}
	}
}

func (n *Notifier) send(payload []byte, sub models.PushSubscription) error {
	resp, err := webpush.SendNotification(payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		TTL:             60,
		Subscriber:      n.cfg.Subscriber,
		VAPIDPublicKey:  n.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: n.cfg.VAPIDPrivateKey,
	})
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	}
	return nil
}
