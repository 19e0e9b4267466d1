// Package storage persists users, message history and push subscriptions in
// a single bbolt file with msgpack-encoded values.
package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"akort/internal/auth"
	"akort/internal/models"
)

var (
	bucketUsers         = []byte("users")
	bucketMessages      = []byte("messages")
	bucketSubscriptions = []byte("subscriptions")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketMessages, bucketSubscriptions} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

func (s *BboltStorage) put(bucket []byte, v Storeable) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := v.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put(v.Key(), data)
	})
}

// UpsertUser stores new or updated user credentials.
func (s *BboltStorage) UpsertUser(creds auth.UserCredentials) error {
	return s.put(bucketUsers, &DBUser{
		ID:           creds.UserID,
		UserName:     creds.UserName,
		DisplayName:  creds.DisplayName,
		PasswordHash: creds.PasswordHash,
		Status:       string(models.UserStatusActive),
	})
}

// ListUsers returns all user credentials stored in the database.
func (s *BboltStorage) ListUsers() ([]auth.UserCredentials, error) {
	var users []auth.UserCredentials
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var u DBUser
			if err := u.UnmarshalBinary(v); err != nil {
				return err
			}
			users = append(users, auth.UserCredentials{
				UserID:       u.ID,
				UserName:     u.UserName,
				DisplayName:  u.DisplayName,
				PasswordHash: u.PasswordHash,
			})
			return nil
		})
	})
	return users, err
}

// AppendMessage adds one message to the history log.
func (s *BboltStorage) AppendMessage(msg models.Message) error {
	return s.put(bucketMessages, &DBMessage{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt.UnixNano(),
	})
}

// MessagesSince returns messages with a timestamp strictly greater than
// since, oldest first. This backs the poll cursor query.
func (s *BboltStorage) MessagesSince(since time.Time) ([]models.Message, error) {
	from := make([]byte, 8)
	binary.BigEndian.PutUint64(from, uint64(since.UnixNano()+1))

	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketMessages).Cursor()
		for k, v := c.Seek(from); k != nil; k, v = c.Next() {
			var m DBMessage
			if err := m.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, models.Message{
				ID:             m.ID,
				ConversationID: m.ConversationID,
				SenderID:       m.SenderID,
				Content:        m.Content,
				CreatedAt:      time.Unix(0, m.CreatedAt).UTC(),
			})
		}
		return nil
	})
	return messages, err
}

// SaveSubscription registers a push endpoint for a user. Re-registering the
// same endpoint overwrites the previous keys.
func (s *BboltStorage) SaveSubscription(sub models.PushSubscription) error {
	return s.put(bucketSubscriptions, &DBSubscription{
		UserID:   sub.UserID,
		Endpoint: sub.Endpoint,
		P256dh:   sub.P256dh,
		Auth:     sub.Auth,
	})
}

// SubscriptionsFor returns every push endpoint registered by the user.
func (s *BboltStorage) SubscriptionsFor(userID string) ([]models.PushSubscription, error) {
	prefix := append([]byte(userID), 0)

	var subs []models.PushSubscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketSubscriptions).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var d DBSubscription
			if err := d.UnmarshalBinary(v); err != nil {
				return err
			}
			subs = append(subs, models.PushSubscription{
				UserID:   d.UserID,
				Endpoint: d.Endpoint,
				P256dh:   d.P256dh,
				Auth:     d.Auth,
			})
		}
		return nil
	})
	return subs, err
}
