package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"akort/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type messageHub interface {
	Join(userID string) chan models.Envelope
	Leave(userID string, ch chan models.Envelope)
	JoinConversation(userID, conversationID string)
	LeaveConversation(userID, conversationID string)
	Send(senderID string, req models.SendRequest) (models.Message, error)
	Typing(userID, conversationID string, started bool)
}

// Connection pumps frames between one websocket and the hub until either
// side goes away.
type Connection struct {
	ws         wsConnection
	hub        messageHub
	userID     string
	log        *slog.Logger
	fromClient chan models.Envelope
	fromServer chan models.Envelope
	errorCh    chan error
}

func NewConnection(hub messageHub, ws wsConnection, userID string, log *slog.Logger) *Connection {
	if log == nil {
		log = slog.Default()
	}
	return &Connection{
		ws:         ws,
		hub:        hub,
		userID:     userID,
		log:        log,
		fromClient: make(chan models.Envelope),
		fromServer: hub.Join(userID),
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.hub.Leave(c.userID, c.fromServer)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpSignals(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpSignals(ctx context.Context) error {
	for {
		var env models.Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			return err
		}
		select {
		case c.fromClient <- env:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case env := <-c.fromClient:
			c.processSignal(env)
		case env, ok := <-c.fromServer:
			if !ok {
				// Superseded by a newer connection for the same user.
				return nil
			}
			if err := c.ws.WriteJSON(env); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// processSignal handles one client frame. Bad payloads are logged and
// dropped; they never take the connection down.
func (c *Connection) processSignal(env models.Envelope) {
	switch env.Type {
	case models.SignalJoinConversation:
		if ref, ok := c.conversationRef(env); ok {
			c.hub.JoinConversation(c.userID, ref.ConversationID)
		}
	case models.SignalLeaveConversation:
		if ref, ok := c.conversationRef(env); ok {
			c.hub.LeaveConversation(c.userID, ref.ConversationID)
		}
	case models.SignalSendMessage:
		var req models.SendRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			c.log.Debug("bad send_message payload", "user_id", c.userID, "error", err)
			return
		}
		if _, err := c.hub.Send(c.userID, req); err != nil {
			c.log.Debug("send rejected", "user_id", c.userID, "error", err)
		}
	case models.SignalTypingStart:
		if ref, ok := c.conversationRef(env); ok {
			c.hub.Typing(c.userID, ref.ConversationID, true)
		}
	case models.SignalTypingStop:
		if ref, ok := c.conversationRef(env); ok {
			c.hub.Typing(c.userID, ref.ConversationID, false)
		}
	}
}

func (c *Connection) conversationRef(env models.Envelope) (models.ConversationRef, bool) {
	var ref models.ConversationRef
	if err := json.Unmarshal(env.Payload, &ref); err != nil || ref.ConversationID == "" {
		c.log.Debug("bad signal payload", "signal", env.Type, "user_id", c.userID)
		return models.ConversationRef{}, false
	}
	return ref, true
}
