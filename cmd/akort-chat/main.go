// Command akort-chat is a terminal chat client for trying the realtime
// transports against a running server.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"akort/internal/models"
	"akort/internal/realtime"
)

func main() {
	var (
		serverURL    = flag.String("server", "http://localhost:8080", "Server base URL")
		username     = flag.String("user", "", "Username to log in as")
		password     = flag.String("password", "", "Password")
		conversation = flag.String("conversation", "lobby", "Conversation to join")
		transport    = flag.String("transport", "socket", "Transport: socket, sse or polling")
	)
	flag.Parse()

	if *username == "" || *password == "" {
		log.Fatal("both -user and -password are required")
	}

	token, userID, err := login(*serverURL, *username, *password)
	if err != nil {
		log.Fatalf("login: %v", err)
	}

	client := realtime.New(realtime.Config{
		Kind:    realtime.Kind(*transport),
		BaseURL: *serverURL,
	})
	defer client.Close()

	client.SetCallbacks(realtime.Callbacks{
		OnNewMessage: func(msg models.Message) {
			if msg.SenderID == userID {
				return
			}
			fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Format("15:04:05"), msg.SenderID, msg.Content)
		},
		OnMessagesRead: func(r models.ReadReceipt) {
			fmt.Printf("-- %s read %s\n", r.ReadBy, r.ConversationID)
		},
		OnTyping: func(ev models.TypingEvent, started bool) {
			if started {
				fmt.Printf("-- %s is typing...\n", ev.UserID)
			}
		},
	})
	client.SetCredentials(token, userID)

	if realtime.Kind(*transport) == realtime.KindSocket {
		// The join signal is only delivered once the socket is up.
		deadline := time.Now().Add(10 * time.Second)
		for !client.Connected() {
			if time.Now().After(deadline) {
				log.Fatal("could not connect to server")
			}
			time.Sleep(50 * time.Millisecond)
		}
		client.JoinConversation(*conversation)
	} else {
		// The HTTP transports have no join signal of their own.
		if err := joinOverHTTP(*serverURL, token, *conversation); err != nil {
			log.Fatalf("join conversation: %v", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			client.SendMessage(*conversation, line, uuid.NewString())
		}
		cancel()
	}()

	fmt.Printf("connected as %s via %s, type to chat\n", *username, *transport)
	<-ctx.Done()
}

func login(serverURL, username, password string) (token, userID string, err error) {
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := http.Post(serverURL+"/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("login rejected: %s", resp.Status)
	}

	var out struct {
		Token  string `json:"token"`
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", err
	}
	return out.Token, out.UserID, nil
}

func joinOverHTTP(serverURL, token, conversationID string) error {
	body, _ := json.Marshal(models.ConversationRef{ConversationID: conversationID})
	req, err := http.NewRequest(http.MethodPost, serverURL+"/conversations/join", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("join rejected: %s", resp.Status)
	}
	return nil
}
