package commands

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"

	"akort/internal/auth"
	"akort/internal/config"
	"akort/internal/content"
	"akort/internal/storage"
)

// AddUser creates a user with a random password and prints the credentials.
func AddUser(username string, cfg *config.Config) error {
	if err := content.ValidateUsername(username); err != nil {
		return err
	}

	st, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	existing, err := st.ListUsers()
	if err != nil {
		return err
	}
	for _, u := range existing {
		if u.UserName == username {
			return auth.ErrUserExists
		}
	}

	password, err := randomPassword()
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	creds := auth.UserCredentials{
		UserID:       uuid.NewString(),
		UserName:     username,
		DisplayName:  username,
		PasswordHash: hash,
	}
	if err := st.UpsertUser(creds); err != nil {
		return err
	}

	fmt.Printf("User created\n  id:       %s\n  username: %s\n  password: %s\n",
		creds.UserID, username, password)
	return nil
}

func randomPassword() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
