// Package auth issues and checks the bearer tokens every transport presents.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
)

const (
	DefaultTokenExpiry = 24 * time.Hour

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrLoginFailed  = errors.New("login failed")
	ErrInvalidToken = errors.New("invalid token")
)

// UserCredentials is the server-side record for one account.
type UserCredentials struct {
	UserID       string
	UserName     string
	DisplayName  string
	PasswordHash string
}

type Config struct {
	TokenExpiry time.Duration
}

func (c *Config) Validate() error {
	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}
	if c.TokenExpiry < 0 {
		return errors.New("token expiry must be positive")
	}
	return nil
}

// Service keeps live tokens in a TTL cache and user records behind a locker,
// so login and token checks need no storage round trip.
type Service struct {
	Config
	users      *geche.Locker[string, *UserCredentials]
	liveTokens geche.Geche[string, string]
	now        func() time.Time
}

func NewService(ctx context.Context, config Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		Config:     config,
		users:      geche.NewLocker[string, *UserCredentials](geche.NewMapCache[string, *UserCredentials]()),
		liveTokens: geche.NewMapTTLCache[string, string](ctx, config.TokenExpiry, time.Minute),
		now:        time.Now,
	}, nil
}

// Bootstrap preloads user records, typically read from storage at startup.
func (s *Service) Bootstrap(users []UserCredentials) {
	tx := s.users.Lock()
	defer tx.Unlock()
	for i := range users {
		u := users[i]
		tx.Set(u.UserName, &u)
	}
}

// AddUser registers a new account with the given password.
func (s *Service) AddUser(username, displayName, password string) (UserCredentials, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return UserCredentials{}, err
	}

	tx := s.users.Lock()
	defer tx.Unlock()
	if _, err := tx.Get(username); err == nil {
		return UserCredentials{}, ErrUserExists
	}

	creds := UserCredentials{
		UserID:       uuid.NewString(),
		UserName:     username,
		DisplayName:  displayName,
		PasswordHash: hash,
	}
	tx.Set(username, &creds)
	return creds, nil
}

// Login verifies the password and mints a fresh token on success.
func (s *Service) Login(username, password string) (token, userID string, err error) {
	tx := s.users.Lock()
	user, err := tx.Get(username)
	tx.Unlock()
	if err != nil {
		return "", "", ErrLoginFailed
	}

	if !verifyPassword(user.PasswordHash, password) {
		return "", "", ErrLoginFailed
	}

	token, err = generateToken()
	if err != nil {
		slog.Error("token generation failed", "user_id", user.UserID, "error", err)
		return "", "", fmt.Errorf("generate token: %w", err)
	}

	s.liveTokens.Set(token, user.UserID)
	return token, user.UserID, nil
}

// UserID resolves a live token to the user it was issued for.
func (s *Service) UserID(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	userID, err := s.liveTokens.Get(token)
	if err != nil {
		return "", ErrInvalidToken
	}
	return userID, nil
}

func (s *Service) Logoff(token string) error {
	return s.liveTokens.Del(token)
}

func generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashPassword derives an argon2id hash in "salt$key" form, both base64.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return base64.RawStdEncoding.EncodeToString(salt) + "$" +
		base64.RawStdEncoding.EncodeToString(key), nil
}

func verifyPassword(hash, password string) bool {
	parts := strings.SplitN(hash, "$", 2)
	if len(parts) != 2 {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(want, got) == 1
}
