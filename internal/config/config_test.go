package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("expected default addr :8080, got %s", cfg.Addr)
	}
	if cfg.DBFile != "akort.db" {
		t.Errorf("expected default db file, got %s", cfg.DBFile)
	}
	if cfg.TokenExpiry != 24*time.Hour {
		t.Errorf("expected 24h token expiry, got %v", cfg.TokenExpiry)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ADDR", ":9090")
	t.Setenv("TOKEN_EXPIRY", "30m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.Addr)
	}
	if cfg.TokenExpiry != 30*time.Minute {
		t.Errorf("expected 30m, got %v", cfg.TokenExpiry)
	}
}

func TestLoad_BadExpiry(t *testing.T) {
	t.Setenv("TOKEN_EXPIRY", "soon")
	if _, err := Load(); err == nil {
		t.Error("expected error for unparseable TOKEN_EXPIRY")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"Valid minimal", Config{TokenExpiry: time.Hour}, false},
		{"Valid with VAPID pair", Config{TokenExpiry: time.Hour, VAPIDPublicKey: "pub", VAPIDPrivateKey: "priv"}, false},
		{"Zero expiry", Config{}, true},
		{"Negative expiry", Config{TokenExpiry: -time.Hour}, true},
		{"Only public VAPID key", Config{TokenExpiry: time.Hour, VAPIDPublicKey: "pub"}, true},
		{"Only private VAPID key", Config{TokenExpiry: time.Hour, VAPIDPrivateKey: "priv"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
