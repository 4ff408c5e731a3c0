package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
server:
  port: 9090
  host: "0.0.0.0"
  auth_token: secret
  allowed_origins:
    - "http://localhost:3000"
store:
  backend: nats
  nats:
    url: "nats://nats:4222"
session:
  max_users: 6
  stale_threshold: 15s
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.AuthToken != "secret" {
		t.Errorf("Server.AuthToken = %q, want %q", cfg.Server.AuthToken, "secret")
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "http://localhost:3000" {
		t.Errorf("Server.AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Store.Backend != BackendNATS {
		t.Errorf("Store.Backend = %q, want nats", cfg.Store.Backend)
	}
	if cfg.Store.NATS.Bucket != "FOCUS_RECORDS" {
		t.Errorf("Store.NATS.Bucket = %q, want default", cfg.Store.NATS.Bucket)
	}
	if cfg.Session.MaxUsers != 6 {
		t.Errorf("Session.MaxUsers = %d, want 6", cfg.Session.MaxUsers)
	}
	if cfg.Session.StaleThreshold != 15*time.Second {
		t.Errorf("Session.StaleThreshold = %v, want 15s", cfg.Session.StaleThreshold)
	}
	// Unset fields keep their defaults.
	if cfg.Session.Duration != 25*time.Minute {
		t.Errorf("Session.Duration = %v, want 25m", cfg.Session.Duration)
	}
	if cfg.Ping.Retention != 10*time.Second {
		t.Errorf("Ping.Retention = %v, want 10s", cfg.Ping.Retention)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() on missing file should return error")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want default %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Store.Backend != BackendMemory {
		t.Errorf("Store.Backend = %q, want memory", cfg.Store.Backend)
	}
	if cfg.Session.MaxUsers != 4 {
		t.Errorf("Session.MaxUsers = %d, want 4", cfg.Session.MaxUsers)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("server: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(cfgPath); err == nil {
		t.Fatal("Load() with invalid YAML should return error")
	}
	if _, err := LoadOrDefault(cfgPath); err == nil {
		t.Fatal("LoadOrDefault() with invalid YAML should return error")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("session:\n  max_users: 40\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "max_users") {
		t.Fatalf("Load() error = %v, want max_users complaint", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"max users zero", func(c *Config) { c.Session.MaxUsers = 0 }, "session.max_users"},
		{"max users sixteen", func(c *Config) { c.Session.MaxUsers = 16 }, ""},
		{"max users seventeen", func(c *Config) { c.Session.MaxUsers = 17 }, "session.max_users"},
		{"negative threshold", func(c *Config) { c.Session.StaleThreshold = -time.Second }, "session.stale_threshold"},
		{"zero throttle", func(c *Config) { c.Broadcast.Throttle = 0 }, "broadcast.throttle"},
		{"retention below window", func(c *Config) { c.Ping.Retention = time.Second }, "ping.retention"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "redis" }, "store.backend"},
		{"nats without url", func(c *Config) {
			c.Store.Backend = BackendNATS
			c.Store.NATS.URL = ""
		}, "store.nats.url"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"negative bots", func(c *Config) { c.Mock.Bots = -1 }, "mock.bots"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestAddr(t *testing.T) {
	cfg := defaultConfig()
	if got := cfg.Addr(); got != "127.0.0.1:8080" {
		t.Errorf("Addr() = %q, want 127.0.0.1:8080", got)
	}
}

func TestGenerateToken(t *testing.T) {
	tok, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() error: %v", err)
	}
	if len(tok) != 32 {
		t.Errorf("token length = %d, want 32", len(tok))
	}
	tok2, _ := GenerateToken()
	if tok == tok2 {
		t.Error("two generated tokens should not be identical")
	}
}
