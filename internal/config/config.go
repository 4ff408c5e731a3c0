package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendMemory = "memory"
	BackendNATS   = "nats"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Session   SessionConfig   `yaml:"session"`
	Ping      PingConfig      `yaml:"ping"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Mock      MockConfig      `yaml:"mock"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
	// AuthToken, when set, is required on every API and websocket request.
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type StoreConfig struct {
	Backend string     `yaml:"backend"`
	NATS    NATSConfig `yaml:"nats"`
}

type NATSConfig struct {
	URL    string `yaml:"url"`
	Bucket string `yaml:"bucket"`
}

type SessionConfig struct {
	MaxUsers       int           `yaml:"max_users"`
	Duration       time.Duration `yaml:"duration"`
	StaleThreshold time.Duration `yaml:"stale_threshold"`
}

type PingConfig struct {
	DisplayWindow time.Duration `yaml:"display_window"`
	Retention     time.Duration `yaml:"retention"`
}

type BroadcastConfig struct {
	Throttle         time.Duration `yaml:"throttle"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	MaxClients       int           `yaml:"max_clients"`
}

type MockConfig struct {
	Bots     int           `yaml:"bots"`
	Interval time.Duration `yaml:"interval"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Store: StoreConfig{
			Backend: BackendMemory,
			NATS: NATSConfig{
				URL:    "nats://127.0.0.1:4222",
				Bucket: "FOCUS_RECORDS",
			},
		},
		Session: SessionConfig{
			MaxUsers:       4,
			Duration:       25 * time.Minute,
			StaleThreshold: 10 * time.Second,
		},
		Ping: PingConfig{
			DisplayWindow: 3 * time.Second,
			Retention:     10 * time.Second,
		},
		Broadcast: BroadcastConfig{
			Throttle:         100 * time.Millisecond,
			SnapshotInterval: 5 * time.Second,
			MaxClients:       256,
		},
		Mock: MockConfig{
			Bots:     3,
			Interval: time.Second,
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults when the file does not
// exist. Other read and parse errors are returned.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendNATS:
		if c.Store.NATS.URL == "" {
			errs = append(errs, errors.New("store.nats.url is required for the nats backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q must be %q or %q", c.Store.Backend, BackendMemory, BackendNATS))
	}
	if c.Session.MaxUsers < 1 || c.Session.MaxUsers > 16 {
		errs = append(errs, fmt.Errorf("session.max_users %d must be between 1 and 16", c.Session.MaxUsers))
	}
	if c.Mock.Bots < 0 {
		errs = append(errs, fmt.Errorf("mock.bots %d must not be negative", c.Mock.Bots))
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"session.duration", c.Session.Duration},
		{"session.stale_threshold", c.Session.StaleThreshold},
		{"ping.display_window", c.Ping.DisplayWindow},
		{"ping.retention", c.Ping.Retention},
		{"broadcast.throttle", c.Broadcast.Throttle},
		{"broadcast.snapshot_interval", c.Broadcast.SnapshotInterval},
		{"mock.interval", c.Mock.Interval},
	}
	for _, d := range durations {
		if d.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.name))
		}
	}
	if c.Ping.Retention > 0 && c.Ping.Retention < c.Ping.DisplayWindow {
		errs = append(errs, errors.New("ping.retention must not be shorter than ping.display_window"))
	}
	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GenerateToken returns a random 32 character hex token for auth_token.
func GenerateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
