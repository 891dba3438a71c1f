package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.relay/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	Server         Server `toml:"server"`
	Conn           Conn   `toml:"conn"`
	Store          Store  `toml:"store"`
}

// Server holds endpoint settings.
type Server struct {
	WSURL  string `toml:"ws_url"`
	APIURL string `toml:"api_url"`
}

// Conn holds connection lifecycle tuning. Intervals are in milliseconds.
type Conn struct {
	HeartbeatIntervalMS  int64 `toml:"heartbeat_interval_ms"`
	PongWaitMS           int64 `toml:"pong_wait_ms"`
	ReconnectBaseMS      int64 `toml:"reconnect_base_ms"`
	ReconnectMaxMS       int64 `toml:"reconnect_max_ms"`
	MaxReconnectAttempts int   `toml:"max_reconnect_attempts"`
}

// Store holds reconciliation store tuning.
type Store struct {
	TypingTTLMS int64 `toml:"typing_ttl_ms"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		Server: Server{
			WSURL:  "ws://localhost:4000/ws",
			APIURL: "http://localhost:4000/api",
		},
		Conn: Conn{
			HeartbeatIntervalMS:  30000,
			PongWaitMS:           10000,
			ReconnectBaseMS:      5000,
			ReconnectMaxMS:       30000,
			MaxReconnectAttempts: 10,
		},
		Store: Store{
			TypingTTLMS: 3000,
		},
	}
}

// HeartbeatInterval returns the heartbeat period as a duration.
func (c Conn) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMS) * time.Millisecond
}

// PongWait returns the bounded wait for a pong after a ping.
func (c Conn) PongWait() time.Duration {
	return time.Duration(c.PongWaitMS) * time.Millisecond
}

// ReconnectBase returns the base reconnect delay.
func (c Conn) ReconnectBase() time.Duration {
	return time.Duration(c.ReconnectBaseMS) * time.Millisecond
}

// ReconnectMax returns the reconnect delay ceiling.
func (c Conn) ReconnectMax() time.Duration {
	return time.Duration(c.ReconnectMaxMS) * time.Millisecond
}

// TypingTTL returns how long a typing indicator lives without a refresh.
func (s Store) TypingTTL() time.Duration {
	return time.Duration(s.TypingTTLMS) * time.Millisecond
}

// Load reads config from the given path, layered over defaults.
// Returns defaults and the error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return Default(), err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
