package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.Server.WSURL = "wss://chat.example.com/ws"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want work", loaded.DefaultSession)
	}
	if loaded.Server.WSURL != "wss://chat.example.com/ws" {
		t.Errorf("WSURL = %q, want wss://chat.example.com/ws", loaded.Server.WSURL)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil {
		t.Error("Load() on missing file should return an error")
	}
	if cfg == nil {
		t.Fatal("Load() should return defaults even on error")
	}
	if cfg.Conn.MaxReconnectAttempts != 10 {
		t.Errorf("MaxReconnectAttempts = %d, want 10", cfg.Conn.MaxReconnectAttempts)
	}
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	// Partial file: only the session name is set.
	if err := os.WriteFile(path, []byte("default_session = \"alt\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DefaultSession != "alt" {
		t.Errorf("DefaultSession = %q, want alt", cfg.DefaultSession)
	}
	if cfg.Conn.ReconnectBase() != 5*time.Second {
		t.Errorf("ReconnectBase = %v, want 5s (default retained)", cfg.Conn.ReconnectBase())
	}
}

func TestDurationHelpers(t *testing.T) {
	c := Default().Conn
	if c.HeartbeatInterval() != 30*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 30s", c.HeartbeatInterval())
	}
	if c.ReconnectMax() != 30*time.Second {
		t.Errorf("ReconnectMax = %v, want 30s", c.ReconnectMax())
	}
	if Default().Store.TypingTTL() != 3*time.Second {
		t.Errorf("TypingTTL = %v, want 3s", Default().Store.TypingTTL())
	}
}
