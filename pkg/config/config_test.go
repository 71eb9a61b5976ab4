package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected the defaults to validate: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:8000" {
		t.Errorf("Unexpected default address: %s", cfg.Addr())
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected an error for port 0")
	}

	cfg = Default()
	cfg.Server.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Error("Expected an error for an out-of-range port")
	}

	cfg = Default()
	cfg.Server.Listen = "not-an-address"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected an error for a bad listen address")
	}
}

func TestApplyEnvironment(t *testing.T) {
	t.Setenv("YGAME_PORT", "9000")
	t.Setenv("YGAME_LISTEN", "0.0.0.0")

	cfg := Default()
	cfg.ApplyEnvironment()
	if cfg.Server.Port != 9000 {
		t.Errorf("Expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Server.Listen != "0.0.0.0" {
		t.Errorf("Expected listen 0.0.0.0, got %s", cfg.Server.Listen)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := []byte("server:\n  listen: 0.0.0.0\n  port: 9100\nwebsocket:\n  heartbeat_interval: 2s\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("Failed to write the config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if cfg.Server.Port != 9100 || cfg.Server.Listen != "0.0.0.0" {
		t.Errorf("Unexpected server config: %+v", cfg.Server)
	}
	if cfg.WebSocket.HeartbeatInterval.Std().Seconds() != 2 {
		t.Errorf("Unexpected heartbeat interval: %v", cfg.WebSocket.HeartbeatInterval)
	}
	// Untouched sections keep their defaults.
	if cfg.Session.Duration != Default().Session.Duration {
		t.Errorf("Expected the default session duration, got %v", cfg.Session.Duration)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Error("Expected an error for a missing file")
	}
}
