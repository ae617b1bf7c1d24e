package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultProfile = "work"
	cfg.Server.BaseURL = "https://chat.example.com"
	cfg.Sync.PollInterval = Duration{15 * time.Second}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.Sync.PollInterval.Duration != 15*time.Second {
		t.Errorf("PollInterval = %v, want 15s", loaded.Sync.PollInterval)
	}
	if loaded.Server.BaseURL != "https://chat.example.com" {
		t.Errorf("BaseURL = %q", loaded.Server.BaseURL)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadOrDefaultMissing(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Sync.Transport != TransportPolling {
		t.Errorf("Transport = %q, want %q", cfg.Sync.Transport, TransportPolling)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[server]
base_url = "http://10.0.0.5:5000"

[sync]
post_send_poll_delay = "2500ms"
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Sync.PostSendPollDelay.Duration != 2500*time.Millisecond {
		t.Errorf("PostSendPollDelay = %v", cfg.Sync.PostSendPollDelay)
	}
	if cfg.Sync.MinPollGap.Duration != 8*time.Second {
		t.Errorf("MinPollGap = %v, want default 8s", cfg.Sync.MinPollGap)
	}
	if cfg.Live.ReconnectAttempts != 5 {
		t.Errorf("ReconnectAttempts = %d, want 5", cfg.Live.ReconnectAttempts)
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[sync]\npoll_interval = \"soon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for bad duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"default", func(*Config) {}, ""},
		{"relative url", func(c *Config) { c.Server.BaseURL = "localhost:5000" }, "base_url"},
		{"unknown transport", func(c *Config) { c.Sync.Transport = "carrier-pigeon" }, "sync.transport"},
		{"zero interval", func(c *Config) { c.Sync.PollInterval = Duration{} }, "poll_interval"},
		{"negative attempts", func(c *Config) { c.Live.ReconnectAttempts = -1 }, "reconnect_attempts"},
		{"live without user", func(c *Config) { c.Sync.Transport = TransportLive }, "user.id"},
		{"live with user", func(c *Config) {
			c.Sync.Transport = TransportLive
			c.User.ID = "7"
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
