package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Transport names accepted in [sync].transport.
const (
	TransportPolling = "polling"
	TransportLive    = "live"
)

// Config represents the global ~/.dmsync/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`

	Server Server `toml:"server"`
	User   User   `toml:"user"`
	Sync   Sync   `toml:"sync"`
	Live   Live   `toml:"live"`
}

// Server is the messaging API the client talks to.
type Server struct {
	BaseURL       string `toml:"base_url"`
	SessionCookie string `toml:"session_cookie"`
}

// User identifies the signed-in account.
type User struct {
	ID       string `toml:"id"`
	Username string `toml:"username"`
}

// Sync tunes the polling loop.
type Sync struct {
	Transport         string   `toml:"transport"`
	PollInterval      Duration `toml:"poll_interval"`
	MinPollGap        Duration `toml:"min_poll_gap"`
	RequestTimeout    Duration `toml:"request_timeout"`
	PostSendPollDelay Duration `toml:"post_send_poll_delay"`
}

// Live configures the WebSocket channel.
type Live struct {
	Path              string   `toml:"path"`
	ReconnectAttempts int      `toml:"reconnect_attempts"`
	ReconnectDelay    Duration `toml:"reconnect_delay"`
}

// Duration is a time.Duration written as a string ("10s", "1500ms").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		Server:         Server{BaseURL: "http://localhost:5000"},
		Sync: Sync{
			Transport:         TransportPolling,
			PollInterval:      Duration{10 * time.Second},
			MinPollGap:        Duration{8 * time.Second},
			RequestTimeout:    Duration{10 * time.Second},
			PostSendPollDelay: Duration{1500 * time.Millisecond},
		},
		Live: Live{
			Path:              "/socket",
			ReconnectAttempts: 5,
			ReconnectDelay:    Duration{3 * time.Second},
		},
	}
}

// Load reads config from the given path. Keys missing from the file keep
// their Default values. Returns nil config and error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load that falls back to Default when the file does not
// exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
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

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server.base_url %q: must be an absolute URL", c.Server.BaseURL)
	}
	switch c.Sync.Transport {
	case TransportPolling, TransportLive:
	default:
		return fmt.Errorf("sync.transport %q: must be %q or %q", c.Sync.Transport, TransportPolling, TransportLive)
	}
	for name, d := range map[string]Duration{
		"sync.poll_interval":        c.Sync.PollInterval,
		"sync.min_poll_gap":         c.Sync.MinPollGap,
		"sync.request_timeout":      c.Sync.RequestTimeout,
		"sync.post_send_poll_delay": c.Sync.PostSendPollDelay,
		"live.reconnect_delay":      c.Live.ReconnectDelay,
	} {
		if d.Duration <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Live.ReconnectAttempts < 0 {
		return fmt.Errorf("live.reconnect_attempts must not be negative")
	}
	if c.Sync.Transport == TransportLive && c.User.ID == "" {
		return errors.New("user.id is required for the live transport")
	}
	return nil
}
