package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Servoy/sablo-sub001/pkg/server"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "sablo.json"

	// DefaultListen is the default address the daemon binds to.
	DefaultListen = ":8080"
)

// Config represents the complete sablo.json configuration. A missing file
// is not an error; every field has a usable default.
type Config struct {
	// Listen is the address the HTTP server binds to.
	Listen string `json:"listen,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"logLevel,omitempty"`

	// LogFormat is text or json.
	LogFormat string `json:"logFormat,omitempty"`

	// EndpointTypes lists the websocket routes to expose. Each type gets
	// its own session space under /websocket/{type}.
	EndpointTypes []string `json:"endpointTypes,omitempty"`

	// Session contains session and connection tuning.
	Session SessionConfig `json:"session,omitempty"`
}

// SessionConfig mirrors server.SessionConfig with durations expressed as
// strings ("30s", "5m") so the file stays hand-editable.
type SessionConfig struct {
	APICallTimeout    string `json:"apiCallTimeout,omitempty"`
	InactivityTimeout string `json:"inactivityTimeout,omitempty"`
	HeartbeatInterval string `json:"heartbeatInterval,omitempty"`
	ReadTimeout       string `json:"readTimeout,omitempty"`
	WriteTimeout      string `json:"writeTimeout,omitempty"`
	CleanupInterval   string `json:"cleanupInterval,omitempty"`
	MaxMessageSize    int64  `json:"maxMessageSize,omitempty"`
}

// New creates a Config with default values.
func New() *Config {
	return &Config{
		Listen:        DefaultListen,
		LogLevel:      "info",
		LogFormat:     "text",
		EndpointTypes: []string{"client"},
	}
}

// Load reads configuration for dir, looking for sablo.json there and then
// in each parent directory, so the daemon can be started from anywhere
// inside a deployment tree. No file anywhere yields the defaults.
func Load(dir string) (*Config, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve %s: %w", dir, err)
	}
	for {
		path := filepath.Join(abs, ConfigFileName)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return New(), nil
		}
		abs = parent
	}
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field values that Load cannot default away.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown logLevel %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: unknown logFormat %q", c.LogFormat)
	}
	if len(c.EndpointTypes) == 0 {
		return fmt.Errorf("config: endpointTypes must not be empty")
	}
	if _, err := c.ServerSessionConfig(); err != nil {
		return err
	}
	return nil
}

// ServerSessionConfig converts the string durations into the server
// package's SessionConfig. Unset fields stay zero and pick up the server
// defaults.
func (c *Config) ServerSessionConfig() (server.SessionConfig, error) {
	var out server.SessionConfig
	for _, f := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"apiCallTimeout", c.Session.APICallTimeout, &out.APICallTimeout},
		{"inactivityTimeout", c.Session.InactivityTimeout, &out.InactivityTimeout},
		{"heartbeatInterval", c.Session.HeartbeatInterval, &out.HeartbeatInterval},
		{"readTimeout", c.Session.ReadTimeout, &out.ReadTimeout},
		{"writeTimeout", c.Session.WriteTimeout, &out.WriteTimeout},
		{"cleanupInterval", c.Session.CleanupInterval, &out.CleanupInterval},
	} {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return server.SessionConfig{}, fmt.Errorf("config: session.%s: %w", f.name, err)
		}
		*f.dst = d
	}
	out.MaxMessageSize = c.Session.MaxMessageSize
	return out, nil
}

// SlogLevel maps LogLevel onto a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger builds the daemon logger from the configured level and format.
func (c *Config) Logger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	var h slog.Handler
	if c.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h)
}
