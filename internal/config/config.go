package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults.
const (
	DefaultSocketAddr    = "127.0.0.1:9876"
	DefaultHTTPAddr      = "127.0.0.1:9999"
	DefaultWaitBound     = 30 * time.Second
	DefaultCycleInterval = 10 * time.Millisecond
	DefaultClientTimeout = 30 * time.Second
	DefaultJournalFile   = "journal.db"
)

// Config is the top-level configuration loaded from config.toml.
type Config struct {
	Socket  SocketConfig  `toml:"socket"`
	HTTP    HTTPConfig    `toml:"http"`
	Journal JournalConfig `toml:"journal"`
	Log     LogConfig     `toml:"log"`
	Client  ClientConfig  `toml:"client"`
}

// SocketConfig configures the CAD host's socket transport.
type SocketConfig struct {
	Addr string `toml:"addr"`
	// IdleTimeout closes a connection that sends nothing for this long.
	// Zero keeps connections open indefinitely.
	IdleTimeout Duration `toml:"idle_timeout"`
}

// HTTPConfig configures the canvas host's HTTP transport and drain cycle.
type HTTPConfig struct {
	Addr string `toml:"addr"`
	// Token, when set, is required as a bearer token or ?token= parameter.
	Token         string   `toml:"token,omitempty"`
	WaitBound     Duration `toml:"wait_bound"`
	CycleInterval Duration `toml:"cycle_interval"`
}

// JournalConfig configures the optional command journal.
type JournalConfig struct {
	Enabled bool `toml:"enabled"`
	// Path defaults to journal.db in the data dir.
	Path string `toml:"path,omitempty"`
	// Retention prunes entries older than this. Zero keeps everything.
	Retention Duration `toml:"retention"`
}

// LogConfig selects the log level: debug, info, warn or error.
type LogConfig struct {
	Level string `toml:"level"`
}

// ClientConfig tunes the caller side (cadwire call, cadwire mcp).
type ClientConfig struct {
	Timeout Duration `toml:"timeout"`
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText writes the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Socket: SocketConfig{Addr: DefaultSocketAddr},
		HTTP: HTTPConfig{
			Addr:          DefaultHTTPAddr,
			WaitBound:     Duration{DefaultWaitBound},
			CycleInterval: Duration{DefaultCycleInterval},
		},
		Log:    LogConfig{Level: "info"},
		Client: ClientConfig{Timeout: Duration{DefaultClientTimeout}},
	}
}

// DefaultDataDir returns $CADWIRE_DIR, or ~/.cadwire.
func DefaultDataDir() string {
	if dir := os.Getenv("CADWIRE_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cadwire"
	}
	return filepath.Join(home, ".cadwire")
}

// LoadConfig reads config.toml from dataDir, applies environment variable
// overrides, and validates the result. A missing file yields the defaults.
func LoadConfig(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, "config.toml")

	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if v := os.Getenv("CADWIRE_SOCKET_ADDR"); v != "" {
		cfg.Socket.Addr = v
	}
	if v := os.Getenv("CADWIRE_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("CADWIRE_HTTP_TOKEN"); v != "" {
		cfg.HTTP.Token = v
	}
	if v := os.Getenv("CADWIRE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	if cfg.Journal.Enabled && cfg.Journal.Path == "" {
		cfg.Journal.Path = filepath.Join(dataDir, DefaultJournalFile)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Socket.Addr == "" {
		return fmt.Errorf("socket.addr must not be empty")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr must not be empty")
	}
	if c.Socket.IdleTimeout.Duration < 0 {
		return fmt.Errorf("socket.idle_timeout must not be negative, got %s", c.Socket.IdleTimeout)
	}
	if c.HTTP.WaitBound.Duration <= 0 {
		return fmt.Errorf("http.wait_bound must be positive, got %s", c.HTTP.WaitBound)
	}
	if c.HTTP.CycleInterval.Duration <= 0 {
		return fmt.Errorf("http.cycle_interval must be positive, got %s", c.HTTP.CycleInterval)
	}
	if c.Journal.Retention.Duration < 0 {
		return fmt.Errorf("journal.retention must not be negative, got %s", c.Journal.Retention)
	}
	if c.Client.Timeout.Duration <= 0 {
		return fmt.Errorf("client.timeout must be positive, got %s", c.Client.Timeout)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// SlogLevel returns the configured level. Call after Validate.
func (c *Config) SlogLevel() slog.Level {
	l, _ := ParseLevel(c.Log.Level)
	return l
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// Save writes c to config.toml inside dataDir, creating the directory if
// necessary.
func (c *Config) Save(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	path := filepath.Join(dataDir, "config.toml")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("encoding config.toml: %w", err)
	}
	return nil
}
