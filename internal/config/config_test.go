package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"CADWIRE_SOCKET_ADDR", "CADWIRE_HTTP_ADDR", "CADWIRE_HTTP_TOKEN", "CADWIRE_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Socket.Addr != DefaultSocketAddr || cfg.HTTP.Addr != DefaultHTTPAddr {
		t.Fatalf("addrs = %q %q", cfg.Socket.Addr, cfg.HTTP.Addr)
	}
	if cfg.HTTP.WaitBound.Duration != DefaultWaitBound {
		t.Fatalf("wait bound = %s", cfg.HTTP.WaitBound)
	}
	if cfg.Journal.Enabled {
		t.Fatal("journal enabled by default")
	}
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	data := `
[socket]
addr = "127.0.0.1:7000"
idle_timeout = "2m"

[http]
wait_bound = "5s"
cycle_interval = "25ms"

[journal]
enabled = true

[log]
level = "debug"
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Socket.Addr != "127.0.0.1:7000" || cfg.Socket.IdleTimeout.Duration != 2*time.Minute {
		t.Fatalf("socket = %+v", cfg.Socket)
	}
	if cfg.HTTP.Addr != DefaultHTTPAddr {
		t.Fatalf("http addr default lost: %q", cfg.HTTP.Addr)
	}
	if cfg.HTTP.WaitBound.Duration != 5*time.Second || cfg.HTTP.CycleInterval.Duration != 25*time.Millisecond {
		t.Fatalf("http = %+v", cfg.HTTP)
	}
	if cfg.Journal.Path != filepath.Join(dir, DefaultJournalFile) {
		t.Fatalf("journal path = %q", cfg.Journal.Path)
	}
	if cfg.SlogLevel().String() != "DEBUG" {
		t.Fatalf("level = %s", cfg.SlogLevel())
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CADWIRE_SOCKET_ADDR", "0.0.0.0:1")
	t.Setenv("CADWIRE_HTTP_ADDR", "0.0.0.0:2")
	t.Setenv("CADWIRE_HTTP_TOKEN", "tok")
	t.Setenv("CADWIRE_LOG_LEVEL", "warn")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Socket.Addr != "0.0.0.0:1" || cfg.HTTP.Addr != "0.0.0.0:2" || cfg.HTTP.Token != "tok" || cfg.Log.Level != "warn" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"zero wait bound", func(c *Config) { c.HTTP.WaitBound.Duration = 0 }},
		{"negative wait bound", func(c *Config) { c.HTTP.WaitBound.Duration = -time.Second }},
		{"zero cycle", func(c *Config) { c.HTTP.CycleInterval.Duration = 0 }},
		{"negative idle", func(c *Config) { c.Socket.IdleTimeout.Duration = -1 }},
		{"empty socket addr", func(c *Config) { c.Socket.Addr = "" }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mut(c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	c := Default()
	c.Socket.IdleTimeout.Duration = 90 * time.Second
	if err := c.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.Socket.IdleTimeout.Duration != 90*time.Second {
		t.Fatalf("idle timeout = %s", got.Socket.IdleTimeout)
	}
}
