package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// isolate keeps Load("") away from the developer's own config files.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd() failed: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir() failed: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		t.Fatalf("MkdirAll() failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Local.Path != filepath.Join(".kvsync", "local.db") {
		t.Errorf("Local.Path = %q", cfg.Local.Path)
	}
	if cfg.Remote.PollInterval != 30*time.Second {
		t.Errorf("Remote.PollInterval = %v, want 30s", cfg.Remote.PollInterval)
	}
	if !cfg.Sync.FlushRemoteImmediately {
		t.Error("Sync.FlushRemoteImmediately should default to true")
	}
	if cfg.Daemon.Debounce != 100*time.Millisecond {
		t.Errorf("Daemon.Debounce = %v, want 100ms", cfg.Daemon.Debounce)
	}
	if cfg.Dashboard.Port != 0 {
		t.Errorf("Dashboard.Port = %d, want 0 (disabled)", cfg.Dashboard.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults failed: %v", err)
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.File != "" {
		t.Errorf("File = %q, want empty", cfg.File)
	}
	if cfg.Local.Path != Default().Local.Path {
		t.Errorf("Local.Path = %q, want default", cfg.Local.Path)
	}
}

func TestLoad_ExplicitFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.toml")
	writeFile(t, path, `
[local]
path = "/data/local.db"

[remote]
path = "/data/remote.db"
url = "libsql://example.turso.io"
poll_interval = "5s"

[sync]
debug = true
monitor = ["theme", "font_size"]

[dashboard]
port = 9000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.File != path {
		t.Errorf("File = %q, want %q", cfg.File, path)
	}
	if cfg.Local.Path != "/data/local.db" || cfg.Remote.Path != "/data/remote.db" {
		t.Errorf("paths = %q, %q", cfg.Local.Path, cfg.Remote.Path)
	}
	if cfg.Remote.URL != "libsql://example.turso.io" {
		t.Errorf("Remote.URL = %q", cfg.Remote.URL)
	}
	if cfg.Remote.PollInterval != 5*time.Second {
		t.Errorf("Remote.PollInterval = %v, want 5s", cfg.Remote.PollInterval)
	}
	if !cfg.Sync.Debug {
		t.Error("Sync.Debug should be true")
	}
	if want := []string{"theme", "font_size"}; !reflect.DeepEqual(cfg.Sync.Monitor, want) {
		t.Errorf("Sync.Monitor = %v, want %v", cfg.Sync.Monitor, want)
	}
	if cfg.Dashboard.Port != 9000 {
		t.Errorf("Dashboard.Port = %d, want 9000", cfg.Dashboard.Port)
	}
	// Unset keys keep their defaults.
	if cfg.Daemon.Debounce != 100*time.Millisecond {
		t.Errorf("Daemon.Debounce = %v, want default", cfg.Daemon.Debounce)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	dir := isolate(t)

	if _, err := Load(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("Load() should fail for a missing explicit config file")
	}
}

func TestLoad_Discovery(t *testing.T) {
	dir := isolate(t)

	home := filepath.Join(dir, ".config", "kvsync", "config.toml")
	writeFile(t, home, "[dashboard]\nport = 7000\n")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Dashboard.Port != 7000 {
		t.Errorf("home config not used: port = %d", cfg.Dashboard.Port)
	}

	// The project file wins over the home file.
	writeFile(t, filepath.Join(dir, DefaultPath), "[dashboard]\nport = 7001\n")

	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Dashboard.Port != 7001 {
		t.Errorf("project config not preferred: port = %d", cfg.Dashboard.Port)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "[remote]\nurl = \"libsql://file.example\"\n")

	t.Setenv("KVSYNC_REMOTE_URL", "https://env.example")
	t.Setenv("KVSYNC_SYNC_DEBUG", "true")
	t.Setenv("KVSYNC_DAEMON_DEBOUNCE", "250ms")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Remote.URL != "https://env.example" {
		t.Errorf("Remote.URL = %q, want environment value", cfg.Remote.URL)
	}
	if !cfg.Sync.Debug {
		t.Error("Sync.Debug should be set from the environment")
	}
	if cfg.Daemon.Debounce != 250*time.Millisecond {
		t.Errorf("Daemon.Debounce = %v, want 250ms", cfg.Daemon.Debounce)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"missing local path", func(c *Config) { c.Local.Path = "" }, "local.path is required"},
		{"same paths", func(c *Config) { c.Remote.Path = "./" + c.Local.Path }, "must differ"},
		{"bad url scheme", func(c *Config) { c.Remote.URL = "ftp://host" }, "unsupported scheme"},
		{"negative poll", func(c *Config) { c.Remote.PollInterval = -time.Second }, "poll_interval"},
		{"zero debounce", func(c *Config) { c.Daemon.Debounce = 0 }, "debounce"},
		{"port out of range", func(c *Config) { c.Dashboard.Port = 70000 }, "out of range"},
		{"negative rotation", func(c *Config) { c.Log.MaxBackups = -1 }, "rotation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate() failed: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Validate() = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestInit_RoundTrip(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "nested", "config.toml")

	if err := Init(path); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	cfg.File = ""
	if want := Default(); !reflect.DeepEqual(cfg, want) {
		t.Errorf("loaded starter config = %+v, want %+v", cfg, want)
	}

	if err := Init(path); !errors.Is(err, ErrExists) {
		t.Errorf("second Init() = %v, want ErrExists", err)
	}
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Remote.AuthToken = "secret"

	var buf bytes.Buffer
	if err := cfg.Redacted().WriteTOML(&buf); err != nil {
		t.Fatalf("WriteTOML() failed: %v", err)
	}
	if strings.Contains(buf.String(), "secret") {
		t.Error("redacted output contains the auth token")
	}
	if cfg.Remote.AuthToken != "secret" {
		t.Error("Redacted() modified the receiver")
	}
}
