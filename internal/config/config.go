// Package config loads kvs settings from defaults, a TOML config file and
// KVSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: remote.url is KVSYNC_REMOTE_URL.
const EnvPrefix = "KVSYNC"

var (
	// ErrInvalid is returned when a loaded configuration fails validation.
	ErrInvalid = errors.New("invalid configuration")

	// ErrExists is returned by Init when the target file already exists.
	ErrExists = errors.New("config file already exists")
)

// Config is the typed kvs configuration.
type Config struct {
	Local     LocalConfig     `mapstructure:"local"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`

	// File is the config file that was read, empty when defaults and
	// environment were used alone.
	File string `mapstructure:"-"`
}

// LocalConfig locates the local store.
type LocalConfig struct {
	Path string `mapstructure:"path"`
}

// RemoteConfig locates the remote store. With a URL the remote store is an
// embedded replica of that primary; without one it is a plain file.
type RemoteConfig struct {
	Path         string        `mapstructure:"path"`
	URL          string        `mapstructure:"url"`
	AuthToken    string        `mapstructure:"auth_token"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// SyncConfig holds engine options.
type SyncConfig struct {
	Debug                  bool     `mapstructure:"debug"`
	FlushRemoteImmediately bool     `mapstructure:"flush_remote_immediately"`
	Monitor                []string `mapstructure:"monitor"`
}

// DaemonConfig holds daemon options.
type DaemonConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// DashboardConfig holds dashboard options. Port 0 disables the dashboard.
type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

// LogConfig selects the log destination. An empty File logs to stderr.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// DefaultPath is the project-level config file location.
var DefaultPath = filepath.Join(".kvsync", "config.toml")

var defaults = map[string]any{
	"local.path":                    filepath.Join(".kvsync", "local.db"),
	"remote.path":                   filepath.Join(".kvsync", "remote.db"),
	"remote.url":                    "",
	"remote.auth_token":             "",
	"remote.poll_interval":          30 * time.Second,
	"sync.debug":                    false,
	"sync.flush_remote_immediately": true,
	"sync.monitor":                  []string{},
	"daemon.debounce":               100 * time.Millisecond,
	"dashboard.port":                0,
	"log.file":                      "",
	"log.max_size_mb":               10,
	"log.max_backups":               3,
	"log.max_age_days":              28,
}

// Default returns the built-in configuration, ignoring the environment.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		// The defaults table always decodes.
		panic(err)
	}
	return cfg
}

// Load reads the configuration. An explicit path must exist. Without one
// the first of ./.kvsync/config.toml and ~/.config/kvsync/config.toml
// that exists is read; if neither does, defaults and environment apply.
func Load(path string) (*Config, error) {
	v := newViper()
	bindEnv(v)

	if path == "" {
		path = discover()
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if len(cfg.Sync.Monitor) == 0 {
		cfg.Sync.Monitor = nil
	}
	return &cfg, nil
}

// discover returns the first existing config file, or "".
func discover() string {
	candidates := []string{DefaultPath}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "kvsync", "config.toml"))
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// Validate checks the configuration for values no component can use.
func (c *Config) Validate() error {
	var errs []error

	if c.Local.Path == "" {
		errs = append(errs, errors.New("local.path is required"))
	}
	if c.Remote.Path == "" {
		errs = append(errs, errors.New("remote.path is required"))
	}
	if c.Local.Path != "" && filepath.Clean(c.Local.Path) == filepath.Clean(c.Remote.Path) {
		errs = append(errs, errors.New("local.path and remote.path must differ"))
	}
	if c.Remote.URL != "" {
		u, err := url.Parse(c.Remote.URL)
		if err != nil {
			errs = append(errs, fmt.Errorf("remote.url: %w", err))
		} else {
			switch u.Scheme {
			case "libsql", "https", "http", "wss", "ws":
			default:
				errs = append(errs, fmt.Errorf("remote.url: unsupported scheme %q", u.Scheme))
			}
		}
	}
	if c.Remote.PollInterval < 0 {
		errs = append(errs, errors.New("remote.poll_interval must not be negative"))
	}
	if c.Daemon.Debounce <= 0 {
		errs = append(errs, errors.New("daemon.debounce must be positive"))
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		errs = append(errs, fmt.Errorf("dashboard.port %d out of range", c.Dashboard.Port))
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		errs = append(errs, errors.New("log rotation limits must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.Sync.Monitor = append([]string{}, c.Sync.Monitor...)
	if out.Remote.AuthToken != "" {
		out.Remote.AuthToken = "********"
	}
	return &out
}

// fileConfig is the on-disk TOML shape. Durations are written as strings
// ("30s") so the file reads the same way viper parses it.
type fileConfig struct {
	Local struct {
		Path string `toml:"path"`
	} `toml:"local"`
	Remote struct {
		Path         string `toml:"path"`
		URL          string `toml:"url"`
		AuthToken    string `toml:"auth_token"`
		PollInterval string `toml:"poll_interval"`
	} `toml:"remote"`
	Sync struct {
		Debug                  bool     `toml:"debug"`
		FlushRemoteImmediately bool     `toml:"flush_remote_immediately"`
		Monitor                []string `toml:"monitor"`
	} `toml:"sync"`
	Daemon struct {
		Debounce string `toml:"debounce"`
	} `toml:"daemon"`
	Dashboard struct {
		Port int `toml:"port"`
	} `toml:"dashboard"`
	Log struct {
		File       string `toml:"file"`
		MaxSizeMB  int    `toml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups"`
		MaxAgeDays int    `toml:"max_age_days"`
	} `toml:"log"`
}

// WriteTOML writes c as a config file.
func (c *Config) WriteTOML(w io.Writer) error {
	var f fileConfig
	f.Local.Path = c.Local.Path
	f.Remote.Path = c.Remote.Path
	f.Remote.URL = c.Remote.URL
	f.Remote.AuthToken = c.Remote.AuthToken
	f.Remote.PollInterval = c.Remote.PollInterval.String()
	f.Sync.Debug = c.Sync.Debug
	f.Sync.FlushRemoteImmediately = c.Sync.FlushRemoteImmediately
	f.Sync.Monitor = c.Sync.Monitor
	if f.Sync.Monitor == nil {
		f.Sync.Monitor = []string{}
	}
	f.Daemon.Debounce = c.Daemon.Debounce.String()
	f.Dashboard.Port = c.Dashboard.Port
	f.Log.File = c.Log.File
	f.Log.MaxSizeMB = c.Log.MaxSizeMB
	f.Log.MaxBackups = c.Log.MaxBackups
	f.Log.MaxAgeDays = c.Log.MaxAgeDays

	if err := toml.NewEncoder(w).Encode(f); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Init writes a starter config file holding the defaults. It refuses to
// overwrite an existing file.
func Init(path string) error {
	if path == "" {
		path = DefaultPath
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	if _, err := io.WriteString(f, "# kvsync configuration\n\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := Default().WriteTOML(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
