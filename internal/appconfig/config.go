// Package appconfig manages application configuration and runtime file paths.
package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"

	"github.com/treykane/ssh-tunnel-manager/internal/util"
)

const appName = "ssh-tunnel-manager"

// EnvPrefix prefixes every environment override, e.g. SSHTM_STORE_BACKEND.
const EnvPrefix = "SSHTM_"

const (
	BackendYAML   = "yaml"
	BackendSQLite = "sqlite"
)

const (
	BindPolicyLoopbackOnly = "loopback-only"
	BindPolicyAllowPublic  = "allow-public"
)

const (
	HostKeyPolicyStrict    = "strict"
	HostKeyPolicyAcceptNew = "accept-new"
	HostKeyPolicyInsecure  = "insecure"
)

// StoreConfig selects where sessions are persisted.
type StoreConfig struct {
	Backend string `yaml:"backend" env:"BACKEND"`
	// Path overrides the default file under the config directory.
	Path string `yaml:"path,omitempty" env:"PATH"`
}

// SecurityConfig contains transport and output hardening switches.
type SecurityConfig struct {
	HostKeyPolicy string `yaml:"host_key_policy" env:"HOST_KEY_POLICY"`
	BindPolicy    string `yaml:"bind_policy" env:"BIND_POLICY"`
	RedactErrors  bool   `yaml:"redact_errors" env:"REDACT_ERRORS"`
}

// TransportConfig contains SSH connection defaults.
type TransportConfig struct {
	ConnectTimeoutSeconds int      `yaml:"connect_timeout_seconds" env:"CONNECT_TIMEOUT_SECONDS"`
	KeepAliveSeconds      int      `yaml:"keepalive_seconds" env:"KEEPALIVE_SECONDS"`
	KeepAliveCountMax     int      `yaml:"keepalive_count_max" env:"KEEPALIVE_COUNT_MAX"`
	DefaultCiphers        []string `yaml:"default_ciphers" env:"DEFAULT_CIPHERS" envSeparator:","`
}

// MonitorConfig controls the connection liveness monitor.
type MonitorConfig struct {
	IntervalSeconds int `yaml:"interval_seconds" env:"INTERVAL_SECONDS"`
}

// LogConfig controls the rotating application log.
type LogConfig struct {
	Level      string `yaml:"level" env:"LEVEL"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max_age_days" env:"MAX_AGE_DAYS"`
}

// UIConfig contains TUI display settings.
type UIConfig struct {
	RefreshSeconds int  `yaml:"refresh_seconds" env:"REFRESH_SECONDS"`
	SortTunnels    bool `yaml:"sort_tunnels" env:"SORT_TUNNELS"`
}

// Config holds application-level configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" envPrefix:"STORE_"`
	Security  SecurityConfig  `yaml:"security" envPrefix:"SECURITY_"`
	Transport TransportConfig `yaml:"transport" envPrefix:"TRANSPORT_"`
	Monitor   MonitorConfig   `yaml:"monitor" envPrefix:"MONITOR_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
	UI        UIConfig        `yaml:"ui" envPrefix:"UI_"`
}

// DefaultCiphers are appended after a session's own cipher list.
var DefaultCiphers = []string{
	"aes128-gcm@openssh.com",
	"chacha20-poly1305@openssh.com",
	"aes128-ctr",
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Store: StoreConfig{Backend: BackendYAML},
		Security: SecurityConfig{
			HostKeyPolicy: HostKeyPolicyStrict,
			BindPolicy:    BindPolicyLoopbackOnly,
			RedactErrors:  true,
		},
		Transport: TransportConfig{
			ConnectTimeoutSeconds: int(util.DefaultConnectTimeout.Seconds()),
			KeepAliveSeconds:      int(util.DefaultKeepAlive.Seconds()),
			KeepAliveCountMax:     util.DefaultKeepAliveCountMax,
			DefaultCiphers:        append([]string(nil), DefaultCiphers...),
		},
		Monitor: MonitorConfig{IntervalSeconds: int(util.DefaultMonitorInterval.Seconds())},
		Log:     LogConfig{Level: "info", MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 28},
		UI:      UIConfig{RefreshSeconds: util.DefaultRefreshSeconds},
	}
}

// ConfigDir returns the application config directory path.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config/ssh-tunnel-manager.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, ".config", appName), nil
}

// FilePath returns name joined onto the config directory.
func FilePath(name string) (string, error) {
	d, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, name), nil
}

// StorePath returns the session store file for the configured backend.
func (c Config) StorePath() (string, error) {
	if c.Store.Path != "" {
		return c.Store.Path, nil
	}
	if c.Store.Backend == BackendSQLite {
		return FilePath("sessions.db")
	}
	return FilePath("sessions.yaml")
}

// Load reads config.yaml from the config directory and applies SSHTM_*
// environment overrides. If the file doesn't exist, creates it with defaults.
func Load() (Config, error) {
	d, err := ConfigDir()
	if err != nil {
		return Config{}, err
	}
	if err := os.MkdirAll(d, 0o700); err != nil {
		return Config{}, err
	}
	path := filepath.Join(d, "config.yaml")
	cfg := Default()
	b, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := Save(cfg); err != nil {
			return cfg, err
		}
	case err != nil:
		return Config{}, err
	default:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	def := Default()
	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	if cfg.Store.Backend != BackendSQLite {
		cfg.Store.Backend = BackendYAML
	}
	switch cfg.Security.HostKeyPolicy {
	case HostKeyPolicyStrict, HostKeyPolicyAcceptNew, HostKeyPolicyInsecure:
	default:
		cfg.Security.HostKeyPolicy = HostKeyPolicyStrict
	}
	if cfg.Security.BindPolicy != BindPolicyAllowPublic {
		cfg.Security.BindPolicy = BindPolicyLoopbackOnly
	}
	if cfg.Transport.ConnectTimeoutSeconds <= 0 {
		cfg.Transport.ConnectTimeoutSeconds = def.Transport.ConnectTimeoutSeconds
	}
	if cfg.Transport.KeepAliveSeconds <= 0 {
		cfg.Transport.KeepAliveSeconds = def.Transport.KeepAliveSeconds
	}
	if cfg.Transport.KeepAliveCountMax <= 0 {
		cfg.Transport.KeepAliveCountMax = def.Transport.KeepAliveCountMax
	}
	if len(cfg.Transport.DefaultCiphers) == 0 {
		cfg.Transport.DefaultCiphers = def.Transport.DefaultCiphers
	}
	if cfg.Monitor.IntervalSeconds <= 0 {
		cfg.Monitor.IntervalSeconds = def.Monitor.IntervalSeconds
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
		cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	default:
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = def.Log.MaxSizeMB
	}
	if cfg.Log.MaxBackups < 0 {
		cfg.Log.MaxBackups = 0
	}
	if cfg.Log.MaxAgeDays < 0 {
		cfg.Log.MaxAgeDays = 0
	}
	if cfg.UI.RefreshSeconds <= 0 {
		cfg.UI.RefreshSeconds = def.UI.RefreshSeconds
	}
}

// Save writes config to config.yaml.
func Save(cfg Config) error {
	d, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(d, 0o700); err != nil {
		return err
	}
	path := filepath.Join(d, "config.yaml")
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
