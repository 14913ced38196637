package appconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, lines ...string) {
	t.Helper()
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	dir := filepath.Join(xdg, "ssh-tunnel-manager")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	content := []byte(strings.Join(append(lines, ""), "\n"))
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_DefaultSecurityValues(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Security.BindPolicy != BindPolicyLoopbackOnly {
		t.Fatalf("unexpected bind policy: %s", cfg.Security.BindPolicy)
	}
	if cfg.Security.HostKeyPolicy != HostKeyPolicyStrict {
		t.Fatalf("unexpected host key policy: %s", cfg.Security.HostKeyPolicy)
	}
	if !cfg.Security.RedactErrors {
		t.Fatal("expected redact_errors default true")
	}
	if cfg.Store.Backend != BackendYAML {
		t.Fatalf("unexpected store backend: %s", cfg.Store.Backend)
	}
}

func TestLoad_CreatesFileWithDefaults(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	if _, err := Load(); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(xdg, "ssh-tunnel-manager", "config.yaml")
	st, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %o", st.Mode().Perm())
	}
}

func TestLoad_TransportDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transport.ConnectTimeoutSeconds != 20 {
		t.Fatalf("unexpected connect timeout: %d", cfg.Transport.ConnectTimeoutSeconds)
	}
	if cfg.Transport.KeepAliveSeconds != 40 || cfg.Transport.KeepAliveCountMax != 2 {
		t.Fatalf("unexpected keepalive: %d/%d", cfg.Transport.KeepAliveSeconds, cfg.Transport.KeepAliveCountMax)
	}
	if cfg.Monitor.IntervalSeconds != 10 {
		t.Fatalf("unexpected monitor interval: %d", cfg.Monitor.IntervalSeconds)
	}
	if got := strings.Join(cfg.Transport.DefaultCiphers, ","); got != strings.Join(DefaultCiphers, ",") {
		t.Fatalf("unexpected ciphers: %s", got)
	}
}

func TestLoad_NormalizesSecurityPolicies(t *testing.T) {
	writeConfig(t,
		"security:",
		"  bind_policy: invalid",
		"  host_key_policy: invalid",
	)
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Security.BindPolicy != BindPolicyLoopbackOnly {
		t.Fatalf("expected normalized bind policy, got %s", cfg.Security.BindPolicy)
	}
	if cfg.Security.HostKeyPolicy != HostKeyPolicyStrict {
		t.Fatalf("expected normalized host key policy, got %s", cfg.Security.HostKeyPolicy)
	}
}

func TestLoad_NormalizesNumericSettings(t *testing.T) {
	writeConfig(t,
		"transport:",
		"  connect_timeout_seconds: -1",
		"  keepalive_seconds: 0",
		"monitor:",
		"  interval_seconds: 0",
		"log:",
		"  level: loud",
		"  max_backups: -4",
		"ui:",
		"  refresh_seconds: 0",
	)
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transport.ConnectTimeoutSeconds != 20 {
		t.Fatalf("expected default timeout, got %d", cfg.Transport.ConnectTimeoutSeconds)
	}
	if cfg.Transport.KeepAliveSeconds != 40 {
		t.Fatalf("expected default keepalive, got %d", cfg.Transport.KeepAliveSeconds)
	}
	if cfg.Monitor.IntervalSeconds != 10 {
		t.Fatalf("expected default interval, got %d", cfg.Monitor.IntervalSeconds)
	}
	if cfg.Log.Level != "info" || cfg.Log.MaxBackups != 0 {
		t.Fatalf("unexpected log config: %+v", cfg.Log)
	}
	if cfg.UI.RefreshSeconds != 3 {
		t.Fatalf("expected default refresh, got %d", cfg.UI.RefreshSeconds)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	writeConfig(t,
		"store:",
		"  backend: yaml",
		"security:",
		"  bind_policy: loopback-only",
	)
	t.Setenv("SSHTM_STORE_BACKEND", "SQLite")
	t.Setenv("SSHTM_SECURITY_BIND_POLICY", "allow-public")
	t.Setenv("SSHTM_TRANSPORT_DEFAULT_CIPHERS", "aes256-ctr,aes128-ctr")
	t.Setenv("SSHTM_UI_SORT_TUNNELS", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Backend != BackendSQLite {
		t.Fatalf("expected sqlite backend, got %s", cfg.Store.Backend)
	}
	if cfg.Security.BindPolicy != BindPolicyAllowPublic {
		t.Fatalf("expected env bind policy, got %s", cfg.Security.BindPolicy)
	}
	if len(cfg.Transport.DefaultCiphers) != 2 || cfg.Transport.DefaultCiphers[0] != "aes256-ctr" {
		t.Fatalf("unexpected ciphers: %v", cfg.Transport.DefaultCiphers)
	}
	if !cfg.UI.SortTunnels {
		t.Fatal("expected sort_tunnels from env")
	}
}

func TestLoad_RejectsBadEnvironment(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("SSHTM_MONITOR_INTERVAL_SECONDS", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-numeric interval")
	}
}

func TestStorePath(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	cfg := Default()
	p, err := cfg.StorePath()
	if err != nil {
		t.Fatal(err)
	}
	if p != filepath.Join(xdg, "ssh-tunnel-manager", "sessions.yaml") {
		t.Fatalf("unexpected yaml path %s", p)
	}
	cfg.Store.Backend = BackendSQLite
	p, _ = cfg.StorePath()
	if filepath.Base(p) != "sessions.db" {
		t.Fatalf("unexpected sqlite path %s", p)
	}
	cfg.Store.Path = "/tmp/custom.db"
	p, _ = cfg.StorePath()
	if p != "/tmp/custom.db" {
		t.Fatalf("expected explicit path, got %s", p)
	}
}
