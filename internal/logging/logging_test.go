package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/treykane/ssh-tunnel-manager/internal/appconfig"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestDebugLogFileSanitizesName(t *testing.T) {
	got := DebugLogFile("/tmp/logs", "prod db/1")
	if got != filepath.Join("/tmp/logs", "sshtunnel-prod_db_1.log") {
		t.Fatalf("unexpected path %s", got)
	}
}

func TestSessionDebugLoggerWrites(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := SessionDebugLogger(dir, "db")
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("handshake", "cipher", "aes128-ctr")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(DebugLogFile(dir, "db"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "session=db") || !strings.Contains(string(b), "cipher=aes128-ctr") {
		t.Fatalf("unexpected log content: %s", b)
	}
}

func TestSetupInstallsDefault(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	closer, err := Setup(appconfig.Default().Log)
	if err != nil {
		t.Fatal(err)
	}
	slog.Info("started", "component", "test")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(filepath.Join(xdg, "ssh-tunnel-manager", "app.log"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "component=test") {
		t.Fatalf("unexpected log content: %s", b)
	}
}
