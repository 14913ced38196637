// Package logging installs the process-wide slog logger and builds the
// per-session debug loggers used by the transport.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/treykane/ssh-tunnel-manager/internal/appconfig"
)

// Setup points the default slog logger at a rotating app.log in the config
// directory. The returned closer flushes and closes the file.
func Setup(cfg appconfig.LogConfig) (io.Closer, error) {
	path, err := appconfig.FilePath("app.log")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(cfg.Level)})
	slog.SetDefault(slog.New(h))
	return w, nil
}

// ParseLevel maps a config level name to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// DebugLogFile returns <dir>/sshtunnel-<name>.log with name made file-safe.
func DebugLogFile(dir, name string) string {
	return filepath.Join(dir, "sshtunnel-"+unsafeName.ReplaceAllString(name, "_")+".log")
}

// SessionDebugLogger returns a debug-level logger writing to the session's
// own log file in dir.
func SessionDebugLogger(dir, name string) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("create debug log dir: %w", err)
	}
	w := &lumberjack.Logger{
		Filename:   DebugLogFile(dir, name),
		MaxSize:    5,
		MaxBackups: 1,
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(h).With("session", name), w, nil
}
