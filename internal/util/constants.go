// Package util provides small helpers and defaults shared across the
// application. It imports no other internal package so anything may use it.
package util

import "time"

const (
	// LoopbackHost is the source host of a tunnel that does not name one.
	LoopbackHost = "127.0.0.1"

	// MaxIncludeDepth bounds nested Include directives when importing
	// OpenSSH config files.
	MaxIncludeDepth = 16

	// DefaultConnectTimeout bounds the SSH dial and handshake.
	DefaultConnectTimeout = 20 * time.Second

	// DefaultKeepAlive is the interval between keepalive requests on a
	// connected session. DefaultKeepAliveCountMax unanswered requests in a
	// row close the connection.
	DefaultKeepAlive         = 40 * time.Second
	DefaultKeepAliveCountMax = 2

	// DefaultMonitorInterval is how often the connection monitor probes
	// connected sessions.
	DefaultMonitorInterval = 10 * time.Second

	// DefaultRefreshSeconds is the TUI status refresh interval used when the
	// config value is missing or invalid.
	DefaultRefreshSeconds = 3
)
