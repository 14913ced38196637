package model

import "time"

// TunnelState is the runtime state of one forward of a connected session.
type TunnelState string

const (
	TunnelDown     TunnelState = "down"
	TunnelStarting TunnelState = "starting"
	TunnelUp       TunnelState = "up"
	TunnelError    TunnelState = "error"
	TunnelStopping TunnelState = "stopping"
)

// TunnelRuntime reports a forward as the transport sees it.
type TunnelRuntime struct {
	ID      string      `json:"id"`
	Session string      `json:"session"`
	Tunnel  Tunnel      `json:"tunnel"`
	Source  string      `json:"source"`
	Dest    string      `json:"destination"`
	State   TunnelState `json:"state"`
	// PID is the process that owns the forward.
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"-"`
	UptimeSec int64     `json:"uptime_seconds"`
	LastError string    `json:"last_error,omitempty"`
}
