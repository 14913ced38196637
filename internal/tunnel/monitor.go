package tunnel

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/treykane/ssh-tunnel-manager/internal/model"
	"github.com/treykane/ssh-tunnel-manager/internal/util"
)

// Monitor periodically probes every live connection and reports the ones
// that stopped answering.
type Monitor struct {
	m        *Manager
	interval time.Duration
	// OnDisconnect runs on the monitor goroutine. Callers that need to touch
	// the model must hand the session back to the owning goroutine.
	OnDisconnect func(s *model.Session, err error)
}

// NewMonitor creates a monitor for m. A non-positive interval uses the default.
func NewMonitor(m *Manager, interval time.Duration, onDisconnect func(*model.Session, error)) *Monitor {
	if interval <= 0 {
		interval = util.DefaultMonitorInterval
	}
	return &Monitor{m: m, interval: interval, OnDisconnect: onDisconnect}
}

// Run checks connections every interval until ctx is done.
func (mo *Monitor) Run(ctx context.Context) error {
	ticker := mo.clock().NewTicker(mo.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			mo.Check()
		}
	}
}

func (mo *Monitor) clock() clockwork.Clock { return mo.m.clock }

// Check probes each connection once and returns how many were lost.
func (mo *Monitor) Check() int {
	type probe struct {
		s    *model.Session
		conn Conn
	}
	mo.m.mu.Lock()
	probes := make([]probe, 0, len(mo.m.conns))
	for s, c := range mo.m.conns {
		if c.conn != nil {
			probes = append(probes, probe{s, c.conn})
		}
	}
	mo.m.mu.Unlock()

	lost := 0
	for _, p := range probes {
		err := p.conn.Alive()
		if err == nil {
			continue
		}
		if mo.m.lost(p.s, p.conn, err) {
			lost++
			if mo.OnDisconnect != nil {
				mo.OnDisconnect(p.s, err)
			}
		}
	}
	return lost
}
