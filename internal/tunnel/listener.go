package tunnel

import (
	"context"
	"slices"

	"github.com/treykane/ssh-tunnel-manager/internal/model"
)

// The Manager follows the model: tunnel edits on a connected session start,
// restart or stop the matching forward, and removing a session disconnects it.
var (
	_ model.TunnelChangeListener  = (*Manager)(nil)
	_ model.TunnelMoveListener    = (*Manager)(nil)
	_ model.SessionChangeListener = (*Manager)(nil)
)

// live returns the connection record of s and its SSH connection if it is up.
func (m *Manager) live(s *model.Session) (*connection, Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[s]
	if !ok || c.conn == nil {
		return nil, nil
	}
	return c, c.conn
}

// c.forwards mirrors s.Tunnels() slot for slot while the session is
// connected. Identical tunnels may coexist, so slots are located by
// position rather than by value.

func (m *Manager) TunnelAdded(s *model.Session, t model.Tunnel) error {
	c, conn := m.live(s)
	if c == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	f := m.open(ctx, c.name, conn, t)
	m.mu.Lock()
	c.forwards = append(c.forwards, f)
	m.mu.Unlock()
	m.save()
	return f.err()
}

// TunnelChanged stops the forward of prev and starts one for t in its
// place. The manager has no opinion on tunnel order.
func (m *Manager) TunnelChanged(s *model.Session, t model.Tunnel, prev *model.Tunnel) (int, error) {
	c, conn := m.live(s)
	if c == nil || prev == nil || t == *prev {
		return model.KeepPosition, nil
	}
	tunnels := s.Tunnels()
	m.mu.Lock()
	i := c.firstDifference(tunnels)
	if len(c.forwards) != len(tunnels) || i == len(c.forwards) || c.forwards[i].rt.Tunnel != *prev {
		i = c.find(*prev)
	}
	if i >= 0 {
		c.forwards[i].close()
	}
	m.mu.Unlock()
	if i < 0 {
		return model.KeepPosition, m.TunnelAdded(s, t)
	}

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	f := m.open(ctx, c.name, conn, t)
	m.mu.Lock()
	c.forwards[i] = f
	m.mu.Unlock()
	m.save()
	return model.KeepPosition, f.err()
}

// TunnelMoved follows the registry when it repositions an edited tunnel.
func (m *Manager) TunnelMoved(s *model.Session, from, to int) error {
	c, _ := m.live(s)
	if c == nil {
		return nil
	}
	m.mu.Lock()
	n := len(c.forwards)
	if from < n && to < n {
		f := c.forwards[from]
		c.forwards = slices.Delete(c.forwards, from, from+1)
		c.forwards = slices.Insert(c.forwards, to, f)
	}
	m.mu.Unlock()
	m.save()
	return nil
}

// TunnelRemoved closes the forward of the removed slot. When t had
// identical neighbours any of their slots fits the new tunnel list, and a
// failed forward is closed in preference to a running one.
func (m *Manager) TunnelRemoved(s *model.Session, t model.Tunnel) error {
	c, _ := m.live(s)
	if c == nil {
		return nil
	}
	tunnels := s.Tunnels()
	m.mu.Lock()
	i := c.removedSlot(tunnels, t)
	if i >= 0 {
		c.forwards[i].close()
		c.forwards = slices.Delete(c.forwards, i, i+1)
	}
	m.mu.Unlock()
	if i >= 0 {
		m.save()
	}
	return nil
}

func (m *Manager) TunnelSelectionChanged(*model.Tunnel) error { return nil }

func (m *Manager) SessionAdded(*model.Session) error { return nil }

// SessionChanged keeps runtime entries labelled with the current name.
func (m *Manager) SessionChanged(s *model.Session) error {
	m.mu.Lock()
	c, ok := m.conns[s]
	if ok {
		c.name = s.Name
		for _, f := range c.forwards {
			f.rt.Session = s.Name
		}
	}
	m.mu.Unlock()
	if ok {
		m.save()
	}
	return nil
}

func (m *Manager) SessionRemoved(s *model.Session) error {
	if !m.hasSession(s) {
		return nil
	}
	return m.Disconnect(s)
}

func (m *Manager) SessionSelectionChanged(*model.Session) error { return nil }

func (m *Manager) hasSession(s *model.Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.conns[s]
	return ok
}

// find returns the index of the first forward for t. Callers hold m.mu.
func (c *connection) find(t model.Tunnel) int {
	for i, f := range c.forwards {
		if f.rt.Tunnel == t {
			return i
		}
	}
	return -1
}

// firstDifference returns the first slot where the forwards disagree with
// tunnels, or len(c.forwards) if they agree on every slot. Callers hold m.mu.
func (c *connection) firstDifference(tunnels []model.Tunnel) int {
	for i, f := range c.forwards {
		if i >= len(tunnels) || f.rt.Tunnel != tunnels[i] {
			return i
		}
	}
	return len(c.forwards)
}

// removedSlot returns the slot of the forward to drop now that t is gone
// from tunnels. Callers hold m.mu.
func (c *connection) removedSlot(tunnels []model.Tunnel, t model.Tunnel) int {
	if len(c.forwards) != len(tunnels)+1 {
		return c.find(t)
	}
	last := c.firstDifference(tunnels)
	if c.forwards[last].rt.Tunnel != t {
		return c.find(t)
	}
	for i := last; i >= 0 && c.forwards[i].rt.Tunnel == t; i-- {
		if c.forwards[i].rt.State != model.TunnelUp {
			return i
		}
	}
	return last
}

func (f *forward) err() error {
	if f.rt.State != model.TunnelError {
		return nil
	}
	return &forwardError{tunnel: f.rt.Tunnel, msg: f.rt.LastError}
}

type forwardError struct {
	tunnel model.Tunnel
	msg    string
}

func (e *forwardError) Error() string {
	return ErrForwardFailed.Error() + ": " + e.tunnel.String() + ": " + e.msg
}

func (e *forwardError) Unwrap() error { return ErrForwardFailed }
