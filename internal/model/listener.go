package model

// KeepPosition is returned from TunnelChanged by listeners that do not
// define a tunnel ordering.
const KeepPosition = -1

// SessionChangeListener receives session mutation and selection events.
// Callbacks run synchronously on the mutating goroutine in registration order.
type SessionChangeListener interface {
	SessionAdded(s *Session) error
	SessionChanged(s *Session) error
	SessionRemoved(s *Session) error
	// SessionSelectionChanged receives nil when the selection is cleared.
	SessionSelectionChanged(s *Session) error
}

// TunnelChangeListener receives tunnel mutation and selection events.
type TunnelChangeListener interface {
	TunnelAdded(s *Session, t Tunnel) error
	// TunnelChanged returns the index the edited tunnel belongs at, or
	// KeepPosition.
	TunnelChanged(s *Session, t Tunnel, prev *Tunnel) (int, error)
	TunnelRemoved(s *Session, t Tunnel) error
	// TunnelSelectionChanged receives nil when the selection is cleared.
	TunnelSelectionChanged(t *Tunnel) error
}

// TunnelMoveListener is optionally implemented by tunnel listeners that keep
// state by tunnel position. TunnelMoved is called once every listener has
// seen tunnelChanged and the tunnel was moved from one index to another.
type TunnelMoveListener interface {
	TunnelMoved(s *Session, from, to int) error
}

// SessionListenerFuncs adapts optional funcs to SessionChangeListener.
// Register it by pointer so it can be removed again.
type SessionListenerFuncs struct {
	OnAdded            func(*Session) error
	OnChanged          func(*Session) error
	OnRemoved          func(*Session) error
	OnSelectionChanged func(*Session) error
}

func (f *SessionListenerFuncs) SessionAdded(s *Session) error {
	if f.OnAdded == nil {
		return nil
	}
	return f.OnAdded(s)
}

func (f *SessionListenerFuncs) SessionChanged(s *Session) error {
	if f.OnChanged == nil {
		return nil
	}
	return f.OnChanged(s)
}

func (f *SessionListenerFuncs) SessionRemoved(s *Session) error {
	if f.OnRemoved == nil {
		return nil
	}
	return f.OnRemoved(s)
}

func (f *SessionListenerFuncs) SessionSelectionChanged(s *Session) error {
	if f.OnSelectionChanged == nil {
		return nil
	}
	return f.OnSelectionChanged(s)
}

// TunnelListenerFuncs adapts optional funcs to TunnelChangeListener.
// A nil OnChanged keeps the tunnel's position.
type TunnelListenerFuncs struct {
	OnAdded            func(*Session, Tunnel) error
	OnChanged          func(*Session, Tunnel, *Tunnel) (int, error)
	OnRemoved          func(*Session, Tunnel) error
	OnSelectionChanged func(*Tunnel) error
}

func (f *TunnelListenerFuncs) TunnelAdded(s *Session, t Tunnel) error {
	if f.OnAdded == nil {
		return nil
	}
	return f.OnAdded(s, t)
}

func (f *TunnelListenerFuncs) TunnelChanged(s *Session, t Tunnel, prev *Tunnel) (int, error) {
	if f.OnChanged == nil {
		return KeepPosition, nil
	}
	return f.OnChanged(s, t, prev)
}

func (f *TunnelListenerFuncs) TunnelRemoved(s *Session, t Tunnel) error {
	if f.OnRemoved == nil {
		return nil
	}
	return f.OnRemoved(s, t)
}

func (f *TunnelListenerFuncs) TunnelSelectionChanged(t *Tunnel) error {
	if f.OnSelectionChanged == nil {
		return nil
	}
	return f.OnSelectionChanged(t)
}
