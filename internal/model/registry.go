// Package model holds the session and tunnel domain model and the
// change-notification protocol that views and the transport plug into.
//
// The model is single-owner: it does no locking, and callers that touch it
// from several goroutines must funnel mutations through one of them.
package model

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"

	"go.uber.org/multierr"
)

// NoTunnel clears the tunnel selection when passed to SelectTunnel.
const NoTunnel = -1

// Registry is the authoritative collection of sessions and the current
// selection. It dispatches every change to the registered listeners.
type Registry struct {
	sessions       []*Session
	selected       *Session
	selectedTunnel int

	sessionListeners []SessionChangeListener
	tunnelListeners  []TunnelChangeListener

	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for dispatch diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{selectedTunnel: NoTunnel, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int { return len(r.sessions) }

// Sessions returns the registered sessions sorted by name.
func (r *Registry) Sessions() []*Session {
	out := slices.Clone(r.sessions)
	slices.SortStableFunc(out, CompareSessions)
	return out
}

// Session looks a session up by name.
func (r *Registry) Session(name string) (*Session, bool) {
	for _, s := range r.sessions {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Contains reports whether s itself is registered here.
func (r *Registry) Contains(s *Session) bool {
	return s != nil && s.owner == r && slices.Contains(r.sessions, s)
}

// AddSession validates and registers s, then emits SessionAdded.
func (r *Registry) AddSession(s *Session) error {
	if s == nil {
		return &ValidationError{Reason: "session is nil"}
	}
	if s.owner != nil && s.owner != r {
		return fmt.Errorf("session %q belongs to another registry", s.Name)
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if err := r.checkName(s.Name, nil); err != nil {
		return err
	}
	r.sessions = append(r.sessions, s)
	s.owner = r
	return r.eachSession("sessionAdded", func(l SessionChangeListener) error {
		return l.SessionAdded(s)
	})
}

// RemoveSession unregisters s and drops its tunnels. A selected session is
// deselected before SessionRemoved is emitted.
func (r *Registry) RemoveSession(s *Session) error {
	i := slices.Index(r.sessions, s)
	if s == nil || i < 0 {
		return ErrSessionNotFound
	}
	r.sessions = slices.Delete(r.sessions, i, i+1)

	var errs error
	if r.selected == s {
		errs = multierr.Append(errs, r.setSelection(nil))
	}
	s.owner = nil
	s.tunnels = nil
	errs = multierr.Append(errs, r.eachSession("sessionRemoved", func(l SessionChangeListener) error {
		return l.SessionRemoved(s)
	}))
	return errs
}

// SessionChanged is called after s was edited in place. It re-validates
// the session, including name uniqueness, and emits SessionChanged. The
// registry does not resort.
func (r *Registry) SessionChanged(s *Session) error {
	if !r.Contains(s) {
		return ErrSessionNotFound
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if err := r.checkName(s.Name, s); err != nil {
		return err
	}
	return r.eachSession("sessionChanged", func(l SessionChangeListener) error {
		return l.SessionChanged(s)
	})
}

// EditSession applies edit to a copy of s, validates the result and only
// then commits the field changes and emits SessionChanged. Tunnel changes
// made by edit are discarded.
func (r *Registry) EditSession(s *Session, edit func(*Session)) error {
	if !r.Contains(s) {
		return ErrSessionNotFound
	}
	draft := s.Clone()
	edit(draft)
	if err := draft.Validate(); err != nil {
		return err
	}
	if err := r.checkName(draft.Name, s); err != nil {
		return err
	}
	s.assignFields(draft)
	return r.eachSession("sessionChanged", func(l SessionChangeListener) error {
		return l.SessionChanged(s)
	})
}

func (r *Registry) checkName(name string, self *Session) error {
	for _, other := range r.sessions {
		if other != self && other.Name == name {
			return fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
	}
	return nil
}

// SelectedSession returns the selected session or nil.
func (r *Registry) SelectedSession() *Session { return r.selected }

// SelectedTunnel returns the selected tunnel of the selected session.
func (r *Registry) SelectedTunnel() (Tunnel, int, bool) {
	if r.selected == nil || r.selectedTunnel == NoTunnel {
		return Tunnel{}, NoTunnel, false
	}
	return r.selected.tunnels[r.selectedTunnel], r.selectedTunnel, true
}

// SelectSession selects s, or clears the selection when s is nil. Changing
// the selected session clears the tunnel selection first.
func (r *Registry) SelectSession(s *Session) error {
	if s != nil && !r.Contains(s) {
		return ErrSessionNotFound
	}
	return r.setSelection(s)
}

func (r *Registry) setSelection(s *Session) error {
	var errs error
	if r.selected != s && r.selectedTunnel != NoTunnel {
		errs = multierr.Append(errs, r.setTunnelSelection(NoTunnel))
	}
	r.selected = s
	return multierr.Append(errs, r.eachSession("sessionSelectionChanged", func(l SessionChangeListener) error {
		return l.SessionSelectionChanged(s)
	}))
}

// SelectTunnel selects the tunnel at index of the selected session, or
// clears the tunnel selection for NoTunnel.
func (r *Registry) SelectTunnel(index int) error {
	if index == NoTunnel {
		return r.setTunnelSelection(NoTunnel)
	}
	if r.selected == nil {
		return ErrNoSessionSelected
	}
	if err := checkIndex(index, len(r.selected.tunnels)); err != nil {
		return err
	}
	return r.setTunnelSelection(index)
}

func (r *Registry) setTunnelSelection(index int) error {
	r.selectedTunnel = index
	var t *Tunnel
	if index != NoTunnel {
		v := r.selected.tunnels[index]
		t = &v
	}
	return r.eachTunnel("tunnelSelectionChanged", func(l TunnelChangeListener) error {
		return l.TunnelSelectionChanged(t)
	})
}

func (r *Registry) tunnelAdded(s *Session, t Tunnel) error {
	return r.eachTunnel("tunnelAdded", func(l TunnelChangeListener) error {
		return l.TunnelAdded(s, t)
	})
}

// tunnelChanged notifies listeners and moves the tunnel at i to the position
// chosen by the last listener that asks for a different one. Returning i is
// the same as KeepPosition.
func (r *Registry) tunnelChanged(s *Session, i int, t Tunnel, prev Tunnel) (int, error) {
	target := KeepPosition
	err := r.eachTunnel("tunnelChanged", func(l TunnelChangeListener) error {
		p := prev
		idx, err := l.TunnelChanged(s, t, &p)
		if idx >= 0 && idx != i {
			target = idx
		}
		return err
	})
	if target == KeepPosition {
		return i, err
	}
	if target >= len(s.tunnels) {
		r.logger.Warn("ignoring tunnel position outside session", "session", s.Name, "index", target, "tunnels", len(s.tunnels))
		return i, err
	}
	s.moveTunnel(i, target)
	if r.selected == s && r.selectedTunnel != NoTunnel {
		r.selectedTunnel = shiftForMove(r.selectedTunnel, i, target)
	}
	err = multierr.Append(err, r.eachTunnel("tunnelMoved", func(l TunnelChangeListener) error {
		if ml, ok := l.(TunnelMoveListener); ok {
			return ml.TunnelMoved(s, i, target)
		}
		return nil
	}))
	return target, err
}

func (r *Registry) tunnelRemoved(s *Session, i int, t Tunnel) error {
	var errs error
	if r.selected == s && r.selectedTunnel != NoTunnel {
		switch {
		case r.selectedTunnel == i:
			errs = multierr.Append(errs, r.setTunnelSelection(NoTunnel))
		case r.selectedTunnel > i:
			r.selectedTunnel--
		}
	}
	return multierr.Append(errs, r.eachTunnel("tunnelRemoved", func(l TunnelChangeListener) error {
		return l.TunnelRemoved(s, t)
	}))
}

// shiftForMove returns where index k lands after moving from -> to.
func shiftForMove(k, from, to int) int {
	switch {
	case k == from:
		return to
	case from < k && k <= to:
		return k - 1
	case to <= k && k < from:
		return k + 1
	}
	return k
}

// AddSessionListener registers l. Listeners are called in registration order.
func (r *Registry) AddSessionListener(l SessionChangeListener) {
	r.sessionListeners = append(r.sessionListeners, l)
}

// RemoveSessionListener unregisters l; unknown listeners are ignored.
func (r *Registry) RemoveSessionListener(l SessionChangeListener) {
	r.sessionListeners = slices.DeleteFunc(r.sessionListeners, func(x SessionChangeListener) bool {
		return sameListener(x, l)
	})
}

// AddTunnelListener registers l. Listeners are called in registration order.
func (r *Registry) AddTunnelListener(l TunnelChangeListener) {
	r.tunnelListeners = append(r.tunnelListeners, l)
}

// RemoveTunnelListener unregisters l; unknown listeners are ignored.
func (r *Registry) RemoveTunnelListener(l TunnelChangeListener) {
	r.tunnelListeners = slices.DeleteFunc(r.tunnelListeners, func(x TunnelChangeListener) bool {
		return sameListener(x, l)
	})
}

// sameListener compares by identity without panicking on uncomparable
// listener types.
func sameListener(a, b any) bool {
	ta := reflect.TypeOf(a)
	if ta == nil || ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

// eachSession calls fn for every session listener, even after failures,
// and returns the collected failures.
func (r *Registry) eachSession(event string, fn func(SessionChangeListener) error) error {
	var errs error
	for _, l := range slices.Clone(r.sessionListeners) {
		if err := fn(l); err != nil {
			errs = multierr.Append(errs, &ListenerError{Event: event, Err: err})
		}
	}
	r.logDispatch(event, len(r.sessionListeners), errs)
	return errs
}

func (r *Registry) eachTunnel(event string, fn func(TunnelChangeListener) error) error {
	var errs error
	for _, l := range slices.Clone(r.tunnelListeners) {
		if err := fn(l); err != nil {
			errs = multierr.Append(errs, &ListenerError{Event: event, Err: err})
		}
	}
	r.logDispatch(event, len(r.tunnelListeners), errs)
	return errs
}

func (r *Registry) logDispatch(event string, n int, err error) {
	if err != nil {
		r.logger.Warn("listener dispatch failed", "event", event, "listeners", n, "error", err)
		return
	}
	r.logger.Debug("dispatched", "event", event, "listeners", n)
}

// IsListenerError reports whether err only carries listener failures, i.e.
// the mutation itself was committed.
func IsListenerError(err error) bool {
	if err == nil {
		return false
	}
	for _, e := range multierr.Errors(err) {
		if !errors.Is(e, ErrListener) {
			return false
		}
	}
	return true
}
