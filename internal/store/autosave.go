package store

import (
	"sync"

	"github.com/treykane/ssh-tunnel-manager/internal/model"
)

// Autosaver listens to the registry and remembers that something changed.
// Flush writes the registry once the mutation that caused it is complete,
// so reorders applied after tunnelChanged dispatch are persisted too.
type Autosaver struct {
	reg   *model.Registry
	store Store

	mu    sync.Mutex
	dirty bool
}

var (
	_ model.SessionChangeListener = (*Autosaver)(nil)
	_ model.TunnelChangeListener  = (*Autosaver)(nil)
)

// NewAutosaver registers an Autosaver with reg.
func NewAutosaver(reg *model.Registry, st Store) *Autosaver {
	a := &Autosaver{reg: reg, store: st}
	reg.AddSessionListener(a)
	reg.AddTunnelListener(a)
	return a
}

// Detach unregisters the autosaver.
func (a *Autosaver) Detach() {
	a.reg.RemoveSessionListener(a)
	a.reg.RemoveTunnelListener(a)
}

// Dirty reports whether there are unsaved changes.
func (a *Autosaver) Dirty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dirty
}

// Flush saves the registry if anything changed since the last flush.
func (a *Autosaver) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.dirty {
		return nil
	}
	if err := a.store.Save(Snapshot(a.reg)); err != nil {
		return err
	}
	a.dirty = false
	return nil
}

func (a *Autosaver) mark() error {
	a.mu.Lock()
	a.dirty = true
	a.mu.Unlock()
	return nil
}

func (a *Autosaver) SessionAdded(*model.Session) error              { return a.mark() }
func (a *Autosaver) SessionChanged(*model.Session) error            { return a.mark() }
func (a *Autosaver) SessionRemoved(*model.Session) error            { return a.mark() }
func (a *Autosaver) SessionSelectionChanged(*model.Session) error   { return nil }
func (a *Autosaver) TunnelAdded(*model.Session, model.Tunnel) error { return a.mark() }
func (a *Autosaver) TunnelRemoved(*model.Session, model.Tunnel) error {
	return a.mark()
}
func (a *Autosaver) TunnelSelectionChanged(*model.Tunnel) error { return nil }

func (a *Autosaver) TunnelChanged(*model.Session, model.Tunnel, *model.Tunnel) (int, error) {
	return model.KeepPosition, a.mark()
}
