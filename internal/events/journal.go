package events

import (
	"github.com/jonboulle/clockwork"

	"github.com/treykane/ssh-tunnel-manager/internal/model"
)

// Journal records every committed model change in the event store.
// Selection changes are not journaled.
type Journal struct {
	store *Store
	clock clockwork.Clock
}

var (
	_ model.SessionChangeListener = (*Journal)(nil)
	_ model.TunnelChangeListener  = (*Journal)(nil)
)

// NewJournal returns a journal writing to store.
func NewJournal(store *Store, clock clockwork.Clock) *Journal {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Journal{store: store, clock: clock}
}

// Attach registers j with reg for both session and tunnel events.
func (j *Journal) Attach(reg *model.Registry) {
	reg.AddSessionListener(j)
	reg.AddTunnelListener(j)
}

// Record appends evt stamped with the journal clock.
func (j *Journal) Record(evt Event) error {
	evt.Timestamp = j.clock.Now().UTC()
	return j.store.Append(evt)
}

func (j *Journal) SessionAdded(s *model.Session) error {
	return j.Record(Event{Session: s.Name, EventType: SessionAdded, Message: s.String()})
}

func (j *Journal) SessionChanged(s *model.Session) error {
	return j.Record(Event{Session: s.Name, EventType: SessionChanged, Message: s.String()})
}

func (j *Journal) SessionRemoved(s *model.Session) error {
	return j.Record(Event{Session: s.Name, EventType: SessionRemoved})
}

func (j *Journal) SessionSelectionChanged(*model.Session) error { return nil }

func (j *Journal) TunnelAdded(s *model.Session, t model.Tunnel) error {
	return j.Record(Event{Session: s.Name, EventType: TunnelAdded, Tunnel: t.String()})
}

func (j *Journal) TunnelChanged(s *model.Session, t model.Tunnel, prev *model.Tunnel) (int, error) {
	evt := Event{Session: s.Name, EventType: TunnelChanged, Tunnel: t.String()}
	if prev != nil {
		evt.Previous = prev.String()
	}
	return model.KeepPosition, j.Record(evt)
}

func (j *Journal) TunnelRemoved(s *model.Session, t model.Tunnel) error {
	return j.Record(Event{Session: s.Name, EventType: TunnelRemoved, Tunnel: t.String()})
}

func (j *Journal) TunnelSelectionChanged(*model.Tunnel) error { return nil }
