package ui

import (
	"cmp"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/treykane/ssh-tunnel-manager/internal/model"
)

// Messages forwarded from registry listeners and the connection monitor.
type (
	sessionsChangedMsg struct{ note string }
	tunnelsChangedMsg  struct {
		session *model.Session
		note    string
	}
	selectionMsg struct{}
	connLostMsg  struct {
		session *model.Session
		err     error
	}
	connectedMsg struct {
		session *model.Session
		err     error
	}
)

// relay listens to the registry and forwards each event into the program
// loop. Listener calls arrive on the goroutine that mutated the registry,
// which is usually Update itself, so messages are sent asynchronously.
type relay struct {
	send func(tea.Msg)
	// sorted makes relay the ordering policy for edited tunnels.
	sorted bool
}

var (
	_ model.SessionChangeListener = (*relay)(nil)
	_ model.TunnelChangeListener  = (*relay)(nil)
)

func (r *relay) post(msg tea.Msg) {
	if r.send == nil {
		return
	}
	go r.send(msg)
}

func (r *relay) SessionAdded(s *model.Session) error {
	r.post(sessionsChangedMsg{note: "added session " + s.Name})
	return nil
}

func (r *relay) SessionChanged(s *model.Session) error {
	r.post(sessionsChangedMsg{note: "updated session " + s.Name})
	return nil
}

func (r *relay) SessionRemoved(s *model.Session) error {
	r.post(sessionsChangedMsg{note: "removed session " + s.Name})
	return nil
}

func (r *relay) SessionSelectionChanged(*model.Session) error {
	r.post(selectionMsg{})
	return nil
}

func (r *relay) TunnelAdded(s *model.Session, t model.Tunnel) error {
	r.post(tunnelsChangedMsg{session: s, note: "added " + t.String()})
	return nil
}

// TunnelChanged returns the sorted position of t when sorting is on.
func (r *relay) TunnelChanged(s *model.Session, t model.Tunnel, _ *model.Tunnel) (int, error) {
	r.post(tunnelsChangedMsg{session: s, note: "updated " + t.String()})
	if !r.sorted {
		return model.KeepPosition, nil
	}
	tunnels := s.Tunnels()
	for i, cur := range tunnels {
		if cur == t {
			return sortedIndex(tunnels, i), nil
		}
	}
	return model.KeepPosition, nil
}

func (r *relay) TunnelRemoved(s *model.Session, t model.Tunnel) error {
	r.post(tunnelsChangedMsg{session: s, note: "removed " + t.String()})
	return nil
}

func (r *relay) TunnelSelectionChanged(*model.Tunnel) error {
	r.post(selectionMsg{})
	return nil
}

// compareTunnels orders by direction, source port, source host and then
// destination.
func compareTunnels(a, b model.Tunnel) int {
	return cmp.Or(
		cmp.Compare(a.Direction, b.Direction),
		cmp.Compare(a.SourcePort, b.SourcePort),
		cmp.Compare(a.SourceHost, b.SourceHost),
		cmp.Compare(a.DestinationHost, b.DestinationHost),
		cmp.Compare(a.DestinationPort, b.DestinationPort),
	)
}

// sortedIndex returns where tunnels[i] belongs once it is removed and
// reinserted among the others by compareTunnels. Equal tunnels keep their
// relative order.
func sortedIndex(tunnels []model.Tunnel, i int) int {
	t := tunnels[i]
	n := 0
	for j, o := range tunnels {
		if j == i {
			continue
		}
		c := compareTunnels(o, t)
		if c < 0 || (c == 0 && j < i) {
			n++
		}
	}
	return n
}
