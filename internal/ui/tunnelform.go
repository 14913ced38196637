package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/treykane/ssh-tunnel-manager/internal/model"
	"github.com/treykane/ssh-tunnel-manager/internal/tunnel"
)

// tunnelResult is returned when the tunnel form is submitted. index is
// NoTunnel for a new tunnel.
type tunnelResult struct {
	tunnel model.Tunnel
	index  int
}

// tunnelForm edits one forward rule of the selected session.
type tunnelForm struct {
	session *model.Session
	index   int
	dir     model.Direction

	spec        textinput.Model
	description textinput.Model
	focusIdx    int

	errMsg string
}

func newTunnelForm(s *model.Session) *tunnelForm {
	f := &tunnelForm{session: s, index: model.NoTunnel, dir: model.LocalForward}

	f.spec = textinput.New()
	f.spec.Placeholder = "[srcHost:]srcPort:dstHost:dstPort"
	f.spec.CharLimit = 256
	f.spec.Width = 40

	f.description = textinput.New()
	f.description.Placeholder = "optional"
	f.description.CharLimit = 128
	f.description.Width = 40

	f.spec.Focus()
	return f
}

// editTunnelForm opens the form prefilled with the tunnel at index i.
func editTunnelForm(s *model.Session, i int, t model.Tunnel) *tunnelForm {
	f := newTunnelForm(s)
	f.index = i
	f.dir = t.Direction
	spec := t.Spec()
	if t.SourceHost == "" {
		spec = fmt.Sprintf("%d:%s:%d", t.SourcePort, t.DestinationHost, t.DestinationPort)
	}
	f.spec.SetValue(spec)
	f.description.SetValue(t.Description)
	return f
}

func (f *tunnelForm) update(msg tea.KeyMsg) (*tunnelResult, tea.Cmd) {
	switch msg.String() {
	case "tab", "shift+tab", "up", "down":
		f.focusIdx = 1 - f.focusIdx
		if f.focusIdx == 0 {
			f.description.Blur()
			f.spec.Focus()
			return nil, f.spec.Cursor.BlinkCmd()
		}
		f.spec.Blur()
		f.description.Focus()
		return nil, f.description.Cursor.BlinkCmd()
	case "ctrl+r":
		if f.dir == model.LocalForward {
			f.dir = model.RemoteForward
		} else {
			f.dir = model.LocalForward
		}
		return nil, nil
	case "enter":
		t, err := f.build()
		if err != nil {
			f.errMsg = err.Error()
			return nil, nil
		}
		return &tunnelResult{tunnel: t, index: f.index}, nil
	default:
		var cmd tea.Cmd
		if f.focusIdx == 0 {
			f.spec, cmd = f.spec.Update(msg)
		} else {
			f.description, cmd = f.description.Update(msg)
		}
		f.errMsg = ""
		return nil, cmd
	}
}

func (f *tunnelForm) build() (model.Tunnel, error) {
	spec := strings.TrimSpace(f.spec.Value())
	if spec == "" {
		return model.Tunnel{}, fmt.Errorf("forward is required")
	}
	return tunnel.ParseForwardArg(f.dir, spec, strings.TrimSpace(f.description.Value()))
}

func (f *tunnelForm) view(renderPanel func(string, string, int, lipgloss.Color) string, width int) string {
	title := "New Tunnel for " + f.session.Name
	if f.index != model.NoTunnel {
		title = fmt.Sprintf("Edit Tunnel %d of %s", f.index, f.session.Name)
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("  %-13s %s\n", "Direction:", f.dir))
	cursors := [2]string{"  ", "  "}
	cursors[f.focusIdx] = "> "
	b.WriteString(fmt.Sprintf("%s%-13s %s\n", cursors[0], "Forward:", f.spec.View()))
	b.WriteString(fmt.Sprintf("%s%-13s %s\n", cursors[1], "Description:", f.description.View()))
	b.WriteString(errLine(f.errMsg))
	b.WriteString("\nTab switch field | Ctrl+R toggle local/remote | Enter save | Esc cancel")
	return renderPanel(title, b.String(), width, lipgloss.Color("214"))
}
