package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/treykane/ssh-tunnel-manager/internal/model"
	"github.com/treykane/ssh-tunnel-manager/internal/util"
)

// formMode distinguishes between the mode-select, quick-connect, and full-config screens.
type formMode int

const (
	formModeSelect formMode = iota
	formModeQuick
	formModeFull
)

// Field indices for the full session form.
const (
	fieldName = iota
	fieldHostname
	fieldUser
	fieldPort
	fieldIdentityFile
	fieldCiphers
	fieldCount
)

// formResult is returned when the user completes the form.
type formResult struct {
	session *model.Session
	// target is the registered session being edited, nil for a new one.
	target  *model.Session
	connect bool // true = connect immediately after adding
}

// sessionForm holds all state for the new/edit session dialog.
type sessionForm struct {
	mode    formMode
	modeSel int // 0 = quick, 1 = full (for mode selection screen)
	target  *model.Session

	quickInput textinput.Model

	fields   []textinput.Model
	focusIdx int
	compress bool

	errMsg string
}

// newSessionForm creates a form starting at mode selection.
func newSessionForm() *sessionForm {
	f := &sessionForm{mode: formModeSelect}

	qi := textinput.New()
	qi.Placeholder = "user@hostname:port or just hostname"
	qi.CharLimit = 256
	qi.Width = 50
	f.quickInput = qi

	placeholders := []string{
		"my-server (required)",
		"192.168.1.1 or example.com (required)",
		"deploy (optional)",
		"22 (default)",
		"~/.ssh/id_ed25519 (optional)",
		"aes128-ctr,aes256-ctr (optional)",
	}
	limits := []int{64, 256, 64, 6, 256, 256}

	f.fields = make([]textinput.Model, fieldCount)
	for i := range f.fields {
		ti := textinput.New()
		ti.Placeholder = placeholders[i]
		ti.CharLimit = limits[i]
		ti.Width = 40
		f.fields[i] = ti
	}
	return f
}

// editSessionForm opens the full form prefilled from s.
func editSessionForm(s *model.Session) *sessionForm {
	f := newSessionForm()
	f.target = s
	f.mode = formModeFull
	f.fields[fieldName].SetValue(s.Name)
	f.fields[fieldHostname].SetValue(model.Val(s.Hostname))
	f.fields[fieldUser].SetValue(model.Val(s.Username))
	if s.Port != 0 && s.Port != model.DefaultPort {
		f.fields[fieldPort].SetValue(strconv.Itoa(s.Port))
	}
	f.fields[fieldIdentityFile].SetValue(model.Val(s.IdentityPath))
	f.fields[fieldCiphers].SetValue(model.Val(s.Ciphers))
	f.compress = s.Compressed
	f.fields[fieldName].Focus()
	return f
}

// update processes a key message and returns a formResult if the form is complete.
func (f *sessionForm) update(msg tea.KeyMsg) (*formResult, tea.Cmd) {
	switch f.mode {
	case formModeSelect:
		return f.updateModeSelect(msg)
	case formModeQuick:
		return f.updateQuick(msg)
	case formModeFull:
		return f.updateFull(msg)
	}
	return nil, nil
}

func (f *sessionForm) updateModeSelect(msg tea.KeyMsg) (*formResult, tea.Cmd) {
	switch msg.String() {
	case "j", "down":
		if f.modeSel < 1 {
			f.modeSel++
		}
	case "k", "up":
		if f.modeSel > 0 {
			f.modeSel--
		}
	case "enter":
		if f.modeSel == 0 {
			f.mode = formModeQuick
			f.quickInput.Focus()
			return nil, f.quickInput.Cursor.BlinkCmd()
		}
		f.mode = formModeFull
		f.focusIdx = 0
		f.fields[0].Focus()
		return nil, f.fields[0].Cursor.BlinkCmd()
	}
	return nil, nil
}

func (f *sessionForm) updateQuick(msg tea.KeyMsg) (*formResult, tea.Cmd) {
	switch msg.String() {
	case "enter":
		s, err := parseQuickConnect(f.quickInput.Value())
		if err != nil {
			f.errMsg = err.Error()
			return nil, nil
		}
		return &formResult{session: s, connect: true}, nil
	default:
		var cmd tea.Cmd
		f.quickInput, cmd = f.quickInput.Update(msg)
		f.errMsg = ""
		return nil, cmd
	}
}

func (f *sessionForm) updateFull(msg tea.KeyMsg) (*formResult, tea.Cmd) {
	switch msg.String() {
	case "tab", "shift+tab":
		f.fields[f.focusIdx].Blur()
		if msg.String() == "tab" {
			f.focusIdx = (f.focusIdx + 1) % fieldCount
		} else {
			f.focusIdx = (f.focusIdx - 1 + fieldCount) % fieldCount
		}
		f.fields[f.focusIdx].Focus()
		return nil, f.fields[f.focusIdx].Cursor.BlinkCmd()
	case "ctrl+o":
		f.compress = !f.compress
		return nil, nil
	case "enter":
		s, err := f.buildSession()
		if err != nil {
			f.errMsg = err.Error()
			return nil, nil
		}
		return &formResult{session: s, target: f.target}, nil
	default:
		var cmd tea.Cmd
		f.fields[f.focusIdx], cmd = f.fields[f.focusIdx].Update(msg)
		f.errMsg = ""
		return nil, cmd
	}
}

// buildSession returns a detached session holding the form values.
func (f *sessionForm) buildSession() (*model.Session, error) {
	value := func(i int) string { return strings.TrimSpace(f.fields[i].Value()) }

	name := value(fieldName)
	hostname := value(fieldHostname)
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if hostname == "" {
		return nil, fmt.Errorf("hostname is required")
	}

	s := model.NewSession(name)
	if portStr := value(fieldPort); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil || util.ValidatePort(p) != nil {
			return nil, fmt.Errorf("port must be 1-65535")
		}
		s.Port = p
	}
	s.Hostname = model.Opt(hostname)
	s.Username = model.Opt(value(fieldUser))
	s.IdentityPath = model.Opt(value(fieldIdentityFile))
	s.Ciphers = model.Opt(value(fieldCiphers))
	s.Compressed = f.compress
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// view renders the form panel.
func (f *sessionForm) view(renderPanel func(string, string, int, lipgloss.Color) string, width int) string {
	accent := lipgloss.Color("214")
	switch f.mode {
	case formModeSelect:
		return renderPanel("New Session", f.modeSelectView(), width, accent)
	case formModeQuick:
		return renderPanel("Quick Connect", f.quickView(), width, accent)
	case formModeFull:
		title := "New Session"
		if f.target != nil {
			title = "Edit Session " + f.target.Name
		}
		return renderPanel(title, f.fullView(), width, accent)
	}
	return ""
}

func (f *sessionForm) modeSelectView() string {
	var b strings.Builder
	b.WriteString("Choose session type:\n\n")

	options := []struct {
		label string
		desc  string
	}{
		{"Quick Connect", "Enter user@host:port, save it and connect"},
		{"Full Config", "Set every session option before saving"},
	}
	for i, opt := range options {
		cursor := "  "
		if i == f.modeSel {
			cursor = "> "
		}
		b.WriteString(fmt.Sprintf("%s[%s]  %s\n", cursor, opt.label, opt.desc))
	}

	b.WriteString("\nj/k to select, Enter to confirm, Esc to cancel")
	return b.String()
}

func (f *sessionForm) quickView() string {
	var b strings.Builder
	b.WriteString("Destination:\n\n")
	b.WriteString("  " + f.quickInput.View() + "\n\n")
	b.WriteString("Formats: hostname | user@hostname | hostname:port | user@host:port\n")
	b.WriteString(errLine(f.errMsg))
	b.WriteString("\nEnter to connect, Esc to cancel")
	return b.String()
}

func (f *sessionForm) fullView() string {
	labels := []string{"Name:", "Hostname:", "User:", "Port:", "IdentityFile:", "Ciphers:"}

	var b strings.Builder
	for i, label := range labels {
		cursor := "  "
		if i == f.focusIdx {
			cursor = "> "
		}
		b.WriteString(fmt.Sprintf("%s%-14s %s\n", cursor, label, f.fields[i].View()))
	}
	mark := " "
	if f.compress {
		mark = "x"
	}
	b.WriteString(fmt.Sprintf("\n  [%s] Compression\n", mark))
	b.WriteString(errLine(f.errMsg))
	b.WriteString("\nTab/Shift-Tab navigate | Ctrl+O toggle compression | Enter save | Esc cancel")
	return b.String()
}

func errLine(msg string) string {
	if msg == "" {
		return ""
	}
	errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	return "\n" + errStyle.Render("Error: "+msg) + "\n"
}

// parseQuickConnect parses a quick-connect string into a detached session
// named after the host.
// Supported formats: hostname, user@hostname, hostname:port, user@hostname:port
func parseQuickConnect(input string) (*model.Session, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("destination cannot be empty")
	}

	var user string
	if atIdx := strings.Index(input, "@"); atIdx > 0 {
		user = input[:atIdx]
		input = input[atIdx+1:]
	}

	port := model.DefaultPort
	if colonIdx := strings.LastIndex(input, ":"); colonIdx > 0 {
		if p, err := strconv.Atoi(input[colonIdx+1:]); err == nil && util.ValidatePort(p) == nil {
			port = p
			input = input[:colonIdx]
		}
	}
	if input == "" {
		return nil, fmt.Errorf("hostname cannot be empty")
	}

	s := model.NewSession(input)
	s.Hostname = model.Opt(input)
	s.Username = model.Opt(user)
	s.Port = port
	return s, nil
}
