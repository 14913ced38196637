// Package ui implements the interactive dashboard: a sessions panel, the
// tunnels of the selected session and the live forward table.
package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/treykane/ssh-tunnel-manager/internal/appconfig"
	"github.com/treykane/ssh-tunnel-manager/internal/bundle"
	"github.com/treykane/ssh-tunnel-manager/internal/events"
	"github.com/treykane/ssh-tunnel-manager/internal/history"
	"github.com/treykane/ssh-tunnel-manager/internal/model"
	"github.com/treykane/ssh-tunnel-manager/internal/security"
	"github.com/treykane/ssh-tunnel-manager/internal/sshclient"
	"github.com/treykane/ssh-tunnel-manager/internal/store"
	"github.com/treykane/ssh-tunnel-manager/internal/tunnel"
	"github.com/treykane/ssh-tunnel-manager/internal/util"
)

type tickMsg time.Time

type statusMsg string

type panel int

const (
	panelSessions panel = iota
	panelTunnels
)

// Options wires the dashboard to the loaded application state.
type Options struct {
	Registry  *model.Registry
	Manager   *tunnel.Manager
	Autosaver *store.Autosaver
	Journal   *events.Journal
	Config    appconfig.Config
}

type dashboardModel struct {
	reg     *model.Registry
	mgr     *tunnel.Manager
	saver   *store.Autosaver
	journal *events.Journal
	cfg     appconfig.Config
	relay   *relay

	filtered    []*model.Session
	filter      string
	filterMode  bool
	recentFirst bool
	focus       panel
	connecting  map[*model.Session]bool
	removing    *model.Session

	form  *sessionForm
	tform *tunnelForm

	showHelp   bool
	status     string
	lastChange string
	runtime    []model.TunnelRuntime
	width      int
	height     int
}

func newDashboard(opts Options) dashboardModel {
	m := dashboardModel{
		reg:        opts.Registry,
		mgr:        opts.Manager,
		saver:      opts.Autosaver,
		journal:    opts.Journal,
		cfg:        opts.Config,
		relay:      &relay{sorted: opts.Config.UI.SortTunnels},
		connecting: map[*model.Session]bool{},
		status:     "Ready. Select a session, c to connect, a to add a tunnel.",
	}
	m.applyFilter()
	m.refreshRuntime()
	return m
}

// applyFilter rebuilds the visible session list and keeps the registry
// selection inside it.
func (m *dashboardModel) applyFilter() {
	sessions := m.reg.Sessions()
	if m.recentFirst {
		lastUsed, err := history.LastUsed()
		if err != nil {
			slog.Warn("read history", "error", err)
		}
		sessions = history.SortRecent(sessions, lastUsed)
	}
	if f := strings.ToLower(strings.TrimSpace(m.filter)); f != "" {
		kept := sessions[:0]
		for _, s := range sessions {
			if strings.Contains(strings.ToLower(s.Name), f) || strings.Contains(strings.ToLower(target(s)), f) {
				kept = append(kept, s)
			}
		}
		sessions = kept
	}
	m.filtered = sessions

	if m.selectedIndex() >= 0 {
		return
	}
	var next *model.Session
	if len(m.filtered) > 0 {
		next = m.filtered[0]
	}
	if next != m.reg.SelectedSession() {
		m.report(m.reg.SelectSession(next), "")
	}
}

// selectedIndex returns the position of the selected session in the
// visible list, or -1.
func (m dashboardModel) selectedIndex() int {
	sel := m.reg.SelectedSession()
	for i, s := range m.filtered {
		if s == sel {
			return i
		}
	}
	return -1
}

func (m *dashboardModel) refreshRuntime() {
	if m.mgr != nil {
		m.runtime = m.mgr.Snapshot()
	}
}

func tickCmd(seconds int) tea.Cmd {
	return tea.Tick(time.Duration(clampRefresh(seconds))*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m dashboardModel) Init() tea.Cmd {
	return tickCmd(m.cfg.UI.RefreshSeconds)
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.refreshRuntime()
		return m, tickCmd(m.cfg.UI.RefreshSeconds)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case sessionsChangedMsg:
		m.lastChange = msg.note
		m.applyFilter()
		m.refreshRuntime()
		return m, nil
	case tunnelsChangedMsg:
		m.lastChange = msg.session.Name + ": " + msg.note
		m.refreshRuntime()
		return m, nil
	case selectionMsg:
		return m, nil
	case connectedMsg:
		m.onConnected(msg)
		return m, nil
	case connLostMsg:
		m.record(events.Event{Session: msg.session.Name, EventType: events.ConnectionLost, Message: errText(msg.err)})
		m.status = fmt.Sprintf("Connection to %s lost: %s", msg.session.Name, m.errMessage(msg.err))
		m.refreshRuntime()
		return m, nil
	case statusMsg:
		m.status = string(msg)
		return m, nil
	case tea.KeyMsg:
		if m.form != nil || m.tform != nil {
			return m.updateForm(msg)
		}
		if m.filterMode {
			return m.updateFilter(msg), nil
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m dashboardModel) updateFilter(msg tea.KeyMsg) dashboardModel {
	switch msg.String() {
	case "enter", "esc":
		m.filterMode = false
	case "backspace":
		if len(m.filter) > 0 {
			m.filter = m.filter[:len(m.filter)-1]
		}
	default:
		if len(msg.String()) == 1 {
			m.filter += msg.String()
		}
	}
	m.applyFilter()
	return m
}

func (m dashboardModel) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "esc" {
		m.form, m.tform = nil, nil
		m.status = "Cancelled"
		return m, nil
	}
	if m.tform != nil {
		res, cmd := m.tform.update(msg)
		if res == nil {
			return m, cmd
		}
		s := m.tform.session
		m.tform = nil
		m.saveTunnel(s, *res)
		return m, nil
	}
	res, cmd := m.form.update(msg)
	if res == nil {
		return m, cmd
	}
	m.form = nil
	return m, m.saveSession(*res)
}

func (m dashboardModel) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key != "X" {
		m.removing = nil
	}
	sel := m.reg.SelectedSession()

	switch key {
	case "q", "ctrl+c":
		m.shutdown()
		return m, tea.Quit
	case "tab":
		m.switchPanel()
	case "j", "down":
		m.move(1)
	case "k", "up":
		m.move(-1)
	case "/":
		m.filterMode = true
		m.status = "Filter mode: type and press Enter"
	case "?":
		m.showHelp = !m.showHelp
	case "r":
		m.applyFilter()
		m.refreshRuntime()
		m.status = "Refreshed sessions and tunnel status"
	case "R":
		m.recentFirst = !m.recentFirst
		m.applyFilter()
		m.status = "Recent-first ordering " + onOff(m.recentFirst)
	case "s":
		m.relay.sorted = !m.relay.sorted
		m.status = "Tunnel sorting " + onOff(m.relay.sorted) + "; edited tunnels move to their sorted position"
	case "n":
		m.form = newSessionForm()
	case "E":
		if m.editable(sel) {
			m.form = editSessionForm(sel)
		}
	case "X":
		if !m.editable(sel) {
			break
		}
		if m.removing != sel {
			m.removing = sel
			m.status = "Press X again to remove " + sel.Name
			break
		}
		m.removing = nil
		m.removeSession(sel)
	case "a":
		if m.editable(sel) {
			m.tform = newTunnelForm(sel)
			m.focus = panelTunnels
		}
	case "e":
		t, i, ok := m.reg.SelectedTunnel()
		if ok && m.editable(sel) {
			m.tform = editTunnelForm(sel, i, t)
		}
	case "d":
		if _, i, ok := m.reg.SelectedTunnel(); ok && m.editable(sel) {
			t, err := sel.RemoveTunnel(i)
			m.afterChange(err, "Removed "+t.String())
		}
	case "c":
		return m, m.toggleConnect(sel)
	case "enter":
		return m, m.openShell(sel)
	}
	return m, nil
}

// editable reports whether s can be changed now. A session that is being
// connected is read by the connect goroutine and stays locked until done.
func (m *dashboardModel) editable(s *model.Session) bool {
	if s == nil {
		m.status = "No session selected"
		return false
	}
	if m.connecting[s] {
		m.status = s.Name + " is connecting; try again when it is done"
		return false
	}
	return true
}

func (m *dashboardModel) switchPanel() {
	sel := m.reg.SelectedSession()
	if m.focus == panelSessions {
		if sel == nil || sel.TunnelCount() == 0 {
			m.status = "No tunnels to select"
			return
		}
		m.focus = panelTunnels
		if _, _, ok := m.reg.SelectedTunnel(); !ok {
			m.report(m.reg.SelectTunnel(0), "")
		}
		return
	}
	m.focus = panelSessions
	m.report(m.reg.SelectTunnel(model.NoTunnel), "")
}

func (m *dashboardModel) move(delta int) {
	if m.focus == panelTunnels {
		sel := m.reg.SelectedSession()
		if sel == nil {
			return
		}
		_, i, ok := m.reg.SelectedTunnel()
		if !ok {
			i = -delta
		}
		if next := i + delta; next >= 0 && next < sel.TunnelCount() {
			m.report(m.reg.SelectTunnel(next), "")
		}
		return
	}
	next := m.selectedIndex() + delta
	if next >= 0 && next < len(m.filtered) {
		m.report(m.reg.SelectSession(m.filtered[next]), "")
	}
}

func (m *dashboardModel) saveTunnel(s *model.Session, res tunnelResult) {
	if res.index == model.NoTunnel {
		err := s.AddTunnel(res.tunnel)
		m.afterChange(err, "Added "+res.tunnel.String())
		if err == nil || model.IsListenerError(err) {
			m.report(m.reg.SelectTunnel(s.TunnelCount()-1), "")
		}
		return
	}
	at, err := s.UpdateTunnel(res.index, res.tunnel)
	m.afterChange(err, fmt.Sprintf("Updated %s (now #%d)", res.tunnel, at))
}

func (m *dashboardModel) saveSession(res formResult) tea.Cmd {
	if res.target == nil {
		err := m.reg.AddSession(res.session)
		m.afterChange(err, "Added "+res.session.String())
		if err != nil && !model.IsListenerError(err) {
			return nil
		}
		m.report(m.reg.SelectSession(res.session), "")
		if res.connect {
			return m.toggleConnect(res.session)
		}
		return nil
	}

	oldName := res.target.Name
	in := res.session
	err := m.reg.EditSession(res.target, func(s *model.Session) {
		s.Name = in.Name
		s.Hostname = in.Hostname
		s.Username = in.Username
		s.Port = in.Port
		s.IdentityPath = in.IdentityPath
		s.Ciphers = in.Ciphers
		s.Compressed = in.Compressed
	})
	m.afterChange(err, "Updated "+res.target.String())
	if (err == nil || model.IsListenerError(err)) && oldName != res.target.Name {
		renameReferences(oldName, res.target.Name)
	}
	return nil
}

func (m *dashboardModel) removeSession(s *model.Session) {
	err := m.reg.RemoveSession(s)
	m.afterChange(err, "Removed "+s.Name)
	if err != nil && !model.IsListenerError(err) {
		return
	}
	if herr := history.Forget(s.Name); herr != nil {
		slog.Warn("forget history", "session", s.Name, "error", herr)
	}
	if berr := bundle.RemoveSession(s.Name); berr != nil {
		slog.Warn("remove bundle entries", "session", s.Name, "error", berr)
	}
	m.focus = panelSessions
	m.applyFilter()
}

// afterChange reports the outcome of a registry mutation and saves it.
func (m *dashboardModel) afterChange(err error, done string) {
	switch {
	case err == nil:
		m.status = done
	case model.IsListenerError(err):
		m.status = done + " (warning: " + m.errMessage(err) + ")"
	default:
		m.status = "Error: " + m.errMessage(err)
		return
	}
	if m.saver == nil {
		return
	}
	if ferr := m.saver.Flush(); ferr != nil {
		m.status = "Save failed: " + m.errMessage(ferr)
	}
	m.refreshRuntime()
}

// report surfaces listener failures of selection changes.
func (m *dashboardModel) report(err error, done string) {
	if err != nil {
		m.status = "Warning: " + m.errMessage(err)
	} else if done != "" {
		m.status = done
	}
}

func (m *dashboardModel) toggleConnect(s *model.Session) tea.Cmd {
	if s == nil || m.mgr == nil {
		m.status = "No session selected"
		return nil
	}
	if m.connecting[s] {
		m.status = s.Name + " is already connecting"
		return nil
	}
	if m.mgr.IsConnected(s) {
		err := m.mgr.Disconnect(s)
		m.record(events.Event{Session: s.Name, EventType: events.Disconnected})
		m.report(err, "Disconnected "+s.Name)
		m.refreshRuntime()
		return nil
	}
	m.connecting[s] = true
	m.status = "Connecting to " + s.Name + "..."
	mgr := m.mgr
	return func() tea.Msg {
		return connectedMsg{session: s, err: mgr.Connect(context.Background(), s)}
	}
}

func (m *dashboardModel) onConnected(msg connectedMsg) {
	s := msg.session
	delete(m.connecting, s)
	m.refreshRuntime()
	if !m.mgr.IsConnected(s) {
		m.status = fmt.Sprintf("Connect to %s failed: %s", s.Name, m.errMessage(msg.err))
		return
	}
	m.record(events.Event{Session: s.Name, EventType: events.Connected, Message: model.Val(s.Hostname)})
	if err := history.Touch(s.Name); err != nil {
		slog.Warn("touch history", "session", s.Name, "error", err)
	}
	failed := 0
	for _, rt := range m.runtime {
		if rt.Session == s.Name && rt.State == model.TunnelError {
			failed++
			m.record(events.Event{Session: s.Name, EventType: events.ForwardFailed, Tunnel: rt.Tunnel.String(), Message: rt.LastError})
		}
	}
	m.status = "Connected " + s.String()
	if failed > 0 {
		m.status += fmt.Sprintf(" (%d forwards failed)", failed)
	}
}

func (m *dashboardModel) openShell(s *model.Session) tea.Cmd {
	if s == nil {
		return nil
	}
	if err := sshclient.EnsureSSHBinary(); err != nil {
		m.status = err.Error()
		return nil
	}
	name := s.Name
	return tea.ExecProcess(sshclient.ShellCommand(s), func(err error) tea.Msg {
		if err != nil {
			return statusMsg("ssh exited: " + err.Error())
		}
		if herr := history.Touch(name); herr != nil {
			slog.Warn("touch history", "session", name, "error", herr)
		}
		return statusMsg("ssh session closed")
	})
}

// shutdown closes every connection before the program exits.
func (m *dashboardModel) shutdown() {
	if m.mgr == nil {
		return
	}
	for _, s := range m.mgr.Connected() {
		m.record(events.Event{Session: s.Name, EventType: events.Disconnected})
	}
	m.mgr.DisconnectAll()
}

func (m *dashboardModel) record(evt events.Event) {
	if m.journal == nil {
		return
	}
	if err := m.journal.Record(evt); err != nil {
		slog.Warn("record event", "type", evt.EventType, "error", err)
	}
}

func (m dashboardModel) errMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return security.UserMessage(security.Classify(err), m.cfg.Security.RedactErrors)
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// renameReferences keeps recent-use history and bundles pointing at a
// renamed session.
func renameReferences(oldName, newName string) {
	if err := history.Rename(oldName, newName); err != nil {
		slog.Warn("rename history", "session", oldName, "error", err)
	}
	if err := bundle.RenameSession(oldName, newName); err != nil {
		slog.Warn("rename bundle entries", "session", oldName, "error", err)
	}
}

func (m dashboardModel) View() string {
	head := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Render("SSH Tunnel Manager")
	subhead := fmt.Sprintf("sessions=%d shown=%d connected=%d sort=%s refresh=%ds",
		m.reg.Len(), len(m.filtered), m.connectedCount(), onOff(m.relay.sorted), clampRefresh(m.cfg.UI.RefreshSeconds))
	if m.lastChange != "" {
		subhead += " | last change: " + m.lastChange
	}
	filterLine := fmt.Sprintf("Filter: %s", m.filter)
	if m.filterMode {
		filterLine += " (typing...)"
	}
	quickHelp := "Keys: tab panel | c connect | a/e/d tunnel | n/E/X session | Enter shell | / filter | ? help | q quit"

	width := m.effectiveWidth()
	var main string
	switch {
	case m.tform != nil:
		main = m.tform.view(m.renderPanel, width)
	case m.form != nil:
		main = m.form.view(m.renderPanel, width)
	default:
		main = m.renderMainPanels(m.sessionsBody(), m.tunnelsBody())
	}
	forwards := m.renderPanel("Active Forwards", m.runtimeBody(), width, lipgloss.Color("63"))
	status := m.renderPanel("Status", m.status, width, lipgloss.Color("205"))
	help := ""
	if m.showHelp {
		help = m.renderPanel("Help", m.helpBlock(), width, lipgloss.Color("244"))
	}
	return lipgloss.JoinVertical(
		lipgloss.Left,
		head,
		subhead,
		filterLine,
		quickHelp,
		main,
		forwards,
		help,
		status,
	)
}

func (m dashboardModel) sessionsBody() string {
	var b strings.Builder
	b.WriteString("[C] connected, [~] connecting.\n")
	sel := m.reg.SelectedSession()
	for _, s := range m.filtered {
		cursor := " "
		if s == sel {
			cursor = ">"
		}
		mark := " "
		switch {
		case m.connecting[s]:
			mark = "~"
		case m.mgr != nil && m.mgr.IsConnected(s):
			mark = "C"
		}
		b.WriteString(fmt.Sprintf("%s[%s] %-22s %-26s %d\n", cursor, mark, s.Name, target(s), s.TunnelCount()))
	}
	if len(m.filtered) == 0 {
		b.WriteString("  (no sessions matched; n to add one)\n")
	}
	return b.String()
}

func (m dashboardModel) tunnelsBody() string {
	s := m.reg.SelectedSession()
	if s == nil {
		return "Pick a session to see its tunnels.\n"
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Session: %s\nTarget: %s\nIdentity: %s\n\n",
		s.Name, target(s), util.EmptyDash(model.Val(s.IdentityPath))))
	tunnels := s.Tunnels()
	if len(tunnels) == 0 {
		b.WriteString("  (no tunnels; a to add one)\n")
		return b.String()
	}
	_, selIdx, ok := m.reg.SelectedTunnel()
	for i, t := range tunnels {
		cursor := " "
		if ok && i == selIdx {
			cursor = ">"
		}
		b.WriteString(fmt.Sprintf("%s[%d] %-6s %-22s -> %-22s %-6s %s\n",
			cursor, i, t.Direction, t.SourceAddr(), t.DestinationAddr(), m.tunnelState(s, t), t.Description))
	}
	return b.String()
}

func (m dashboardModel) runtimeBody() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%-18s %-7s %-22s %-22s %-8s %-10s %s\n", "SESSION", "DIR", "SOURCE", "DESTINATION", "STATE", "UPTIME", "ERROR"))
	for _, rt := range m.runtime {
		b.WriteString(fmt.Sprintf("%-18s %-7s %-22s %-22s %-8s %-10s %s\n",
			rt.Session, rt.Tunnel.Direction, rt.Source, rt.Dest, rt.State,
			(time.Duration(rt.UptimeSec) * time.Second).String(), util.EmptyDash(rt.LastError)))
	}
	if len(m.runtime) == 0 {
		b.WriteString("(none)\n")
	}
	return b.String()
}

// tunnelState returns the runtime state of t, or "-" when it is not open.
func (m dashboardModel) tunnelState(s *model.Session, t model.Tunnel) string {
	for _, rt := range m.runtime {
		if rt.Session == s.Name && rt.Tunnel == t {
			return string(rt.State)
		}
	}
	return "-"
}

func (m dashboardModel) connectedCount() int {
	if m.mgr == nil {
		return 0
	}
	return len(m.mgr.Connected())
}

func (m dashboardModel) renderMainPanels(sessionsPanel, tunnelsPanel string) string {
	width := m.effectiveWidth()
	sessionsAccent, tunnelsAccent := lipgloss.Color("39"), lipgloss.Color("240")
	if m.focus == panelTunnels {
		sessionsAccent, tunnelsAccent = tunnelsAccent, lipgloss.Color("69")
	}
	if width < 96 {
		return lipgloss.JoinVertical(
			lipgloss.Left,
			m.renderPanel("Sessions", sessionsPanel, width, sessionsAccent),
			m.renderPanel("Tunnels", tunnelsPanel, width, tunnelsAccent),
		)
	}
	leftWidth := width / 2
	rightWidth := width - leftWidth
	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderPanel("Sessions", sessionsPanel, leftWidth, sessionsAccent),
		m.renderPanel("Tunnels", tunnelsPanel, rightWidth, tunnelsAccent),
	)
}

func (m dashboardModel) helpBlock() string {
	return strings.Join([]string{
		"  Navigation: j/k or arrow keys move, tab switches between sessions and tunnels.",
		"  Filtering: press /, type name/host text, then Enter. R orders by recent use.",
		"  Sessions: n new, E edit, X twice to remove, Enter opens an ssh shell.",
		"  Tunnels: a add, e edit the selected tunnel, d delete it, s toggles sorted order.",
		"  Connect: c connects or disconnects the selected session.",
		"  Quit: press q (or Ctrl+C) and all connections are closed.",
	}, "\n")
}

func (m dashboardModel) effectiveWidth() int {
	if m.width <= 0 {
		return 100
	}
	return m.width
}

func (m dashboardModel) renderPanel(title, body string, width int, accent lipgloss.Color) string {
	if width < 24 {
		width = 24
	}
	header := lipgloss.NewStyle().Bold(true).Foreground(accent).Render(title)
	content := strings.TrimSuffix(body, "\n")
	panel := strings.TrimSpace(header + "\n" + content)
	return lipgloss.NewStyle().
		Width(width).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accent).
		Padding(0, 1).
		Render(panel)
}

// target renders user@host[:port] for a session.
func target(s *model.Session) string {
	t := util.EmptyDash(model.Val(s.Hostname))
	if u := model.Val(s.Username); u != "" {
		t = u + "@" + t
	}
	if s.Port != model.DefaultPort {
		t += ":" + strconv.Itoa(s.Port)
	}
	return t
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func clampRefresh(seconds int) int {
	if seconds <= 0 {
		return util.DefaultRefreshSeconds
	}
	return seconds
}

// Run shows the dashboard until the user quits. The registry must already
// carry the manager, journal and autosaver listeners.
func Run(opts Options) error {
	if opts.Registry == nil || opts.Manager == nil {
		return errors.New("ui: registry and manager are required")
	}
	m := newDashboard(opts)
	p := tea.NewProgram(m, tea.WithAltScreen())

	// Registered last so its tunnelChanged position wins.
	m.relay.send = p.Send
	opts.Registry.AddSessionListener(m.relay)
	opts.Registry.AddTunnelListener(m.relay)
	defer func() {
		opts.Registry.RemoveSessionListener(m.relay)
		opts.Registry.RemoveTunnelListener(m.relay)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	interval := time.Duration(opts.Config.Monitor.IntervalSeconds) * time.Second
	mon := tunnel.NewMonitor(opts.Manager, interval, func(s *model.Session, err error) {
		p.Send(connLostMsg{session: s, err: err})
	})
	go func() { _ = mon.Run(ctx) }()

	_, err := p.Run()
	return err
}
