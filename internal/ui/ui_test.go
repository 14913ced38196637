package ui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/treykane/ssh-tunnel-manager/internal/appconfig"
	"github.com/treykane/ssh-tunnel-manager/internal/history"
	"github.com/treykane/ssh-tunnel-manager/internal/model"
)

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return typeText(s)
}

func press(t *testing.T, m dashboardModel, keys ...string) dashboardModel {
	t.Helper()
	for _, k := range keys {
		next, _ := m.Update(key(k))
		m = next.(dashboardModel)
	}
	return m
}

func testDashboard(t *testing.T, sessions ...*model.Session) (dashboardModel, *model.Registry) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	reg := model.NewRegistry()
	for _, s := range sessions {
		if err := reg.AddSession(s); err != nil {
			t.Fatal(err)
		}
	}
	m := newDashboard(Options{Registry: reg, Config: appconfig.Default()})
	reg.AddTunnelListener(m.relay)
	return m, reg
}

func newSession(name string, tunnels ...model.Tunnel) *model.Session {
	s := model.NewSession(name)
	s.Hostname = model.Opt(name + ".internal")
	for _, t := range tunnels {
		_ = s.AddTunnel(t)
	}
	return s
}

func selectedName(t *testing.T, reg *model.Registry) string {
	t.Helper()
	s := reg.SelectedSession()
	if s == nil {
		t.Fatal("no session selected")
	}
	return s.Name
}

func selectedTunnel(t *testing.T, reg *model.Registry) int {
	t.Helper()
	_, i, ok := reg.SelectedTunnel()
	if !ok {
		t.Fatal("no tunnel selected")
	}
	return i
}

func TestDashboardSelectsFirstSession(t *testing.T) {
	m, reg := testDashboard(t, newSession("web"), newSession("api"))
	if got := selectedName(t, reg); got != "api" {
		t.Fatalf("expected api selected, got %s", got)
	}

	m = press(t, m, "j")
	if got := selectedName(t, reg); got != "web" {
		t.Fatalf("expected web after j, got %s", got)
	}
	m = press(t, m, "j")
	if got := selectedName(t, reg); got != "web" {
		t.Fatalf("selection should stop at the last row, got %s", got)
	}
	press(t, m, "k")
	if got := selectedName(t, reg); got != "api" {
		t.Fatalf("expected api after k, got %s", got)
	}
}

func TestDashboardFilterMovesSelection(t *testing.T) {
	m, reg := testDashboard(t, newSession("api"), newSession("db"))
	m = press(t, m, "/", "d", "b", "enter")
	if len(m.filtered) != 1 || m.filterMode {
		t.Fatalf("filter not applied: %d rows, filterMode=%v", len(m.filtered), m.filterMode)
	}
	if got := selectedName(t, reg); got != "db" {
		t.Fatalf("expected db selected, got %s", got)
	}
}

func TestDashboardTabSelectsTunnels(t *testing.T) {
	m, reg := testDashboard(t, newSession("db", local(5432, "db"), local(6379, "cache")))
	m = press(t, m, "tab")
	if m.focus != panelTunnels {
		t.Fatalf("expected tunnels panel focus")
	}
	if i := selectedTunnel(t, reg); i != 0 {
		t.Fatalf("expected first tunnel selected, got %d", i)
	}

	m = press(t, m, "j")
	if i := selectedTunnel(t, reg); i != 1 {
		t.Fatalf("expected second tunnel selected, got %d", i)
	}

	m = press(t, m, "tab")
	if m.focus != panelSessions {
		t.Fatalf("expected sessions panel focus")
	}
	if _, _, ok := reg.SelectedTunnel(); ok {
		t.Fatal("tunnel selection survived leaving the panel")
	}
}

func TestDashboardAddEditDeleteTunnel(t *testing.T) {
	m, reg := testDashboard(t, newSession("db"))
	s := reg.SelectedSession()

	m = press(t, m, "a", "8080:db:5432", "enter")
	if m.tform != nil || s.TunnelCount() != 1 {
		t.Fatalf("tunnel not added: form open=%v count=%d", m.tform != nil, s.TunnelCount())
	}
	got, i, ok := reg.SelectedTunnel()
	if !ok || i != 0 || got.SourcePort != 8080 {
		t.Fatalf("new tunnel not selected: %+v %d %v", got, i, ok)
	}

	m = press(t, m, "e", "tab", "primary", "enter")
	if got, _ = s.Tunnel(0); got.Description != "primary" {
		t.Fatalf("description not saved: %+v", got)
	}

	m = press(t, m, "d")
	if s.TunnelCount() != 0 {
		t.Fatalf("tunnel not removed")
	}
	if !strings.Contains(m.status, "Removed") {
		t.Fatalf("unexpected status %q", m.status)
	}
}

func TestDashboardSortedEditReordersTunnels(t *testing.T) {
	m, reg := testDashboard(t, newSession("db", local(1000, "a"), local(2000, "b")))
	m = press(t, m, "s", "tab")
	if !m.relay.sorted {
		t.Fatal("sorting not enabled")
	}

	m = press(t, m, "e")
	if m.tform == nil {
		t.Fatal("edit form not opened")
	}
	m.tform.spec.SetValue("3000:a:1000")
	m = press(t, m, "enter")

	s := reg.SelectedSession()
	if p := ports(s); len(p) != 2 || p[0] != 2000 || p[1] != 3000 {
		t.Fatalf("tunnels not reordered: %v", p)
	}
	if i := selectedTunnel(t, reg); i != 1 {
		t.Fatalf("selection should follow the moved tunnel, got %d", i)
	}
}

func ports(s *model.Session) []int {
	var out []int
	for _, tn := range s.Tunnels() {
		out = append(out, tn.SourcePort)
	}
	return out
}

func TestDashboardEscCancelsForm(t *testing.T) {
	m, reg := testDashboard(t, newSession("db"))
	m = press(t, m, "a", "8080:db:5432", "esc")
	if m.tform != nil {
		t.Fatal("form still open")
	}
	if n := reg.SelectedSession().TunnelCount(); n != 0 {
		t.Fatalf("cancelled form added %d tunnels", n)
	}
}

func TestDashboardAddAndRemoveSession(t *testing.T) {
	m, reg := testDashboard(t)
	m = press(t, m, "n", "j", "enter")
	if m.form == nil {
		t.Fatal("session form not opened")
	}
	m.form.fields[fieldName].SetValue("cache")
	m.form.fields[fieldHostname].SetValue("cache.internal")
	m = press(t, m, "enter")
	if m.form != nil {
		t.Fatalf("form still open: %s", m.form.errMsg)
	}

	s, ok := reg.Session("cache")
	if !ok || reg.SelectedSession() != s {
		t.Fatalf("new session not added and selected")
	}

	m = press(t, m, "X")
	if reg.Len() != 1 {
		t.Fatal("first X should only ask for confirmation")
	}
	press(t, m, "X")
	if reg.Len() != 0 || reg.SelectedSession() != nil {
		t.Fatalf("session not removed: len=%d", reg.Len())
	}
}

func TestDashboardEditSessionRenames(t *testing.T) {
	m, reg := testDashboard(t, newSession("db"))
	if err := history.Touch("db"); err != nil {
		t.Fatal(err)
	}

	m = press(t, m, "E")
	if m.form == nil {
		t.Fatal("edit form not opened")
	}
	m.form.fields[fieldName].SetValue("postgres")
	press(t, m, "enter")

	if _, ok := reg.Session("postgres"); !ok {
		t.Fatal("session not renamed")
	}
	used, err := history.LastUsed()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := used["postgres"]; !ok {
		t.Fatalf("history not renamed: %v", used)
	}
	if _, ok := used["db"]; ok {
		t.Fatalf("old name left in history: %v", used)
	}
}

func TestApplyFilterRecentFirstSort(t *testing.T) {
	m, _ := testDashboard(t, newSession("db"), newSession("api"), newSession("cache"))
	if err := history.Touch("db"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(1100 * time.Millisecond)
	if err := history.Touch("api"); err != nil {
		t.Fatal(err)
	}

	m = press(t, m, "R")
	var names []string
	for _, s := range m.filtered {
		names = append(names, s.Name)
	}
	if strings.Join(names, ",") != "api,db,cache" {
		t.Fatalf("unexpected order %v", names)
	}
}

func TestViewRendersPanels(t *testing.T) {
	m, _ := testDashboard(t, newSession("db", local(5432, "db")))
	out := m.View()
	for _, want := range []string{"Sessions", "Tunnels", "127.0.0.1:5432"} {
		if !strings.Contains(out, want) {
			t.Fatalf("view missing %q:\n%s", want, out)
		}
	}
}
