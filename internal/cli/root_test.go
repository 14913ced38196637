package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/treykane/ssh-tunnel-manager/internal/bundle"
	"github.com/treykane/ssh-tunnel-manager/internal/events"
	"github.com/treykane/ssh-tunnel-manager/internal/history"
)

// isolateCLI points HOME and the config directory at temp dirs and returns
// the config directory used by the application.
func isolateCLI(t *testing.T) (home, cfgDir string) {
	t.Helper()
	home = t.TempDir()
	xdg := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", xdg)
	return home, filepath.Join(xdg, "ssh-tunnel-manager")
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, errOut, err := run(t, args...)
	if err != nil {
		t.Fatalf("%v: %v (stderr: %s)", args, err, errOut)
	}
	return out
}

func listSessions(t *testing.T) []sessionView {
	t.Helper()
	var views []sessionView
	out := mustRun(t, "session", "list", "--json")
	if err := json.Unmarshal([]byte(out), &views); err != nil {
		t.Fatalf("json parse: %v; output=%s", err, out)
	}
	return views
}

func TestSessionAddListShow(t *testing.T) {
	isolateCLI(t)
	mustRun(t, "session", "add", "db", "--hostname", "db.internal", "-u", "deploy", "-p", "2222", "--password", "hunter2")
	mustRun(t, "session", "add", "api", "--hostname", "api.internal")

	views := listSessions(t)
	if len(views) != 2 {
		t.Fatalf("expected two sessions, got %+v", views)
	}
	if views[0].Name != "api" || views[1].Name != "db" {
		t.Fatalf("expected name order, got %s, %s", views[0].Name, views[1].Name)
	}
	if views[1].Port != 2222 || views[1].Username != "deploy" || !views[1].HasPassword {
		t.Fatalf("unexpected db view: %+v", views[1])
	}

	out := mustRun(t, "session", "show", "db", "--json")
	if strings.Contains(out, "hunter2") {
		t.Fatalf("show must not print the password: %s", out)
	}
}

func TestSessionAddRejectsDuplicate(t *testing.T) {
	isolateCLI(t)
	mustRun(t, "session", "add", "db", "--hostname", "db.internal")
	_, _, err := run(t, "session", "add", "db", "--hostname", "other")
	if err == nil {
		t.Fatal("expected duplicate name error")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSessionEditRenameUpdatesReferences(t *testing.T) {
	isolateCLI(t)
	mustRun(t, "session", "add", "db", "--hostname", "db.internal")
	mustRun(t, "bundle", "create", "daily", "db")
	if err := history.Touch("db"); err != nil {
		t.Fatal(err)
	}

	mustRun(t, "session", "edit", "db", "--name", "postgres", "-p", "5022")

	views := listSessions(t)
	if len(views) != 1 || views[0].Name != "postgres" || views[0].Port != 5022 {
		t.Fatalf("unexpected sessions: %+v", views)
	}
	def, err := bundle.Get("daily")
	if err != nil {
		t.Fatal(err)
	}
	if def.Entries[0].Session != "postgres" {
		t.Fatalf("bundle still names %s", def.Entries[0].Session)
	}
	used, err := history.LastUsed()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := used["postgres"]; !ok {
		t.Fatalf("history not renamed: %v", used)
	}
}

func TestSessionRmDropsBundleEntries(t *testing.T) {
	isolateCLI(t)
	mustRun(t, "session", "add", "db", "--hostname", "db.internal")
	mustRun(t, "bundle", "create", "daily", "db")

	mustRun(t, "session", "rm", "db")
	if views := listSessions(t); len(views) != 0 {
		t.Fatalf("expected no sessions, got %+v", views)
	}
	if _, err := bundle.Get("daily"); err == nil {
		t.Fatal("expected empty bundle to be deleted")
	}
}

func TestSessionImportAndExport(t *testing.T) {
	home, _ := isolateCLI(t)
	sshDir := filepath.Join(home, ".ssh")
	if err := os.MkdirAll(sshDir, 0o700); err != nil {
		t.Fatal(err)
	}
	cfg := strings.Join([]string{
		"Host api",
		"  HostName 10.0.0.5",
		"  User test",
		"  LocalForward 127.0.0.1:9501 localhost:80",
		"",
	}, "\n")
	path := filepath.Join(sshDir, "config")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}

	out := mustRun(t, "session", "import", path)
	if !strings.Contains(out, "imported 1 sessions") {
		t.Fatalf("unexpected import output: %s", out)
	}
	_, errOut, err := run(t, "session", "import", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(errOut, "skipped api") {
		t.Fatalf("expected second import to skip api, stderr: %s", errOut)
	}

	out = mustRun(t, "tunnel", "list", "api")
	if !strings.Contains(out, "127.0.0.1:9501") || !strings.Contains(out, "localhost:80") {
		t.Fatalf("imported forward missing: %s", out)
	}

	out = mustRun(t, "session", "export", "api")
	for _, want := range []string{"Host api", "HostName 10.0.0.5", "User test", "LocalForward 127.0.0.1:9501 localhost:80"} {
		if !strings.Contains(out, want) {
			t.Fatalf("export missing %q:\n%s", want, out)
		}
	}
}

func TestTunnelLifecycle(t *testing.T) {
	isolateCLI(t)
	mustRun(t, "session", "add", "db", "--hostname", "db.internal")
	mustRun(t, "tunnel", "add", "db", "-L", "5432:localhost:5432", "-d", "postgres")
	mustRun(t, "tunnel", "add", "db", "-R", "0.0.0.0:8080:localhost:3000")

	var tunnels []map[string]any
	out := mustRun(t, "tunnel", "list", "db", "--json")
	if err := json.Unmarshal([]byte(out), &tunnels); err != nil {
		t.Fatalf("json parse: %v; output=%s", err, out)
	}
	if len(tunnels) != 2 || tunnels[0]["description"] != "postgres" || tunnels[1]["direction"] != "remote" {
		t.Fatalf("unexpected tunnels: %v", tunnels)
	}

	out = mustRun(t, "tunnel", "edit", "db", "0", "-L", "15432:localhost:5432")
	if !strings.Contains(out, "updated 0") {
		t.Fatalf("unexpected edit output: %s", out)
	}
	out = mustRun(t, "tunnel", "list", "db")
	if !strings.Contains(out, "127.0.0.1:15432") || !strings.Contains(out, "postgres") {
		t.Fatalf("edit must keep the description: %s", out)
	}
	out = mustRun(t, "tunnel", "edit", "db", "0")
	if !strings.Contains(out, "nothing to change") {
		t.Fatalf("unexpected no-op edit output: %s", out)
	}

	mustRun(t, "tunnel", "rm", "db", "1")
	if _, _, err := run(t, "tunnel", "rm", "db", "1"); err == nil {
		t.Fatal("expected out of range error")
	}
	out = mustRun(t, "tunnel", "list", "db")
	if strings.Contains(out, "8080") {
		t.Fatalf("removed tunnel still listed: %s", out)
	}
}

func TestTunnelAddRejectsBadForward(t *testing.T) {
	isolateCLI(t)
	mustRun(t, "session", "add", "db", "--hostname", "db.internal")
	if _, _, err := run(t, "tunnel", "add", "db", "-L", "5432:localhost"); err == nil {
		t.Fatal("expected parse error")
	}
	if _, _, err := run(t, "tunnel", "add", "db", "-L", "1:a:2", "-R", "1:a:2"); err == nil {
		t.Fatal("expected -L and -R to be mutually exclusive")
	}
}

func TestEventsJSONOutput(t *testing.T) {
	isolateCLI(t)
	mustRun(t, "session", "add", "db", "--hostname", "db.internal")
	mustRun(t, "tunnel", "add", "db", "-L", "5432:localhost:5432")

	var evts []events.Event
	out := mustRun(t, "events", "--json", "--session", "db")
	if err := json.Unmarshal([]byte(out), &evts); err != nil {
		t.Fatalf("json parse: %v; output=%s", err, out)
	}
	if len(evts) != 2 {
		t.Fatalf("expected two events, got %+v", evts)
	}
	if evts[0].EventType != events.SessionAdded || evts[1].EventType != events.TunnelAdded {
		t.Fatalf("unexpected event types: %s, %s", evts[0].EventType, evts[1].EventType)
	}
}

func TestStatusReadsRuntimeFile(t *testing.T) {
	_, cfgDir := isolateCLI(t)
	if err := os.MkdirAll(cfgDir, 0o700); err != nil {
		t.Fatal(err)
	}
	raw := fmt.Sprintf(`[
 {"id":"a","session":"api","tunnel":{"direction":"local","source_port":9602,"destination_host":"localhost","destination_port":80},"source":"127.0.0.1:9602","destination":"localhost:80","state":"up","pid":%d,"uptime_seconds":65}
]`, os.Getpid())
	if err := os.WriteFile(filepath.Join(cfgDir, "runtime.json"), []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	out := mustRun(t, "status")
	if !strings.Contains(out, "api") || !strings.Contains(out, "up") || !strings.Contains(out, "1m5s") {
		t.Fatalf("unexpected status output: %s", out)
	}
}

func TestStatusWithoutRuntimeFile(t *testing.T) {
	isolateCLI(t)
	out := mustRun(t, "status", "--json")
	if strings.TrimSpace(out) != "[]" {
		t.Fatalf("expected empty JSON array, got %s", out)
	}
}

func TestDoctorJSONOutput(t *testing.T) {
	isolateCLI(t)
	mustRun(t, "session", "add", "a", "--hostname", "a.internal")
	mustRun(t, "session", "add", "b", "--hostname", "b.internal")
	mustRun(t, "tunnel", "add", "a", "-L", "9000:localhost:80")
	mustRun(t, "tunnel", "add", "b", "-L", "9000:localhost:81")

	out := mustRun(t, "doctor", "--json")
	var report struct {
		Issues []struct {
			Check string `json:"check"`
		} `json:"issues"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("json parse: %v; output=%s", err, out)
	}
	found := false
	for _, i := range report.Issues {
		if i.Check == "duplicate-local-bind" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected duplicate-local-bind issue: %s", out)
	}
}

func TestAuditFlagsPlaintextPassword(t *testing.T) {
	isolateCLI(t)
	mustRun(t, "session", "add", "db", "--hostname", "db.internal", "--password", "hunter2")

	out := mustRun(t, "audit")
	if !strings.Contains(out, "db") {
		t.Fatalf("expected a finding for db: %s", out)
	}
	if strings.Contains(out, "hunter2") {
		t.Fatalf("audit must not print the password: %s", out)
	}
}

func TestBundleCreateListDeleteLifecycle(t *testing.T) {
	isolateCLI(t)
	mustRun(t, "session", "add", "api", "--hostname", "api.internal")
	mustRun(t, "session", "add", "db", "--hostname", "db.internal")

	mustRun(t, "bundle", "create", "daily", "api", "db")
	out := mustRun(t, "bundle", "list")
	if !strings.Contains(out, "daily") || !strings.Contains(out, "api, db") {
		t.Fatalf("unexpected bundle list: %s", out)
	}
	if _, _, err := run(t, "bundle", "create", "broken", "missing"); err == nil {
		t.Fatal("expected error for unknown session")
	}
	mustRun(t, "bundle", "delete", "daily")
	out = mustRun(t, "bundle", "list")
	if strings.Contains(out, "daily") {
		t.Fatalf("bundle not deleted: %s", out)
	}
}

func TestConnectUnknownSession(t *testing.T) {
	isolateCLI(t)
	_, _, err := run(t, "connect", "missing")
	if err == nil {
		t.Fatal("expected error for unknown session")
	}
	if !strings.Contains(err.Error(), "missing") {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := run(t, "connect"); err == nil {
		t.Fatal("expected error without sessions or bundle")
	}
}
