package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/treykane/ssh-tunnel-manager/internal/model"
)

func TestFormatHostBlock_Basic(t *testing.T) {
	s := model.NewSession("prod-db")
	s.Hostname = model.Opt("db.example.com")
	s.Username = model.Opt("deploy")

	got := FormatHostBlock(s)
	want := "Host prod-db\n  HostName db.example.com\n  User deploy\n"
	if got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestFormatHostBlock_AllFields(t *testing.T) {
	s := model.NewSession("full")
	s.Hostname = model.Opt("full.example.com")
	s.Username = model.Opt("admin")
	s.Port = 2222
	s.IdentityPath = model.Opt("~/.ssh/id_ed25519")
	s.Ciphers = model.Opt("aes256-ctr")
	s.Compressed = true
	s.Password = model.Opt("hunter2")
	mustAdd(t, s, model.Tunnel{Direction: model.LocalForward, SourcePort: 8080, DestinationHost: "localhost", DestinationPort: 80})
	mustAdd(t, s, model.Tunnel{Direction: model.RemoteForward, SourceHost: "::1", SourcePort: 9000, DestinationHost: "web", DestinationPort: 3000})

	got := FormatHostBlock(s)
	checks := []string{
		"Host full\n",
		"  HostName full.example.com\n",
		"  User admin\n",
		"  Port 2222\n",
		"  IdentityFile ~/.ssh/id_ed25519\n",
		"  Ciphers aes256-ctr\n",
		"  Compression yes\n",
		"  LocalForward 8080 localhost:80\n",
		"  RemoteForward [::1]:9000 web:3000\n",
	}
	for _, check := range checks {
		if !strings.Contains(got, check) {
			t.Errorf("expected block to contain %q, got:\n%s", check, got)
		}
	}
	if strings.Contains(got, "hunter2") {
		t.Fatal("password must not be exported")
	}
}

func TestFormatHostBlock_RoundTrip(t *testing.T) {
	s := model.NewSession("edge")
	s.Hostname = model.Opt("edge.example.com")
	s.Port = 2200
	mustAdd(t, s, model.Tunnel{Direction: model.LocalForward, SourceHost: "0.0.0.0", SourcePort: 5432, DestinationHost: "db", DestinationPort: 5432})

	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, []byte(FormatHostBlock(s)), 0o600); err != nil {
		t.Fatal(err)
	}
	res, err := ParseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := res.Sessions[0]
	if got.Name != "edge" || got.Port != 2200 || model.Val(got.Hostname) != "edge.example.com" {
		t.Fatalf("unexpected session: %v", got)
	}
	if got.Tunnels()[0] != s.Tunnels()[0] {
		t.Fatalf("tunnel changed in round trip: %+v", got.Tunnels())
	}
}

func TestAppendSession(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config")
	initial := "Host existing\n  HostName existing.example.com"
	if err := os.WriteFile(configPath, []byte(initial), 0600); err != nil {
		t.Fatal(err)
	}

	s := model.NewSession("new-host")
	s.Hostname = model.Opt("new.example.com")
	s.Username = model.Opt("deploy")
	if err := AppendSession(configPath, s); err != nil {
		t.Fatalf("AppendSession failed: %v", err)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatal(err)
	}
	got := string(content)
	if !strings.HasPrefix(got, initial+"\n\nHost new-host\n") {
		t.Fatalf("unexpected file content:\n%s", got)
	}
	if !strings.Contains(got, "User deploy") {
		t.Error("new user not found")
	}

	if err := AppendSession(configPath, s); err == nil {
		t.Fatal("expected duplicate alias to be rejected")
	}
}

func TestValidateAlias(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	if err := ValidateAlias(path, ""); err == nil {
		t.Fatal("expected error for empty alias")
	}
	for _, alias := range []string{"host *", "host?", "!host", "host\ttab"} {
		if err := ValidateAlias(path, alias); err == nil {
			t.Errorf("expected error for alias %q", alias)
		}
	}
	if err := ValidateAlias(path, "my-new-server"); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}

func mustAdd(t *testing.T, s *model.Session, tn model.Tunnel) {
	t.Helper()
	if err := s.AddTunnel(tn); err != nil {
		t.Fatal(err)
	}
}
