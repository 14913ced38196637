package util

import "testing"

func TestIsLoopback(t *testing.T) {
	cases := map[string]bool{
		"":          true,
		"localhost": true,
		"127.0.0.1": true,
		"127.0.0.5": true,
		"::1":       true,
		"[::1]":     true,
		"0.0.0.0":   false,
		"10.1.2.3":  false,
		"db.local":  false,
	}
	for host, want := range cases {
		if got := IsLoopback(host); got != want {
			t.Errorf("IsLoopback(%q) = %v, want %v", host, got, want)
		}
	}
}

func TestValidatePort(t *testing.T) {
	for _, p := range []int{1, 22, 65535} {
		if err := ValidatePort(p); err != nil {
			t.Fatalf("port %d: %v", p, err)
		}
	}
	for _, p := range []int{0, -1, 65536, 70000} {
		if err := ValidatePort(p); err == nil {
			t.Fatalf("expected error for port %d", p)
		}
	}
}

func TestEmptyDash(t *testing.T) {
	if EmptyDash("  ") != "-" || EmptyDash("deploy") != "deploy" {
		t.Fatal("unexpected EmptyDash result")
	}
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	if got := ExpandHome("~/.ssh/id_ed25519"); got != "/home/tester/.ssh/id_ed25519" {
		t.Fatalf("unexpected expansion %q", got)
	}
	if got := ExpandHome("/etc/ssh/key"); got != "/etc/ssh/key" {
		t.Fatalf("absolute path changed: %q", got)
	}
}
