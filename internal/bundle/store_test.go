package bundle

import (
	"errors"
	"testing"

	"github.com/treykane/ssh-tunnel-manager/internal/model"
)

func TestCreateListGetDelete(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := Create("daily", []Entry{{Session: " db "}, {Session: "api"}}); err != nil {
		t.Fatalf("create: %v", err)
	}

	all, err := LoadAll()
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(all) != 1 || all[0].Name != "daily" {
		t.Fatalf("unexpected bundles: %+v", all)
	}

	got, err := Get("daily")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Entries) != 2 || got.Entries[0].Session != "db" {
		t.Fatalf("unexpected entries: %+v", got.Entries)
	}

	if err := Delete("daily"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	all, err = LoadAll()
	if err != nil {
		t.Fatalf("load after delete: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no bundles, got %d", len(all))
	}
	if err := Delete("daily"); err == nil {
		t.Fatal("expected error deleting a missing bundle")
	}
}

func TestCreateValidatesInput(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if err := Create("", []Entry{{Session: "db"}}); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := Create("x", nil); err == nil {
		t.Fatal("expected error for empty entries")
	}
	if err := Create("x", []Entry{{Session: ""}}); err == nil {
		t.Fatal("expected error for empty session name")
	}
}

func TestRenameAndRemoveSession(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if err := Create("daily", []Entry{{Session: "db"}, {Session: "api"}}); err != nil {
		t.Fatal(err)
	}
	if err := Create("solo", []Entry{{Session: "db"}}); err != nil {
		t.Fatal(err)
	}

	if err := RenameSession("db", "postgres"); err != nil {
		t.Fatal(err)
	}
	got, err := Get("daily")
	if err != nil {
		t.Fatal(err)
	}
	if got.Entries[0].Session != "postgres" {
		t.Fatalf("rename not applied: %+v", got.Entries)
	}

	if err := RemoveSession("postgres"); err != nil {
		t.Fatal(err)
	}
	all, err := LoadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || len(all[0].Entries) != 1 || all[0].Entries[0].Session != "api" {
		t.Fatalf("unexpected bundles after remove: %+v", all)
	}
}

func TestResolve(t *testing.T) {
	reg := model.NewRegistry()
	for _, name := range []string{"api", "db"} {
		s := model.NewSession(name)
		if err := reg.AddSession(s); err != nil {
			t.Fatal(err)
		}
	}
	def := Definition{Name: "daily", Entries: []Entry{{Session: "db"}, {Session: "gone"}, {Session: "api"}}}

	sessions, err := Resolve(reg, def)
	if !errors.Is(err, model.ErrSessionNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if len(sessions) != 2 || sessions[0].Name != "db" || sessions[1].Name != "api" {
		t.Fatalf("unexpected sessions: %v", sessions)
	}
}
