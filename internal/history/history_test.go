package history

import (
	"testing"
	"time"

	"github.com/treykane/ssh-tunnel-manager/internal/model"
)

func TestTouchAndLastUsed(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if err := Touch("api"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, err := LastUsed()
	if err != nil {
		t.Fatalf("last used: %v", err)
	}
	if got["api"] <= 0 {
		t.Fatalf("expected timestamp for api, got %+v", got)
	}
}

func TestRenameAndForget(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if err := Touch("old"); err != nil {
		t.Fatal(err)
	}
	if err := Rename("old", "new"); err != nil {
		t.Fatal(err)
	}
	got, _ := LastUsed()
	if _, ok := got["old"]; ok || got["new"] <= 0 {
		t.Fatalf("rename not applied: %+v", got)
	}
	if err := Forget("new"); err != nil {
		t.Fatal(err)
	}
	got, _ = LastUsed()
	if len(got) != 0 {
		t.Fatalf("expected empty history, got %+v", got)
	}
}

func TestSortRecent(t *testing.T) {
	sessions := []*model.Session{
		model.NewSession("db"),
		model.NewSession("api"),
		model.NewSession("cache"),
		model.NewSession("backup"),
	}
	now := time.Now().Unix()
	sorted := SortRecent(sessions, map[string]int64{
		"api": now,
		"db":  now - 60,
	})
	var names []string
	for _, s := range sorted {
		names = append(names, s.Name)
	}
	want := []string{"api", "db", "backup", "cache"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("got %v, want %v", names, want)
		}
	}
	if sessions[0].Name != "db" {
		t.Fatal("input slice must not be reordered")
	}
}
