// Package history remembers when each session last connected successfully.
package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/treykane/ssh-tunnel-manager/internal/appconfig"
	"github.com/treykane/ssh-tunnel-manager/internal/model"
)

type store struct {
	LastUsed map[string]int64 `json:"last_used"`
}

func filePath() (string, error) {
	return appconfig.FilePath("history.json")
}

// Touch records successful activity for a session name.
func Touch(name string) error {
	return update(func(st store) {
		st.LastUsed[name] = time.Now().Unix()
	})
}

// Rename moves the recorded activity of oldName to newName.
func Rename(oldName, newName string) error {
	return update(func(st store) {
		if ts, ok := st.LastUsed[oldName]; ok {
			delete(st.LastUsed, oldName)
			st.LastUsed[newName] = ts
		}
	})
}

// Forget drops the recorded activity of name.
func Forget(name string) error {
	return update(func(st store) {
		delete(st.LastUsed, name)
	})
}

// LastUsed returns last successful activity timestamps by session name.
func LastUsed() (map[string]int64, error) {
	st, err := load()
	if err != nil {
		return nil, err
	}
	return st.LastUsed, nil
}

// SortRecent returns a new slice sorted by recent activity (desc), then name.
func SortRecent(sessions []*model.Session, lastUsed map[string]int64) []*model.Session {
	out := append([]*model.Session(nil), sessions...)
	sort.SliceStable(out, func(i, j int) bool {
		ti := lastUsed[out[i].Name]
		tj := lastUsed[out[j].Name]
		if ti != tj {
			return ti > tj
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func update(fn func(store)) error {
	st, err := load()
	if err != nil {
		return err
	}
	fn(st)
	return save(st)
}

func load() (store, error) {
	path, err := filePath()
	if err != nil {
		return store{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store{LastUsed: map[string]int64{}}, nil
		}
		return store{}, err
	}
	var st store
	if err := json.Unmarshal(b, &st); err != nil {
		return store{LastUsed: map[string]int64{}}, nil
	}
	if st.LastUsed == nil {
		st.LastUsed = map[string]int64{}
	}
	return st, nil
}

func save(st store) error {
	path, err := filePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
