// Package bundle stores named groups of sessions that connect together.
package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/treykane/ssh-tunnel-manager/internal/appconfig"
	"github.com/treykane/ssh-tunnel-manager/internal/model"
)

// Entry names one session of a bundle.
type Entry struct {
	Session string `yaml:"session" json:"session"`
}

// Definition is a named sequence of bundle entries, connected in order.
type Definition struct {
	Name    string  `yaml:"name" json:"name"`
	Entries []Entry `yaml:"entries" json:"entries"`
}

type fileModel struct {
	Bundles map[string]Definition `yaml:"bundles"`
}

func filePath() (string, error) {
	return appconfig.FilePath("bundles.yaml")
}

// LoadAll returns all bundles sorted by name.
func LoadAll() ([]Definition, error) {
	fm, err := loadFile()
	if err != nil {
		return nil, err
	}
	out := make([]Definition, 0, len(fm.Bundles))
	for _, b := range fm.Bundles {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Get fetches one bundle by name.
func Get(name string) (Definition, error) {
	fm, err := loadFile()
	if err != nil {
		return Definition{}, err
	}
	b, ok := fm.Bundles[name]
	if !ok {
		return Definition{}, fmt.Errorf("bundle not found: %s", name)
	}
	return b, nil
}

// Create adds or replaces a bundle definition.
func Create(name string, entries []Entry) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("bundle name cannot be empty")
	}
	if len(entries) == 0 {
		return fmt.Errorf("bundle must include at least one session")
	}
	for i := range entries {
		entries[i].Session = strings.TrimSpace(entries[i].Session)
		if entries[i].Session == "" {
			return fmt.Errorf("bundle entry %d missing session name", i)
		}
	}

	fm, err := loadFile()
	if err != nil {
		return err
	}
	fm.Bundles[name] = Definition{Name: name, Entries: entries}
	return saveFile(fm)
}

// Delete removes a bundle by name.
func Delete(name string) error {
	fm, err := loadFile()
	if err != nil {
		return err
	}
	if _, ok := fm.Bundles[name]; !ok {
		return fmt.Errorf("bundle not found: %s", name)
	}
	delete(fm.Bundles, name)
	return saveFile(fm)
}

// RenameSession rewrites entries that name oldName.
func RenameSession(oldName, newName string) error {
	return rewrite(func(e []Entry) []Entry {
		for i := range e {
			if e[i].Session == oldName {
				e[i].Session = newName
			}
		}
		return e
	})
}

// RemoveSession drops entries that name the session. Bundles left empty
// are deleted.
func RemoveSession(name string) error {
	return rewrite(func(e []Entry) []Entry {
		return slices.DeleteFunc(e, func(x Entry) bool { return x.Session == name })
	})
}

func rewrite(fn func([]Entry) []Entry) error {
	fm, err := loadFile()
	if err != nil {
		return err
	}
	if len(fm.Bundles) == 0 {
		return nil
	}
	for name, def := range fm.Bundles {
		def.Entries = fn(def.Entries)
		if len(def.Entries) == 0 {
			delete(fm.Bundles, name)
			continue
		}
		fm.Bundles[name] = def
	}
	return saveFile(fm)
}

// Resolve looks up the bundle's sessions in reg, in bundle order. Missing
// sessions are reported together; the ones found are still returned.
func Resolve(reg *model.Registry, def Definition) ([]*model.Session, error) {
	var (
		out  []*model.Session
		errs error
	)
	for _, e := range def.Entries {
		s, ok := reg.Session(e.Session)
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("bundle %s: %w: %s", def.Name, model.ErrSessionNotFound, e.Session))
			continue
		}
		out = append(out, s)
	}
	return out, errs
}

func loadFile() (fileModel, error) {
	path, err := filePath()
	if err != nil {
		return fileModel{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileModel{Bundles: map[string]Definition{}}, nil
		}
		return fileModel{}, err
	}
	var fm fileModel
	if err := yaml.Unmarshal(b, &fm); err != nil {
		return fileModel{}, fmt.Errorf("parse bundles: %w", err)
	}
	if fm.Bundles == nil {
		fm.Bundles = map[string]Definition{}
	}
	return fm, nil
}

func saveFile(fm fileModel) error {
	path, err := filePath()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	b, err := yaml.Marshal(fm)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
