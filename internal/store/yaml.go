package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/treykane/ssh-tunnel-manager/internal/model"
)

const fileVersion = 1

type fileModel struct {
	Version  int      `yaml:"version"`
	Sessions []record `yaml:"sessions"`
}

// YAMLStore keeps sessions in a single YAML file.
type YAMLStore struct {
	path string
}

// NewYAML returns a store backed by path. The file is created on first save.
func NewYAML(path string) *YAMLStore { return &YAMLStore{path: path} }

// Path returns the backing file.
func (y *YAMLStore) Path() string { return y.path }

// Load reads the file; a missing file yields no sessions.
func (y *YAMLStore) Load() ([]*model.Session, error) {
	b, err := os.ReadFile(y.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var fm fileModel
	if err := yaml.Unmarshal(b, &fm); err != nil {
		return nil, fmt.Errorf("parse %s: %w", y.path, err)
	}
	if fm.Version > fileVersion {
		return nil, fmt.Errorf("%s: unsupported version %d", y.path, fm.Version)
	}
	out := make([]*model.Session, 0, len(fm.Sessions))
	for _, r := range fm.Sessions {
		s, err := r.session()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Save replaces the file contents atomically.
func (y *YAMLStore) Save(sessions []*model.Session) error {
	fm := fileModel{Version: fileVersion, Sessions: make([]record, 0, len(sessions))}
	for _, s := range sessions {
		fm.Sessions = append(fm.Sessions, toRecord(s))
	}
	b, err := yaml.Marshal(fm)
	if err != nil {
		return err
	}
	dir := filepath.Dir(y.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".sessions-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), y.path)
}

func (y *YAMLStore) Close() error { return nil }
