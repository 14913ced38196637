// Package store persists sessions and their tunnels.
package store

import (
	"fmt"
	"io"

	"go.uber.org/multierr"

	"github.com/treykane/ssh-tunnel-manager/internal/appconfig"
	"github.com/treykane/ssh-tunnel-manager/internal/model"
)

// Store loads and saves the full session list. Tunnel order is preserved.
type Store interface {
	Load() ([]*model.Session, error)
	Save(sessions []*model.Session) error
	io.Closer
}

// Open returns the store selected by cfg.Store.
func Open(cfg appconfig.Config) (Store, error) {
	path, err := cfg.StorePath()
	if err != nil {
		return nil, err
	}
	if cfg.Store.Backend == appconfig.BackendSQLite {
		return OpenSQLite(path)
	}
	return NewYAML(path), nil
}

// LoadInto loads st and registers every stored session with reg. A load
// failure is returned as is; see Register for per-session failures.
func LoadInto(reg *model.Registry, st Store) error {
	sessions, err := st.Load()
	if err != nil {
		return err
	}
	return Register(reg, sessions)
}

// Register adds sessions to reg. Sessions that fail validation or collide
// with an existing name are skipped and reported together.
func Register(reg *model.Registry, sessions []*model.Session) error {
	var errs error
	for _, s := range sessions {
		if err := reg.AddSession(s); err != nil && !model.IsListenerError(err) {
			errs = multierr.Append(errs, fmt.Errorf("load %q: %w", s.Name, err))
		}
	}
	return errs
}

// Snapshot returns the sessions of reg in the order they are stored.
func Snapshot(reg *model.Registry) []*model.Session {
	return reg.Sessions()
}

// record is the serialised form of a session shared by both backends.
type record struct {
	Name         string         `yaml:"name"`
	Hostname     *string        `yaml:"hostname,omitempty"`
	Port         int            `yaml:"port"`
	Username     *string        `yaml:"username,omitempty"`
	Password     *string        `yaml:"password,omitempty"`
	IdentityPath *string        `yaml:"identity_path,omitempty"`
	PassPhrase   *string        `yaml:"pass_phrase,omitempty"`
	Compressed   bool           `yaml:"compressed,omitempty"`
	Ciphers      *string        `yaml:"ciphers,omitempty"`
	DebugLogPath *string        `yaml:"debug_log_path,omitempty"`
	Tunnels      []model.Tunnel `yaml:"tunnels,omitempty"`
}

func toRecord(s *model.Session) record {
	c := s.Clone()
	return record{
		Name:         c.Name,
		Hostname:     c.Hostname,
		Port:         c.Port,
		Username:     c.Username,
		Password:     c.Password,
		IdentityPath: c.IdentityPath,
		PassPhrase:   c.PassPhrase,
		Compressed:   c.Compressed,
		Ciphers:      c.Ciphers,
		DebugLogPath: c.DebugLogPath,
		Tunnels:      c.Tunnels(),
	}
}

// session rebuilds a detached session, validating it and its tunnels.
func (r record) session() (*model.Session, error) {
	s := model.NewSession(r.Name)
	if r.Port != 0 {
		s.Port = r.Port
	}
	s.Hostname = r.Hostname
	s.Username = r.Username
	s.Password = r.Password
	s.IdentityPath = r.IdentityPath
	s.PassPhrase = r.PassPhrase
	s.Compressed = r.Compressed
	s.Ciphers = r.Ciphers
	s.DebugLogPath = r.DebugLogPath
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("session %q: %w", r.Name, err)
	}
	for i, t := range r.Tunnels {
		if err := s.AddTunnel(t); err != nil {
			return nil, fmt.Errorf("session %q tunnel %d: %w", r.Name, i, err)
		}
	}
	return s, nil
}
