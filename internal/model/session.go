package model

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// DefaultPort is the SSH port used when a session does not set one.
const DefaultPort = 22

// Session is a configured SSH host plus the ordered tunnels it owns.
//
// Optional connection fields are pointers so that "unset" and "empty" stay
// distinct. Tunnel order is meaningful: it is the order forwards are set up
// and the order rows are shown.
type Session struct {
	Name         string  `json:"name" validate:"notblank"`
	Hostname     *string `json:"hostname,omitempty"`
	Port         int     `json:"port" validate:"min=1,max=65535"`
	Username     *string `json:"username,omitempty"`
	Password     *string `json:"password,omitempty"`
	IdentityPath *string `json:"identity_path,omitempty"`
	PassPhrase   *string `json:"pass_phrase,omitempty"`
	Compressed   bool    `json:"compressed,omitempty"`
	Ciphers      *string `json:"ciphers,omitempty"`
	DebugLogPath *string `json:"debug_log_path,omitempty"`

	tunnels []Tunnel
	owner   *Registry
}

// NewSession returns a session with the default port and no tunnels.
func NewSession(name string) *Session {
	return &Session{Name: name, Port: DefaultPort}
}

// Opt returns a pointer to v, or nil when v is blank.
func Opt(v string) *string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}

// Val dereferences an optional field, returning "" when unset.
func Val(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Validate checks the session's own fields. Name uniqueness is enforced by
// the Registry.
func (s *Session) Validate() error {
	return validateStruct(s)
}

// CompareSessions orders sessions by name.
func CompareSessions(a, b *Session) int {
	return cmp.Compare(a.Name, b.Name)
}

// Tunnels returns a copy of the owned tunnels in order.
func (s *Session) Tunnels() []Tunnel {
	return slices.Clone(s.tunnels)
}

// TunnelCount returns the number of owned tunnels.
func (s *Session) TunnelCount() int { return len(s.tunnels) }

// Tunnel returns the tunnel at index i.
func (s *Session) Tunnel(i int) (Tunnel, error) {
	if err := checkIndex(i, len(s.tunnels)); err != nil {
		return Tunnel{}, err
	}
	return s.tunnels[i], nil
}

// AddTunnel appends t. Registered sessions notify tunnel listeners.
// Structurally identical tunnels may coexist.
func (s *Session) AddTunnel(t Tunnel) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.tunnels = append(s.tunnels, t)
	if s.owner == nil {
		return nil
	}
	return s.owner.tunnelAdded(s, t)
}

// UpdateTunnel replaces the tunnel at index i with t and returns the index
// the tunnel ends up at. Listeners may ask for the tunnel to be moved; the
// session performs the move itself.
func (s *Session) UpdateTunnel(i int, t Tunnel) (int, error) {
	if err := checkIndex(i, len(s.tunnels)); err != nil {
		return i, err
	}
	if err := t.Validate(); err != nil {
		return i, err
	}
	prev := s.tunnels[i]
	s.tunnels[i] = t
	if s.owner == nil {
		return i, nil
	}
	return s.owner.tunnelChanged(s, i, t, prev)
}

// RemoveTunnel removes and returns the tunnel at index i.
func (s *Session) RemoveTunnel(i int) (Tunnel, error) {
	if err := checkIndex(i, len(s.tunnels)); err != nil {
		return Tunnel{}, err
	}
	t := s.tunnels[i]
	s.tunnels = slices.Delete(s.tunnels, i, i+1)
	if s.owner == nil {
		return t, nil
	}
	return t, s.owner.tunnelRemoved(s, i, t)
}

func (s *Session) moveTunnel(from, to int) {
	t := s.tunnels[from]
	s.tunnels = slices.Delete(s.tunnels, from, from+1)
	s.tunnels = slices.Insert(s.tunnels, to, t)
}

// Clone returns a detached deep copy of s, tunnels included.
func (s *Session) Clone() *Session {
	c := &Session{}
	c.assignFields(s)
	c.tunnels = slices.Clone(s.tunnels)
	return c
}

func (s *Session) assignFields(from *Session) {
	s.Name = from.Name
	s.Hostname = cloneOpt(from.Hostname)
	s.Port = from.Port
	s.Username = cloneOpt(from.Username)
	s.Password = cloneOpt(from.Password)
	s.IdentityPath = cloneOpt(from.IdentityPath)
	s.PassPhrase = cloneOpt(from.PassPhrase)
	s.Compressed = from.Compressed
	s.Ciphers = cloneOpt(from.Ciphers)
	s.DebugLogPath = cloneOpt(from.DebugLogPath)
}

func cloneOpt(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Registered reports whether s currently belongs to a registry.
func (s *Session) Registered() bool { return s.owner != nil }

func (s *Session) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session (%s: %s@%s", s.Name, Val(s.Username), Val(s.Hostname))
	if s.Port != DefaultPort {
		fmt.Fprintf(&b, ":%d", s.Port)
	}
	b.WriteString(")")
	return b.String()
}
