// Package tunnel manages the live SSH connections of sessions: it opens and
// closes forwards as the model changes, tracks their runtime state and
// watches connections for loss.
package tunnel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"

	"github.com/treykane/ssh-tunnel-manager/internal/appconfig"
	"github.com/treykane/ssh-tunnel-manager/internal/model"
	"github.com/treykane/ssh-tunnel-manager/internal/util"
)

var (
	// ErrNotConnected is returned by Disconnect for sessions without a connection.
	ErrNotConnected = errors.New("session not connected")
	// ErrBindPolicy is recorded for local forwards that would listen on a
	// public interface while the bind policy is loopback-only.
	ErrBindPolicy = errors.New("bind address not allowed by bind_policy")
	// ErrForwardFailed marks per-tunnel failures reported by Connect.
	ErrForwardFailed = errors.New("forward failed")
)

// Forward is a running port forward.
type Forward interface {
	Close() error
}

// Conn is an open SSH connection able to carry forwards.
type Conn interface {
	OpenForward(ctx context.Context, t model.Tunnel) (Forward, error)
	Alive() error
	Close() error
}

// Dialer opens connections for sessions.
type Dialer interface {
	Dial(ctx context.Context, s *model.Session) (Conn, error)
}

// Manager owns the connections of connected sessions.
//
// Connect, Disconnect and the listener callbacks are expected to run on the
// goroutine that owns the model. Snapshot and the Monitor may run elsewhere.
type Manager struct {
	mu         sync.Mutex
	dialer     Dialer
	clock      clockwork.Clock
	bindPolicy string
	persist    bool
	conns      map[*model.Session]*connection
}

type connection struct {
	name     string
	conn     Conn // nil once the connection was lost
	forwards []*forward
}

type forward struct {
	rt  model.TunnelRuntime
	fwd Forward
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the clock used for uptime and the monitor.
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithBindPolicy sets the appconfig bind policy enforced for local forwards.
func WithBindPolicy(policy string) Option {
	return func(m *Manager) { m.bindPolicy = policy }
}

// WithRuntimeFile makes the manager mirror its state into runtime.json so
// other processes can report it.
func WithRuntimeFile() Option {
	return func(m *Manager) { m.persist = true }
}

// NewManager creates a new connection manager.
func NewManager(d Dialer, opts ...Option) *Manager {
	m := &Manager{
		dialer:     d,
		clock:      clockwork.NewRealClock(),
		bindPolicy: appconfig.BindPolicyLoopbackOnly,
		conns:      make(map[*model.Session]*connection),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect dials s and starts its tunnels in order. A tunnel that fails
// records its error and does not stop the others; those failures are
// returned together, matching ErrForwardFailed, while the session stays
// connected. Connecting an already connected session is a no-op.
func (m *Manager) Connect(ctx context.Context, s *model.Session) error {
	m.mu.Lock()
	if c, ok := m.conns[s]; ok && c.conn != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	conn, err := m.dialer.Dial(ctx, s)
	if err != nil {
		return fmt.Errorf("connect %s: %w", s.Name, err)
	}
	c := &connection{name: s.Name, conn: conn}
	var errs error
	for _, t := range s.Tunnels() {
		f := m.open(ctx, c.name, conn, t)
		c.forwards = append(c.forwards, f)
		errs = multierr.Append(errs, f.err())
	}

	m.mu.Lock()
	m.conns[s] = c
	m.mu.Unlock()
	slog.Info("session connected", "session", s.Name, "tunnels", len(c.forwards))
	m.save()
	return errs
}

// open starts one forward on conn. Failures are recorded in the runtime entry.
func (m *Manager) open(ctx context.Context, session string, conn Conn, t model.Tunnel) *forward {
	f := &forward{rt: model.TunnelRuntime{
		ID:      uuid.NewString(),
		Session: session,
		Tunnel:  t,
		Source:  t.SourceAddr(),
		Dest:    t.DestinationAddr(),
		State:   model.TunnelStarting,
		PID:     os.Getpid(),
	}}
	if err := m.checkBind(t); err != nil {
		f.fail(err)
		return f
	}
	fwd, err := conn.OpenForward(ctx, t)
	if err != nil {
		f.fail(err)
		slog.Warn("forward failed", "session", session, "tunnel", t.String(), "error", err)
		return f
	}
	f.fwd = fwd
	f.rt.State = model.TunnelUp
	f.rt.StartedAt = m.clock.Now()
	return f
}

func (f *forward) fail(err error) {
	f.rt.State = model.TunnelError
	f.rt.LastError = err.Error()
}

func (f *forward) close() {
	if f.fwd == nil {
		return
	}
	if err := f.fwd.Close(); err != nil {
		slog.Debug("close forward", "tunnel", f.rt.Tunnel.String(), "error", err)
	}
	f.fwd = nil
}

func (m *Manager) checkBind(t model.Tunnel) error {
	if !t.IsLocal() || m.bindPolicy == appconfig.BindPolicyAllowPublic {
		return nil
	}
	if util.IsLoopback(t.SourceHost) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrBindPolicy, t.SourceAddr())
}

// Disconnect closes the session's forwards and connection and clears its
// runtime state.
func (m *Manager) Disconnect(s *model.Session) error {
	m.mu.Lock()
	c, ok := m.conns[s]
	delete(m.conns, s)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", s.Name, ErrNotConnected)
	}
	err := c.shutdown()
	slog.Info("session disconnected", "session", c.name)
	m.save()
	return err
}

func (c *connection) shutdown() error {
	for _, f := range c.forwards {
		f.close()
	}
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// DisconnectAll disconnects every session.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	sessions := make([]*model.Session, 0, len(m.conns))
	for s := range m.conns {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		_ = m.Disconnect(s)
	}
}

// IsConnected reports whether s has a live connection.
func (m *Manager) IsConnected(s *model.Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[s]
	return ok && c.conn != nil
}

// Connected returns the sessions with a live connection.
func (m *Manager) Connected() []*model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Session
	for s, c := range m.conns {
		if c.conn != nil {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, model.CompareSessions)
	return out
}

// Snapshot returns the runtime state of every forward, ordered by session
// name and then tunnel position.
func (m *Manager) Snapshot() []model.TunnelRuntime {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.conns))
	byName := make(map[string]*connection, len(m.conns))
	for _, c := range m.conns {
		names = append(names, c.name)
		byName[c.name] = c
	}
	slices.Sort(names)
	var out []model.TunnelRuntime
	for _, n := range names {
		for _, f := range byName[n].forwards {
			rt := f.rt
			if rt.State == model.TunnelUp && !rt.StartedAt.IsZero() {
				rt.UptimeSec = int64(m.clock.Since(rt.StartedAt).Seconds())
			}
			out = append(out, rt)
		}
	}
	return out
}

// lost marks s as disconnected after conn died. Forward entries stay
// visible in the error state until the next Connect or Disconnect.
func (m *Manager) lost(s *model.Session, conn Conn, cause error) bool {
	m.mu.Lock()
	c, ok := m.conns[s]
	if !ok || c.conn == nil || c.conn != conn {
		m.mu.Unlock()
		return false
	}
	for _, f := range c.forwards {
		f.close()
		f.fail(fmt.Errorf("connection lost: %w", cause))
	}
	c.conn = nil
	m.mu.Unlock()
	_ = conn.Close()
	slog.Warn("session connection lost", "session", c.name, "error", cause)
	m.save()
	return true
}

// save mirrors the snapshot into runtime.json when enabled.
func (m *Manager) save() {
	if !m.persist {
		return
	}
	if err := writeRuntime(m.Snapshot()); err != nil {
		slog.Warn("failed to persist tunnel state", "error", err)
	}
}

func writeRuntime(arr []model.TunnelRuntime) error {
	path, err := appconfig.FilePath("runtime.json")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	if arr == nil {
		arr = []model.TunnelRuntime{}
	}
	b, err := json.MarshalIndent(arr, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// ReadRuntime loads the state last persisted by a manager, possibly in
// another process. Entries owned by a process that is gone are reported down.
func ReadRuntime() ([]model.TunnelRuntime, error) {
	path, err := appconfig.FilePath("runtime.json")
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var arr []model.TunnelRuntime
	if err := json.Unmarshal(b, &arr); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i := range arr {
		if !processAlive(arr[i].PID) {
			arr[i].State = model.TunnelDown
			arr[i].UptimeSec = 0
			arr[i].PID = 0
		}
	}
	return arr, nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

// openTimeout bounds forward setup triggered by model changes.
const openTimeout = 10 * time.Second
