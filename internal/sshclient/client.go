// Package sshclient is the SSH transport: it opens authenticated connections
// for sessions and runs port forwards over them.
//
// Connections use golang.org/x/crypto/ssh directly so forwards can be opened
// and closed one tunnel at a time on a shared connection. Interactive shells
// still go through the system ssh binary in a PTY (see shell.go), which keeps
// the user's terminal handling and escape sequences intact.
package sshclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/user"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/ssh"

	"github.com/treykane/ssh-tunnel-manager/internal/appconfig"
	"github.com/treykane/ssh-tunnel-manager/internal/logging"
	"github.com/treykane/ssh-tunnel-manager/internal/model"
	"github.com/treykane/ssh-tunnel-manager/internal/util"
)

// ErrNoHostname is returned when dialling a session without a hostname.
var ErrNoHostname = errors.New("session has no hostname")

// Options configures how connections are authenticated and verified.
type Options struct {
	// HostKeyPolicy is one of the appconfig.HostKeyPolicy* values.
	HostKeyPolicy string
	// KnownHostsPath defaults to ~/.ssh/known_hosts.
	KnownHostsPath string
	ConnectTimeout time.Duration
	// DefaultCiphers are offered after the session's own ciphers.
	DefaultCiphers []string
	// AgentSocket defaults to $SSH_AUTH_SOCK. Set to "-" to disable the agent.
	AgentSocket string
	// KeepAlive is the interval between keepalive requests; zero disables
	// them. After KeepAliveCountMax unanswered requests the connection is
	// closed.
	KeepAlive         time.Duration
	KeepAliveCountMax int
	Clock             clockwork.Clock
}

// OptionsFromConfig derives transport options from the application config.
func OptionsFromConfig(cfg appconfig.Config) Options {
	return Options{
		HostKeyPolicy:     cfg.Security.HostKeyPolicy,
		ConnectTimeout:    time.Duration(cfg.Transport.ConnectTimeoutSeconds) * time.Second,
		DefaultCiphers:    cfg.Transport.DefaultCiphers,
		KeepAlive:         time.Duration(cfg.Transport.KeepAliveSeconds) * time.Second,
		KeepAliveCountMax: cfg.Transport.KeepAliveCountMax,
	}
}

// Client dials SSH connections for sessions.
//
// Client is safe for concurrent use. The zero value is not useful; use New.
type Client struct {
	opts Options
	// knownHostsMu serialises accept-new appends to known_hosts.
	knownHostsMu sync.Mutex
}

// New creates a client. Unset options fall back to the application defaults.
func New(opts Options) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = util.DefaultConnectTimeout
	}
	if opts.HostKeyPolicy == "" {
		opts.HostKeyPolicy = appconfig.HostKeyPolicyStrict
	}
	if len(opts.DefaultCiphers) == 0 {
		opts.DefaultCiphers = appconfig.DefaultCiphers
	}
	if opts.AgentSocket == "" {
		opts.AgentSocket = os.Getenv("SSH_AUTH_SOCK")
	}
	if opts.KeepAliveCountMax <= 0 {
		opts.KeepAliveCountMax = util.DefaultKeepAliveCountMax
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Client{opts: opts}
}

// Dial opens an authenticated connection to the session's host. Cancelling
// ctx aborts the TCP connect and the handshake.
func (c *Client) Dial(ctx context.Context, s *model.Session) (*Conn, error) {
	host := strings.TrimSpace(model.Val(s.Hostname))
	if host == "" {
		return nil, fmt.Errorf("%s: %w", s.Name, ErrNoHostname)
	}
	logger, logCloser := c.sessionLogger(s)
	cleanup := func() {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	}

	auth, agentConn, err := c.authMethods(s)
	if err != nil {
		cleanup()
		return nil, err
	}
	if agentConn != nil {
		prev := cleanup
		cleanup = func() { _ = agentConn.Close(); prev() }
	}
	hostKeys, err := c.hostKeyCallback()
	if err != nil {
		cleanup()
		return nil, err
	}
	if s.Compressed {
		logger.Info("compression requested but not supported by the transport; continuing without it")
	}

	cfg := &ssh.ClientConfig{
		User:            username(s),
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         c.opts.ConnectTimeout,
		Config:          ssh.Config{Ciphers: CipherList(model.Val(s.Ciphers), c.opts.DefaultCiphers)},
	}
	addr := net.JoinHostPort(host, strconv.Itoa(s.Port))
	logger.Debug("dialling", "addr", addr, "user", cfg.User, "ciphers", cfg.Ciphers)

	d := net.Dialer{Timeout: c.opts.ConnectTimeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	_ = nc.SetDeadline(time.Now().Add(c.opts.ConnectTimeout))
	stop := context.AfterFunc(ctx, func() { _ = nc.Close() })
	sc, chans, reqs, err := ssh.NewClientConn(nc, addr, cfg)
	stop()
	if err != nil {
		_ = nc.Close()
		cleanup()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("handshake %s: %w", addr, err)
	}
	_ = nc.SetDeadline(time.Time{})
	logger.Debug("connected", "addr", addr, "server_version", string(sc.ServerVersion()))

	conn := &Conn{
		client:   ssh.NewClient(sc, chans, reqs),
		session:  s.Name,
		logger:   logger,
		timeout:  c.opts.ConnectTimeout,
		cleanup:  cleanup,
		forwards: map[*Forward]struct{}{},
		done:     make(chan struct{}),
	}
	if c.opts.KeepAlive > 0 {
		go conn.keepAlive(c.opts.Clock, c.opts.KeepAlive, c.opts.KeepAliveCountMax)
	}
	return conn, nil
}

func (c *Client) sessionLogger(s *model.Session) (*slog.Logger, io.Closer) {
	dir := strings.TrimSpace(model.Val(s.DebugLogPath))
	if dir == "" {
		return slog.Default().With("session", s.Name), nil
	}
	logger, closer, err := logging.SessionDebugLogger(dir, s.Name)
	if err != nil {
		slog.Warn("session debug log unavailable", "session", s.Name, "error", err)
		return slog.Default().With("session", s.Name), nil
	}
	return logger, closer
}

func username(s *model.Session) string {
	if u := strings.TrimSpace(model.Val(s.Username)); u != "" {
		return u
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

// CipherList returns the session's comma-separated ciphers followed by the
// defaults, without duplicates.
func CipherList(session string, defaults []string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(c string) {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			return
		}
		seen[c] = true
		out = append(out, c)
	}
	for _, c := range strings.Split(session, ",") {
		add(c)
	}
	for _, c := range defaults {
		add(c)
	}
	return out
}

// Conn is an open SSH connection for one session.
type Conn struct {
	client  *ssh.Client
	session string
	logger  *slog.Logger
	timeout time.Duration
	cleanup func()

	mu       sync.Mutex
	forwards map[*Forward]struct{}
	closed   bool
	done     chan struct{}
}

// Session returns the name of the session this connection belongs to.
func (c *Conn) Session() string { return c.session }

// Alive sends an OpenSSH keepalive request and waits for any reply. A
// server rejecting the request still counts as alive.
func (c *Conn) Alive() error {
	done := make(chan error, 1)
	go func() {
		_, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil)
		done <- err
	}()
	t := time.NewTimer(c.timeout)
	defer t.Stop()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("keepalive: %w", err)
		}
		return nil
	case <-t.C:
		return fmt.Errorf("keepalive: no reply within %s", c.timeout)
	}
}

// Close stops every open forward and closes the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	fwds := make([]*Forward, 0, len(c.forwards))
	for f := range c.forwards {
		fwds = append(fwds, f)
	}
	c.forwards = map[*Forward]struct{}{}
	c.mu.Unlock()

	for _, f := range fwds {
		_ = f.Close()
	}
	err := c.client.Close()
	c.logger.Debug("disconnected")
	if c.cleanup != nil {
		c.cleanup()
	}
	return err
}

func (c *Conn) untrack(f *Forward) {
	c.mu.Lock()
	delete(c.forwards, f)
	c.mu.Unlock()
}

// keepAlive probes the server every interval and closes the connection
// after max consecutive failures.
func (c *Conn) keepAlive(clock clockwork.Clock, interval time.Duration, max int) {
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	misses := 0
	for {
		select {
		case <-c.done:
			return
		case <-ticker.Chan():
		}
		if err := c.Alive(); err != nil {
			misses++
			c.logger.Debug("keepalive missed", "misses", misses, "error", err)
			if misses >= max {
				c.logger.Warn("server stopped answering keepalives; closing", "misses", misses)
				_ = c.Close()
				return
			}
			continue
		}
		misses = 0
	}
}
