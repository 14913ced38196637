package sshclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/treykane/ssh-tunnel-manager/internal/model"
)

// ErrConnClosed is returned when opening a forward on a closed connection.
var ErrConnClosed = errors.New("connection closed")

// Forward is one running tunnel. Its listener accepts on the tunnel source
// and every accepted connection is piped to the destination.
type Forward struct {
	Tunnel model.Tunnel

	conn *Conn
	ln   net.Listener
	dial func(ctx context.Context, addr string) (net.Conn, error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[net.Conn]struct{}
	once   sync.Once
}

// OpenForward starts forwarding t over the connection. A local forward
// listens on this machine and dials through the server; a remote forward
// asks the server to listen and dials from this machine.
func (c *Conn) OpenForward(ctx context.Context, t model.Tunnel) (*Forward, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrConnClosed
	}

	var (
		ln   net.Listener
		dial func(ctx context.Context, addr string) (net.Conn, error)
		err  error
	)
	if t.IsLocal() {
		var lc net.ListenConfig
		ln, err = lc.Listen(ctx, "tcp", t.SourceAddr())
		dial = func(ctx context.Context, addr string) (net.Conn, error) {
			return c.client.DialContext(ctx, "tcp", addr)
		}
	} else {
		ln, err = c.client.Listen("tcp", t.SourceAddr())
		dial = func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", t.SourceAddr(), err)
	}

	fctx, cancel := context.WithCancel(context.Background())
	f := &Forward{
		Tunnel: t,
		conn:   c,
		ln:     ln,
		dial:   dial,
		ctx:    fctx,
		cancel: cancel,
		active: map[net.Conn]struct{}{},
	}
	c.mu.Lock()
	c.forwards[f] = struct{}{}
	c.mu.Unlock()

	f.wg.Add(1)
	go f.serve()
	c.logger.Info("forward opened", "tunnel", t.String(), "listen", ln.Addr().String())
	return f, nil
}

// Addr returns the address the forward listens on.
func (f *Forward) Addr() net.Addr { return f.ln.Addr() }

// Close stops accepting, drops open connections and waits for the
// forward's goroutines to finish. It is safe to call more than once.
func (f *Forward) Close() error {
	var err error
	f.once.Do(func() {
		f.cancel()
		err = f.ln.Close()
		f.mu.Lock()
		for c := range f.active {
			_ = c.Close()
		}
		f.mu.Unlock()
		f.wg.Wait()
		f.conn.untrack(f)
		f.conn.logger.Info("forward closed", "tunnel", f.Tunnel.String())
	})
	return err
}

func (f *Forward) serve() {
	defer f.wg.Done()
	for {
		src, err := f.ln.Accept()
		if err != nil {
			if f.ctx.Err() == nil {
				f.conn.logger.Warn("forward accept failed", "tunnel", f.Tunnel.String(), "error", err)
			}
			return
		}
		if !f.track(src) {
			_ = src.Close()
			return
		}
		f.wg.Add(1)
		go f.handle(src)
	}
}

func (f *Forward) handle(src net.Conn) {
	defer f.wg.Done()
	defer f.untrack(src)
	defer src.Close()

	dst, err := f.dial(f.ctx, f.Tunnel.DestinationAddr())
	if err != nil {
		f.conn.logger.Warn("forward dial failed", "tunnel", f.Tunnel.String(), "error", err)
		return
	}
	if !f.track(dst) {
		_ = dst.Close()
		return
	}
	defer f.untrack(dst)
	defer dst.Close()

	errChan := make(chan error, 2)
	go func() {
		_, err := io.Copy(dst, src)
		errChan <- err
	}()
	go func() {
		_, err := io.Copy(src, dst)
		errChan <- err
	}()
	// Either direction finishing ends the pair; the deferred closes unblock
	// the other copy.
	if err := <-errChan; err != nil && f.ctx.Err() == nil {
		f.conn.logger.Debug("forward connection ended", "tunnel", f.Tunnel.String(), "error", err)
	}
}

func (f *Forward) track(c net.Conn) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ctx.Err() != nil {
		return false
	}
	f.active[c] = struct{}{}
	return true
}

func (f *Forward) untrack(c net.Conn) {
	f.mu.Lock()
	delete(f.active, c)
	f.mu.Unlock()
}
