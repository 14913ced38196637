package tunnel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/treykane/ssh-tunnel-manager/internal/model"
)

func TestMonitorCheckDropsDeadConnections(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d)
	alive := sessionWith(t, "alive", tun(t, "", 9000))
	dead := sessionWith(t, "dead", tun(t, "", 9001))
	for _, s := range []*model.Session{alive, dead} {
		if err := m.Connect(context.Background(), s); err != nil {
			t.Fatal(err)
		}
	}
	d.conns["dead"].setAliveErr(errors.New("EOF"))

	var reported []string
	mo := NewMonitor(m, time.Second, func(s *model.Session, err error) {
		reported = append(reported, s.Name)
	})
	if n := mo.Check(); n != 1 {
		t.Fatalf("expected one lost connection, got %d", n)
	}
	if len(reported) != 1 || reported[0] != "dead" {
		t.Fatalf("unexpected report: %v", reported)
	}
	if m.IsConnected(dead) || !m.IsConnected(alive) {
		t.Fatal("wrong connection dropped")
	}
	if !d.conns["dead"].closed || len(d.conns["dead"].open()) != 0 {
		t.Fatal("dead connection not cleaned up")
	}
	for _, rt := range m.Snapshot() {
		if rt.Session == "dead" && rt.State != model.TunnelError {
			t.Fatalf("expected error state for lost forward, got %+v", rt)
		}
	}

	// Already-lost sessions are not reported again.
	if n := mo.Check(); n != 0 {
		t.Fatalf("expected no new losses, got %d", n)
	}

	// Disconnect clears the error entries.
	if err := m.Disconnect(dead); err != nil {
		t.Fatal(err)
	}
	if len(m.Snapshot()) != 1 {
		t.Fatalf("expected only the live forward, got %+v", m.Snapshot())
	}
}

func TestMonitorRunUsesInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := &fakeDialer{}
	m := NewManager(d, WithClock(clock))
	s := sessionWith(t, "api", tun(t, "", 9000))
	if err := m.Connect(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	d.conns["api"].setAliveErr(errors.New("timeout"))

	lost := make(chan string, 1)
	mo := NewMonitor(m, 10*time.Second, func(s *model.Session, err error) { lost <- s.Name })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mo.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatal(err)
	}
	select {
	case <-lost:
		t.Fatal("probe ran before the interval elapsed")
	default:
	}

	clock.Advance(10 * time.Second)
	select {
	case name := <-lost:
		if name != "api" {
			t.Fatalf("unexpected session %s", name)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not report the lost connection")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
