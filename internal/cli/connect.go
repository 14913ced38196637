package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/treykane/ssh-tunnel-manager/internal/appconfig"
	"github.com/treykane/ssh-tunnel-manager/internal/bundle"
	"github.com/treykane/ssh-tunnel-manager/internal/events"
	"github.com/treykane/ssh-tunnel-manager/internal/history"
	"github.com/treykane/ssh-tunnel-manager/internal/model"
	"github.com/treykane/ssh-tunnel-manager/internal/sshclient"
	"github.com/treykane/ssh-tunnel-manager/internal/tunnel"
	"github.com/treykane/ssh-tunnel-manager/internal/util"
)

func newConnectCmd() *cobra.Command {
	var bundleName string
	cmd := &cobra.Command{
		Use:   "connect [session...]",
		Short: "Connect sessions and keep their tunnels open until interrupted",
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			sessions, err := connectTargets(a, bundleName, args)
			if len(sessions) == 0 {
				return err
			}
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runConnect(ctx, a, a.manager(), sessions, cmd.OutOrStdout(), cmd.ErrOrStderr())
		}),
	}
	cmd.Flags().StringVarP(&bundleName, "bundle", "b", "", "connect every session of a bundle")
	return cmd
}

func connectTargets(a *app, bundleName string, args []string) ([]*model.Session, error) {
	if bundleName != "" {
		def, err := bundle.Get(bundleName)
		if err != nil {
			return nil, err
		}
		return bundle.Resolve(a.reg, def)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("name at least one session or pass --bundle")
	}
	var (
		out  []*model.Session
		errs error
	)
	for _, name := range args {
		s, err := a.session(name)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		out = append(out, s)
	}
	if errs != nil {
		return nil, errs
	}
	return out, nil
}

type lostConn struct {
	s   *model.Session
	err error
}

// runConnect connects each session in order, reports its tunnels and
// then blocks until ctx is cancelled or every connection is lost.
func runConnect(ctx context.Context, a *app, mgr *tunnel.Manager, sessions []*model.Session, out, errOut io.Writer) error {
	defer func() {
		for _, s := range mgr.Connected() {
			a.record(events.Event{Session: s.Name, EventType: events.Disconnected})
		}
		mgr.DisconnectAll()
	}()

	var connectErrs error
	for _, s := range sessions {
		sp := spinner.New(spinner.CharSets[14], 120*time.Millisecond, spinner.WithWriter(errOut))
		sp.Suffix = fmt.Sprintf(" Connecting to %s...", s.Name)
		sp.Start()
		err := mgr.Connect(ctx, s)
		sp.Stop()

		if !mgr.IsConnected(s) {
			connectErrs = multierr.Append(connectErrs, err)
			fmt.Fprintf(errOut, "%s: connect failed: %v\n", s.Name, err)
			continue
		}
		a.record(events.Event{Session: s.Name, EventType: events.Connected, Message: model.Val(s.Hostname)})
		if herr := history.Touch(s.Name); herr != nil {
			slog.Warn("touch history", "session", s.Name, "error", herr)
		}
		fmt.Fprintf(out, "connected %s\n", s)
		for _, rt := range mgr.Snapshot() {
			if rt.Session != s.Name {
				continue
			}
			switch rt.State {
			case model.TunnelUp:
				fmt.Fprintf(out, "  up    %s\n", rt.Tunnel)
			default:
				fmt.Fprintf(out, "  %-5s %s: %s\n", rt.State, rt.Tunnel, rt.LastError)
				a.record(events.Event{Session: s.Name, EventType: events.ForwardFailed, Tunnel: rt.Tunnel.String(), Message: rt.LastError})
			}
		}
	}
	if len(mgr.Connected()) == 0 {
		if connectErrs == nil {
			connectErrs = errors.New("no session connected")
		}
		return connectErrs
	}

	lost := make(chan lostConn, len(sessions))
	mon := tunnel.NewMonitor(mgr, time.Duration(a.cfg.Monitor.IntervalSeconds)*time.Second, func(s *model.Session, err error) {
		lost <- lostConn{s, err}
	})
	monCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = mon.Run(monCtx) }()

	fmt.Fprintln(out, "Press Ctrl+C to disconnect.")
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "disconnecting")
			return nil
		case l := <-lost:
			fmt.Fprintf(errOut, "%s: connection lost: %v\n", l.s.Name, l.err)
			a.record(events.Event{Session: l.s.Name, EventType: events.ConnectionLost, Message: l.err.Error()})
			if len(mgr.Connected()) == 0 {
				return fmt.Errorf("all connections lost")
			}
		}
	}
}

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell <session>",
		Short: "Open an interactive ssh shell for a session",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			if err := sshclient.EnsureSSHBinary(); err != nil {
				return err
			}
			s, err := a.session(args[0])
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
			defer stop()
			if err := sshclient.RunInteractive(ctx, s); err != nil {
				return err
			}
			if err := history.Touch(s.Name); err != nil {
				slog.Warn("touch history", "session", s.Name, "error", err)
			}
			return nil
		}),
	}
}

func newStatusCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the forwards of running connect commands",
		Args:  cobra.NoArgs,
		RunE: withConfig(func(_ appconfig.Config, cmd *cobra.Command, args []string) error {
			runtime, err := tunnel.ReadRuntime()
			if err != nil {
				return err
			}
			if runtime == nil {
				runtime = []model.TunnelRuntime{}
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, runtime)
			}
			fmt.Fprintf(out, "%-20s %-7s %-24s %-28s %-8s %-8s %-10s %s\n", "SESSION", "DIR", "SOURCE", "DESTINATION", "STATE", "PID", "UPTIME", "ERROR")
			for _, rt := range runtime {
				fmt.Fprintf(out, "%-20s %-7s %-24s %-28s %-8s %-8d %-10s %s\n",
					rt.Session, rt.Tunnel.Direction, rt.Source, rt.Dest, rt.State, rt.PID,
					(time.Duration(rt.UptimeSec) * time.Second).String(), util.EmptyDash(rt.LastError))
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}
