package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/treykane/ssh-tunnel-manager/internal/appconfig"
	"github.com/treykane/ssh-tunnel-manager/internal/events"
	"github.com/treykane/ssh-tunnel-manager/internal/logging"
	"github.com/treykane/ssh-tunnel-manager/internal/model"
	"github.com/treykane/ssh-tunnel-manager/internal/security"
	"github.com/treykane/ssh-tunnel-manager/internal/sshclient"
	"github.com/treykane/ssh-tunnel-manager/internal/store"
	"github.com/treykane/ssh-tunnel-manager/internal/tunnel"
	"github.com/treykane/ssh-tunnel-manager/internal/util"
)

// app is the state shared by commands that work on stored sessions.
type app struct {
	cfg     appconfig.Config
	store   store.Store
	reg     *model.Registry
	saver   *store.Autosaver
	journal *events.Journal
	log     io.Closer
}

type runFunc func(a *app, cmd *cobra.Command, args []string) error

// withConfig loads the config and installs the application log without
// touching the session store.
func withConfig(fn func(cfg appconfig.Config, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := appconfig.Load()
		if err != nil {
			return err
		}
		closer, err := logging.Setup(cfg.Log)
		if err != nil {
			return err
		}
		defer closer.Close()
		return userError(fn(cfg, cmd, args), cfg)
	}
}

// withApp opens the store, loads the registry and saves whatever the
// command changed once it returns.
func withApp(fn runFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		runErr := fn(a, cmd, args)
		if model.IsListenerError(runErr) {
			slog.Warn("change applied with listener failures", "error", runErr)
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", runErr)
			runErr = nil
		}
		return userError(multierr.Append(runErr, a.close()), a.cfg)
	}
}

func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := appconfig.Load()
	if err != nil {
		return nil, err
	}
	logCloser, err := logging.Setup(cfg.Log)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg)
	if err != nil {
		logCloser.Close()
		return nil, userError(err, cfg)
	}
	sessions, err := st.Load()
	if err != nil {
		_ = multierr.Combine(st.Close(), logCloser.Close())
		return nil, userError(fmt.Errorf("load sessions: %w", err), cfg)
	}

	reg := model.NewRegistry()
	if err := store.Register(reg, sessions); err != nil {
		slog.Warn("skipped stored sessions", "error", err)
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}
	a := &app{cfg: cfg, store: st, reg: reg, log: logCloser}
	a.journal = events.NewJournal(events.NewStore(), clockwork.NewRealClock())
	a.journal.Attach(reg)
	a.saver = store.NewAutosaver(reg, st)
	return a, nil
}

func (a *app) close() error {
	err := a.saver.Flush()
	err = multierr.Append(err, a.store.Close())
	return multierr.Append(err, a.log.Close())
}

// session looks up a registered session by name.
func (a *app) session(name string) (*model.Session, error) {
	s, ok := a.reg.Session(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrSessionNotFound, name)
	}
	return s, nil
}

// manager returns a connection manager wired to the registry.
func (a *app) manager() *tunnel.Manager {
	client := sshclient.New(sshclient.OptionsFromConfig(a.cfg))
	m := tunnel.NewManager(tunnel.SSH(client),
		tunnel.WithBindPolicy(a.cfg.Security.BindPolicy),
		tunnel.WithRuntimeFile())
	a.reg.AddSessionListener(m)
	a.reg.AddTunnelListener(m)
	return m
}

// record appends a connection event; journal failures are only logged.
func (a *app) record(evt events.Event) {
	if err := a.journal.Record(evt); err != nil {
		slog.Warn("record event", "type", evt.EventType, "error", err)
	}
}

// userError logs the full error and returns the user-safe rendering.
func userError(err error, cfg appconfig.Config) error {
	if err == nil {
		return nil
	}
	err = security.Classify(err)
	slog.Error("command failed", "error", security.DebugMessage(err))
	msg := security.UserMessage(err, cfg.Security.RedactErrors)
	return errors.New(util.DefaultString(msg, "operation failed"))
}
