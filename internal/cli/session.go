package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/treykane/ssh-tunnel-manager/internal/bundle"
	"github.com/treykane/ssh-tunnel-manager/internal/config"
	"github.com/treykane/ssh-tunnel-manager/internal/history"
	"github.com/treykane/ssh-tunnel-manager/internal/model"
	"github.com/treykane/ssh-tunnel-manager/internal/util"
)

func newSessionCmd() *cobra.Command {
	root := &cobra.Command{Use: "session", Aliases: []string{"sessions"}, Short: "Manage stored SSH sessions"}
	root.AddCommand(
		newSessionListCmd(),
		newSessionAddCmd(),
		newSessionEditCmd(),
		newSessionRmCmd(),
		newSessionShowCmd(),
		newSessionImportCmd(),
		newSessionExportCmd(),
	)
	return root
}

// sessionView is the JSON rendering of a session. Secrets are reported as
// present or not, never by value.
type sessionView struct {
	Name          string         `json:"name"`
	Hostname      string         `json:"hostname,omitempty"`
	Port          int            `json:"port"`
	Username      string         `json:"username,omitempty"`
	IdentityPath  string         `json:"identity_path,omitempty"`
	HasPassword   bool           `json:"has_password"`
	HasPassPhrase bool           `json:"has_pass_phrase"`
	Compressed    bool           `json:"compressed"`
	Ciphers       string         `json:"ciphers,omitempty"`
	DebugLogPath  string         `json:"debug_log_path,omitempty"`
	Tunnels       []model.Tunnel `json:"tunnels"`
}

func viewOf(s *model.Session) sessionView {
	tunnels := s.Tunnels()
	if tunnels == nil {
		tunnels = []model.Tunnel{}
	}
	return sessionView{
		Name:          s.Name,
		Hostname:      model.Val(s.Hostname),
		Port:          s.Port,
		Username:      model.Val(s.Username),
		IdentityPath:  model.Val(s.IdentityPath),
		HasPassword:   s.Password != nil,
		HasPassPhrase: s.PassPhrase != nil,
		Compressed:    s.Compressed,
		Ciphers:       model.Val(s.Ciphers),
		DebugLogPath:  model.Val(s.DebugLogPath),
		Tunnels:       tunnels,
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSessionListCmd() *cobra.Command {
	var jsonOut, recent bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored sessions",
		Args:    cobra.NoArgs,
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			sessions := a.reg.Sessions()
			if recent {
				lastUsed, err := history.LastUsed()
				if err != nil {
					return err
				}
				sessions = history.SortRecent(sessions, lastUsed)
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				views := make([]sessionView, 0, len(sessions))
				for _, s := range sessions {
					views = append(views, viewOf(s))
				}
				return writeJSON(out, views)
			}
			fmt.Fprintf(out, "%-24s %-28s %-6s %-16s %s\n", "NAME", "HOSTNAME", "PORT", "USER", "TUNNELS")
			for _, s := range sessions {
				fmt.Fprintf(out, "%-24s %-28s %-6d %-16s %d\n", s.Name, util.EmptyDash(model.Val(s.Hostname)), s.Port, util.EmptyDash(model.Val(s.Username)), s.TunnelCount())
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	cmd.Flags().BoolVar(&recent, "recent", false, "order by most recently connected")
	return cmd
}

// sessionFlags holds the editable session fields shared by add and edit.
type sessionFlags struct {
	hostname, user, password, identity, passphrase, ciphers, debugLog string
	port                                                              int
	compress                                                          bool
}

func (f *sessionFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.hostname, "hostname", "", "host name or address to connect to")
	fs.IntVarP(&f.port, "port", "p", model.DefaultPort, "SSH port")
	fs.StringVarP(&f.user, "user", "u", "", "login user")
	fs.StringVar(&f.password, "password", "", "password (stored in plain text)")
	fs.StringVarP(&f.identity, "identity", "i", "", "identity (private key) file")
	fs.StringVar(&f.passphrase, "passphrase", "", "identity passphrase (stored in plain text)")
	fs.StringVar(&f.ciphers, "ciphers", "", "comma-separated preferred ciphers")
	fs.BoolVarP(&f.compress, "compress", "C", false, "request compression")
	fs.StringVar(&f.debugLog, "debug-log", "", "directory for a per-session debug log")
}

// apply copies the flags that were set on the command line into s. An
// explicitly empty string clears the field.
func (f *sessionFlags) apply(fs *pflag.FlagSet, s *model.Session) {
	set := func(name string, dst **string, v string) {
		if fs.Changed(name) {
			*dst = model.Opt(v)
		}
	}
	set("hostname", &s.Hostname, f.hostname)
	set("user", &s.Username, f.user)
	set("password", &s.Password, f.password)
	set("identity", &s.IdentityPath, f.identity)
	set("passphrase", &s.PassPhrase, f.passphrase)
	set("ciphers", &s.Ciphers, f.ciphers)
	set("debug-log", &s.DebugLogPath, f.debugLog)
	if fs.Changed("port") {
		s.Port = f.port
	}
	if fs.Changed("compress") {
		s.Compressed = f.compress
	}
}

func newSessionAddCmd() *cobra.Command {
	var f sessionFlags
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a session",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			s := model.NewSession(strings.TrimSpace(args[0]))
			f.apply(cmd.Flags(), s)
			if err := a.reg.AddSession(s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", s)
			return nil
		}),
	}
	f.register(cmd.Flags())
	return cmd
}

func newSessionEditCmd() *cobra.Command {
	var (
		f       sessionFlags
		newName string
	)
	cmd := &cobra.Command{
		Use:   "edit <name>",
		Short: "Edit a session's connection settings",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			s, err := a.session(args[0])
			if err != nil {
				return err
			}
			oldName := s.Name
			err = a.reg.EditSession(s, func(d *model.Session) {
				if cmd.Flags().Changed("name") {
					d.Name = strings.TrimSpace(newName)
				}
				f.apply(cmd.Flags(), d)
			})
			if err != nil && !model.IsListenerError(err) {
				return err
			}
			if s.Name != oldName {
				renameReferences(oldName, s.Name)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", s)
			return err
		}),
	}
	f.register(cmd.Flags())
	cmd.Flags().StringVar(&newName, "name", "", "rename the session")
	return cmd
}

// renameReferences keeps recent-use history and bundles pointing at a
// renamed session.
func renameReferences(oldName, newName string) {
	if err := history.Rename(oldName, newName); err != nil {
		slog.Warn("rename history", "session", oldName, "error", err)
	}
	if err := bundle.RenameSession(oldName, newName); err != nil {
		slog.Warn("rename bundle entries", "session", oldName, "error", err)
	}
}

func newSessionRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <name>",
		Aliases: []string{"remove", "delete"},
		Short:   "Remove a session and its tunnels",
		Args:    cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			s, err := a.session(args[0])
			if err != nil {
				return err
			}
			err = a.reg.RemoveSession(s)
			if err != nil && !model.IsListenerError(err) {
				return err
			}
			if herr := history.Forget(s.Name); herr != nil {
				slog.Warn("forget history", "session", s.Name, "error", herr)
			}
			if berr := bundle.RemoveSession(s.Name); berr != nil {
				slog.Warn("remove bundle entries", "session", s.Name, "error", berr)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", s.Name)
			return err
		}),
	}
}

func newSessionShowCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show a session and its tunnels",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			s, err := a.session(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, viewOf(s))
			}
			v := viewOf(s)
			fmt.Fprintf(out, "Name:        %s\n", v.Name)
			fmt.Fprintf(out, "Hostname:    %s\n", util.EmptyDash(v.Hostname))
			fmt.Fprintf(out, "Port:        %d\n", v.Port)
			fmt.Fprintf(out, "User:        %s\n", util.EmptyDash(v.Username))
			fmt.Fprintf(out, "Identity:    %s\n", util.EmptyDash(v.IdentityPath))
			fmt.Fprintf(out, "Password:    %s\n", yesNo(v.HasPassword))
			fmt.Fprintf(out, "Compressed:  %s\n", yesNo(v.Compressed))
			fmt.Fprintf(out, "Ciphers:     %s\n", util.EmptyDash(v.Ciphers))
			fmt.Fprintln(out, "Tunnels:")
			writeTunnels(out, v.Tunnels)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func newSessionImportCmd() *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "import [ssh-config]",
		Short: "Import Host entries from an OpenSSH config file (default ~/.ssh/config)",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			var (
				res config.ParseResult
				err error
			)
			if len(args) == 1 {
				res, err = config.ParseFile(args[0])
			} else {
				res, err = config.ParseDefault()
			}
			if err != nil {
				return err
			}
			for _, w := range res.Warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
			}

			var imported, skipped int
			var listenerErr error
			for _, s := range res.Sessions {
				if existing, ok := a.reg.Session(s.Name); ok {
					if !replace {
						fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s: already exists\n", s.Name)
						skipped++
						continue
					}
					if err := a.reg.RemoveSession(existing); err != nil && !model.IsListenerError(err) {
						return err
					}
				}
				if err := a.reg.AddSession(s); err != nil {
					if !model.IsListenerError(err) {
						fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s: %v\n", s.Name, err)
						skipped++
						continue
					}
					listenerErr = err
				}
				imported++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d sessions, skipped %d\n", imported, skipped)
			return listenerErr
		}),
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "replace sessions that already exist")
	return cmd
}

func newSessionExportCmd() *cobra.Command {
	var (
		all       bool
		appendTo  bool
		sshConfig string
	)
	cmd := &cobra.Command{
		Use:   "export [name...]",
		Short: "Print sessions as OpenSSH Host blocks",
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			var sessions []*model.Session
			if all {
				sessions = a.reg.Sessions()
			} else {
				if len(args) == 0 {
					return fmt.Errorf("name at least one session or pass --all")
				}
				for _, name := range args {
					s, err := a.session(name)
					if err != nil {
						return err
					}
					sessions = append(sessions, s)
				}
			}

			if appendTo {
				path := sshConfig
				if path == "" {
					p, err := config.DefaultPath()
					if err != nil {
						return err
					}
					path = p
				}
				for _, s := range sessions {
					if err := config.AppendSession(path, s); err != nil {
						return fmt.Errorf("%s: %w", s.Name, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "appended %s to %s\n", s.Name, path)
				}
				return nil
			}
			for i, s := range sessions {
				if i > 0 {
					fmt.Fprintln(cmd.OutOrStdout())
				}
				fmt.Fprint(cmd.OutOrStdout(), config.FormatHostBlock(s))
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&all, "all", false, "export every session")
	cmd.Flags().BoolVar(&appendTo, "append", false, "append to the SSH config instead of printing")
	cmd.Flags().StringVar(&sshConfig, "ssh-config", "", "SSH config file used with --append (default ~/.ssh/config)")
	return cmd
}
