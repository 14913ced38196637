package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/treykane/ssh-tunnel-manager/internal/model"
	"github.com/treykane/ssh-tunnel-manager/internal/tunnel"
)

func newTunnelCmd() *cobra.Command {
	root := &cobra.Command{Use: "tunnel", Aliases: []string{"tunnels"}, Short: "Manage the tunnels of a session"}
	root.AddCommand(newTunnelAddCmd(), newTunnelEditCmd(), newTunnelRmCmd(), newTunnelListCmd())
	return root
}

// forwardFlags selects the direction and spec of a tunnel.
type forwardFlags struct {
	local, remote, description string
}

func (f *forwardFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.local, "local", "L", "", "local forward [srcHost:]srcPort:dstHost:dstPort")
	cmd.Flags().StringVarP(&f.remote, "remote", "R", "", "remote forward [srcHost:]srcPort:dstHost:dstPort")
	cmd.Flags().StringVarP(&f.description, "description", "d", "", "free-form description")
	cmd.MarkFlagsMutuallyExclusive("local", "remote")
}

// given reports whether a forward spec was passed.
func (f *forwardFlags) given() bool { return f.local != "" || f.remote != "" }

func (f *forwardFlags) tunnel() (model.Tunnel, error) {
	switch {
	case f.local != "":
		return tunnel.ParseForwardArg(model.LocalForward, f.local, f.description)
	case f.remote != "":
		return tunnel.ParseForwardArg(model.RemoteForward, f.remote, f.description)
	}
	return model.Tunnel{}, fmt.Errorf("one of --local or --remote is required")
}

func tunnelIndex(s *model.Session, arg string) (int, error) {
	i, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("tunnel index must be a number: %q", arg)
	}
	if i < 0 || i >= s.TunnelCount() {
		return 0, fmt.Errorf("%w: %s has %d tunnels", model.ErrIndexOutOfRange, s.Name, s.TunnelCount())
	}
	return i, nil
}

func newTunnelAddCmd() *cobra.Command {
	var f forwardFlags
	cmd := &cobra.Command{
		Use:   "add <session>",
		Short: "Append a tunnel to a session",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			s, err := a.session(args[0])
			if err != nil {
				return err
			}
			t, err := f.tunnel()
			if err != nil {
				return err
			}
			err = s.AddTunnel(t)
			if err != nil && !model.IsListenerError(err) {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %d: %s\n", s.TunnelCount()-1, t)
			return err
		}),
	}
	f.register(cmd)
	return cmd
}

func newTunnelEditCmd() *cobra.Command {
	var f forwardFlags
	cmd := &cobra.Command{
		Use:   "edit <session> <index>",
		Short: "Replace the tunnel at index",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			s, err := a.session(args[0])
			if err != nil {
				return err
			}
			i, err := tunnelIndex(s, args[1])
			if err != nil {
				return err
			}
			prev, _ := s.Tunnel(i)
			t := prev
			if f.given() {
				if t, err = f.tunnel(); err != nil {
					return err
				}
				t.Description = prev.Description
			}
			if cmd.Flags().Changed("description") {
				t.Description = f.description
			}
			if t == prev {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to change")
				return nil
			}
			at, err := s.UpdateTunnel(i, t)
			if err != nil && !model.IsListenerError(err) {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %d: %s\n", at, t)
			return err
		}),
	}
	f.register(cmd)
	return cmd
}

func newTunnelRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <session> <index>",
		Aliases: []string{"remove", "delete"},
		Short:   "Remove the tunnel at index",
		Args:    cobra.ExactArgs(2),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			s, err := a.session(args[0])
			if err != nil {
				return err
			}
			i, err := tunnelIndex(s, args[1])
			if err != nil {
				return err
			}
			t, err := s.RemoveTunnel(i)
			if err != nil && !model.IsListenerError(err) {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", t)
			return err
		}),
	}
}

func newTunnelListCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:     "list <session>",
		Aliases: []string{"ls"},
		Short:   "List the tunnels of a session in order",
		Args:    cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			s, err := a.session(args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), viewOf(s).Tunnels)
			}
			writeTunnels(cmd.OutOrStdout(), s.Tunnels())
			return nil
		}),
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func writeTunnels(w io.Writer, tunnels []model.Tunnel) {
	fmt.Fprintf(w, "%-4s %-7s %-24s %-28s %s\n", "#", "DIR", "SOURCE", "DESTINATION", "DESCRIPTION")
	for i, t := range tunnels {
		fmt.Fprintf(w, "%-4d %-7s %-24s %-28s %s\n", i, t.Direction, t.SourceAddr(), t.DestinationAddr(), t.Description)
	}
}
