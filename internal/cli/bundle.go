package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/treykane/ssh-tunnel-manager/internal/appconfig"
	"github.com/treykane/ssh-tunnel-manager/internal/bundle"
)

func newBundleCmd() *cobra.Command {
	root := &cobra.Command{Use: "bundle", Aliases: []string{"bundles"}, Short: "Manage named groups of sessions"}

	create := &cobra.Command{
		Use:   "create <name> <session...>",
		Short: "Create or replace a bundle",
		Args:  cobra.MinimumNArgs(2),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			var entries []bundle.Entry
			for _, name := range args[1:] {
				if _, err := a.session(name); err != nil {
					return err
				}
				entries = append(entries, bundle.Entry{Session: name})
			}
			if err := bundle.Create(args[0], entries); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created bundle %s (%d sessions)\n", args[0], len(entries))
			return nil
		}),
	}

	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List bundles",
		Args:    cobra.NoArgs,
		RunE: withConfig(func(_ appconfig.Config, cmd *cobra.Command, args []string) error {
			all, err := bundle.LoadAll()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-20s %s\n", "BUNDLE", "SESSIONS")
			for _, b := range all {
				names := make([]string, 0, len(b.Entries))
				for _, e := range b.Entries {
					names = append(names, e.Session)
				}
				fmt.Fprintf(out, "%-20s %s\n", b.Name, strings.Join(names, ", "))
			}
			return nil
		}),
	}

	del := &cobra.Command{
		Use:     "delete <name>",
		Aliases: []string{"rm"},
		Short:   "Delete a bundle",
		Args:    cobra.ExactArgs(1),
		RunE: withConfig(func(_ appconfig.Config, cmd *cobra.Command, args []string) error {
			if err := bundle.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted bundle %s\n", args[0])
			return nil
		}),
	}

	root.AddCommand(create, list, del)
	return root
}
