// Package cli provides the command-line interface for ssh-tunnel-manager.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/treykane/ssh-tunnel-manager/internal/ui"
)

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "ssh-tunnel",
		Short:         "SSH session and tunnel manager",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			return ui.Run(ui.Options{
				Registry:  a.reg,
				Manager:   a.manager(),
				Autosaver: a.saver,
				Journal:   a.journal,
				Config:    a.cfg,
			})
		}),
	}

	root.AddCommand(
		newSessionCmd(),
		newTunnelCmd(),
		newConnectCmd(),
		newShellCmd(),
		newStatusCmd(),
		newEventsCmd(),
		newDoctorCmd(),
		newAuditCmd(),
		newBundleCmd(),
	)
	return root
}
