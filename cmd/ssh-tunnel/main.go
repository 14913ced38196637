// Package main is the entry point for the ssh-tunnel binary.
//
// ssh-tunnel manages SSH sessions and the port forwards they own. Invoked
// without arguments it opens the interactive dashboard; subcommands edit
// sessions and tunnels, connect them and run diagnostics.
//
// Usage:
//
//	ssh-tunnel                              # launch the dashboard
//	ssh-tunnel session add db --hostname db.internal --user deploy
//	ssh-tunnel tunnel add db --local 5432:localhost:5432
//	ssh-tunnel connect db                   # keep tunnels open until Ctrl+C
package main

import (
	"fmt"
	"os"

	"github.com/treykane/ssh-tunnel-manager/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
