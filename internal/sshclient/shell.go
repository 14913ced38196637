package sshclient

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/creack/pty"

	"github.com/treykane/ssh-tunnel-manager/internal/model"
	"github.com/treykane/ssh-tunnel-manager/internal/util"
)

// EnsureSSHBinary checks that the "ssh" binary is available on the system PATH.
func EnsureSSHBinary() error {
	_, err := exec.LookPath("ssh")
	if err != nil {
		return fmt.Errorf("ssh binary not found in PATH")
	}
	return nil
}

// BuildShellArgs returns the ssh arguments that open an interactive shell
// for s. Passwords are never passed on the command line; ssh prompts for
// them in the PTY.
//
// Example output: ["-p", "2222", "-i", "/home/me/.ssh/id_ed25519", "deploy@db.internal"]
func BuildShellArgs(s *model.Session) []string {
	var args []string
	if s.Port != 0 && s.Port != model.DefaultPort {
		args = append(args, "-p", strconv.Itoa(s.Port))
	}
	if id := strings.TrimSpace(model.Val(s.IdentityPath)); id != "" {
		args = append(args, "-i", util.ExpandHome(id))
	}
	if ciphers := strings.TrimSpace(model.Val(s.Ciphers)); ciphers != "" {
		args = append(args, "-c", strings.Join(CipherList(ciphers, nil), ","))
	}
	if s.Compressed {
		args = append(args, "-C")
	}
	dest := model.Val(s.Hostname)
	if u := strings.TrimSpace(model.Val(s.Username)); u != "" {
		dest = u + "@" + dest
	}
	return append(args, dest)
}

// ShellCommand creates an exec.Cmd for an interactive SSH session. The
// caller connects stdio; RunInteractive does so through a PTY.
func ShellCommand(s *model.Session) *exec.Cmd {
	return exec.Command("ssh", BuildShellArgs(s)...)
}

// RunInteractive runs an interactive shell for s in a pseudo-terminal and
// blocks until it exits. Cancelling ctx kills the ssh process.
func RunInteractive(ctx context.Context, s *model.Session) error {
	if strings.TrimSpace(model.Val(s.Hostname)) == "" {
		return fmt.Errorf("%s: %w", s.Name, ErrNoHostname)
	}
	cmd := ShellCommand(s)

	f, err := pty.Start(cmd)
	if err != nil {
		return err
	}
	defer f.Close()

	go func() {
		_, _ = io.Copy(f, os.Stdin)
	}()
	stop := context.AfterFunc(ctx, func() { _ = cmd.Process.Kill() })
	defer stop()

	_, _ = io.Copy(os.Stdout, f)
	return cmd.Wait()
}
