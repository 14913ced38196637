package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/treykane/ssh-tunnel-manager/internal/model"
)

// AppendSession appends s as a Host block to the SSH config at path. The
// block is appended at the end of the file, which means it has the lowest
// priority in OpenSSH's first-match-wins resolution.
func AppendSession(path string, s *model.Session) error {
	if err := ValidateAlias(path, s.Name); err != nil {
		return err
	}
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read ssh config: %w", err)
	}

	block := FormatHostBlock(s)

	// Ensure separation from existing content.
	var prefix string
	if len(existing) > 0 && !strings.HasSuffix(string(existing), "\n") {
		prefix = "\n"
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open ssh config for append: %w", err)
	}
	defer f.Close()

	_, err = f.WriteString(prefix + "\n" + block)
	if err != nil {
		return fmt.Errorf("write host block: %w", err)
	}
	return nil
}

// FormatHostBlock renders s as an SSH config Host block. Unset and default
// fields are omitted. Passwords and passphrases have no ssh_config
// equivalent and are never written.
func FormatHostBlock(s *model.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Host %s\n", s.Name)
	if h := model.Val(s.Hostname); h != "" && h != s.Name {
		fmt.Fprintf(&b, "  HostName %s\n", h)
	}
	if u := model.Val(s.Username); u != "" {
		fmt.Fprintf(&b, "  User %s\n", u)
	}
	if s.Port != 0 && s.Port != model.DefaultPort {
		fmt.Fprintf(&b, "  Port %d\n", s.Port)
	}
	if id := model.Val(s.IdentityPath); id != "" {
		fmt.Fprintf(&b, "  IdentityFile %s\n", id)
	}
	if c := model.Val(s.Ciphers); c != "" {
		fmt.Fprintf(&b, "  Ciphers %s\n", c)
	}
	if s.Compressed {
		b.WriteString("  Compression yes\n")
	}
	for _, t := range s.Tunnels() {
		directive := "LocalForward"
		if !t.IsLocal() {
			directive = "RemoteForward"
		}
		fmt.Fprintf(&b, "  %s %s %s\n", directive, listenArg(t), t.DestinationAddr())
	}
	return b.String()
}

func listenArg(t model.Tunnel) string {
	if t.SourceHost == "" {
		return strconv.Itoa(t.SourcePort)
	}
	return net.JoinHostPort(t.SourceHost, strconv.Itoa(t.SourcePort))
}

// ValidateAlias checks that name can be used as a Host pattern and does not
// already appear in the SSH config at path.
func ValidateAlias(path, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("alias cannot be empty")
	}
	if strings.ContainsAny(name, " \t*?!") {
		return fmt.Errorf("alias cannot contain spaces or wildcard characters")
	}

	res, err := ParseFile(path)
	if err != nil {
		return nil // If we can't parse, allow the alias
	}
	for _, s := range res.Sessions {
		if strings.EqualFold(s.Name, name) {
			return fmt.Errorf("alias %q already exists in SSH config", name)
		}
	}
	return nil
}
