package sshclient

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/treykane/ssh-tunnel-manager/internal/appconfig"
)

func (c *Client) knownHostsPath() (string, error) {
	if c.opts.KnownHostsPath != "" {
		return c.opts.KnownHostsPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, ".ssh", "known_hosts"), nil
}

// hostKeyCallback verifies server keys according to the host key policy.
//
//	strict      unknown and mismatched keys are rejected
//	accept-new  unknown hosts are appended to known_hosts, mismatches rejected
//	insecure    every key is accepted
func (c *Client) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.opts.HostKeyPolicy == appconfig.HostKeyPolicyInsecure {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path, err := c.knownHostsPath()
	if err != nil {
		return nil, err
	}
	acceptNew := c.opts.HostKeyPolicy == appconfig.HostKeyPolicyAcceptNew
	if acceptNew {
		if err := ensureFile(path); err != nil {
			return nil, err
		}
	}
	check, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}
	if !acceptNew {
		return check, nil
	}
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := check(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) || len(keyErr.Want) > 0 {
			return err
		}
		return c.appendKnownHost(path, hostname, remote, key)
	}, nil
}

func (c *Client) appendKnownHost(path, hostname string, remote net.Addr, key ssh.PublicKey) error {
	c.knownHostsMu.Lock()
	defer c.knownHostsMu.Unlock()
	hosts := []string{knownhosts.Normalize(hostname)}
	if remote != nil {
		if addr := knownhosts.Normalize(remote.String()); addr != hosts[0] {
			hosts = append(hosts, addr)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("update known_hosts: %w", err)
	}
	defer f.Close()
	_, err = fmt.Fprintln(f, knownhosts.Line(hosts, key))
	return err
}

func ensureFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	return f.Close()
}
