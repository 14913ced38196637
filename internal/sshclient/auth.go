package sshclient

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/treykane/ssh-tunnel-manager/internal/model"
	"github.com/treykane/ssh-tunnel-manager/internal/util"
)

// ErrNoAuth is returned when a session offers no way to authenticate.
var ErrNoAuth = errors.New("no authentication method available")

// authMethods collects identity file, agent and password auth, in that
// order. The returned closer is the agent connection, if one was opened.
func (c *Client) authMethods(s *model.Session) ([]ssh.AuthMethod, io.Closer, error) {
	var methods []ssh.AuthMethod

	if path := strings.TrimSpace(model.Val(s.IdentityPath)); path != "" {
		signer, err := loadSigner(util.ExpandHome(path), model.Val(s.PassPhrase))
		if err != nil {
			return nil, nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	var agentConn net.Conn
	if sock := c.opts.AgentSocket; sock != "" && sock != "-" {
		conn, err := net.Dial("unix", sock)
		if err == nil {
			agentConn = conn
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	if s.Password != nil {
		pw := *s.Password
		methods = append(methods,
			ssh.Password(pw),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = pw
				}
				return answers, nil
			}),
		)
	}

	if len(methods) == 0 {
		return nil, nil, fmt.Errorf("%s: %w", s.Name, ErrNoAuth)
	}
	if agentConn == nil {
		return methods, nil, nil
	}
	return methods, agentConn, nil
}

func loadSigner(path, passphrase string) (ssh.Signer, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read identity %s: %w", path, err)
	}
	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(pem)
	}
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		return nil, fmt.Errorf("identity %s is encrypted and no passphrase is set", path)
	}
	if err != nil {
		return nil, fmt.Errorf("parse identity %s: %w", path, err)
	}
	return signer, nil
}
