package security

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"

	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/treykane/ssh-tunnel-manager/internal/model"
	"github.com/treykane/ssh-tunnel-manager/internal/sshclient"
	"github.com/treykane/ssh-tunnel-manager/internal/tunnel"
)

// ClassifiedError separates a user-safe message from verbose debug details.
type ClassifiedError struct {
	UserSafe    string
	DebugDetail string
}

func (e *ClassifiedError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.UserSafe) == "" {
		return "operation failed"
	}
	return e.UserSafe
}

// NewClassifiedError creates a new error with separated user-safe and debug details.
func NewClassifiedError(userSafe, debugDetail string) error {
	return &ClassifiedError{UserSafe: userSafe, DebugDetail: debugDetail}
}

// UserMessage returns a message safe to show in CLI/TUI contexts.
func UserMessage(err error, redact bool) string {
	if err == nil {
		return ""
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		msg := ce.UserSafe
		if msg == "" {
			msg = "operation failed"
		}
		if redact {
			return RedactMessage(msg)
		}
		return msg
	}
	if redact {
		return RedactMessage(err.Error())
	}
	return err.Error()
}

// DebugMessage returns detailed error text for logs.
func DebugMessage(err error) string {
	if err == nil {
		return ""
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		if strings.TrimSpace(ce.DebugDetail) != "" {
			return ce.DebugDetail
		}
	}
	return err.Error()
}

// RedactMessage strips common sensitive path prefixes from user-visible text.
func RedactMessage(msg string) string {
	if msg == "" {
		return msg
	}
	out := msg
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		out = strings.ReplaceAll(out, home, "~")
	}
	if idx := strings.Index(out, "/.ssh/"); idx >= 0 {
		out = strings.ReplaceAll(out, "/.ssh/", "/.ssh/[redacted]/")
	}
	return out
}

// Classify wraps err with a user-safe summary when it is a known
// connection or model failure. The original error stays available through
// DebugMessage and errors.Is. Unknown errors are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return err
	}
	if msg := classify(err); msg != "" {
		return &classified{ClassifiedError: ClassifiedError{UserSafe: msg, DebugDetail: err.Error()}, err: err}
	}
	return err
}

type classified struct {
	ClassifiedError
	err error
}

func (c *classified) Unwrap() error { return c.err }

func (c *classified) As(target any) bool {
	if p, ok := target.(**ClassifiedError); ok {
		*p = &c.ClassifiedError
		return true
	}
	return false
}

func classify(err error) string {
	var keyErr *knownhosts.KeyError
	var netErr *net.OpError
	var valErr *model.ValidationError
	switch {
	case errors.As(err, &keyErr) && len(keyErr.Want) > 0:
		return "host key mismatch: the server key differs from known_hosts"
	case errors.As(err, &keyErr):
		return "unknown host key: add the host to known_hosts or use host_key_policy accept-new"
	case errors.Is(err, sshclient.ErrNoAuth):
		return "no authentication method: set a password, an identity file or start ssh-agent"
	case strings.Contains(err.Error(), "unable to authenticate"):
		return "authentication failed"
	case errors.Is(err, sshclient.ErrNoHostname):
		return "session has no hostname"
	case errors.Is(err, tunnel.ErrBindPolicy):
		return "tunnel binds a public address but bind_policy is loopback-only"
	case errors.Is(err, tunnel.ErrNotConnected):
		return "session is not connected"
	case errors.Is(err, context.DeadlineExceeded):
		return "connection timed out"
	case errors.Is(err, model.ErrDuplicateName):
		return "a session with that name already exists"
	case errors.As(err, &valErr):
		return valErr.Error()
	case errors.As(err, &netErr) && netErr.Op == "listen" && netErr.Addr != nil:
		return "cannot bind the tunnel source address: " + netErr.Addr.String()
	case errors.As(err, &netErr) && netErr.Op == "dial":
		return "cannot reach the SSH server"
	}
	return ""
}
