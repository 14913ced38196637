package tunnel

import (
	"context"

	"github.com/treykane/ssh-tunnel-manager/internal/model"
	"github.com/treykane/ssh-tunnel-manager/internal/sshclient"
)

// SSH adapts an sshclient.Client to Dialer.
func SSH(c *sshclient.Client) Dialer { return sshDialer{c} }

type sshDialer struct{ c *sshclient.Client }

func (d sshDialer) Dial(ctx context.Context, s *model.Session) (Conn, error) {
	conn, err := d.c.Dial(ctx, s)
	if err != nil {
		return nil, err
	}
	return sshConn{conn}, nil
}

type sshConn struct{ *sshclient.Conn }

func (c sshConn) OpenForward(ctx context.Context, t model.Tunnel) (Forward, error) {
	f, err := c.Conn.OpenForward(ctx, t)
	if err != nil {
		return nil, err
	}
	return f, nil
}
