package sshclient

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/treykane/ssh-tunnel-manager/internal/appconfig"
	"github.com/treykane/ssh-tunnel-manager/internal/model"
)

func TestBuildShellArgs(t *testing.T) {
	s := model.NewSession("db")
	s.Hostname = model.Opt("db.internal")
	s.Username = model.Opt("deploy")
	s.Port = 2222
	s.IdentityPath = model.Opt("/keys/id")
	s.Ciphers = model.Opt("aes256-ctr, aes128-ctr")
	s.Compressed = true

	got := BuildShellArgs(s)
	want := []string{"-p", "2222", "-i", "/keys/id", "-c", "aes256-ctr,aes128-ctr", "-C", "deploy@db.internal"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("args mismatch\nwant=%v\n got=%v", want, got)
	}

	plain := model.NewSession("web")
	plain.Hostname = model.Opt("web")
	if got := BuildShellArgs(plain); !reflect.DeepEqual(got, []string{"web"}) {
		t.Fatalf("unexpected args %v", got)
	}
}

func TestCipherList(t *testing.T) {
	got := CipherList("aes256-ctr,,aes128-ctr", appconfig.DefaultCiphers)
	want := []string{"aes256-ctr", "aes128-ctr", "aes128-gcm@openssh.com", "chacha20-poly1305@openssh.com"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ciphers mismatch\nwant=%v\n got=%v", want, got)
	}
	if got := CipherList("", appconfig.DefaultCiphers); len(got) != 3 {
		t.Fatalf("expected defaults only, got %v", got)
	}
}

func TestDialRequiresHostnameAndAuth(t *testing.T) {
	c := New(Options{HostKeyPolicy: appconfig.HostKeyPolicyInsecure, AgentSocket: "-"})
	s := model.NewSession("nohost")
	if _, err := c.Dial(context.Background(), s); !errors.Is(err, ErrNoHostname) {
		t.Fatalf("expected ErrNoHostname, got %v", err)
	}
	s.Hostname = model.Opt("127.0.0.1")
	if _, err := c.Dial(context.Background(), s); !errors.Is(err, ErrNoAuth) {
		t.Fatalf("expected ErrNoAuth, got %v", err)
	}
}

func TestLoadSignerRequiresPassphrase(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	block, err := ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte("hunter2"))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadSigner(path, ""); err == nil || !strings.Contains(err.Error(), "encrypted") {
		t.Fatalf("expected encrypted key error, got %v", err)
	}
	if _, err := loadSigner(path, "hunter2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// testServer is a minimal SSH server accepting user "u" / password "p" and
// serving direct-tcpip channels.
type testServer struct {
	addr    string
	hostKey ssh.PublicKey
}

func startTestServer(t *testing.T) testServer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "u" && string(pass) == "p" {
				return nil, nil
			}
			return nil, errors.New("denied")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go serveTestConn(nc, cfg)
		}
	}()
	return testServer{addr: ln.Addr().String(), hostKey: signer.PublicKey()}
}

func serveTestConn(nc net.Conn, cfg *ssh.ServerConfig) {
	sc, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		_ = nc.Close()
		return
	}
	defer sc.Close()
	go ssh.DiscardRequests(reqs)
	for nch := range chans {
		if nch.ChannelType() != "direct-tcpip" {
			_ = nch.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		var req struct {
			Host     string
			Port     uint32
			OrigHost string
			OrigPort uint32
		}
		if err := ssh.Unmarshal(nch.ExtraData(), &req); err != nil {
			_ = nch.Reject(ssh.ConnectionFailed, err.Error())
			continue
		}
		target, err := net.Dial("tcp", net.JoinHostPort(req.Host, strconv.Itoa(int(req.Port))))
		if err != nil {
			_ = nch.Reject(ssh.ConnectionFailed, err.Error())
			continue
		}
		ch, creqs, err := nch.Accept()
		if err != nil {
			_ = target.Close()
			continue
		}
		go ssh.DiscardRequests(creqs)
		go func() {
			_, _ = io.Copy(ch, target)
			_ = ch.Close()
		}()
		go func() {
			_, _ = io.Copy(target, ch)
			_ = target.Close()
		}()
	}
}

func startEcho(t *testing.T) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				_, _ = io.Copy(c, c)
			}()
		}
	}()
	host, port, _ := net.SplitHostPort(ln.Addr().String())
	p, _ := strconv.Atoi(port)
	return host, p
}

func sessionFor(t *testing.T, srv testServer) *model.Session {
	t.Helper()
	host, port, err := net.SplitHostPort(srv.addr)
	if err != nil {
		t.Fatal(err)
	}
	s := model.NewSession("test")
	s.Hostname = model.Opt(host)
	s.Port, _ = strconv.Atoi(port)
	s.Username = model.Opt("u")
	s.Password = model.Opt("p")
	return s
}

func TestLocalForwardRoundTrip(t *testing.T) {
	srv := startTestServer(t)
	echoHost, echoPort := startEcho(t)

	c := New(Options{HostKeyPolicy: appconfig.HostKeyPolicyInsecure, AgentSocket: "-", ConnectTimeout: 5 * time.Second})
	conn, err := c.Dial(context.Background(), sessionFor(t, srv))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.Alive(); err != nil {
		t.Fatalf("keepalive: %v", err)
	}

	tn := model.Tunnel{Direction: model.LocalForward, SourceHost: "127.0.0.1", DestinationHost: echoHost, DestinationPort: echoPort}
	fwd, err := conn.OpenForward(context.Background(), tn)
	if err != nil {
		t.Fatal(err)
	}

	client, err := net.Dial("tcp", fwd.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	_ = client.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(client, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "ping" {
		t.Fatalf("unexpected echo %q", buf)
	}

	if err := fwd.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := net.DialTimeout("tcp", fwd.Addr().String(), time.Second); err == nil {
		t.Fatal("expected listener to be closed")
	}
	if err := fwd.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestDialWrongPassword(t *testing.T) {
	srv := startTestServer(t)
	s := sessionFor(t, srv)
	s.Password = model.Opt("nope")
	c := New(Options{HostKeyPolicy: appconfig.HostKeyPolicyInsecure, AgentSocket: "-", ConnectTimeout: 5 * time.Second})
	if _, err := c.Dial(context.Background(), s); err == nil {
		t.Fatal("expected auth failure")
	}
}

func TestHostKeyPolicies(t *testing.T) {
	srv := startTestServer(t)
	knownHosts := filepath.Join(t.TempDir(), "known_hosts")

	strict := New(Options{HostKeyPolicy: appconfig.HostKeyPolicyStrict, KnownHostsPath: knownHosts, AgentSocket: "-", ConnectTimeout: 5 * time.Second})
	if err := os.WriteFile(knownHosts, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := strict.Dial(context.Background(), sessionFor(t, srv)); err == nil {
		t.Fatal("strict policy accepted an unknown host")
	}

	acceptNew := New(Options{HostKeyPolicy: appconfig.HostKeyPolicyAcceptNew, KnownHostsPath: knownHosts, AgentSocket: "-", ConnectTimeout: 5 * time.Second})
	conn, err := acceptNew.Dial(context.Background(), sessionFor(t, srv))
	if err != nil {
		t.Fatalf("accept-new: %v", err)
	}
	_ = conn.Close()

	b, err := os.ReadFile(knownHosts)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), knownhosts.Normalize(srv.addr)) {
		t.Fatalf("known_hosts not updated: %s", b)
	}

	conn, err = strict.Dial(context.Background(), sessionFor(t, srv))
	if err != nil {
		t.Fatalf("strict after accept-new: %v", err)
	}
	_ = conn.Close()
}

func TestOpenForwardOnClosedConn(t *testing.T) {
	srv := startTestServer(t)
	c := New(Options{HostKeyPolicy: appconfig.HostKeyPolicyInsecure, AgentSocket: "-", ConnectTimeout: 5 * time.Second})
	conn, err := c.Dial(context.Background(), sessionFor(t, srv))
	if err != nil {
		t.Fatal(err)
	}
	_ = conn.Close()
	tn := model.Tunnel{Direction: model.LocalForward, DestinationHost: "127.0.0.1", DestinationPort: 1}
	if _, err := conn.OpenForward(context.Background(), tn); !errors.Is(err, ErrConnClosed) {
		t.Fatalf("expected ErrConnClosed, got %v", err)
	}
}
