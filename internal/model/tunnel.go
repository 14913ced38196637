package model

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/treykane/ssh-tunnel-manager/internal/util"
)

// Direction selects which side of the SSH connection listens.
type Direction string

const (
	// LocalForward binds the source on this machine and dials the
	// destination through the SSH server.
	LocalForward Direction = "local"
	// RemoteForward binds the source on the SSH server and dials the
	// destination from this machine.
	RemoteForward Direction = "remote"
)

// Tunnel is one port-forward rule. It is a comparable value: two tunnels
// with equal fields are the same rule.
type Tunnel struct {
	Direction       Direction `json:"direction" yaml:"direction" validate:"oneof=local remote"`
	SourceHost      string    `json:"source_host,omitempty" yaml:"source_host,omitempty"`
	SourcePort      int       `json:"source_port" yaml:"source_port" validate:"min=1,max=65535"`
	DestinationHost string    `json:"destination_host" yaml:"destination_host" validate:"notblank"`
	DestinationPort int       `json:"destination_port" yaml:"destination_port" validate:"min=1,max=65535"`
	Description     string    `json:"description,omitempty" yaml:"description,omitempty"`
}

// NewTunnel builds and validates a tunnel.
func NewTunnel(dir Direction, srcHost string, srcPort int, dstHost string, dstPort int, description string) (Tunnel, error) {
	t := Tunnel{
		Direction:       dir,
		SourceHost:      strings.TrimSpace(srcHost),
		SourcePort:      srcPort,
		DestinationHost: strings.TrimSpace(dstHost),
		DestinationPort: dstPort,
		Description:     description,
	}
	if err := t.Validate(); err != nil {
		return Tunnel{}, err
	}
	return t, nil
}

// Validate checks port ranges, the destination host and the direction.
func (t Tunnel) Validate() error {
	return validateStruct(t)
}

// IsLocal reports whether t is a local forward.
func (t Tunnel) IsLocal() bool { return t.Direction == LocalForward }

// SourceAddr returns the listening address, defaulting the host to loopback.
func (t Tunnel) SourceAddr() string {
	return net.JoinHostPort(util.NormalizeAddr(t.SourceHost, util.LoopbackHost), strconv.Itoa(t.SourcePort))
}

// DestinationAddr returns the address accepted connections are delivered to.
func (t Tunnel) DestinationAddr() string {
	return net.JoinHostPort(t.DestinationHost, strconv.Itoa(t.DestinationPort))
}

// Spec renders t in OpenSSH -L/-R argument form. IPv6 source hosts are
// bracketed.
func (t Tunnel) Spec() string {
	host := util.NormalizeAddr(t.SourceHost, util.LoopbackHost)
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s:%d:%s:%d", host, t.SourcePort, t.DestinationHost, t.DestinationPort)
}

func (t Tunnel) String() string {
	flag := "L"
	if t.Direction == RemoteForward {
		flag = "R"
	}
	s := fmt.Sprintf("%s %s -> %s", flag, t.SourceAddr(), t.DestinationAddr())
	if t.Description != "" {
		s += " (" + t.Description + ")"
	}
	return s
}
