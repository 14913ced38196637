package util

import (
	"net"
	"strings"
)

// NormalizeAddr returns addr trimmed, or fallback when addr is blank.
//
//	NormalizeAddr("",        "127.0.0.1") → "127.0.0.1"
//	NormalizeAddr("0.0.0.0", "127.0.0.1") → "0.0.0.0"
func NormalizeAddr(addr, fallback string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fallback
	}
	return addr
}

// IsLoopback reports whether host only binds the loopback interface. A blank
// host counts as loopback because tunnels default to 127.0.0.1.
func IsLoopback(host string) bool {
	host = strings.TrimSpace(host)
	if host == "" || strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}
