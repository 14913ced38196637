package tunnel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/treykane/ssh-tunnel-manager/internal/model"
)

// ParseForwardArg parses a forward specification string in OpenSSH -L/-R form.
// Accepts formats: "srcPort:dstHost:dstPort" or "srcHost:srcPort:dstHost:dstPort".
// An IPv6 source host may be bracketed: "[::1]:8080:db:5432".
func ParseForwardArg(dir model.Direction, s string, description string) (model.Tunnel, error) {
	var srcHost string
	rest := strings.TrimSpace(s)
	if strings.HasPrefix(rest, "[") {
		end := strings.Index(rest, "]:")
		if end < 0 {
			return model.Tunnel{}, fmt.Errorf("unterminated bracketed host in %q", s)
		}
		srcHost, rest = rest[1:end], rest[end+2:]
	}
	parts := strings.Split(rest, ":")
	if srcHost == "" && len(parts) == 4 {
		srcHost, parts = parts[0], parts[1:]
	}
	if len(parts) != 3 {
		return model.Tunnel{}, fmt.Errorf("forward format must be srcPort:dstHost:dstPort or srcHost:srcPort:dstHost:dstPort")
	}
	sp, err := strconv.Atoi(parts[0])
	if err != nil {
		return model.Tunnel{}, fmt.Errorf("invalid source port: %w", err)
	}
	dp, err := strconv.Atoi(parts[2])
	if err != nil {
		return model.Tunnel{}, fmt.Errorf("invalid destination port: %w", err)
	}
	return model.NewTunnel(dir, srcHost, sp, parts[1], dp, description)
}
