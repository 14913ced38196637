// Package config imports sessions from OpenSSH client config files and
// renders sessions back as Host blocks.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/treykane/ssh-tunnel-manager/internal/model"
	"github.com/treykane/ssh-tunnel-manager/internal/util"
)

type ParseResult struct {
	Sessions []*model.Session
	Warnings []string
}

type rawBlock struct {
	patterns []string
	values   map[string][]string
	// forwards keeps LocalForward and RemoteForward lines in file order.
	forwards []rawForward
	source   string
}

type rawForward struct {
	dir   model.Direction
	value string
}

// DefaultPath returns ~/.ssh/config.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".ssh", "config"), nil
}

// ParseDefault parses ~/.ssh/config.
func ParseDefault() (ParseResult, error) {
	path, err := DefaultPath()
	if err != nil {
		return ParseResult{}, err
	}
	return ParseFile(path)
}

// ParseFile parses a single root SSH config and expands Include directives.
// Every concrete Host alias becomes one detached session; wildcard blocks
// only contribute values.
func ParseFile(path string) (ParseResult, error) {
	seen := map[string]bool{}
	blocks, warnings, err := parseRecursive(path, seen, 0)
	if err != nil {
		return ParseResult{}, err
	}
	sessions, compileWarnings := compileSessions(blocks)
	return ParseResult{Sessions: sessions, Warnings: append(warnings, compileWarnings...)}, nil
}

func parseRecursive(path string, seen map[string]bool, depth int) ([]rawBlock, []string, error) {
	if depth > util.MaxIncludeDepth {
		return nil, nil, fmt.Errorf("include depth exceeded at %s", path)
	}
	abs, err := filepath.Abs(util.ExpandHome(path))
	if err != nil {
		return nil, nil, err
	}
	if seen[abs] {
		return nil, []string{fmt.Sprintf("include cycle skipped: %s", abs)}, nil
	}
	seen[abs] = true

	f, err := os.Open(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, []string{fmt.Sprintf("config file not found: %s", abs)}, nil
		}
		return nil, nil, fmt.Errorf("open %s: %w", abs, err)
	}
	defer f.Close()

	var (
		blocks      []rawBlock
		warnings    []string
		current     = rawBlock{patterns: []string{"*"}, values: map[string][]string{}, source: abs}
		hasHostDecl bool
	)

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = stripInlineComment(line)
		if line == "" {
			continue
		}

		key, value, ok := splitDirective(line)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("%s:%d invalid directive", abs, lineNo))
			continue
		}
		lowerKey := strings.ToLower(key)

		switch lowerKey {
		case "include":
			for _, pattern := range strings.Fields(value) {
				incPattern := util.ExpandHome(pattern)
				if !filepath.IsAbs(incPattern) {
					incPattern = filepath.Join(filepath.Dir(abs), incPattern)
				}
				matches, globErr := filepath.Glob(incPattern)
				if globErr != nil {
					warnings = append(warnings, fmt.Sprintf("%s:%d bad include pattern %q", abs, lineNo, pattern))
					continue
				}
				if len(matches) == 0 {
					warnings = append(warnings, fmt.Sprintf("%s:%d include matched nothing: %q", abs, lineNo, pattern))
				}
				sort.Strings(matches)
				for _, m := range matches {
					childBlocks, childWarnings, childErr := parseRecursive(m, seen, depth+1)
					warnings = append(warnings, childWarnings...)
					if childErr != nil {
						warnings = append(warnings, fmt.Sprintf("include %s failed: %v", m, childErr))
						continue
					}
					blocks = append(blocks, childBlocks...)
				}
			}
		case "host":
			if hasHostDecl || len(current.values) > 0 || len(current.forwards) > 0 {
				blocks = append(blocks, current)
			}
			patterns := strings.Fields(value)
			if len(patterns) == 0 {
				warnings = append(warnings, fmt.Sprintf("%s:%d Host missing patterns", abs, lineNo))
				patterns = []string{"*"}
			}
			current = rawBlock{patterns: patterns, values: map[string][]string{}, source: abs}
			hasHostDecl = true
		case "localforward":
			current.forwards = append(current.forwards, rawForward{dir: model.LocalForward, value: unquote(value)})
		case "remoteforward":
			current.forwards = append(current.forwards, rawForward{dir: model.RemoteForward, value: unquote(value)})
		default:
			current.values[lowerKey] = append(current.values[lowerKey], unquote(value))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, warnings, fmt.Errorf("scan %s: %w", abs, err)
	}

	if hasHostDecl || len(current.values) > 0 || len(current.forwards) > 0 {
		blocks = append(blocks, current)
	}
	return blocks, warnings, nil
}

// compileSessions resolves each concrete alias the way ssh(1) does: for
// single-valued options the first matching block wins, forwards accumulate
// across every matching block.
func compileSessions(blocks []rawBlock) ([]*model.Session, []string) {
	aliasSet := map[string]struct{}{}
	for _, b := range blocks {
		for _, p := range b.patterns {
			if isConcreteAlias(p) {
				aliasSet[p] = struct{}{}
			}
		}
	}

	aliases := make([]string, 0, len(aliasSet))
	for a := range aliasSet {
		aliases = append(aliases, a)
	}
	sort.Strings(aliases)

	var warnings []string
	sessions := make([]*model.Session, 0, len(aliases))
	for _, alias := range aliases {
		s := model.NewSession(alias)
		var hostname, user, port, identity, ciphers, compression string
		for _, b := range blocks {
			if !matchesAny(alias, b.patterns) {
				continue
			}
			first(&hostname, b.values["hostname"])
			first(&user, b.values["user"])
			first(&port, b.values["port"])
			first(&identity, b.values["identityfile"])
			first(&ciphers, b.values["ciphers"])
			first(&compression, b.values["compression"])
			if vals := b.values["proxyjump"]; len(vals) > 0 {
				warnings = append(warnings, fmt.Sprintf("%s: ProxyJump is not supported and was ignored", alias))
			}
			for _, f := range b.forwards {
				warnings = appendForward(s, f.dir, f.value, warnings)
			}
		}
		s.Hostname = model.Opt(util.DefaultString(hostname, alias))
		s.Username = model.Opt(user)
		s.IdentityPath = model.Opt(util.ExpandHome(identity))
		s.Ciphers = model.Opt(ciphers)
		s.Compressed = strings.EqualFold(compression, "yes")
		if port != "" {
			p, err := strconv.Atoi(port)
			if err != nil || util.ValidatePort(p) != nil {
				warnings = append(warnings, fmt.Sprintf("%s: invalid Port %q, using %d", alias, port, model.DefaultPort))
			} else {
				s.Port = p
			}
		}
		sessions = append(sessions, s)
	}
	return sessions, warnings
}

func first(dst *string, vals []string) {
	if *dst == "" && len(vals) > 0 {
		*dst = vals[0]
	}
}

func appendForward(s *model.Session, dir model.Direction, value string, warnings []string) []string {
	t, err := parseForward(dir, value)
	if err == nil {
		err = s.AddTunnel(t)
	}
	if err != nil {
		return append(warnings, fmt.Sprintf("%s: skipped %s forward %q: %v", s.Name, dir, value, err))
	}
	return warnings
}

// parseForward parses the "[bind_address:]port host:hostport" argument of
// LocalForward and RemoteForward.
func parseForward(dir model.Direction, v string) (model.Tunnel, error) {
	parts := strings.Fields(v)
	if len(parts) != 2 {
		return model.Tunnel{}, fmt.Errorf("expected listen and destination address")
	}
	srcHost, srcPort, err := parseListen(parts[0])
	if err != nil {
		return model.Tunnel{}, err
	}
	dstHost, dstPortStr, err := net.SplitHostPort(parts[1])
	if err != nil {
		return model.Tunnel{}, fmt.Errorf("destination: %w", err)
	}
	dstPort, err := strconv.Atoi(dstPortStr)
	if err != nil {
		return model.Tunnel{}, fmt.Errorf("invalid destination port %q", dstPortStr)
	}
	return model.NewTunnel(dir, srcHost, srcPort, dstHost, dstPort, "")
}

func parseListen(s string) (string, int, error) {
	if p, err := strconv.Atoi(s); err == nil {
		return "", p, nil
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, fmt.Errorf("listen address: %w", err)
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid listen port %q", portStr)
	}
	if host == "*" {
		host = "0.0.0.0"
	}
	return host, p, nil
}

func matchesAny(alias string, patterns []string) bool {
	matched := false
	for _, p := range patterns {
		negated := strings.HasPrefix(p, "!")
		pat := strings.TrimPrefix(p, "!")
		ok := globMatch(alias, pat)
		if !ok {
			continue
		}
		if negated {
			return false
		}
		matched = true
	}
	return matched
}

func globMatch(alias, pattern string) bool {
	if pattern == "" {
		return false
	}
	ok, err := filepath.Match(pattern, alias)
	if err != nil {
		return false
	}
	return ok
}

func isConcreteAlias(pattern string) bool {
	if strings.HasPrefix(pattern, "!") {
		return false
	}
	if strings.ContainsAny(pattern, "*?") {
		return false
	}
	return pattern != ""
}

func splitDirective(line string) (key, value string, ok bool) {
	if i := strings.IndexAny(line, " \t="); i > 0 {
		key = strings.TrimSpace(line[:i])
		value = strings.TrimSpace(line[i+1:])
		value = strings.TrimSpace(strings.TrimPrefix(value, "="))
		return key, value, key != "" && value != ""
	}
	return "", "", false
}

func unquote(v string) string {
	if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		return v[1 : len(v)-1]
	}
	return v
}

func stripInlineComment(line string) string {
	inQuote := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuote = !inQuote
		case '#':
			if !inQuote {
				return strings.TrimSpace(line[:i])
			}
		}
	}
	return strings.TrimSpace(line)
}
