// Package doctor runs local diagnostics over stored sessions, runtime
// state and file posture.
package doctor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/treykane/ssh-tunnel-manager/internal/appconfig"
	"github.com/treykane/ssh-tunnel-manager/internal/model"
	"github.com/treykane/ssh-tunnel-manager/internal/security"
	"github.com/treykane/ssh-tunnel-manager/internal/sshclient"
	"github.com/treykane/ssh-tunnel-manager/internal/tunnel"
	"github.com/treykane/ssh-tunnel-manager/internal/util"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Issue struct {
	Severity       Severity `json:"severity"`
	Check          string   `json:"check"`
	Target         string   `json:"target"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

type Report struct {
	Issues []Issue `json:"issues"`
}

// HasHigh reports whether any issue is high severity.
func (r Report) HasHigh() bool {
	for _, i := range r.Issues {
		if i.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// Run diagnoses the given sessions as loaded from the store, before any
// registry validation has dropped bad ones. loadErr is the error the store
// returned, if any.
func Run(cfg appconfig.Config, sessions []*model.Session, loadErr error) Report {
	var issues []Issue

	if loadErr != nil {
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "store-unreadable",
			Target:         "store",
			Message:        loadErr.Error(),
			Recommendation: "fix or restore the session store file",
		})
	}

	if err := sshclient.EnsureSSHBinary(); err != nil {
		issues = append(issues, Issue{
			Severity:       SeverityLow,
			Check:          "ssh-binary",
			Target:         "PATH",
			Message:        err.Error(),
			Recommendation: "install the OpenSSH client to use the shell command",
		})
	}

	issues = append(issues, sessionIssues(cfg, sessions)...)
	issues = append(issues, duplicateBindIssues(sessions)...)

	if runtime, err := tunnel.ReadRuntime(); err != nil {
		issues = append(issues, Issue{
			Severity:       SeverityLow,
			Check:          "runtime-unreadable",
			Target:         "runtime.json",
			Message:        err.Error(),
			Recommendation: "delete runtime.json; it is rewritten on the next connect",
		})
	} else {
		issues = append(issues, runtimeIssues(runtime)...)
	}

	for _, f := range security.RunLocalAudit(cfg, sessions).Findings {
		issues = append(issues, Issue{
			Severity:       Severity(f.Severity),
			Check:          "security-audit",
			Target:         f.Target,
			Message:        f.Message,
			Recommendation: f.Recommendation,
		})
	}

	sort.Slice(issues, func(i, j int) bool {
		ri := severityRank(issues[i].Severity)
		rj := severityRank(issues[j].Severity)
		if ri != rj {
			return ri > rj
		}
		if issues[i].Check != issues[j].Check {
			return issues[i].Check < issues[j].Check
		}
		if issues[i].Target != issues[j].Target {
			return issues[i].Target < issues[j].Target
		}
		return issues[i].Message < issues[j].Message
	})
	return Report{Issues: issues}
}

func sessionIssues(cfg appconfig.Config, sessions []*model.Session) []Issue {
	var issues []Issue
	names := map[string]int{}
	for _, s := range sessions {
		names[s.Name]++
		if err := s.Validate(); err != nil {
			issues = append(issues, Issue{
				Severity:       SeverityHigh,
				Check:          "invalid-session",
				Target:         s.Name,
				Message:        err.Error(),
				Recommendation: "fix the session with `session edit`",
			})
		}
		if model.Val(s.Hostname) == "" {
			issues = append(issues, Issue{
				Severity:       SeverityMedium,
				Check:          "missing-hostname",
				Target:         s.Name,
				Message:        "session has no hostname and cannot connect",
				Recommendation: "set one with `session edit --hostname`",
			})
		}
		for i, t := range s.Tunnels() {
			target := fmt.Sprintf("%s#%d", s.Name, i)
			if t.IsLocal() && !util.IsLoopback(t.SourceHost) && cfg.Security.BindPolicy != appconfig.BindPolicyAllowPublic {
				issues = append(issues, Issue{
					Severity:       SeverityMedium,
					Check:          "bind-policy",
					Target:         target,
					Message:        fmt.Sprintf("%s binds a public address and will be rejected", t.SourceAddr()),
					Recommendation: "bind to 127.0.0.1 or set security.bind_policy to allow-public",
				})
			}
		}
	}
	for name, n := range names {
		if n > 1 {
			issues = append(issues, Issue{
				Severity:       SeverityHigh,
				Check:          "duplicate-session",
				Target:         name,
				Message:        fmt.Sprintf("session name is stored %d times", n),
				Recommendation: "only the first copy is loaded; rename or remove the others",
			})
		}
	}
	return issues
}

func duplicateBindIssues(sessions []*model.Session) []Issue {
	seen := map[string][]string{}
	for _, s := range sessions {
		for _, t := range s.Tunnels() {
			if !t.IsLocal() {
				continue
			}
			seen[t.SourceAddr()] = append(seen[t.SourceAddr()], s.Name)
		}
	}
	var issues []Issue
	for bind, refs := range seen {
		if len(refs) < 2 {
			continue
		}
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "duplicate-local-bind",
			Target:         bind,
			Message:        fmt.Sprintf("local bind is configured %d times (%s)", len(refs), strings.Join(refs, ", ")),
			Recommendation: "use unique local ports per tunnel to avoid startup conflicts",
		})
	}
	return issues
}

func runtimeIssues(runtime []model.TunnelRuntime) []Issue {
	var issues []Issue
	for _, rt := range runtime {
		switch rt.State {
		case model.TunnelError:
			issues = append(issues, Issue{
				Severity:       SeverityMedium,
				Check:          "runtime-error",
				Target:         rt.Session + " " + rt.Source,
				Message:        util.DefaultString(rt.LastError, "forward failed"),
				Recommendation: "inspect with `status` and reconnect the session",
			})
		case model.TunnelDown:
			issues = append(issues, Issue{
				Severity:       SeverityLow,
				Check:          "runtime-stale",
				Target:         rt.Session + " " + rt.Source,
				Message:        "runtime state belongs to a process that is no longer running",
				Recommendation: "reconnect the session to refresh runtime state",
			})
		}
	}
	return issues
}

func severityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}
