package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/treykane/ssh-tunnel-manager/internal/appconfig"
	"github.com/treykane/ssh-tunnel-manager/internal/doctor"
	"github.com/treykane/ssh-tunnel-manager/internal/events"
	"github.com/treykane/ssh-tunnel-manager/internal/model"
	"github.com/treykane/ssh-tunnel-manager/internal/security"
	"github.com/treykane/ssh-tunnel-manager/internal/store"
)

// loadStored reads the raw store contents without registering them, so
// diagnostics still run when some sessions would be rejected.
func loadStored(cfg appconfig.Config) ([]*model.Session, error) {
	st, err := store.Open(cfg)
	if err != nil {
		return nil, err
	}
	sessions, err := st.Load()
	return sessions, multierr.Append(err, st.Close())
}

func newDoctorCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose stored sessions, runtime state and file permissions",
		Args:  cobra.NoArgs,
		RunE: withConfig(func(cfg appconfig.Config, cmd *cobra.Command, args []string) error {
			sessions, loadErr := loadStored(cfg)
			report := doctor.Run(cfg, sessions, loadErr)
			out := cmd.OutOrStdout()
			if jsonOut {
				if report.Issues == nil {
					report.Issues = []doctor.Issue{}
				}
				return writeJSON(out, report)
			}
			if len(report.Issues) == 0 {
				fmt.Fprintln(out, "no issues found")
				return nil
			}
			for _, i := range report.Issues {
				fmt.Fprintf(out, "[%s] %s %s: %s\n", i.Severity, i.Check, i.Target, i.Message)
				fmt.Fprintf(out, "    -> %s\n", i.Recommendation)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func newAuditCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit security settings and credential file permissions",
		Args:  cobra.NoArgs,
		RunE: withConfig(func(cfg appconfig.Config, cmd *cobra.Command, args []string) error {
			sessions, err := loadStored(cfg)
			if err != nil {
				return err
			}
			report := security.RunLocalAudit(cfg, sessions)
			out := cmd.OutOrStdout()
			if jsonOut {
				if report.Findings == nil {
					report.Findings = []security.Finding{}
				}
				return writeJSON(out, report)
			}
			if len(report.Findings) == 0 {
				fmt.Fprintln(out, "no findings")
				return nil
			}
			for _, f := range report.Findings {
				fmt.Fprintf(out, "[%s] %s: %s\n", f.Severity, f.Target, f.Message)
				fmt.Fprintf(out, "    -> %s\n", f.Recommendation)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func newEventsCmd() *cobra.Command {
	var (
		q       events.Query
		since   time.Duration
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the session and tunnel event journal",
		Args:  cobra.NoArgs,
		RunE: withConfig(func(_ appconfig.Config, cmd *cobra.Command, args []string) error {
			if since > 0 {
				q.Since = time.Now().Add(-since)
			}
			evts, err := events.NewStore().Read(q)
			if err != nil {
				return err
			}
			if evts == nil {
				evts = []events.Event{}
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, evts)
			}
			for _, e := range evts {
				fmt.Fprintf(out, "%s %-16s %-20s %s", e.Timestamp.Local().Format(time.DateTime), e.EventType, e.Session, e.Tunnel)
				if e.Previous != "" {
					fmt.Fprintf(out, " (was %s)", e.Previous)
				}
				if e.Message != "" {
					fmt.Fprintf(out, " %s", e.Message)
				}
				fmt.Fprintln(out)
			}
			return nil
		}),
	}
	cmd.Flags().StringVarP(&q.Session, "session", "s", "", "only events of this session")
	cmd.Flags().StringVarP(&q.EventType, "type", "t", "", "only events of this type")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this (e.g. 1h)")
	cmd.Flags().IntVarP(&q.Limit, "limit", "n", 50, "show at most this many of the latest events")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}
