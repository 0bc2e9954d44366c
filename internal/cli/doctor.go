package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/sabinanfranz/slack-data-ai/internal/orchestrator"
)

const (
	checkPass = "PASS"
	checkWarn = "WARN"
	checkFail = "FAIL"
)

type doctorCheck struct {
	Name    string
	Status  string
	Message string
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, storage and Slack credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		checks := runDoctor(cmd.Context())

		failures := 0
		for _, check := range checks {
			if check.Status == checkFail {
				failures++
			}
		}
		printChecks(cmd.OutOrStdout(), checks)
		if failures > 0 {
			return fmt.Errorf("doctor found %d failing check(s)", failures)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(ctx context.Context) []doctorCheck {
	a, err := openApp(ctx)
	if err != nil {
		return []doctorCheck{{Name: "config", Status: checkFail, Message: err.Error()}}
	}
	defer a.Close()

	checks := []doctorCheck{{Name: "config", Status: checkPass, Message: "loaded"}}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = a.store.Ping(pingCtx)
	cancel()
	if err != nil {
		checks = append(checks, doctorCheck{Name: "store", Status: checkFail, Message: err.Error()})
	} else {
		checks = append(checks, doctorCheck{Name: "store", Status: checkPass, Message: "reachable"})
	}

	if client, err := a.slackClient(); err != nil {
		checks = append(checks, doctorCheck{Name: "slack", Status: checkFail, Message: err.Error()})
	} else if botID, err := client.AuthTest(ctx); err != nil {
		checks = append(checks, doctorCheck{Name: "slack", Status: checkFail, Message: err.Error()})
	} else {
		checks = append(checks, doctorCheck{Name: "slack", Status: checkPass, Message: "authenticated as " + botID})
	}

	if err := a.cfg.RequireSummary(); err != nil {
		checks = append(checks, doctorCheck{Name: "summaries", Status: checkWarn, Message: err.Error()})
	} else {
		checks = append(checks, doctorCheck{Name: "summaries", Status: checkPass, Message: "model " + a.cfg.SummaryModel})
	}

	if a.cfg.ReportChannelID == "" {
		checks = append(checks, doctorCheck{Name: "reports", Status: checkWarn, Message: "SLACKDATA_REPORT_CHANNEL_ID is not set, run reports are disabled"})
	} else {
		checks = append(checks, doctorCheck{Name: "reports", Status: checkPass, Message: "posting to " + a.cfg.ReportChannelID})
	}

	sched, err := orchestrator.NewScheduler(nil, a.cfg.Schedule, a.logger)
	if err == nil {
		var next time.Time
		next, err = sched.Next(time.Now())
		if err == nil {
			checks = append(checks, doctorCheck{Name: "schedule", Status: checkPass, Message: fmt.Sprintf("%q next at %s", a.cfg.Schedule, next.Format(time.RFC3339))})
		}
	}
	if err != nil {
		checks = append(checks, doctorCheck{Name: "schedule", Status: checkFail, Message: err.Error()})
	}
	return checks
}

func printChecks(w io.Writer, checks []doctorCheck) {
	for _, check := range checks {
		fmt.Fprintf(w, "[%s] %s: %s\n", check.Status, check.Name, check.Message)
	}
}
