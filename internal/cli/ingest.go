package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/sabinanfranz/slack-data-ai/internal/orchestrator"
)

var (
	ingestCmd = &cobra.Command{
		Use:   "ingest",
		Short: "Pull new messages and replies from Slack",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	ingestAllCmd = &cobra.Command{
		Use:   "all",
		Short: "Ingest every active channel once",
		Args:  cobra.NoArgs,
		RunE:  runIngestAll,
	}

	ingestChannelCmd = &cobra.Command{
		Use:   "channel <channel-id>",
		Short: "Ingest one channel and record its run status",
		Args:  cobra.ExactArgs(1),
		RunE:  runIngestChannel,
	}
)

func init() {
	ingestAllCmd.Flags().Bool("json", false, "Output machine-readable JSON")
	ingestChannelCmd.Flags().Int("backfill-days", 0, "Rescan this many days of history (1-90, default: configured window)")
	ingestChannelCmd.Flags().String("mode", string(orchestrator.ModeFull), "Run mode: full or threads_only")
	ingestChannelCmd.Flags().Bool("json", false, "Output machine-readable JSON")
	ingestCmd.AddCommand(ingestAllCmd, ingestChannelCmd)
	rootCmd.AddCommand(ingestCmd)
}

func runIngestAll(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	ctx := cmd.Context()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	client, err := a.slackClient()
	if err != nil {
		return err
	}

	report, err := a.orchestrator(client, nil).RunAll(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), report)
	}
	printBatchReport(cmd.OutOrStdout(), report)
	return nil
}

func runIngestChannel(cmd *cobra.Command, args []string) error {
	backfillDays, _ := cmd.Flags().GetInt("backfill-days")
	mode, _ := cmd.Flags().GetString("mode")
	asJSON, _ := cmd.Flags().GetBool("json")
	ctx := cmd.Context()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	client, err := a.slackClient()
	if err != nil {
		return err
	}

	res, err := a.orchestrator(client, nil).RunChannel(ctx, args[0], orchestrator.RunOptions{
		BackfillDays: backfillDays,
		Mode:         orchestrator.Mode(mode),
	})
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), res)
	}
	printFullResult(cmd.OutOrStdout(), res)
	return nil
}

func printBatchReport(w io.Writer, report *orchestrator.BatchReport) {
	fmt.Fprintf(w, "Run %s: %d channels, %d failed (%s)\n",
		report.RunID, len(report.Channels), report.Failed(), report.Duration.Round(time.Millisecond))
	for _, ch := range report.Channels {
		line := fmt.Sprintf("  [%s] %s", ch.Status, ch.ChannelID)
		if ch.Name != "" {
			line += " #" + ch.Name
		}
		if ch.Result != nil {
			line += summarizeResult(ch.Result)
		}
		if ch.Error != "" {
			line += ": " + ch.Error
		}
		fmt.Fprintln(w, line)
	}
}

func printFullResult(w io.Writer, res *orchestrator.FullResult) {
	fmt.Fprintf(w, "Channel %s (%s)%s\n", res.ChannelID, res.Mode, summarizeResult(res))
}

func summarizeResult(res *orchestrator.FullResult) string {
	var out string
	if h := res.History; h != nil {
		out += fmt.Sprintf(" history: %d fetched, %d new, %d pages", h.Fetched, h.New, h.Pages)
	}
	if r := res.Replies; r != nil {
		out += fmt.Sprintf(" replies: %d/%d threads polled, %d new, %d failed",
			r.ThreadsPolled, r.TotalThreads, r.New, r.ThreadsFailed)
	}
	return out
}
