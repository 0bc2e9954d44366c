package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sabinanfranz/slack-data-ai/internal/claude"
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Summarize threads with new replies",
	Args:  cobra.NoArgs,
	RunE:  runSummarize,
}

func init() {
	summarizeCmd.Flags().String("channel", "", "Only summarize threads of this channel")
	summarizeCmd.Flags().Int("limit", 20, "Maximum threads to summarize")
	summarizeCmd.Flags().Bool("json", false, "Output machine-readable JSON")
	rootCmd.AddCommand(summarizeCmd)
}

func runSummarize(cmd *cobra.Command, args []string) error {
	channelID, _ := cmd.Flags().GetString("channel")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")
	if limit < 1 {
		return fmt.Errorf("--limit must be positive")
	}
	ctx := cmd.Context()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	client, err := claude.NewClientFromConfig(a.cfg)
	if err != nil {
		return err
	}

	summarizer := claude.NewSummarizer(client, a.store, claude.OptionsFromConfig(a.cfg), a.logger)
	res, err := summarizer.SummarizePending(ctx, channelID, limit)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), res)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Selected %d threads: %d summarized, %d skipped, %d failed\n",
		res.Selected, res.Summarized, res.Skipped, res.Failed)
	for _, th := range res.Threads {
		if th.Error != "" {
			fmt.Fprintf(w, "  [%s] %s/%s: %s\n", th.Status, th.ChannelID, th.ThreadTS, th.Error)
		}
	}
	return nil
}
