// Package cli implements the slackdata command line.
package cli

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

// logger is replaced by Execute; tests run with the default logger.
var logger = slog.Default()

var rootCmd = &cobra.Command{
	Use:   "slackdata",
	Short: "Incremental Slack mirror",
	Long: "slackdata keeps a local, queryable mirror of Slack channels and their threads.\n" +
		"Configuration is read from SLACKDATA_* environment variables and an optional .env file.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command. Commands log through l and stop when ctx is
// cancelled.
func Execute(ctx context.Context, l *slog.Logger) error {
	if l != nil {
		logger = l
	}
	return rootCmd.ExecuteContext(ctx)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
