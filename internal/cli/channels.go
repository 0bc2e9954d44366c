package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/sabinanfranz/slack-data-ai/internal/storage"
)

var (
	channelsCmd = &cobra.Command{
		Use:   "channels",
		Short: "Manage mirrored channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	channelsAddCmd = &cobra.Command{
		Use:   "add <channel-id>",
		Short: "Register a channel, join it and seed its watermark",
		Args:  cobra.ExactArgs(1),
		RunE:  runChannelsAdd,
	}

	channelsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List registered channels and their ingest state",
		Args:  cobra.NoArgs,
		RunE:  runChannelsList,
	}

	channelsActivateCmd = &cobra.Command{
		Use:   "activate <channel-id>",
		Short: "Include a channel in batch runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setChannelActive(cmd, args[0], true)
		},
	}

	channelsDeactivateCmd = &cobra.Command{
		Use:   "deactivate <channel-id>",
		Short: "Exclude a channel from batch runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setChannelActive(cmd, args[0], false)
		},
	}
)

func init() {
	channelsListCmd.Flags().Bool("json", false, "Output machine-readable JSON")
	channelsCmd.AddCommand(channelsAddCmd, channelsListCmd, channelsActivateCmd, channelsDeactivateCmd)
	rootCmd.AddCommand(channelsCmd)
}

func runChannelsAdd(cmd *cobra.Command, args []string) error {
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

	ch, err := a.syncer(client).RegisterChannel(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Registered %s #%s (watermark %s)\n", ch.ID, ch.Name, ch.LastTS.TS)
	return nil
}

func runChannelsList(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	channels, err := a.store.ListChannels(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		if channels == nil {
			channels = []storage.Channel{}
		}
		return printJSON(cmd.OutOrStdout(), channels)
	}
	printChannels(cmd.OutOrStdout(), channels)
	return nil
}

func setChannelActive(cmd *cobra.Command, channelID string, active bool) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.SetChannelActive(ctx, channelID, active); err != nil {
		return fmt.Errorf("channel %s: %w", channelID, err)
	}
	state := "inactive"
	if active {
		state = "active"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Channel %s is now %s\n", channelID, state)
	return nil
}

func printChannels(w io.Writer, channels []storage.Channel) {
	if len(channels) == 0 {
		fmt.Fprintln(w, "No channels registered.")
		return
	}
	for _, ch := range channels {
		active := "active"
		if !ch.IsActive {
			active = "inactive"
		}
		ingested := "never"
		if ch.LastIngestedAt != nil {
			ingested = ch.LastIngestedAt.UTC().Format(time.RFC3339)
		}
		status := ch.Ingest.Status
		if status == "" {
			status = storage.IngestIdle
		}
		fmt.Fprintf(w, "%s\t#%s\t%s\tlast_ts=%s\tingested=%s\tstatus=%s\n",
			ch.ID, ch.Name, active, ch.LastTS.TS, ingested, status)
	}
}
