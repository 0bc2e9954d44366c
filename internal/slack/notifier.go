package slack

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/slack-go/slack"
)

// Slack rejects messages with more than 50 blocks.
const maxReportSections = 45

// RunReport summarizes one batch run for posting.
type RunReport struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	Channels []ChannelReport
}

// ChannelReport is one channel's line in a RunReport.
type ChannelReport struct {
	ChannelID     string
	Name          string
	OK            bool
	Fetched       int
	Saved         int
	New           int
	ThreadsPolled int
	ThreadsFailed int
	Error         string
}

// Poster posts Block Kit messages. *Client implements it.
type Poster interface {
	PostBlocks(ctx context.Context, channelID, fallback string, blocks ...slack.Block) error
}

// Notifier posts run reports to a Slack channel.
type Notifier struct {
	poster    Poster
	channelID string
	logger    *slog.Logger
}

// NewNotifier creates a notifier. With an empty channel ID it does nothing.
func NewNotifier(poster Poster, channelID string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{poster: poster, channelID: channelID, logger: logger}
}

// Enabled reports whether reports will be posted.
func (n *Notifier) Enabled() bool {
	return n != nil && n.poster != nil && n.channelID != ""
}

// PostReport posts the report. Failures are logged and otherwise ignored.
func (n *Notifier) PostReport(ctx context.Context, report RunReport) {
	if !n.Enabled() {
		return
	}
	failed := 0
	for _, ch := range report.Channels {
		if !ch.OK {
			failed++
		}
	}
	fallback := fmt.Sprintf("Slack ingest run %s: %d channels, %d failed", report.RunID, len(report.Channels), failed)
	if err := n.poster.PostBlocks(ctx, n.channelID, fallback, BuildReportBlocks(report)...); err != nil {
		n.logger.Warn("failed to post run report", "channel", n.channelID, "run_id", report.RunID, "error", err)
	}
}

// BuildReportBlocks renders a run report as Block Kit blocks.
func BuildReportBlocks(report RunReport) []slack.Block {
	blocks := []slack.Block{
		BuildHeaderBlock("Slack ingest run"),
		BuildDividerBlock(),
	}

	for i, ch := range report.Channels {
		if i == maxReportSections {
			blocks = append(blocks, BuildSectionBlock(fmt.Sprintf("_…and %d more channels_", len(report.Channels)-i)))
			break
		}
		blocks = append(blocks, BuildSectionBlock(channelLine(ch)))
	}

	blocks = append(blocks,
		BuildDividerBlock(),
		BuildContextBlock(
			"run "+FormatInlineCode(report.RunID),
			fmt.Sprintf("%d channels", len(report.Channels)),
			FormatDuration(report.Duration),
		),
	)
	return blocks
}

func channelLine(ch ChannelReport) string {
	name := FormatBold(ch.Name)
	if ch.Name == "" {
		name = FormatChannelMention(ch.ChannelID)
	}
	label := name + " " + FormatInlineCode(ch.ChannelID)

	if !ch.OK {
		return FormatError(label + " " + TruncateText(ch.Error, 200))
	}
	stats := fmt.Sprintf("%s fetched %d, saved %d, new %d, threads %d",
		label, ch.Fetched, ch.Saved, ch.New, ch.ThreadsPolled)
	if ch.ThreadsFailed > 0 {
		return FormatWarning(fmt.Sprintf("%s (%d failed)", stats, ch.ThreadsFailed))
	}
	return FormatSuccess(stats)
}
