package slack

import (
	"fmt"
	"time"

	"github.com/slack-go/slack"
)

// FormatInlineCode wraps text in inline code markers.
func FormatInlineCode(text string) string {
	return fmt.Sprintf("`%s`", text)
}

// FormatBold wraps text in bold markers.
func FormatBold(text string) string {
	return fmt.Sprintf("*%s*", text)
}

// FormatChannelMention creates a channel mention.
func FormatChannelMention(channelID string) string {
	return fmt.Sprintf("<#%s>", channelID)
}

// TruncateText truncates text to a maximum length with ellipsis.
func TruncateText(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	if maxLen <= 3 {
		return text[:maxLen]
	}
	return text[:maxLen-3] + "..."
}

// FormatDuration renders a run duration rounded for humans.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}

// BuildHeaderBlock creates a header block.
func BuildHeaderBlock(text string) *slack.HeaderBlock {
	return slack.NewHeaderBlock(
		slack.NewTextBlockObject(slack.PlainTextType, text, false, false),
	)
}

// BuildSectionBlock creates a section block with markdown text.
func BuildSectionBlock(text string) *slack.SectionBlock {
	return slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, text, false, false),
		nil, nil,
	)
}

// BuildDividerBlock creates a divider block.
func BuildDividerBlock() *slack.DividerBlock {
	return slack.NewDividerBlock()
}

// BuildContextBlock creates a context block with text elements.
func BuildContextBlock(texts ...string) *slack.ContextBlock {
	elements := make([]slack.MixedElement, len(texts))
	for i, text := range texts {
		elements[i] = slack.NewTextBlockObject(slack.MarkdownType, text, false, false)
	}
	return slack.NewContextBlock("", elements...)
}

// FormatError formats an error message for display.
func FormatError(msg string) string {
	return fmt.Sprintf(":x: *Error:* %s", msg)
}

// FormatSuccess formats a success message.
func FormatSuccess(msg string) string {
	return fmt.Sprintf(":white_check_mark: %s", msg)
}

// FormatWarning formats a warning message.
func FormatWarning(msg string) string {
	return fmt.Sprintf(":warning: %s", msg)
}
