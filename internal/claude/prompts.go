package claude

import (
	"fmt"
	"strings"
)

const summaryInstructions = `You summarize Slack threads for a team knowledge base. Write the summary in %s.

## Input
The user message is a JSON document describing one thread: its channel, the
thread timestamp, the reply count and the messages in order. Each message has
a time (UTC), an author and its text. Long threads include the root message
followed by the most recent replies only.

## Output
Call the ` + SummaryToolName + ` tool exactly once with the complete summary.
- Use an empty array for any list with nothing to report.
- Keep one_line short and specific, ideally under 80 characters.
- Write action_items around the task; fill owner_hint and due_hint only when
  the thread makes them clear.
- Set confidence to low when the thread is truncated or ambiguous.
- Do not invent facts that are not in the thread.
`

// SummaryInstructions returns the system prompt for summarizing a thread in
// the given language.
func SummaryInstructions(language string) string {
	language = strings.TrimSpace(language)
	if name, ok := languageNames[strings.ToLower(language)]; ok {
		language = name
	}
	if language == "" {
		language = "English"
	}
	return fmt.Sprintf(summaryInstructions, language)
}

var languageNames = map[string]string{
	"en": "English",
	"ko": "Korean",
	"ja": "Japanese",
	"de": "German",
	"fr": "French",
	"es": "Spanish",
}

// TruncateText shortens content to at most maxRunes runes.
func TruncateText(content string, maxRunes int) string {
	if maxRunes <= 0 {
		return content
	}
	runes := []rune(content)
	if len(runes) <= maxRunes {
		return content
	}
	return string(runes[:maxRunes]) + "..."
}
