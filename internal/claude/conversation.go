package claude

import (
	"encoding/json"
	"time"

	"github.com/sabinanfranz/slack-data-ai/internal/storage"
)

// maxMessageRunes caps each message's text in a transcript.
const maxMessageRunes = 2000

type transcriptLine struct {
	Time   string `json:"t_utc"`
	Author string `json:"author,omitempty"`
	Text   string `json:"text"`
}

type transcript struct {
	ChannelID      string           `json:"channel_id"`
	ThreadTS       string           `json:"thread_ts"`
	ReplyCount     int              `json:"reply_count"`
	SourceLatestTS string           `json:"source_latest_ts"`
	Truncated      bool             `json:"truncated,omitempty"`
	Messages       []transcriptLine `json:"messages"`
}

// sliceForSummary keeps at most max messages: the root followed by the most
// recent replies. msgs must be in timestamp order.
func sliceForSummary(msgs []storage.Message, threadTS string, max int) []storage.Message {
	if max <= 0 || len(msgs) <= max {
		return msgs
	}

	var root *storage.Message
	for i := range msgs {
		if msgs[i].TS == threadTS {
			root = &msgs[i]
			break
		}
	}
	if root == nil {
		return msgs[len(msgs)-max:]
	}

	out := make([]storage.Message, 0, max)
	out = append(out, *root)
	for _, m := range msgs[len(msgs)-(max-1):] {
		if m.TS != root.TS {
			out = append(out, m)
		}
	}
	return out
}

// authorIDs returns the distinct authors of msgs.
func authorIDs(msgs []storage.Message) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, m := range msgs {
		if m.UserID == "" {
			continue
		}
		if _, ok := seen[m.UserID]; ok {
			continue
		}
		seen[m.UserID] = struct{}{}
		ids = append(ids, m.UserID)
	}
	return ids
}

// buildTranscript renders a thread as the JSON document sent to Claude.
func buildTranscript(th storage.Thread, msgs []storage.Message, total int, actors map[string]storage.Actor) ([]byte, error) {
	doc := transcript{
		ChannelID:      th.ChannelID,
		ThreadTS:       th.ThreadTS,
		ReplyCount:     th.ReplyCount,
		SourceLatestTS: th.ReplyWatermark().TS,
		Truncated:      total > len(msgs),
		Messages:       make([]transcriptLine, 0, len(msgs)),
	}
	for _, m := range msgs {
		line := transcriptLine{
			Time: epochUTC(m.TSEpoch),
			Text: TruncateText(m.Text, maxMessageRunes),
		}
		if m.UserID != "" {
			line.Author = m.UserID
			if actor, ok := actors[m.UserID]; ok {
				line.Author = actor.Label()
			}
		}
		doc.Messages = append(doc.Messages, line)
	}
	return json.Marshal(doc)
}

func epochUTC(epoch float64) string {
	return time.Unix(int64(epoch), 0).UTC().Format("2006-01-02 15:04")
}
