package storage

import "time"

// MergeThread folds an incoming observation of a thread into the stored row.
//
// Precedence:
//   - reply_count: incoming always wins, it is authoritative from the root message.
//   - root_text, last_reply: stored non-empty values win; incoming only fills nulls.
//   - needs_summary, last_summarized: never touched by a merge.
//
// The returned bool reports whether the stored row changed. updated_at is bumped
// only on change.
func MergeThread(existing *Thread, incoming Thread, now time.Time) (Thread, bool) {
	if existing == nil {
		out := incoming
		out.RootText = normalizeText(incoming.RootText)
		out.UpdatedAt = now
		return out, true
	}

	out := *existing
	changed := false

	if incoming.ReplyCount != existing.ReplyCount {
		out.ReplyCount = incoming.ReplyCount
		changed = true
	}
	if !existing.HasRootText() {
		if text := normalizeText(incoming.RootText); text != nil {
			out.RootText = text
			changed = true
		}
	}
	if existing.LastReply == nil && incoming.LastReply != nil {
		wm := *incoming.LastReply
		out.LastReply = &wm
		changed = true
	}

	if changed {
		out.UpdatedAt = now
	}
	return out, changed
}

// ApplyThreadUpdate applies Reply Sync aggregates to a stored thread. The reply
// watermark only moves forward and every advance marks the thread dirty for
// summarization.
func ApplyThreadUpdate(existing Thread, upd ThreadUpdate, now time.Time) (Thread, bool) {
	out := existing
	changed := false

	if upd.ReplyCount != nil && *upd.ReplyCount != existing.ReplyCount {
		out.ReplyCount = *upd.ReplyCount
		changed = true
	}
	if upd.RootText != nil && !existing.HasRootText() {
		if text := normalizeText(upd.RootText); text != nil {
			out.RootText = text
			changed = true
		}
	}
	if upd.LastReply != nil {
		if existing.LastReply == nil || upd.LastReply.Epoch > existing.LastReply.Epoch {
			wm := *upd.LastReply
			out.LastReply = &wm
			out.NeedsSummary = true
			changed = true
		}
	}

	if changed {
		out.UpdatedAt = now
	}
	return out, changed
}

func normalizeText(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
