package ingest

import (
	"context"
	"fmt"

	"github.com/sabinanfranz/slack-data-ai/internal/slack"
	"github.com/sabinanfranz/slack-data-ai/internal/storage"
)

// ThreadStatus is the outcome of syncing one thread.
type ThreadStatus string

const (
	ThreadUpdated   ThreadStatus = "updated"
	ThreadUnchanged ThreadStatus = "unchanged"
	ThreadFailed    ThreadStatus = "error"
)

// ThreadOutcome reports one thread of a Reply Sync run.
type ThreadOutcome struct {
	ThreadTS string       `json:"thread_ts"`
	Status   ThreadStatus `json:"status"`
	Fetched  int          `json:"fetched"`
	Saved    int          `json:"saved_candidates"`
	New      int          `json:"new"`
	NewReply bool         `json:"new_reply"`
	Error    string       `json:"error,omitempty"`
}

// RepliesResult reports one Thread Reply Sync run.
type RepliesResult struct {
	ChannelID             string          `json:"channel_id"`
	TotalThreads          int             `json:"total_threads"`
	Budget                int             `json:"max_threads_poll_per_run"`
	Offset                int             `json:"rotation_offset"`
	ThreadsPolled         int             `json:"threads_polled"`
	ThreadsWithNewReplies int             `json:"threads_with_new_replies"`
	ThreadsFailed         int             `json:"threads_failed"`
	Fetched               int             `json:"fetched"`
	Saved                 int             `json:"saved_candidates"`
	New                   int             `json:"new"`
	Actors                int             `json:"actors_cached"`
	Threads               []ThreadOutcome `json:"threads,omitempty"`
}

// SyncReplies polls new replies for a bounded, rotating subset of the
// channel's threads. A failing thread is recorded in its outcome and the run
// moves on; only store failures outside a thread and cancellation abort it.
func (s *Syncer) SyncReplies(ctx context.Context, channelID string) (*RepliesResult, error) {
	ch, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("load channel: %w", err)
	}

	total, err := s.store.CountThreads(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("count threads: %w", err)
	}
	res := &RepliesResult{ChannelID: channelID, TotalThreads: total, Budget: s.opts.ThreadBudget}

	if total > 0 {
		threads, offset, err := s.selectThreads(ctx, ch, total)
		if err != nil {
			return res, fmt.Errorf("select threads: %w", err)
		}
		res.Offset = offset
		authors := make(map[string]struct{})

		for _, th := range threads {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			outcome := s.syncThread(ctx, th, authors)
			res.Threads = append(res.Threads, outcome)
			res.ThreadsPolled++
			res.Fetched += outcome.Fetched
			res.Saved += outcome.Saved
			res.New += outcome.New
			if outcome.NewReply {
				res.ThreadsWithNewReplies++
			}
			if outcome.Status == ThreadFailed {
				res.ThreadsFailed++
			}
		}
		res.Actors = s.ensureActors(ctx, authors)
	}

	if err := s.store.TouchIngested(ctx, channelID, s.now()); err != nil {
		return res, fmt.Errorf("stamp last ingested: %w", err)
	}

	s.logger.Info("replies synced",
		"channel", channelID,
		"total_threads", res.TotalThreads,
		"polled", res.ThreadsPolled,
		"with_new_replies", res.ThreadsWithNewReplies,
		"failed", res.ThreadsFailed,
	)
	return res, nil
}

// syncThread walks a thread's replies from its own watermark and applies the
// aggregates. Messages are committed per page; the aggregate update is
// skipped entirely when nothing changed or the walk failed.
func (s *Syncer) syncThread(ctx context.Context, th storage.Thread, authors map[string]struct{}) ThreadOutcome {
	out := ThreadOutcome{ThreadTS: th.ThreadTS}
	from := th.ReplyWatermark()
	maxTS := from

	var rootReplyCount *int
	var rootText string

	pager := s.repliesPager(slack.PageRequest{
		ChannelID: th.ChannelID,
		ThreadTS:  th.ThreadTS,
		Oldest:    from.TS,
		Limit:     s.opts.PageSize,
		Inclusive: true,
	})
	for pager.Next(ctx) {
		page := pager.Page()
		out.Fetched += len(page.Messages)

		var rows []storage.Message
		for _, m := range page.Messages {
			if m.TS == th.ThreadTS {
				count := m.ReplyCount
				rootReplyCount = &count
				if m.Text != "" {
					rootText = m.Text
				}
			}
			if !m.IsNormal() {
				continue
			}
			tsEpoch, err := storage.ParseTS(m.TS)
			if err != nil {
				s.logger.Warn("skipping reply with malformed ts", "channel", th.ChannelID, "thread", th.ThreadTS, "ts", m.TS)
				continue
			}
			if tsEpoch > maxTS.Epoch {
				maxTS = storage.Watermark{TS: m.TS, Epoch: tsEpoch}
			}
			if m.User != "" {
				authors[m.User] = struct{}{}
			}
			rows = append(rows, storage.Message{
				ChannelID:     th.ChannelID,
				TS:            m.TS,
				TSEpoch:       tsEpoch,
				ThreadTS:      th.ThreadTS,
				ThreadTSEpoch: th.ThreadTSEpoch,
				UserID:        m.User,
				Text:          m.Text,
				Raw:           m.Raw,
			})
		}

		if len(rows) == 0 {
			continue
		}
		inserted, err := s.store.InsertMessages(ctx, rows)
		if err != nil {
			return s.threadFailed(out, th, fmt.Errorf("insert replies: %w", err))
		}
		out.Saved += len(rows)
		out.New += inserted
	}
	if err := pager.Err(); err != nil {
		return s.threadFailed(out, th, fmt.Errorf("fetch replies: %w", err))
	}

	upd := storage.ThreadUpdate{ChannelID: th.ChannelID, ThreadTS: th.ThreadTS}
	changed := false
	if rootReplyCount != nil && *rootReplyCount != th.ReplyCount {
		upd.ReplyCount = rootReplyCount
		changed = true
	}
	if rootText != "" && !th.HasRootText() {
		upd.RootText = storage.StringPtr(rootText)
		changed = true
	}
	if maxTS.Epoch > from.Epoch {
		wm := maxTS
		upd.LastReply = &wm
		out.NewReply = true
		changed = true
	}

	if !changed {
		out.Status = ThreadUnchanged
		return out
	}
	if err := s.store.UpdateThread(ctx, upd); err != nil {
		out.NewReply = false
		return s.threadFailed(out, th, fmt.Errorf("update thread: %w", err))
	}
	out.Status = ThreadUpdated
	return out
}

func (s *Syncer) threadFailed(out ThreadOutcome, th storage.Thread, err error) ThreadOutcome {
	s.logger.Warn("thread sync failed", "channel", th.ChannelID, "thread", th.ThreadTS, "error", err)
	out.Status = ThreadFailed
	out.Error = err.Error()
	return out
}
