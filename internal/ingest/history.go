package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/sabinanfranz/slack-data-ai/internal/slack"
	"github.com/sabinanfranz/slack-data-ai/internal/storage"
)

// HistoryResult reports one History Sync run.
type HistoryResult struct {
	ChannelID  string  `json:"channel_id"`
	Pages      int     `json:"pages"`
	Fetched    int     `json:"fetched"`
	Saved      int     `json:"saved_candidates"`
	New        int     `json:"new"`
	Roots      int     `json:"roots"`
	Actors     int     `json:"actors_cached"`
	MaxTSEpoch float64 `json:"max_ts_epoch"`
	NewLastTS  string  `json:"new_last_ts"`
	Advanced   bool    `json:"advanced"`
}

// SyncHistory pulls a channel's history forward from its watermark.
//
// A channel without a watermark is seeded to now minus the backfill window
// before anything is fetched. A positive backfill also rescans from
// now minus backfill when that is older than the watermark; the stored
// watermark itself never moves backwards. Zero uses the configured window.
//
// Each page is committed atomically. The watermark advances only after the
// listing is exhausted, and last_ingested_at is always stamped on success.
func (s *Syncer) SyncHistory(ctx context.Context, channelID string, backfill time.Duration) (*HistoryResult, error) {
	window := s.opts.Backfill
	if backfill > 0 {
		window = backfill
	}
	seed := storage.WatermarkAt(s.now().Add(-window))

	wm, err := s.store.SeedWatermark(ctx, channelID, seed)
	if err != nil {
		return nil, fmt.Errorf("seed watermark: %w", err)
	}
	start := wm
	if backfill > 0 && seed.Epoch < wm.Epoch {
		start = seed
	}

	res := &HistoryResult{ChannelID: channelID, MaxTSEpoch: wm.Epoch, NewLastTS: wm.TS}
	maxTS := wm
	authors := make(map[string]struct{})

	pager := s.historyPager(slack.PageRequest{
		ChannelID: channelID,
		Oldest:    start.TS,
		Limit:     s.opts.PageSize,
		Inclusive: true,
	})
	for pager.Next(ctx) {
		page := pager.Page()
		res.Fetched += len(page.Messages)

		write, pageMax := s.historyRows(channelID, page.Messages, authors)
		inserted, err := s.store.ApplyPage(ctx, write)
		if err != nil {
			return res, fmt.Errorf("apply history page: %w", err)
		}

		res.Saved += len(write.Messages)
		res.New += inserted
		res.Roots += len(write.Threads)
		if pageMax.Epoch > maxTS.Epoch {
			maxTS = pageMax
		}
	}
	res.Pages = pager.Pages()
	if err := pager.Err(); err != nil {
		return res, fmt.Errorf("fetch history: %w", err)
	}

	res.Actors = s.ensureActors(ctx, authors)

	if maxTS.Epoch > wm.Epoch {
		advanced, err := s.store.AdvanceWatermark(ctx, channelID, maxTS)
		if err != nil {
			return res, fmt.Errorf("advance watermark: %w", err)
		}
		res.Advanced = advanced
	}
	current, err := s.store.GetWatermark(ctx, channelID)
	if err != nil {
		return res, fmt.Errorf("read watermark: %w", err)
	}
	res.NewLastTS = current.TS
	res.MaxTSEpoch = maxTS.Epoch

	if err := s.store.TouchIngested(ctx, channelID, s.now()); err != nil {
		return res, fmt.Errorf("stamp last ingested: %w", err)
	}

	s.logger.Info("history synced",
		"channel", channelID,
		"pages", res.Pages,
		"fetched", res.Fetched,
		"new", res.New,
		"roots", res.Roots,
		"advanced", res.Advanced,
	)
	return res, nil
}

// historyRows turns a page into message rows and root thread rows and returns
// the newest normal message seen on the page.
func (s *Syncer) historyRows(channelID string, msgs []slack.Message, authors map[string]struct{}) (storage.PageWrite, storage.Watermark) {
	var write storage.PageWrite
	var pageMax storage.Watermark

	for _, m := range msgs {
		if !m.IsNormal() {
			continue
		}
		tsEpoch, err := storage.ParseTS(m.TS)
		if err != nil {
			s.logger.Warn("skipping message with malformed ts", "channel", channelID, "ts", m.TS)
			continue
		}
		rootTS := m.RootTS()
		rootEpoch, err := storage.ParseTS(rootTS)
		if err != nil {
			s.logger.Warn("skipping message with malformed thread_ts", "channel", channelID, "thread_ts", rootTS)
			continue
		}

		if tsEpoch > pageMax.Epoch {
			pageMax = storage.Watermark{TS: m.TS, Epoch: tsEpoch}
		}
		if m.User != "" {
			authors[m.User] = struct{}{}
		}

		write.Messages = append(write.Messages, storage.Message{
			ChannelID:     channelID,
			TS:            m.TS,
			TSEpoch:       tsEpoch,
			ThreadTS:      rootTS,
			ThreadTSEpoch: rootEpoch,
			UserID:        m.User,
			Text:          m.Text,
			Raw:           m.Raw,
		})

		if rootTS == m.TS {
			self := storage.Watermark{TS: m.TS, Epoch: tsEpoch}
			write.Threads = append(write.Threads, storage.Thread{
				ChannelID:     channelID,
				ThreadTS:      m.TS,
				ThreadTSEpoch: tsEpoch,
				RootTS:        m.TS,
				RootText:      storage.StringPtr(m.Text),
				ReplyCount:    m.ReplyCount,
				LastReply:     &self,
				NeedsSummary:  true,
			})
		}
	}
	return write, pageMax
}
