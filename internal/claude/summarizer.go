package claude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sabinanfranz/slack-data-ai/internal/config"
	"github.com/sabinanfranz/slack-data-ai/internal/storage"
)

// ErrNoMessages is returned for a thread with no stored messages.
var ErrNoMessages = errors.New("thread has no stored messages")

// Generator produces a summary document for a thread transcript. *Client
// implements it.
type Generator interface {
	GenerateSummary(ctx context.Context, instructions, transcript string) (json.RawMessage, error)
	Model() string
}

// Options tunes a Summarizer.
type Options struct {
	Language    string
	Lookback    time.Duration
	MaxMessages int
}

// OptionsFromConfig builds Options from the application configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Language:    cfg.SummaryLanguage,
		Lookback:    time.Duration(cfg.SummaryLookbackDays) * 24 * time.Hour,
		MaxMessages: cfg.MaxMessagesForSummary,
	}
}

// Thread summary statuses.
const (
	StatusSummarized = "summarized"
	StatusSkipped    = "skipped"
	StatusFailed     = "error"
)

// ThreadResult is the outcome for one thread.
type ThreadResult struct {
	ChannelID string `json:"channel_id"`
	ThreadTS  string `json:"thread_ts"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// RunResult reports one SummarizePending call.
type RunResult struct {
	Selected   int            `json:"selected"`
	Summarized int            `json:"summarized"`
	Skipped    int            `json:"skipped"`
	Failed     int            `json:"failed"`
	Threads    []ThreadResult `json:"threads,omitempty"`
}

// Summarizer turns threads flagged needs_summary into stored summaries.
type Summarizer struct {
	gen    Generator
	store  storage.Store
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewSummarizer creates a Summarizer.
func NewSummarizer(gen Generator, store storage.Store, opts Options, logger *slog.Logger) *Summarizer {
	if opts.Lookback <= 0 {
		opts.Lookback = 14 * 24 * time.Hour
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 80
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{
		gen:    gen,
		store:  store,
		opts:   opts,
		logger: logger.With("component", "summarizer"),
		now:    time.Now,
	}
}

// SetClock replaces the clock used for the lookback window.
func (s *Summarizer) SetClock(now func() time.Time) {
	s.now = now
}

// SummarizePending summarizes up to limit dirty threads of active channels
// that changed within the lookback window, most recent first. An empty
// channelID covers every channel. A failing thread is recorded and the run
// continues.
func (s *Summarizer) SummarizePending(ctx context.Context, channelID string, limit int) (*RunResult, error) {
	since := s.now().Add(-s.opts.Lookback)
	threads, err := s.store.ListThreadsNeedingSummary(ctx, channelID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list threads needing summary: %w", err)
	}

	res := &RunResult{Selected: len(threads)}
	for _, th := range threads {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		out := ThreadResult{ChannelID: th.ChannelID, ThreadTS: th.ThreadTS, Status: StatusSummarized}
		err := s.SummarizeThread(ctx, th)
		switch {
		case errors.Is(err, ErrNoMessages):
			out.Status = StatusSkipped
			res.Skipped++
		case err != nil:
			out.Status = StatusFailed
			out.Error = err.Error()
			res.Failed++
			s.logger.Warn("thread summary failed", "channel", th.ChannelID, "thread", th.ThreadTS, "error", err)
		default:
			res.Summarized++
		}
		res.Threads = append(res.Threads, out)
	}

	s.logger.Info("summaries updated",
		"channel", channelID,
		"selected", res.Selected,
		"summarized", res.Summarized,
		"failed", res.Failed,
	)
	return res, nil
}

// SummarizeThread summarizes one thread and stores the result. The thread's
// dirty flag is cleared by the store unless a newer reply has arrived since
// the messages were read.
func (s *Summarizer) SummarizeThread(ctx context.Context, th storage.Thread) error {
	msgs, err := s.store.ThreadMessages(ctx, th.ChannelID, th.ThreadTS)
	if err != nil {
		return fmt.Errorf("load thread messages: %w", err)
	}
	if len(msgs) == 0 {
		return ErrNoMessages
	}
	source := th.ReplyWatermark()
	selected := sliceForSummary(msgs, th.ThreadTS, s.opts.MaxMessages)

	actors, err := s.store.GetActors(ctx, authorIDs(selected))
	if err != nil {
		s.logger.Warn("failed to load author names", "channel", th.ChannelID, "thread", th.ThreadTS, "error", err)
		actors = nil
	}

	doc, err := buildTranscript(th, selected, len(msgs), actors)
	if err != nil {
		return fmt.Errorf("build transcript: %w", err)
	}

	raw, err := s.gen.GenerateSummary(ctx, SummaryInstructions(s.opts.Language), string(doc))
	if err != nil {
		return err
	}
	summary, err := ParseSummary(raw)
	if err != nil {
		return err
	}
	stored, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	return s.store.SaveSummary(ctx, storage.ThreadSummary{
		ChannelID:    th.ChannelID,
		ThreadTS:     th.ThreadTS,
		Summary:      stored,
		Model:        s.gen.Model(),
		SourceLatest: source,
		UpdatedAt:    s.now(),
	})
}
