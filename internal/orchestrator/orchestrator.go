// Package orchestrator drives ingestion across channels: batch runs over every
// active channel, on-demand runs for a single channel and the cron schedule.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sabinanfranz/slack-data-ai/internal/config"
	"github.com/sabinanfranz/slack-data-ai/internal/ingest"
	"github.com/sabinanfranz/slack-data-ai/internal/slack"
	"github.com/sabinanfranz/slack-data-ai/internal/storage"
)

// Mode selects which sync steps an on-demand run performs.
type Mode string

const (
	// ModeFull runs History Sync then Thread Reply Sync.
	ModeFull Mode = "full"
	// ModeThreadsOnly runs Thread Reply Sync alone.
	ModeThreadsOnly Mode = "threads_only"
)

const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeSkipped = "skipped"
)

// Bounds for RunOptions.BackfillDays.
const (
	MinBackfillDays = 1
	MaxBackfillDays = 90
)

var (
	ErrChannelNotFound = errors.New("channel not found")
	ErrChannelInactive = errors.New("channel is not active")
	ErrChannelBusy     = errors.New("channel ingest already running")
	ErrInvalidOptions  = errors.New("invalid run options")
)

// Engine performs the per-channel sync steps. *ingest.Syncer implements it.
type Engine interface {
	SyncHistory(ctx context.Context, channelID string, backfill time.Duration) (*ingest.HistoryResult, error)
	SyncReplies(ctx context.Context, channelID string) (*ingest.RepliesResult, error)
}

// Options configures an Orchestrator.
type Options struct {
	Workers         int
	ChannelPatterns []string
	Notifier        *slack.Notifier
	Metrics         *Metrics
}

// OptionsFromConfig builds Options from the application configuration.
// Notifier and Metrics are left for the caller to wire.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Workers:         cfg.Workers,
		ChannelPatterns: cfg.ChannelPatterns,
	}
}

// RunOptions tunes an on-demand channel run. A zero BackfillDays uses the
// configured backfill window; an empty Mode means ModeFull.
type RunOptions struct {
	BackfillDays int  `json:"backfill_days,omitempty"`
	Mode         Mode `json:"mode,omitempty"`
}

func (r RunOptions) normalize() (RunOptions, error) {
	switch r.Mode {
	case "":
		r.Mode = ModeFull
	case ModeFull, ModeThreadsOnly:
	default:
		return r, fmt.Errorf("%w: mode %q (want %s or %s)", ErrInvalidOptions, r.Mode, ModeFull, ModeThreadsOnly)
	}
	if r.BackfillDays != 0 && (r.BackfillDays < MinBackfillDays || r.BackfillDays > MaxBackfillDays) {
		return r, fmt.Errorf("%w: backfill_days %d out of range [%d, %d]", ErrInvalidOptions, r.BackfillDays, MinBackfillDays, MaxBackfillDays)
	}
	return r, nil
}

func (r RunOptions) backfill() time.Duration {
	return time.Duration(r.BackfillDays) * 24 * time.Hour
}

// FullResult is the outcome of one channel run. It is also stored as the
// channel's last result snapshot.
type FullResult struct {
	ChannelID string                `json:"channel_id"`
	Mode      Mode                  `json:"mode"`
	History   *ingest.HistoryResult `json:"history,omitempty"`
	Replies   *ingest.RepliesResult `json:"replies,omitempty"`
}

// Orchestrator runs channel ingests. The same channel never runs twice at
// once within a process.
type Orchestrator struct {
	engine Engine
	store  storage.Store
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	busy map[string]struct{}
}

// New creates an Orchestrator.
func New(engine Engine, store storage.Store, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		engine: engine,
		store:  store,
		opts:   opts,
		logger: logger.With("component", "orchestrator"),
		now:    time.Now,
		busy:   make(map[string]struct{}),
	}
}

// SetClock replaces the clock used for status timestamps and durations.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

func (o *Orchestrator) acquire(channelID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.busy[channelID]; ok {
		return false
	}
	o.busy[channelID] = struct{}{}
	return true
}

func (o *Orchestrator) release(channelID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.busy, channelID)
}

// RunChannel ingests one channel on demand. The channel must exist and be
// active. Its ingest status moves to running and then to ok or error, with
// the result snapshot recorded either way. Errors are returned to the caller.
func (o *Orchestrator) RunChannel(ctx context.Context, channelID string, opts RunOptions) (*FullResult, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}

	ch, err := o.store.GetChannel(ctx, channelID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}
	if err != nil {
		return nil, fmt.Errorf("load channel %s: %w", channelID, err)
	}
	if !ch.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrChannelInactive, channelID)
	}

	if !o.acquire(channelID) {
		return nil, fmt.Errorf("%w: %s", ErrChannelBusy, channelID)
	}
	defer o.release(channelID)

	started := o.now()
	if err := o.store.SetIngestStatus(ctx, channelID, storage.IngestState{
		Status:    storage.IngestRunning,
		StartedAt: &started,
	}); err != nil {
		return nil, fmt.Errorf("record running status: %w", err)
	}
	o.logger.Info("channel ingest started", "channel", channelID, "mode", opts.Mode, "backfill_days", opts.BackfillDays)

	res, runErr := o.ingestChannel(ctx, channelID, opts.Mode, opts.backfill())

	finished := o.now()
	state := storage.IngestState{
		Status:     storage.IngestOK,
		StartedAt:  &started,
		FinishedAt: &finished,
	}
	if snapshot, err := json.Marshal(res); err == nil {
		state.LastResult = snapshot
	}
	outcome := outcomeOK
	if runErr != nil {
		outcome = outcomeError
		state.Status = storage.IngestError
		state.ErrorMessage = runErr.Error()
	}
	o.opts.Metrics.observeRun(opts.Mode, outcome, finished.Sub(started).Seconds())

	// The final status is written even when ctx was cancelled mid-run.
	if err := o.store.SetIngestStatus(context.WithoutCancel(ctx), channelID, state); err != nil {
		o.logger.Error("failed to record ingest status", "channel", channelID, "error", err)
		if runErr == nil {
			return res, fmt.Errorf("record final status: %w", err)
		}
	}

	if runErr != nil {
		o.logger.Error("channel ingest failed", "channel", channelID, "error", runErr)
		return res, runErr
	}
	o.logger.Info("channel ingest finished", "channel", channelID, "duration", finished.Sub(started))
	return res, nil
}

// ingestChannel runs the sync steps for mode, strictly History before Replies.
func (o *Orchestrator) ingestChannel(ctx context.Context, channelID string, mode Mode, backfill time.Duration) (*FullResult, error) {
	res := &FullResult{ChannelID: channelID, Mode: mode}

	if mode == ModeFull {
		history, err := o.engine.SyncHistory(ctx, channelID, backfill)
		res.History = history
		o.opts.Metrics.observeHistory(history)
		if err != nil {
			return res, fmt.Errorf("history sync: %w", err)
		}
	}

	replies, err := o.engine.SyncReplies(ctx, channelID)
	res.Replies = replies
	o.opts.Metrics.observeReplies(replies)
	if err != nil {
		return res, fmt.Errorf("reply sync: %w", err)
	}
	return res, nil
}
