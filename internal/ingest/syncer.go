// Package ingest provides the incremental sync engine: History Sync, Thread
// Reply Sync, fair thread rotation, the actor cache and channel registration.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/sabinanfranz/slack-data-ai/internal/config"
	"github.com/sabinanfranz/slack-data-ai/internal/slack"
	"github.com/sabinanfranz/slack-data-ai/internal/storage"
)

// API is the part of the Slack client the sync engine calls. *slack.Client
// implements it.
type API interface {
	ChannelInfo(ctx context.Context, channelID string) (*slack.ChannelInfo, error)
	UserInfo(ctx context.Context, userID string) (*slack.UserInfo, error)
	JoinChannel(ctx context.Context, channelID string) error
	HistoryPage(ctx context.Context, req slack.PageRequest) (*slack.Page, error)
	RepliesPage(ctx context.Context, req slack.PageRequest) (*slack.Page, error)
}

// Options tunes a Syncer.
type Options struct {
	PageSize     int
	Backfill     time.Duration
	ThreadBudget int
}

// DefaultOptions matches the configuration defaults.
func DefaultOptions() Options {
	return Options{
		PageSize:     200,
		Backfill:     14 * 24 * time.Hour,
		ThreadBudget: 300,
	}
}

// OptionsFromConfig builds Options from the application configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PageSize:     cfg.PageSize,
		Backfill:     cfg.BackfillWindow(),
		ThreadBudget: cfg.MaxThreadsPollPerRun,
	}
}

// Syncer runs History Sync and Thread Reply Sync for one channel at a time.
// It keeps no state between calls; everything is read from and committed to
// the store. Callers must not sync the same channel concurrently.
type Syncer struct {
	api    API
	store  storage.Store
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewSyncer creates a Syncer.
func NewSyncer(api API, store storage.Store, opts Options, logger *slog.Logger) *Syncer {
	defaults := DefaultOptions()
	if opts.PageSize <= 0 {
		opts.PageSize = defaults.PageSize
	}
	if opts.Backfill <= 0 {
		opts.Backfill = defaults.Backfill
	}
	if opts.ThreadBudget <= 0 {
		opts.ThreadBudget = defaults.ThreadBudget
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		api:    api,
		store:  store,
		opts:   opts,
		logger: logger.With("component", "ingest"),
		now:    time.Now,
	}
}

// SetClock replaces the wall clock used for seeding and rotation.
func (s *Syncer) SetClock(now func() time.Time) {
	s.now = now
}

// Options returns the effective options.
func (s *Syncer) Options() Options {
	return s.opts
}
