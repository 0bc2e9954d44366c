package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sabinanfranz/slack-data-ai/internal/config"
	"github.com/sabinanfranz/slack-data-ai/internal/ingest"
	"github.com/sabinanfranz/slack-data-ai/internal/orchestrator"
	"github.com/sabinanfranz/slack-data-ai/internal/slack"
	"github.com/sabinanfranz/slack-data-ai/internal/storage"
)

// app bundles the configuration and the store opened for one command.
type app struct {
	cfg    *config.Config
	store  storage.Store
	logger *slog.Logger
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, cfg.DatabaseURL, cfg.AutoMigrate, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &app{cfg: cfg, store: store, logger: logger}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", "error", err)
	}
}

func (a *app) slackClient() (*slack.Client, error) {
	return slack.NewFromConfig(a.cfg, a.logger)
}

func (a *app) syncer(api ingest.API) *ingest.Syncer {
	return ingest.NewSyncer(api, a.store, ingest.OptionsFromConfig(a.cfg), a.logger)
}

// orchestrator wires the sync engine, the run-report notifier and metrics.
// A nil metrics leaves runs unobserved.
func (a *app) orchestrator(client *slack.Client, metrics *orchestrator.Metrics) *orchestrator.Orchestrator {
	opts := orchestrator.OptionsFromConfig(a.cfg)
	opts.Metrics = metrics
	opts.Notifier = slack.NewNotifier(client, a.cfg.ReportChannelID, a.logger)
	return orchestrator.New(a.syncer(client), a.store, opts, a.logger)
}
