package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/sabinanfranz/slack-data-ai/internal/slack"
	"github.com/sabinanfranz/slack-data-ai/internal/storage"
)

// ChannelSummary is one channel's outcome within a batch run.
type ChannelSummary struct {
	ChannelID string        `json:"channel_id"`
	Name      string        `json:"name"`
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Result    *FullResult   `json:"result,omitempty"`
}

// OK reports whether the channel ingested without error.
func (s ChannelSummary) OK() bool {
	return s.Status == outcomeOK
}

// BatchReport is the outcome of RunAll.
type BatchReport struct {
	RunID     string           `json:"run_id"`
	StartedAt time.Time        `json:"started_at"`
	Duration  time.Duration    `json:"duration"`
	Channels  []ChannelSummary `json:"channels"`
}

// Failed counts channels that did not finish ok.
func (r *BatchReport) Failed() int {
	n := 0
	for _, ch := range r.Channels {
		if !ch.OK() {
			n++
		}
	}
	return n
}

// RunAll ingests every active channel, oldest registration first, filtered
// by the configured channel patterns. Each channel runs History then Replies.
// A failing channel is recorded in its summary and never stops the batch;
// only failing to list channels returns an error.
func (o *Orchestrator) RunAll(ctx context.Context) (*BatchReport, error) {
	report := &BatchReport{RunID: uuid.NewString(), StartedAt: o.now()}
	logger := o.logger.With("run_id", report.RunID)

	channels, err := o.store.ListActiveChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active channels: %w", err)
	}
	channels = o.filterChannels(channels)
	if len(channels) == 0 {
		logger.Info("no active channels to ingest")
		report.Duration = o.now().Sub(report.StartedAt)
		return report, nil
	}
	logger.Info("batch run started", "channels", len(channels), "workers", o.opts.Workers)

	report.Channels = make([]ChannelSummary, len(channels))
	sem := make(chan struct{}, o.opts.Workers)
	var wg sync.WaitGroup

	for i, ch := range channels {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			report.Channels[i] = ChannelSummary{
				ChannelID: ch.ID,
				Name:      ch.Name,
				Status:    outcomeSkipped,
				Error:     ctx.Err().Error(),
			}
			continue
		}

		wg.Add(1)
		go func(i int, ch storage.Channel) {
			defer wg.Done()
			defer func() { <-sem }()
			report.Channels[i] = o.runBatchChannel(ctx, logger, ch)
		}(i, ch)
	}
	wg.Wait()

	report.Duration = o.now().Sub(report.StartedAt)
	logger.Info("batch run finished",
		"channels", len(report.Channels),
		"failed", report.Failed(),
		"duration", report.Duration,
	)

	o.opts.Notifier.PostReport(ctx, report.runReport())
	return report, nil
}

func (o *Orchestrator) runBatchChannel(ctx context.Context, logger *slog.Logger, ch storage.Channel) ChannelSummary {
	summary := ChannelSummary{ChannelID: ch.ID, Name: ch.Name}

	if !o.acquire(ch.ID) {
		logger.Warn("channel busy, skipping", "channel", ch.ID)
		summary.Status = outcomeSkipped
		summary.Error = ErrChannelBusy.Error()
		return summary
	}
	defer o.release(ch.ID)

	started := o.now()
	res, err := o.ingestChannel(ctx, ch.ID, ModeFull, 0)
	summary.Duration = o.now().Sub(started)
	summary.Result = res

	summary.Status = outcomeOK
	if err != nil {
		summary.Status = outcomeError
		summary.Error = err.Error()
		logger.Error("channel ingest failed", "channel", ch.ID, "error", err)
	}
	o.opts.Metrics.observeRun(ModeFull, summary.Status, summary.Duration.Seconds())
	return summary
}

// filterChannels keeps channels whose name or id matches any configured
// pattern. Without patterns every channel is kept.
func (o *Orchestrator) filterChannels(channels []storage.Channel) []storage.Channel {
	if len(o.opts.ChannelPatterns) == 0 {
		return channels
	}
	var out []storage.Channel
	for _, ch := range channels {
		if o.matchesPattern(ch) {
			out = append(out, ch)
		}
	}
	return out
}

func (o *Orchestrator) matchesPattern(ch storage.Channel) bool {
	for _, pattern := range o.opts.ChannelPatterns {
		for _, candidate := range []string{ch.Name, ch.ID} {
			ok, err := doublestar.Match(pattern, candidate)
			if err != nil {
				o.logger.Warn("invalid channel pattern", "pattern", pattern, "error", err)
				break
			}
			if ok {
				return true
			}
		}
	}
	return false
}

func (r *BatchReport) runReport() slack.RunReport {
	out := slack.RunReport{
		RunID:    r.RunID,
		Started:  r.StartedAt,
		Duration: r.Duration,
		Channels: make([]slack.ChannelReport, 0, len(r.Channels)),
	}
	for _, ch := range r.Channels {
		line := slack.ChannelReport{
			ChannelID: ch.ChannelID,
			Name:      ch.Name,
			OK:        ch.OK(),
			Error:     ch.Error,
		}
		if ch.Result != nil {
			if h := ch.Result.History; h != nil {
				line.Fetched += h.Fetched
				line.Saved += h.Saved
				line.New += h.New
			}
			if rep := ch.Result.Replies; rep != nil {
				line.Fetched += rep.Fetched
				line.Saved += rep.Saved
				line.New += rep.New
				line.ThreadsPolled = rep.ThreadsPolled
				line.ThreadsFailed = rep.ThreadsFailed
			}
		}
		out.Channels = append(out.Channels, line)
	}
	return out
}
