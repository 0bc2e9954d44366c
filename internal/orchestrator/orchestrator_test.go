package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	slackgo "github.com/slack-go/slack"

	"github.com/sabinanfranz/slack-data-ai/internal/ingest"
	"github.com/sabinanfranz/slack-data-ai/internal/slack"
	"github.com/sabinanfranz/slack-data-ai/internal/storage"
)

type fakeEngine struct {
	mu         sync.Mutex
	historyErr map[string]error
	repliesErr map[string]error
	calls      []string
	backfills  []time.Duration

	entered chan string
	block   chan struct{}
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		historyErr: make(map[string]error),
		repliesErr: make(map[string]error),
	}
}

func (f *fakeEngine) SyncHistory(ctx context.Context, channelID string, backfill time.Duration) (*ingest.HistoryResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "history:"+channelID)
	f.backfills = append(f.backfills, backfill)
	err := f.historyErr[channelID]
	entered, block := f.entered, f.block
	f.mu.Unlock()

	if entered != nil {
		entered <- channelID
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &ingest.HistoryResult{ChannelID: channelID, Pages: 1, Fetched: 3, Saved: 3, New: 2}, err
}

func (f *fakeEngine) SyncReplies(ctx context.Context, channelID string) (*ingest.RepliesResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "replies:"+channelID)
	return &ingest.RepliesResult{ChannelID: channelID, ThreadsPolled: 2, ThreadsFailed: 1, Fetched: 2, Saved: 1, New: 1}, f.repliesErr[channelID]
}

func (f *fakeEngine) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakePoster struct {
	mu    sync.Mutex
	posts []string
}

func (p *fakePoster) PostBlocks(ctx context.Context, channelID, fallback string, blocks ...slackgo.Block) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.posts = append(p.posts, fallback)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	engine  *fakeEngine
	store   *storage.MemoryStore
	metrics *Metrics
	orch    *Orchestrator
	clock   time.Time
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		engine:  newFakeEngine(),
		store:   storage.NewMemoryStore(),
		metrics: NewMetrics(prometheus.NewRegistry()),
		clock:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.store.SetClock(f.now)
	opts.Metrics = f.metrics
	f.orch = New(f.engine, f.store, opts, quietLogger())
	f.orch.SetClock(f.now)
	return f
}

func (f *fixture) now() time.Time {
	return f.clock
}

// addChannel registers channels one second apart so creation order is explicit.
func (f *fixture) addChannel(t *testing.T, id, name string, active bool) {
	t.Helper()
	f.clock = f.clock.Add(time.Second)
	if _, err := f.store.SaveChannel(context.Background(), storage.Channel{ID: id, Name: name, IsActive: active}); err != nil {
		t.Fatalf("SaveChannel(%s) error = %v", id, err)
	}
}

func TestRunChannelRecordsStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.addChannel(t, "C1", "general", true)

	res, err := f.orch.RunChannel(ctx, "C1", RunOptions{})
	if err != nil {
		t.Fatalf("RunChannel() error = %v", err)
	}
	if res.Mode != ModeFull || res.History == nil || res.Replies == nil {
		t.Fatalf("result = %+v, want full run with both steps", res)
	}

	calls := f.engine.callLog()
	if len(calls) != 2 || calls[0] != "history:C1" || calls[1] != "replies:C1" {
		t.Errorf("calls = %v, want history then replies", calls)
	}

	ch, err := f.store.GetChannel(ctx, "C1")
	if err != nil {
		t.Fatalf("GetChannel() error = %v", err)
	}
	if ch.Ingest.Status != storage.IngestOK {
		t.Errorf("status = %q, want %q", ch.Ingest.Status, storage.IngestOK)
	}
	if ch.Ingest.StartedAt == nil || ch.Ingest.FinishedAt == nil {
		t.Error("started/finished timestamps should be recorded")
	}
	var snapshot FullResult
	if err := json.Unmarshal(ch.Ingest.LastResult, &snapshot); err != nil {
		t.Fatalf("unmarshal last result: %v", err)
	}
	if snapshot.History == nil || snapshot.History.New != 2 {
		t.Errorf("snapshot history = %+v", snapshot.History)
	}

	if got := testutil.ToFloat64(f.metrics.ChannelRuns.WithLabelValues("full", "ok")); got != 1 {
		t.Errorf("channel_runs_total{full,ok} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(f.metrics.MessagesNew); got != 3 {
		t.Errorf("messages_new_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(f.metrics.ThreadsPolled); got != 2 {
		t.Errorf("threads_polled_total = %v, want 2", got)
	}
}

func TestRunChannelFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.addChannel(t, "C1", "general", true)
	boom := errors.New("conversations.history failed: http 500 after 5 attempts")
	f.engine.historyErr["C1"] = boom

	_, err := f.orch.RunChannel(ctx, "C1", RunOptions{})
	if !errors.Is(err, boom) {
		t.Fatalf("RunChannel() error = %v, want wrapped %v", err, boom)
	}
	if calls := f.engine.callLog(); len(calls) != 1 {
		t.Errorf("calls = %v, replies should not run after a history failure", calls)
	}

	ch, err := f.store.GetChannel(ctx, "C1")
	if err != nil {
		t.Fatalf("GetChannel() error = %v", err)
	}
	if ch.Ingest.Status != storage.IngestError {
		t.Errorf("status = %q, want %q", ch.Ingest.Status, storage.IngestError)
	}
	if !strings.Contains(ch.Ingest.ErrorMessage, "http 500") {
		t.Errorf("error message = %q", ch.Ingest.ErrorMessage)
	}
	if got := testutil.ToFloat64(f.metrics.ChannelRuns.WithLabelValues("full", "error")); got != 1 {
		t.Errorf("channel_runs_total{full,error} = %v, want 1", got)
	}
}

func TestRunChannelThreadsOnly(t *testing.T) {
	f := newFixture(t, Options{})
	f.addChannel(t, "C1", "general", true)

	res, err := f.orch.RunChannel(context.Background(), "C1", RunOptions{Mode: ModeThreadsOnly})
	if err != nil {
		t.Fatalf("RunChannel() error = %v", err)
	}
	if res.History != nil {
		t.Error("threads_only run should not sync history")
	}
	if calls := f.engine.callLog(); len(calls) != 1 || calls[0] != "replies:C1" {
		t.Errorf("calls = %v, want [replies:C1]", calls)
	}
}

func TestRunChannelBackfillDays(t *testing.T) {
	f := newFixture(t, Options{})
	f.addChannel(t, "C1", "general", true)

	if _, err := f.orch.RunChannel(context.Background(), "C1", RunOptions{BackfillDays: 30}); err != nil {
		t.Fatalf("RunChannel() error = %v", err)
	}
	if len(f.engine.backfills) != 1 || f.engine.backfills[0] != 30*24*time.Hour {
		t.Errorf("backfills = %v, want [720h]", f.engine.backfills)
	}
}

func TestRunChannelRejects(t *testing.T) {
	f := newFixture(t, Options{})
	f.addChannel(t, "C1", "general", true)
	f.addChannel(t, "C2", "archived", false)

	tests := []struct {
		name      string
		channelID string
		opts      RunOptions
		want      error
	}{
		{"unknown channel", "C404", RunOptions{}, ErrChannelNotFound},
		{"inactive channel", "C2", RunOptions{}, ErrChannelInactive},
		{"unknown mode", "C1", RunOptions{Mode: "everything"}, ErrInvalidOptions},
		{"backfill too large", "C1", RunOptions{BackfillDays: 91}, ErrInvalidOptions},
		{"negative backfill", "C1", RunOptions{BackfillDays: -1}, ErrInvalidOptions},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orch.RunChannel(context.Background(), tt.channelID, tt.opts)
			if !errors.Is(err, tt.want) {
				t.Errorf("RunChannel() error = %v, want %v", err, tt.want)
			}
		})
	}
	if calls := f.engine.callLog(); len(calls) != 0 {
		t.Errorf("rejected runs reached the engine: %v", calls)
	}
}

func TestRunChannelBusy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.addChannel(t, "C1", "general", true)
	f.engine.entered = make(chan string, 1)
	f.engine.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.RunChannel(ctx, "C1", RunOptions{})
		done <- err
	}()
	<-f.engine.entered

	ch, err := f.store.GetChannel(ctx, "C1")
	if err != nil {
		t.Fatalf("GetChannel() error = %v", err)
	}
	if ch.Ingest.Status != storage.IngestRunning {
		t.Errorf("status during run = %q, want %q", ch.Ingest.Status, storage.IngestRunning)
	}

	if _, err := f.orch.RunChannel(ctx, "C1", RunOptions{}); !errors.Is(err, ErrChannelBusy) {
		t.Errorf("overlapping RunChannel() error = %v, want ErrChannelBusy", err)
	}

	report, err := f.orch.RunAll(ctx)
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}
	if len(report.Channels) != 1 || report.Channels[0].Status != outcomeSkipped {
		t.Errorf("batch during on-demand run = %+v, want skipped", report.Channels)
	}

	close(f.engine.block)
	if err := <-done; err != nil {
		t.Fatalf("first RunChannel() error = %v", err)
	}
	if _, err := f.orch.RunChannel(ctx, "C1", RunOptions{}); err != nil {
		t.Errorf("RunChannel() after release error = %v", err)
	}
}

func TestRunAllOrderAndIsolation(t *testing.T) {
	ctx := context.Background()
	poster := &fakePoster{}
	f := newFixture(t, Options{
		Workers:  3,
		Notifier: slack.NewNotifier(poster, "CREPORT", quietLogger()),
	})
	f.addChannel(t, "C9", "alpha", true)
	f.addChannel(t, "C5", "beta", true)
	f.addChannel(t, "C7", "archived", false)
	f.addChannel(t, "C1", "gamma", true)
	f.engine.historyErr["C5"] = errors.New("channel_not_found")

	report, err := f.orch.RunAll(ctx)
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}
	if report.RunID == "" {
		t.Error("RunID should be set")
	}

	want := []string{"C9", "C5", "C1"}
	if len(report.Channels) != len(want) {
		t.Fatalf("channels = %+v, want %v", report.Channels, want)
	}
	for i, id := range want {
		if report.Channels[i].ChannelID != id {
			t.Errorf("channels[%d] = %s, want %s", i, report.Channels[i].ChannelID, id)
		}
	}
	if report.Channels[1].Status != outcomeError || report.Channels[1].Error == "" {
		t.Errorf("failing channel summary = %+v", report.Channels[1])
	}
	if !report.Channels[0].OK() || !report.Channels[2].OK() {
		t.Errorf("healthy channels should be ok: %+v", report.Channels)
	}
	if report.Failed() != 1 {
		t.Errorf("Failed() = %d, want 1", report.Failed())
	}

	if len(poster.posts) != 1 {
		t.Fatalf("posts = %d, want 1", len(poster.posts))
	}
	if !strings.Contains(poster.posts[0], "3 channels, 1 failed") {
		t.Errorf("fallback = %q", poster.posts[0])
	}

	// Batch runs leave the on-demand status untouched.
	ch, err := f.store.GetChannel(ctx, "C9")
	if err != nil {
		t.Fatalf("GetChannel() error = %v", err)
	}
	if ch.Ingest.Status != storage.IngestIdle {
		t.Errorf("status = %q, want %q", ch.Ingest.Status, storage.IngestIdle)
	}
}

func TestRunAllChannelPatterns(t *testing.T) {
	f := newFixture(t, Options{ChannelPatterns: []string{"team-*", "C0OPS*"}})
	f.addChannel(t, "C1", "team-api", true)
	f.addChannel(t, "C2", "random", true)
	f.addChannel(t, "C0OPS1", "incidents", true)
	f.addChannel(t, "C3", "team-web", true)

	report, err := f.orch.RunAll(context.Background())
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}
	var got []string
	for _, ch := range report.Channels {
		got = append(got, ch.ChannelID)
	}
	want := []string{"C1", "C0OPS1", "C3"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("channels = %v, want %v", got, want)
	}
}

func TestRunAllNoChannels(t *testing.T) {
	poster := &fakePoster{}
	f := newFixture(t, Options{Notifier: slack.NewNotifier(poster, "CREPORT", quietLogger())})

	report, err := f.orch.RunAll(context.Background())
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}
	if len(report.Channels) != 0 {
		t.Errorf("channels = %+v, want none", report.Channels)
	}
	if len(poster.posts) != 0 {
		t.Error("empty batch should not post a report")
	}
}

func TestBatchRunReport(t *testing.T) {
	report := &BatchReport{
		RunID: "run-1",
		Channels: []ChannelSummary{
			{
				ChannelID: "C1",
				Name:      "general",
				Status:    outcomeOK,
				Result: &FullResult{
					History: &ingest.HistoryResult{Fetched: 3, Saved: 3, New: 2},
					Replies: &ingest.RepliesResult{Fetched: 2, Saved: 1, New: 1, ThreadsPolled: 4, ThreadsFailed: 1},
				},
			},
			{ChannelID: "C2", Status: outcomeError, Error: "boom"},
		},
	}

	got := report.runReport()
	if len(got.Channels) != 2 {
		t.Fatalf("channels = %d, want 2", len(got.Channels))
	}
	line := got.Channels[0]
	if !line.OK || line.Fetched != 5 || line.Saved != 4 || line.New != 3 || line.ThreadsPolled != 4 || line.ThreadsFailed != 1 {
		t.Errorf("line = %+v", line)
	}
	if got.Channels[1].OK || got.Channels[1].Error != "boom" {
		t.Errorf("failed line = %+v", got.Channels[1])
	}
}
