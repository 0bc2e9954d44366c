package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sabinanfranz/slack-data-ai/internal/slack"
	"github.com/sabinanfranz/slack-data-ai/internal/storage"
)

func TestSyncRepliesNoNewReplies(t *testing.T) {
	ctx := context.Background()
	var counting *countingStore
	h := newHarness(t, Options{PageSize: 10}, func(s storage.Store) storage.Store {
		counting = &countingStore{Store: s}
		return counting
	})
	h.addChannel(t, "C1")

	last := storage.Watermark{TS: tsC, Epoch: 1700000300.0003}
	err := h.mem.UpsertThreads(ctx, []storage.Thread{{
		ChannelID:     "C1",
		ThreadTS:      tsA,
		ThreadTSEpoch: 1700000100.0001,
		RootTS:        tsA,
		RootText:      storage.StringPtr("root text"),
		ReplyCount:    2,
		LastReply:     &last,
	}})
	if err != nil {
		t.Fatalf("UpsertThreads() error = %v", err)
	}
	_, err = h.mem.InsertMessages(ctx, []storage.Message{
		{ChannelID: "C1", TS: tsA, TSEpoch: 1700000100.0001, ThreadTS: tsA, ThreadTSEpoch: 1700000100.0001},
		{ChannelID: "C1", TS: tsB, TSEpoch: 1700000200.0002, ThreadTS: tsA, ThreadTSEpoch: 1700000100.0001},
		{ChannelID: "C1", TS: tsC, TSEpoch: 1700000300.0003, ThreadTS: tsA, ThreadTSEpoch: 1700000100.0001},
	})
	if err != nil {
		t.Fatalf("InsertMessages() error = %v", err)
	}
	h.api.replies[threadKey("C1", tsA)] = []slack.Message{
		msg(tsA, tsA, "U1", "root text", 2),
		msg(tsB, tsA, "U1", "second", 0),
		msg(tsC, tsA, "U2", "third", 0),
	}
	before := h.thread(t, "C1", tsA)

	res, err := h.sync.SyncReplies(ctx, "C1")
	if err != nil {
		t.Fatalf("SyncReplies() error = %v", err)
	}
	if len(res.Threads) != 1 || res.Threads[0].Status != ThreadUnchanged {
		t.Fatalf("outcomes = %+v, want one unchanged thread", res.Threads)
	}
	// Root plus the inclusive watermark reply.
	if res.Fetched != 2 {
		t.Errorf("Fetched = %d, want 2", res.Fetched)
	}
	if counting.updates != 0 || counting.inserted != 0 {
		t.Errorf("updates/inserted = %d/%d, want 0/0", counting.updates, counting.inserted)
	}

	after := h.thread(t, "C1", tsA)
	if after.NeedsSummary {
		t.Error("needs_summary should stay false")
	}
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Errorf("UpdatedAt changed from %v to %v", before.UpdatedAt, after.UpdatedAt)
	}
}

func TestSyncRepliesFillsMissingRootText(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{PageSize: 10}, nil)
	h.addChannel(t, "C1")
	err := h.mem.UpsertThreads(ctx, []storage.Thread{{
		ChannelID:     "C1",
		ThreadTS:      tsA,
		ThreadTSEpoch: 1700000100.0001,
		RootTS:        tsA,
	}})
	if err != nil {
		t.Fatalf("UpsertThreads() error = %v", err)
	}
	h.api.replies[threadKey("C1", tsA)] = []slack.Message{msg(tsA, tsA, "U1", "late root", 0)}

	res, err := h.sync.SyncReplies(ctx, "C1")
	if err != nil {
		t.Fatalf("SyncReplies() error = %v", err)
	}
	if res.Threads[0].Status != ThreadUpdated {
		t.Errorf("status = %s, want %s", res.Threads[0].Status, ThreadUpdated)
	}
	if res.Threads[0].NewReply {
		t.Error("root text alone is not a new reply")
	}
	th := h.thread(t, "C1", tsA)
	if th.RootText == nil || *th.RootText != "late root" {
		t.Errorf("RootText = %v, want %q", th.RootText, "late root")
	}
}

func TestSyncRepliesThreadFailureDoesNotAbort(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{PageSize: 10}, nil)
	h.addChannel(t, "C1")

	roots := []string{"1700000100.000001", "1700000200.000001", "1700000300.000001"}
	for _, ts := range roots {
		epoch, _ := storage.ParseTS(ts)
		if err := h.mem.UpsertThreads(ctx, []storage.Thread{{ChannelID: "C1", ThreadTS: ts, ThreadTSEpoch: epoch, RootTS: ts}}); err != nil {
			t.Fatalf("UpsertThreads() error = %v", err)
		}
		reply := fmt.Sprintf("%s5", ts[:len(ts)-1])
		h.api.replies[threadKey("C1", ts)] = []slack.Message{
			msg(ts, ts, "U1", "root", 1),
			msg(reply, ts, "U1", "reply", 0),
		}
	}
	h.api.repliesErrs[threadKey("C1", roots[1])] = errors.New("connection reset")

	res, err := h.sync.SyncReplies(ctx, "C1")
	if err != nil {
		t.Fatalf("SyncReplies() error = %v", err)
	}
	if res.ThreadsPolled != 3 {
		t.Errorf("ThreadsPolled = %d, want 3", res.ThreadsPolled)
	}
	if res.ThreadsFailed != 1 {
		t.Errorf("ThreadsFailed = %d, want 1", res.ThreadsFailed)
	}
	if res.ThreadsWithNewReplies != 2 {
		t.Errorf("ThreadsWithNewReplies = %d, want 2", res.ThreadsWithNewReplies)
	}
	for _, o := range res.Threads {
		if o.ThreadTS == roots[1] {
			if o.Status != ThreadFailed || o.Error == "" {
				t.Errorf("failed thread outcome = %+v", o)
			}
			continue
		}
		if o.Status != ThreadUpdated {
			t.Errorf("thread %s status = %s, want %s", o.ThreadTS, o.Status, ThreadUpdated)
		}
	}

	failed := h.thread(t, "C1", roots[1])
	if failed.LastReply != nil || failed.ReplyCount != 0 {
		t.Errorf("failed thread aggregates changed: %+v", failed)
	}

	ch, err := h.mem.GetChannel(ctx, "C1")
	if err != nil {
		t.Fatalf("GetChannel() error = %v", err)
	}
	if ch.LastIngestedAt == nil {
		t.Error("run with a failed thread should still stamp last_ingested_at")
	}
}

func TestSyncRepliesBoundedSelection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{PageSize: 10, ThreadBudget: 4}, nil)
	h.addChannel(t, "C1")
	seedThreads(t, h, "C1", 10)

	res, err := h.sync.SyncReplies(ctx, "C1")
	if err != nil {
		t.Fatalf("SyncReplies() error = %v", err)
	}
	if res.TotalThreads != 10 {
		t.Errorf("TotalThreads = %d, want 10", res.TotalThreads)
	}
	if res.ThreadsPolled != 4 {
		t.Errorf("ThreadsPolled = %d, want 4", res.ThreadsPolled)
	}
	seen := make(map[string]bool)
	for _, o := range res.Threads {
		if seen[o.ThreadTS] {
			t.Errorf("thread %s polled twice", o.ThreadTS)
		}
		seen[o.ThreadTS] = true
	}
}

func TestSyncRepliesEmptyChannel(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{}, nil)
	h.addChannel(t, "C1")

	res, err := h.sync.SyncReplies(ctx, "C1")
	if err != nil {
		t.Fatalf("SyncReplies() error = %v", err)
	}
	if res.TotalThreads != 0 || res.ThreadsPolled != 0 {
		t.Errorf("total/polled = %d/%d, want 0/0", res.TotalThreads, res.ThreadsPolled)
	}
}

func TestSyncRepliesUnknownChannel(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	_, err := h.sync.SyncReplies(context.Background(), "C404")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// seedThreads stores n root-only threads with ascending timestamps.
func seedThreads(t *testing.T, h *harness, channelID string, n int) []string {
	t.Helper()
	var roots []string
	for i := 0; i < n; i++ {
		ts := fmt.Sprintf("17000%05d.000000", i+1)
		epoch, _ := storage.ParseTS(ts)
		err := h.mem.UpsertThreads(context.Background(), []storage.Thread{{
			ChannelID:     channelID,
			ThreadTS:      ts,
			ThreadTSEpoch: epoch,
			RootTS:        ts,
		}})
		if err != nil {
			t.Fatalf("UpsertThreads() error = %v", err)
		}
		roots = append(roots, ts)
	}
	return roots
}
