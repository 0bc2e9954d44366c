package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/sabinanfranz/slack-data-ai/internal/storage"
)

func TestRotationOffset(t *testing.T) {
	tests := []struct {
		name   string
		anchor time.Time
		total  int
		want   int
	}{
		{"zero total", time.Unix(1700000000, 0), 0, 0},
		{"aligned", time.Unix(1700000000, 0), 10, 0},
		{"remainder", time.Unix(1700000007, 0), 10, 7},
		{"single thread", time.Unix(1700000007, 0), 1, 0},
		{"before epoch", time.Unix(-3, 0), 10, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RotationOffset(tt.anchor, tt.total); got != tt.want {
				t.Errorf("RotationOffset() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSelectThreadsWithinBudget(t *testing.T) {
	h := newHarness(t, Options{ThreadBudget: 20}, nil)
	roots := seedThreads(t, h, "C1", 5)

	threads, offset, err := h.sync.selectThreads(context.Background(), &storage.Channel{ID: "C1"}, 5)
	if err != nil {
		t.Fatalf("selectThreads() error = %v", err)
	}
	if offset != 0 {
		t.Errorf("offset = %d, want 0", offset)
	}
	if len(threads) != 5 {
		t.Fatalf("selected %d threads, want 5", len(threads))
	}
	// Same updated_at, so newest thread first.
	for i, th := range threads {
		if want := roots[len(roots)-1-i]; th.ThreadTS != want {
			t.Errorf("threads[%d] = %s, want %s", i, th.ThreadTS, want)
		}
	}
}

func TestSelectThreadsRotationCoversAll(t *testing.T) {
	const (
		total  = 10
		budget = 4
	)
	h := newHarness(t, Options{ThreadBudget: budget}, nil)
	roots := seedThreads(t, h, "C1", total)

	covered := make(map[string]bool)
	base := time.Unix(1700000000, 0)
	runs := (total + budget - 1) / budget
	for run := 0; run < runs; run++ {
		anchor := base.Add(time.Duration(run*budget) * time.Second)
		ch := &storage.Channel{ID: "C1", LastIngestedAt: &anchor}

		threads, offset, err := h.sync.selectThreads(context.Background(), ch, total)
		if err != nil {
			t.Fatalf("run %d: selectThreads() error = %v", run, err)
		}
		if want := (run * budget) % total; offset != want {
			t.Errorf("run %d: offset = %d, want %d", run, offset, want)
		}
		if len(threads) != budget {
			t.Errorf("run %d: selected %d threads, want %d", run, len(threads), budget)
		}
		seen := make(map[string]bool)
		for _, th := range threads {
			if seen[th.ThreadTS] {
				t.Errorf("run %d: thread %s selected twice", run, th.ThreadTS)
			}
			seen[th.ThreadTS] = true
			covered[th.ThreadTS] = true
		}
	}

	for _, ts := range roots {
		if !covered[ts] {
			t.Errorf("thread %s never selected in %d runs", ts, runs)
		}
	}
}

func TestSelectThreadsAnchorsOnNowWithoutHistory(t *testing.T) {
	h := newHarness(t, Options{ThreadBudget: 3}, nil)
	seedThreads(t, h, "C1", 7)

	_, offset, err := h.sync.selectThreads(context.Background(), &storage.Channel{ID: "C1"}, 7)
	if err != nil {
		t.Fatalf("selectThreads() error = %v", err)
	}
	if want := RotationOffset(h.clock.now(), 7); offset != want {
		t.Errorf("offset = %d, want %d", offset, want)
	}
}

func TestDedupeThreads(t *testing.T) {
	in := []storage.Thread{
		{ThreadTS: "1"}, {ThreadTS: "2"}, {ThreadTS: "1"}, {ThreadTS: "3"}, {ThreadTS: "4"},
	}
	got := dedupeThreads(in, 3)
	want := []string{"1", "2", "3"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, th := range got {
		if th.ThreadTS != want[i] {
			t.Errorf("got[%d] = %s, want %s", i, th.ThreadTS, want[i])
		}
	}
}
