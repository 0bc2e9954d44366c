package storage

import (
	"testing"
	"time"
)

func TestMergeThreadPrecedence(t *testing.T) {
	now := time.Unix(1700000000, 0)
	later := now.Add(time.Hour)

	created, changed := MergeThread(nil, testThread("C1", 100, "", 1), now)
	if !changed || created.RootText != nil || !created.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected insert result: %+v changed=%v", created, changed)
	}

	tests := []struct {
		name     string
		incoming Thread
		changed  bool
		root     string
		replies  int
		last     float64
	}{
		{"identical", testThread("C1", 100, "", 1), false, "", 1, 100},
		{"fills root", testThread("C1", 100, "hi", 1), true, "hi", 1, 100},
		{"replaces reply count", testThread("C1", 100, "", 4), true, "", 4, 100},
		{"keeps stored last reply", func() Thread {
			th := testThread("C1", 100, "", 1)
			th.LastReply = wmPtr(500)
			return th
		}(), false, "", 1, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := MergeThread(&created, tt.incoming, later)
			if changed != tt.changed {
				t.Fatalf("expected changed=%v", tt.changed)
			}
			root := ""
			if got.RootText != nil {
				root = *got.RootText
			}
			if root != tt.root || got.ReplyCount != tt.replies || got.LastReply.Epoch != tt.last {
				t.Fatalf("unexpected merge: root=%q replies=%d last=%v", root, got.ReplyCount, got.LastReply.Epoch)
			}
			if changed && !got.UpdatedAt.Equal(later) {
				t.Fatalf("changed merge must bump updated_at")
			}
			if !changed && !got.UpdatedAt.Equal(now) {
				t.Fatalf("unchanged merge must keep updated_at")
			}
		})
	}

	withRoot := testThread("C1", 100, "kept", 1)
	got, _ := MergeThread(&withRoot, testThread("C1", 100, "other", 1), later)
	if *got.RootText != "kept" {
		t.Fatalf("stored root text must win, got %q", *got.RootText)
	}
}

func TestApplyThreadUpdate(t *testing.T) {
	now := time.Unix(1700000000, 0)
	base := testThread("C1", 100, "", 1)
	base.UpdatedAt = now

	got, changed := ApplyThreadUpdate(base, ThreadUpdate{}, now.Add(time.Minute))
	if changed || !got.UpdatedAt.Equal(now) {
		t.Fatalf("empty update must be a no-op")
	}

	root := "root text"
	got, changed = ApplyThreadUpdate(base, ThreadUpdate{RootText: &root}, now)
	if !changed || got.NeedsSummary || *got.RootText != root {
		t.Fatalf("root fill must not dirty the thread: %+v", got)
	}

	got, changed = ApplyThreadUpdate(base, ThreadUpdate{LastReply: wmPtr(101)}, now)
	if !changed || !got.NeedsSummary || got.LastReply.Epoch != 101 {
		t.Fatalf("watermark advance must dirty the thread: %+v", got)
	}

	got, changed = ApplyThreadUpdate(base, ThreadUpdate{LastReply: wmPtr(100)}, now)
	if changed || got.NeedsSummary {
		t.Fatalf("equal watermark must not dirty the thread")
	}
}
