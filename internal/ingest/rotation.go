package ingest

import (
	"context"
	"time"

	"github.com/sabinanfranz/slack-data-ai/internal/storage"
)

// RotationOffset is the start of this run's thread window: the anchor's unix
// seconds modulo the thread count.
func RotationOffset(anchor time.Time, total int) int {
	if total <= 0 {
		return 0
	}
	off := anchor.Unix() % int64(total)
	if off < 0 {
		off += int64(total)
	}
	return int(off)
}

// selectThreads picks the threads to poll this run. With no more threads than
// the budget every thread is polled, most recently updated first. Otherwise a
// budget-sized window starts at the rotation offset within that ordering and
// wraps to the front. The channel's last_ingested_at (or now) anchors the
// offset, so successive runs drift across the population without any
// per-thread scheduling state.
func (s *Syncer) selectThreads(ctx context.Context, ch *storage.Channel, total int) ([]storage.Thread, int, error) {
	budget := s.opts.ThreadBudget
	if total <= budget {
		threads, err := s.store.ListThreads(ctx, ch.ID, 0, total)
		return threads, 0, err
	}

	anchor := s.now()
	if ch.LastIngestedAt != nil {
		anchor = *ch.LastIngestedAt
	}
	offset := RotationOffset(anchor, total)

	threads, err := s.store.ListThreads(ctx, ch.ID, offset, budget)
	if err != nil {
		return nil, offset, err
	}
	if len(threads) < budget {
		head, err := s.store.ListThreads(ctx, ch.ID, 0, budget-len(threads))
		if err != nil {
			return nil, offset, err
		}
		threads = append(threads, head...)
	}
	return dedupeThreads(threads, budget), offset, nil
}

// dedupeThreads drops repeated thread ids, keeping the first occurrence, and
// caps the result at limit.
func dedupeThreads(threads []storage.Thread, limit int) []storage.Thread {
	seen := make(map[string]struct{}, len(threads))
	out := make([]storage.Thread, 0, len(threads))
	for _, th := range threads {
		if _, ok := seen[th.ThreadTS]; ok {
			continue
		}
		seen[th.ThreadTS] = struct{}{}
		out = append(out, th)
		if len(out) == limit {
			break
		}
	}
	return out
}
