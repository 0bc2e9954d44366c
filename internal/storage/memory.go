package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store. It is used for tests and
// for dry runs with DATABASE_URL=memory://.
type MemoryStore struct {
	mu        sync.RWMutex
	now       func() time.Time
	channels  map[string]*Channel
	messages  map[rowKey]Message
	threads   map[rowKey]*Thread
	actors    map[string]Actor
	summaries map[rowKey]ThreadSummary
}

type rowKey struct {
	channelID string
	ts        string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:       time.Now,
		channels:  make(map[string]*Channel),
		messages:  make(map[rowKey]Message),
		threads:   make(map[rowKey]*Thread),
		actors:    make(map[string]Actor),
		summaries: make(map[rowKey]ThreadSummary),
	}
}

// SetClock replaces the clock used for updated_at stamps.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// GetChannel retrieves a channel by ID.
func (s *MemoryStore) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.channels[channelID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyChannel(ch), nil
}

// SaveChannel inserts a channel or refreshes the name and active flag of an
// existing one. Watermarks and ingest state are preserved.
func (s *MemoryStore) SaveChannel(ctx context.Context, ch Channel) (*Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	existing, ok := s.channels[ch.ID]
	if ok {
		existing.Name = ch.Name
		existing.IsActive = ch.IsActive
		existing.UpdatedAt = now
		return copyChannel(existing), nil
	}

	stored := copyChannel(&ch)
	if stored.Ingest.Status == "" {
		stored.Ingest.Status = IngestIdle
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.channels[ch.ID] = stored
	return copyChannel(stored), nil
}

// SetChannelActive toggles whether a channel takes part in batch runs.
func (s *MemoryStore) SetChannelActive(ctx context.Context, channelID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[channelID]
	if !ok {
		return ErrNotFound
	}
	ch.IsActive = active
	ch.UpdatedAt = s.now()
	return nil
}

// ListChannels returns every channel in creation order.
func (s *MemoryStore) ListChannels(ctx context.Context) ([]Channel, error) {
	return s.listChannels(false), nil
}

// ListActiveChannels returns active channels in creation order.
func (s *MemoryStore) ListActiveChannels(ctx context.Context) ([]Channel, error) {
	return s.listChannels(true), nil
}

func (s *MemoryStore) listChannels(activeOnly bool) []Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		if activeOnly && !ch.IsActive {
			continue
		}
		out = append(out, *copyChannel(ch))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SetIngestStatus records the state of the latest on-demand run.
func (s *MemoryStore) SetIngestStatus(ctx context.Context, channelID string, state IngestState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[channelID]
	if !ok {
		return ErrNotFound
	}
	ch.Ingest = copyIngestState(state)
	ch.UpdatedAt = s.now()
	return nil
}

// GetWatermark returns the channel's history watermark.
func (s *MemoryStore) GetWatermark(ctx context.Context, channelID string) (Watermark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.channels[channelID]
	if !ok {
		return Watermark{}, ErrNotFound
	}
	return ch.LastTS, nil
}

// SeedWatermark sets the watermark if the channel has none.
func (s *MemoryStore) SeedWatermark(ctx context.Context, channelID string, wm Watermark) (Watermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[channelID]
	if !ok {
		return Watermark{}, ErrNotFound
	}
	if ch.LastTS.IsZero() {
		ch.LastTS = wm
		ch.UpdatedAt = s.now()
	}
	return ch.LastTS, nil
}

// AdvanceWatermark moves the watermark to wm if wm is strictly greater.
func (s *MemoryStore) AdvanceWatermark(ctx context.Context, channelID string, wm Watermark) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[channelID]
	if !ok {
		return false, ErrNotFound
	}
	if !ch.LastTS.IsZero() && wm.Epoch <= ch.LastTS.Epoch {
		return false, nil
	}
	ch.LastTS = wm
	ch.UpdatedAt = s.now()
	return true, nil
}

// TouchIngested stamps the channel's last ingestion time.
func (s *MemoryStore) TouchIngested(ctx context.Context, channelID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[channelID]
	if !ok {
		return ErrNotFound
	}
	ch.LastIngestedAt = &at
	ch.UpdatedAt = s.now()
	return nil
}

// InsertMessages inserts rows, ignoring those already stored.
func (s *MemoryStore) InsertMessages(ctx context.Context, rows []Message) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertMessagesLocked(rows), nil
}

func (s *MemoryStore) insertMessagesLocked(rows []Message) int {
	inserted := 0
	for _, m := range rows {
		key := rowKey{m.ChannelID, m.TS}
		if _, ok := s.messages[key]; ok {
			continue
		}
		m.Raw = append([]byte(nil), m.Raw...)
		s.messages[key] = m
		inserted++
	}
	return inserted
}

// UpsertThreads merges thread rows using MergeThread.
func (s *MemoryStore) UpsertThreads(ctx context.Context, rows []Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.upsertThreadsLocked(rows)
	return nil
}

func (s *MemoryStore) upsertThreadsLocked(rows []Thread) {
	now := s.now()
	for _, t := range rows {
		key := rowKey{t.ChannelID, t.ThreadTS}
		merged, changed := MergeThread(s.threads[key], t, now)
		if changed {
			s.threads[key] = copyThread(&merged)
		}
	}
}

// ApplyPage inserts a page's messages and thread rows under one lock.
func (s *MemoryStore) ApplyPage(ctx context.Context, page PageWrite) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := s.insertMessagesLocked(page.Messages)
	s.upsertThreadsLocked(page.Threads)
	return inserted, nil
}

// CountThreads returns the number of threads stored for a channel.
func (s *MemoryStore) CountThreads(ctx context.Context, channelID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for key := range s.threads {
		if key.channelID == channelID {
			n++
		}
	}
	return n, nil
}

// ListThreads returns a window of a channel's threads, most recently updated first.
func (s *MemoryStore) ListThreads(ctx context.Context, channelID string, offset, limit int) ([]Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []Thread
	for key, t := range s.threads {
		if key.channelID == channelID {
			all = append(all, *copyThread(t))
		}
	}
	sortThreads(all)

	if offset >= len(all) || limit <= 0 {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// GetThread retrieves one thread.
func (s *MemoryStore) GetThread(ctx context.Context, channelID, threadTS string) (*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[rowKey{channelID, threadTS}]
	if !ok {
		return nil, ErrNotFound
	}
	return copyThread(t), nil
}

// UpdateThread applies Reply Sync aggregates to a stored thread.
func (s *MemoryStore) UpdateThread(ctx context.Context, upd ThreadUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rowKey{upd.ChannelID, upd.ThreadTS}
	t, ok := s.threads[key]
	if !ok {
		return ErrNotFound
	}
	updated, changed := ApplyThreadUpdate(*t, upd, s.now())
	if changed {
		s.threads[key] = copyThread(&updated)
	}
	return nil
}

// ThreadMessages returns every stored message of a thread in timestamp order.
func (s *MemoryStore) ThreadMessages(ctx context.Context, channelID, threadTS string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Message
	for key, m := range s.messages {
		if key.channelID == channelID && m.ThreadTS == threadTS {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TSEpoch < out[j].TSEpoch })
	return out, nil
}

// UpsertActor stores or refreshes a cached user.
func (s *MemoryStore) UpsertActor(ctx context.Context, actor Actor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if actor.UpdatedAt.IsZero() {
		actor.UpdatedAt = s.now()
	}
	s.actors[actor.UserID] = actor
	return nil
}

// KnownActors reports which of the given user IDs are cached.
func (s *MemoryStore) KnownActors(ctx context.Context, userIDs []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	known := make(map[string]bool)
	for _, id := range userIDs {
		if _, ok := s.actors[id]; ok {
			known[id] = true
		}
	}
	return known, nil
}

// GetActors returns the cached profiles among the given user IDs.
func (s *MemoryStore) GetActors(ctx context.Context, userIDs []string) (map[string]Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Actor)
	for _, id := range userIDs {
		if actor, ok := s.actors[id]; ok {
			out[id] = actor
		}
	}
	return out, nil
}

// ListThreadsNeedingSummary returns dirty threads of active channels updated
// since the given time, most recently updated first.
func (s *MemoryStore) ListThreadsNeedingSummary(ctx context.Context, channelID string, since time.Time, limit int) ([]Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Thread
	for key, t := range s.threads {
		if channelID != "" && key.channelID != channelID {
			continue
		}
		ch, ok := s.channels[key.channelID]
		if !ok || !ch.IsActive || !t.NeedsSummary || t.UpdatedAt.Before(since) {
			continue
		}
		out = append(out, *copyThread(t))
	}
	sortThreads(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveSummary stores a summary and stamps the thread. The dirty flag is cleared
// only when no reply newer than the summarized source arrived in the meantime.
func (s *MemoryStore) SaveSummary(ctx context.Context, summary ThreadSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rowKey{summary.ChannelID, summary.ThreadTS}
	t, ok := s.threads[key]
	if !ok {
		return fmt.Errorf("save summary %s/%s: %w", summary.ChannelID, summary.ThreadTS, ErrNotFound)
	}
	now := s.now()
	if summary.UpdatedAt.IsZero() {
		summary.UpdatedAt = now
	}
	summary.Summary = append([]byte(nil), summary.Summary...)
	s.summaries[key] = summary

	wm := summary.SourceLatest
	t.LastSummarized = &wm
	if t.LastReply == nil || t.LastReply.Epoch <= wm.Epoch {
		t.NeedsSummary = false
	}
	return nil
}

// GetSummary retrieves a thread's summary.
func (s *MemoryStore) GetSummary(ctx context.Context, channelID, threadTS string) (*ThreadSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary, ok := s.summaries[rowKey{channelID, threadTS}]
	if !ok {
		return nil, ErrNotFound
	}
	summary.Summary = append([]byte(nil), summary.Summary...)
	return &summary, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

func sortThreads(threads []Thread) {
	sort.SliceStable(threads, func(i, j int) bool {
		if !threads[i].UpdatedAt.Equal(threads[j].UpdatedAt) {
			return threads[i].UpdatedAt.After(threads[j].UpdatedAt)
		}
		return threads[i].ThreadTSEpoch > threads[j].ThreadTSEpoch
	})
}

func copyChannel(ch *Channel) *Channel {
	out := *ch
	if ch.LastIngestedAt != nil {
		at := *ch.LastIngestedAt
		out.LastIngestedAt = &at
	}
	out.Ingest = copyIngestState(ch.Ingest)
	return &out
}

func copyIngestState(st IngestState) IngestState {
	out := st
	if st.StartedAt != nil {
		at := *st.StartedAt
		out.StartedAt = &at
	}
	if st.FinishedAt != nil {
		at := *st.FinishedAt
		out.FinishedAt = &at
	}
	out.LastResult = append([]byte(nil), st.LastResult...)
	return out
}

func copyThread(t *Thread) *Thread {
	out := *t
	if t.RootText != nil {
		text := *t.RootText
		out.RootText = &text
	}
	if t.LastReply != nil {
		wm := *t.LastReply
		out.LastReply = &wm
	}
	if t.LastSummarized != nil {
		wm := *t.LastSummarized
		out.LastSummarized = &wm
	}
	return &out
}
