package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sabinanfranz/slack-data-ai/internal/slack"
	"github.com/sabinanfranz/slack-data-ai/internal/storage"
)

// fakeAPI serves history and replies from memory, honoring oldest, inclusive,
// limit and cursor the way the Web API does. Replies always lead with the
// thread root on the first page.
type fakeAPI struct {
	mu          sync.Mutex
	history     map[string][]slack.Message
	replies     map[string][]slack.Message
	users       map[string]slack.UserInfo
	channels    map[string]slack.ChannelInfo
	historyErrs map[string][]error
	repliesErrs map[string]error
	joined      []string
	userCalls   int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		history:     make(map[string][]slack.Message),
		replies:     make(map[string][]slack.Message),
		users:       make(map[string]slack.UserInfo),
		channels:    make(map[string]slack.ChannelInfo),
		historyErrs: make(map[string][]error),
		repliesErrs: make(map[string]error),
	}
}

func threadKey(channelID, threadTS string) string {
	return channelID + "/" + threadTS
}

func (f *fakeAPI) ChannelInfo(ctx context.Context, channelID string) (*slack.ChannelInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.channels[channelID]
	if !ok {
		return nil, &slack.CallError{Op: "conversations.info", Code: slack.CodeChannelNotFound, Status: 200, Attempts: 1}
	}
	return &info, nil
}

func (f *fakeAPI) UserInfo(ctx context.Context, userID string) (*slack.UserInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userCalls++
	info, ok := f.users[userID]
	if !ok {
		return nil, &slack.CallError{Op: "users.info", Code: "user_not_found", Status: 200, Attempts: 1}
	}
	return &info, nil
}

func (f *fakeAPI) JoinChannel(ctx context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, channelID)
	return nil
}

func (f *fakeAPI) HistoryPage(ctx context.Context, req slack.PageRequest) (*slack.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if errs := f.historyErrs[req.ChannelID]; len(errs) > 0 {
		f.historyErrs[req.ChannelID] = errs[1:]
		return nil, errs[0]
	}
	return paginate(filterOldest(f.history[req.ChannelID], req), req), nil
}

func (f *fakeAPI) RepliesPage(ctx context.Context, req slack.PageRequest) (*slack.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := threadKey(req.ChannelID, req.ThreadTS)
	if err := f.repliesErrs[key]; err != nil {
		return nil, err
	}
	all := f.replies[key]
	if len(all) == 0 {
		return &slack.Page{}, nil
	}
	root := all[0]
	matched := filterOldest(all, req)
	if len(matched) == 0 || matched[0].TS != root.TS {
		matched = append([]slack.Message{root}, matched...)
	}
	return paginate(matched, req), nil
}

func filterOldest(all []slack.Message, req slack.PageRequest) []slack.Message {
	oldest := 0.0
	if req.Oldest != "" {
		oldest, _ = strconv.ParseFloat(req.Oldest, 64)
	}
	var out []slack.Message
	for _, m := range all {
		ts, _ := strconv.ParseFloat(m.TS, 64)
		if ts > oldest || (req.Inclusive && ts == oldest) {
			out = append(out, m)
		}
	}
	return out
}

func paginate(matched []slack.Message, req slack.PageRequest) *slack.Page {
	start := 0
	if req.Cursor != "" {
		start, _ = strconv.Atoi(req.Cursor)
	}
	end := start + req.Limit
	if end > len(matched) {
		end = len(matched)
	}
	page := &slack.Page{Messages: append([]slack.Message(nil), matched[start:end]...)}
	if end < len(matched) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page
}

func msg(ts, threadTS, user, text string, replyCount int) slack.Message {
	return slack.Message{
		Type:       "message",
		TS:         ts,
		ThreadTS:   threadTS,
		User:       user,
		Text:       text,
		ReplyCount: replyCount,
		Raw:        json.RawMessage(`{"ts":"` + ts + `"}`),
	}
}

// countingStore records the writes the sync engine issues.
type countingStore struct {
	storage.Store
	updates  int
	inserted int
}

func (c *countingStore) UpdateThread(ctx context.Context, upd storage.ThreadUpdate) error {
	c.updates++
	return c.Store.UpdateThread(ctx, upd)
}

func (c *countingStore) InsertMessages(ctx context.Context, rows []storage.Message) (int, error) {
	n, err := c.Store.InsertMessages(ctx, rows)
	c.inserted += n
	return n, err
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	api   *fakeAPI
	mem   *storage.MemoryStore
	clock *testClock
	sync  *Syncer
}

func newHarness(t *testing.T, opts Options, wrap func(storage.Store) storage.Store) *harness {
	t.Helper()
	h := &harness{
		api:   newFakeAPI(),
		mem:   storage.NewMemoryStore(),
		clock: &testClock{t: time.Unix(1700001000, 0)},
	}
	h.mem.SetClock(h.clock.now)
	var store storage.Store = h.mem
	if wrap != nil {
		store = wrap(h.mem)
	}
	h.sync = NewSyncer(h.api, store, opts, quietLogger())
	h.sync.SetClock(h.clock.now)
	return h
}

func (h *harness) addChannel(t *testing.T, id string) {
	t.Helper()
	if _, err := h.mem.SaveChannel(context.Background(), storage.Channel{ID: id, Name: "name-" + id, IsActive: true}); err != nil {
		t.Fatalf("save channel: %v", err)
	}
}

func (h *harness) thread(t *testing.T, channelID, threadTS string) *storage.Thread {
	t.Helper()
	th, err := h.mem.GetThread(context.Background(), channelID, threadTS)
	if err != nil {
		t.Fatalf("get thread %s: %v", threadTS, err)
	}
	return th
}
