// Package storage provides the persistence layer for mirrored Slack data.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// ErrNotFound is returned when a channel or thread does not exist.
var ErrNotFound = errors.New("storage: not found")

// Ingest run states recorded on a channel by on-demand runs.
const (
	IngestIdle    = "idle"
	IngestRunning = "running"
	IngestOK      = "ok"
	IngestError   = "error"
)

// Watermark marks the last durably synced point of a channel or thread.
// TS is the opaque Slack token, Epoch its numeric form.
type Watermark struct {
	TS    string  `json:"ts"`
	Epoch float64 `json:"epoch"`
}

// IsZero reports whether no watermark has been recorded.
func (w Watermark) IsZero() bool {
	return w.TS == "" && w.Epoch == 0
}

// WatermarkAt builds a watermark for a wall clock instant.
func WatermarkAt(t time.Time) Watermark {
	epoch := float64(t.UnixNano()) / 1e9
	return Watermark{TS: strconv.FormatFloat(epoch, 'f', 6, 64), Epoch: epoch}
}

// ParseTS converts a Slack timestamp ("1700000000.123456") to epoch seconds.
func ParseTS(ts string) (float64, error) {
	return strconv.ParseFloat(ts, 64)
}

// IngestState is the transient status of the latest on-demand run.
type IngestState struct {
	Status       string          `json:"status"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	LastResult   json.RawMessage `json:"last_result,omitempty"`
}

// Channel is a mirrored Slack channel and its ingestion progress.
type Channel struct {
	ID             string      `json:"channel_id"`
	Name           string      `json:"name"`
	IsActive       bool        `json:"is_active"`
	LastTS         Watermark   `json:"last_ts"`
	LastIngestedAt *time.Time  `json:"last_ingested_at,omitempty"`
	Ingest         IngestState `json:"ingest"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Message is a single stored Slack message. Rows are immutable once inserted.
type Message struct {
	ChannelID     string          `json:"channel_id"`
	TS            string          `json:"ts"`
	TSEpoch       float64         `json:"ts_epoch"`
	ThreadTS      string          `json:"thread_ts"`
	ThreadTSEpoch float64         `json:"thread_ts_epoch"`
	UserID        string          `json:"user_id,omitempty"`
	Text          string          `json:"text,omitempty"`
	Raw           json.RawMessage `json:"raw"`
}

// Thread aggregates a root message and its replies.
type Thread struct {
	ChannelID      string     `json:"channel_id"`
	ThreadTS       string     `json:"thread_ts"`
	ThreadTSEpoch  float64    `json:"thread_ts_epoch"`
	RootTS         string     `json:"root_ts"`
	RootText       *string    `json:"root_text,omitempty"`
	ReplyCount     int        `json:"reply_count"`
	LastReply      *Watermark `json:"last_reply,omitempty"`
	NeedsSummary   bool       `json:"needs_summary"`
	LastSummarized *Watermark `json:"last_summarized,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ReplyWatermark returns the thread's own watermark, falling back to the root.
func (t Thread) ReplyWatermark() Watermark {
	if t.LastReply != nil && !t.LastReply.IsZero() {
		return *t.LastReply
	}
	return Watermark{TS: t.ThreadTS, Epoch: t.ThreadTSEpoch}
}

// HasRootText reports whether non-empty root text is stored.
func (t Thread) HasRootText() bool {
	return t.RootText != nil && *t.RootText != ""
}

// ThreadUpdate carries the Reply Sync aggregates for one thread. Nil fields are
// left untouched.
type ThreadUpdate struct {
	ChannelID  string
	ThreadTS   string
	ReplyCount *int
	RootText   *string
	LastReply  *Watermark
}

// Actor is a cached Slack user.
type Actor struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	RealName    string    `json:"real_name"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Label returns the best human-readable name, falling back to the user ID.
func (a Actor) Label() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	if a.RealName != "" {
		return a.RealName
	}
	return a.UserID
}

// PageWrite is everything one fetched page contributes to the store.
type PageWrite struct {
	Messages []Message
	Threads  []Thread
}

// ThreadSummary is the summarizer's output for a thread.
type ThreadSummary struct {
	ChannelID    string          `json:"channel_id"`
	ThreadTS     string          `json:"thread_ts"`
	Summary      json.RawMessage `json:"summary"`
	Model        string          `json:"model"`
	SourceLatest Watermark       `json:"source_latest"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Store provides persistence with the uniqueness and merge rules the sync
// engine relies on. Implementations must be safe for concurrent use.
type Store interface {
	// Channels
	GetChannel(ctx context.Context, channelID string) (*Channel, error)
	SaveChannel(ctx context.Context, ch Channel) (*Channel, error)
	SetChannelActive(ctx context.Context, channelID string, active bool) error
	ListChannels(ctx context.Context) ([]Channel, error)
	ListActiveChannels(ctx context.Context) ([]Channel, error)
	SetIngestStatus(ctx context.Context, channelID string, state IngestState) error

	// Watermarks
	GetWatermark(ctx context.Context, channelID string) (Watermark, error)
	// SeedWatermark sets the watermark only if none is recorded yet and
	// returns the watermark in effect afterwards.
	SeedWatermark(ctx context.Context, channelID string, wm Watermark) (Watermark, error)
	// AdvanceWatermark moves the watermark forward; it never lowers it.
	AdvanceWatermark(ctx context.Context, channelID string, wm Watermark) (bool, error)
	TouchIngested(ctx context.Context, channelID string, at time.Time) error

	// Messages and threads
	InsertMessages(ctx context.Context, rows []Message) (int, error)
	UpsertThreads(ctx context.Context, rows []Thread) error
	// ApplyPage commits a page's messages and thread rows atomically and
	// returns the number of newly inserted messages.
	ApplyPage(ctx context.Context, page PageWrite) (int, error)
	CountThreads(ctx context.Context, channelID string) (int, error)
	ListThreads(ctx context.Context, channelID string, offset, limit int) ([]Thread, error)
	GetThread(ctx context.Context, channelID, threadTS string) (*Thread, error)
	UpdateThread(ctx context.Context, upd ThreadUpdate) error
	ThreadMessages(ctx context.Context, channelID, threadTS string) ([]Message, error)

	// Actor cache
	UpsertActor(ctx context.Context, actor Actor) error
	KnownActors(ctx context.Context, userIDs []string) (map[string]bool, error)
	GetActors(ctx context.Context, userIDs []string) (map[string]Actor, error)

	// Summaries
	ListThreadsNeedingSummary(ctx context.Context, channelID string, since time.Time, limit int) ([]Thread, error)
	SaveSummary(ctx context.Context, summary ThreadSummary) error
	GetSummary(ctx context.Context, channelID, threadTS string) (*ThreadSummary, error)

	Ping(ctx context.Context) error
	Close() error
}
