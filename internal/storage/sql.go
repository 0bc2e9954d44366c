package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) String() string {
	if d == dialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

const (
	channelColumns = "channel_id, name, is_active, last_ts, last_ts_epoch, last_ingested_at_epoch, " +
		"ingest_status, ingest_started_at_epoch, ingest_finished_at_epoch, ingest_error_message, " +
		"ingest_last_result_json, created_at_epoch, updated_at_epoch"
	messageColumns = "channel_id, ts, ts_epoch, thread_ts, thread_ts_epoch, user_id, text, raw_json"
)

var threadColumnNames = []string{
	"channel_id", "thread_ts", "thread_ts_epoch", "root_ts", "root_text", "reply_count",
	"last_reply_ts", "last_reply_ts_epoch", "needs_summary", "last_summarized_ts",
	"last_summarized_ts_epoch", "updated_at_epoch",
}

// SQLStore implements Store on database/sql. It speaks SQLite through
// modernc.org/sqlite and PostgreSQL through lib/pq with one portable schema.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
	now     func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database file.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLStore, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", "file:"+path+sep+"_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	// SQLite allows one writer; a single connection keeps transactions from
	// failing with SQLITE_BUSY under the worker pool.
	db.SetMaxOpenConns(1)
	return newSQLStore(db, dialectSQLite, logger), nil
}

// NewPostgresStore opens a PostgreSQL connection pool.
func NewPostgresStore(dsn string, logger *slog.Logger) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres store: %w", err)
	}
	return newSQLStore(db, dialectPostgres, logger), nil
}

func newSQLStore(db *sql.DB, d dialect, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{
		db:      db,
		dialect: d,
		logger:  logger.With("component", "store", "dialect", d.String()),
		now:     time.Now,
	}
}

// Migrate creates any missing tables and indexes.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	s.logger.Debug("schema applied", "statements", len(schemaStatements))
	return nil
}

// GetChannel retrieves a channel by ID.
func (s *SQLStore) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	row := s.db.QueryRowContext(ctx, s.q("SELECT "+channelColumns+" FROM channels WHERE channel_id = ?"), channelID)
	ch, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get channel %s: %w", channelID, err)
	}
	return ch, nil
}

// SaveChannel inserts a channel or refreshes the name and active flag of an
// existing one.
func (s *SQLStore) SaveChannel(ctx context.Context, ch Channel) (*Channel, error) {
	now := epochOf(s.now())
	created := now
	if !ch.CreatedAt.IsZero() {
		created = epochOf(ch.CreatedAt)
	}
	lastTS, lastEpoch := nullWatermark(&ch.LastTS)

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO channels (channel_id, name, is_active, last_ts, last_ts_epoch, ingest_status, created_at_epoch, updated_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (channel_id) DO UPDATE SET
			name = excluded.name,
			is_active = excluded.is_active,
			updated_at_epoch = excluded.updated_at_epoch`),
		ch.ID, ch.Name, ch.IsActive, lastTS, lastEpoch, IngestIdle, created, now)
	if err != nil {
		return nil, fmt.Errorf("save channel %s: %w", ch.ID, err)
	}
	return s.GetChannel(ctx, ch.ID)
}

// SetChannelActive toggles whether a channel takes part in batch runs.
func (s *SQLStore) SetChannelActive(ctx context.Context, channelID string, active bool) error {
	res, err := s.db.ExecContext(ctx, s.q("UPDATE channels SET is_active = ?, updated_at_epoch = ? WHERE channel_id = ?"),
		active, epochOf(s.now()), channelID)
	if err != nil {
		return fmt.Errorf("set channel %s active: %w", channelID, err)
	}
	return requireRow(res)
}

// ListChannels returns every channel in creation order.
func (s *SQLStore) ListChannels(ctx context.Context) ([]Channel, error) {
	return s.listChannels(ctx, "SELECT "+channelColumns+" FROM channels ORDER BY created_at_epoch ASC, channel_id ASC")
}

// ListActiveChannels returns active channels in creation order.
func (s *SQLStore) ListActiveChannels(ctx context.Context) ([]Channel, error) {
	return s.listChannels(ctx, "SELECT "+channelColumns+" FROM channels WHERE is_active ORDER BY created_at_epoch ASC, channel_id ASC")
}

func (s *SQLStore) listChannels(ctx context.Context, query string) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query))
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

// SetIngestStatus records the state of the latest on-demand run.
func (s *SQLStore) SetIngestStatus(ctx context.Context, channelID string, state IngestState) error {
	var lastResult sql.NullString
	if len(state.LastResult) > 0 {
		lastResult = sql.NullString{String: string(state.LastResult), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE channels SET
			ingest_status = ?,
			ingest_started_at_epoch = ?,
			ingest_finished_at_epoch = ?,
			ingest_error_message = ?,
			ingest_last_result_json = ?,
			updated_at_epoch = ?
		WHERE channel_id = ?`),
		state.Status, nullEpoch(state.StartedAt), nullEpoch(state.FinishedAt), nullString(state.ErrorMessage),
		lastResult, epochOf(s.now()), channelID)
	if err != nil {
		return fmt.Errorf("set ingest status for %s: %w", channelID, err)
	}
	return requireRow(res)
}

// GetWatermark returns the channel's history watermark.
func (s *SQLStore) GetWatermark(ctx context.Context, channelID string) (Watermark, error) {
	var ts sql.NullString
	var epoch sql.NullFloat64
	err := s.db.QueryRowContext(ctx, s.q("SELECT last_ts, last_ts_epoch FROM channels WHERE channel_id = ?"), channelID).
		Scan(&ts, &epoch)
	if errors.Is(err, sql.ErrNoRows) {
		return Watermark{}, ErrNotFound
	}
	if err != nil {
		return Watermark{}, fmt.Errorf("get watermark for %s: %w", channelID, err)
	}
	return Watermark{TS: ts.String, Epoch: epoch.Float64}, nil
}

// SeedWatermark sets the watermark if the channel has none.
func (s *SQLStore) SeedWatermark(ctx context.Context, channelID string, wm Watermark) (Watermark, error) {
	_, err := s.db.ExecContext(ctx, s.q(`
		UPDATE channels SET last_ts = ?, last_ts_epoch = ?, updated_at_epoch = ?
		WHERE channel_id = ? AND last_ts_epoch IS NULL`),
		wm.TS, wm.Epoch, epochOf(s.now()), channelID)
	if err != nil {
		return Watermark{}, fmt.Errorf("seed watermark for %s: %w", channelID, err)
	}
	return s.GetWatermark(ctx, channelID)
}

// AdvanceWatermark moves the watermark to wm if wm is strictly greater. The
// comparison happens in the UPDATE so concurrent writers cannot lower it.
func (s *SQLStore) AdvanceWatermark(ctx context.Context, channelID string, wm Watermark) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE channels SET last_ts = ?, last_ts_epoch = ?, updated_at_epoch = ?
		WHERE channel_id = ? AND (last_ts_epoch IS NULL OR last_ts_epoch < ?)`),
		wm.TS, wm.Epoch, epochOf(s.now()), channelID, wm.Epoch)
	if err != nil {
		return false, fmt.Errorf("advance watermark for %s: %w", channelID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	if _, err := s.GetWatermark(ctx, channelID); err != nil {
		return false, err
	}
	return false, nil
}

// TouchIngested stamps the channel's last ingestion time.
func (s *SQLStore) TouchIngested(ctx context.Context, channelID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q("UPDATE channels SET last_ingested_at_epoch = ?, updated_at_epoch = ? WHERE channel_id = ?"),
		epochOf(at), epochOf(s.now()), channelID)
	if err != nil {
		return fmt.Errorf("touch ingested for %s: %w", channelID, err)
	}
	return requireRow(res)
}

// InsertMessages inserts rows, ignoring those already stored.
func (s *SQLStore) InsertMessages(ctx context.Context, rows []Message) (int, error) {
	var inserted int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		inserted, err = s.insertMessages(ctx, tx, rows)
		return err
	})
	return inserted, err
}

func (s *SQLStore) insertMessages(ctx context.Context, tx *sql.Tx, rows []Message) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	stmt, err := tx.PrepareContext(ctx, s.q(`
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (channel_id, ts) DO NOTHING`))
	if err != nil {
		return 0, fmt.Errorf("prepare message insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, m := range rows {
		raw := string(m.Raw)
		if raw == "" {
			raw = "{}"
		}
		res, err := stmt.ExecContext(ctx, m.ChannelID, m.TS, m.TSEpoch, m.ThreadTS, m.ThreadTSEpoch,
			nullString(m.UserID), nullString(m.Text), raw)
		if err != nil {
			return 0, fmt.Errorf("insert message %s/%s: %w", m.ChannelID, m.TS, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}
	return inserted, nil
}

// UpsertThreads merges thread rows. The statement mirrors MergeThread: reply
// count always replaced, root text and last reply only filled when null, and
// nothing written unless a field changes.
func (s *SQLStore) UpsertThreads(ctx context.Context, rows []Thread) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.upsertThreads(ctx, tx, rows)
	})
}

func (s *SQLStore) upsertThreads(ctx context.Context, tx *sql.Tx, rows []Thread) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, s.q(`
		INSERT INTO threads (channel_id, thread_ts, thread_ts_epoch, root_ts, root_text, reply_count,
			last_reply_ts, last_reply_ts_epoch, needs_summary, updated_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (channel_id, thread_ts) DO UPDATE SET
			reply_count = excluded.reply_count,
			root_text = COALESCE(threads.root_text, excluded.root_text),
			last_reply_ts = COALESCE(threads.last_reply_ts, excluded.last_reply_ts),
			last_reply_ts_epoch = COALESCE(threads.last_reply_ts_epoch, excluded.last_reply_ts_epoch),
			updated_at_epoch = excluded.updated_at_epoch
		WHERE (threads.root_text IS NULL AND excluded.root_text IS NOT NULL)
			OR threads.reply_count <> excluded.reply_count
			OR (threads.last_reply_ts_epoch IS NULL AND excluded.last_reply_ts_epoch IS NOT NULL)`))
	if err != nil {
		return fmt.Errorf("prepare thread upsert: %w", err)
	}
	defer stmt.Close()

	now := epochOf(s.now())
	for _, t := range rows {
		lastTS, lastEpoch := nullWatermark(t.LastReply)
		_, err := stmt.ExecContext(ctx, t.ChannelID, t.ThreadTS, t.ThreadTSEpoch, t.RootTS,
			nullStringPtr(t.RootText), t.ReplyCount, lastTS, lastEpoch, t.NeedsSummary, now)
		if err != nil {
			return fmt.Errorf("upsert thread %s/%s: %w", t.ChannelID, t.ThreadTS, err)
		}
	}
	return nil
}

// ApplyPage commits a page's messages and thread rows in one transaction.
func (s *SQLStore) ApplyPage(ctx context.Context, page PageWrite) (int, error) {
	var inserted int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if inserted, err = s.insertMessages(ctx, tx, page.Messages); err != nil {
			return err
		}
		return s.upsertThreads(ctx, tx, page.Threads)
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// CountThreads returns the number of threads stored for a channel.
func (s *SQLStore) CountThreads(ctx context.Context, channelID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q("SELECT COUNT(*) FROM threads WHERE channel_id = ?"), channelID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count threads for %s: %w", channelID, err)
	}
	return n, nil
}

// ListThreads returns a window of a channel's threads, most recently updated first.
func (s *SQLStore) ListThreads(ctx context.Context, channelID string, offset, limit int) ([]Thread, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := "SELECT " + threadColumns("") + ` FROM threads WHERE channel_id = ?
		ORDER BY updated_at_epoch DESC, thread_ts_epoch DESC LIMIT ? OFFSET ?`
	return s.queryThreads(ctx, query, channelID, limit, offset)
}

// GetThread retrieves one thread.
func (s *SQLStore) GetThread(ctx context.Context, channelID, threadTS string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx, s.q("SELECT "+threadColumns("")+" FROM threads WHERE channel_id = ? AND thread_ts = ?"),
		channelID, threadTS)
	t, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get thread %s/%s: %w", channelID, threadTS, err)
	}
	return t, nil
}

// UpdateThread applies Reply Sync aggregates to a stored thread. The row is read
// and written in one transaction and ApplyThreadUpdate decides the new values.
func (s *SQLStore) UpdateThread(ctx context.Context, upd ThreadUpdate) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		query := "SELECT " + threadColumns("") + " FROM threads WHERE channel_id = ? AND thread_ts = ?"
		if s.dialect == dialectPostgres {
			query += " FOR UPDATE"
		}
		existing, err := scanThread(tx.QueryRowContext(ctx, s.q(query), upd.ChannelID, upd.ThreadTS))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load thread %s/%s: %w", upd.ChannelID, upd.ThreadTS, err)
		}

		updated, changed := ApplyThreadUpdate(*existing, upd, s.now())
		if !changed {
			return nil
		}
		lastTS, lastEpoch := nullWatermark(updated.LastReply)
		_, err = tx.ExecContext(ctx, s.q(`
			UPDATE threads SET root_text = ?, reply_count = ?, last_reply_ts = ?, last_reply_ts_epoch = ?,
				needs_summary = ?, updated_at_epoch = ?
			WHERE channel_id = ? AND thread_ts = ?`),
			nullStringPtr(updated.RootText), updated.ReplyCount, lastTS, lastEpoch,
			updated.NeedsSummary, epochOf(updated.UpdatedAt), upd.ChannelID, upd.ThreadTS)
		if err != nil {
			return fmt.Errorf("update thread %s/%s: %w", upd.ChannelID, upd.ThreadTS, err)
		}
		return nil
	})
}

// ThreadMessages returns every stored message of a thread in timestamp order.
func (s *SQLStore) ThreadMessages(ctx context.Context, channelID, threadTS string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, s.q("SELECT "+messageColumns+` FROM messages
		WHERE channel_id = ? AND thread_ts = ? ORDER BY ts_epoch ASC`), channelID, threadTS)
	if err != nil {
		return nil, fmt.Errorf("thread messages %s/%s: %w", channelID, threadTS, err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var userID, text sql.NullString
		var raw string
		if err := rows.Scan(&m.ChannelID, &m.TS, &m.TSEpoch, &m.ThreadTS, &m.ThreadTSEpoch, &userID, &text, &raw); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.UserID = userID.String
		m.Text = text.String
		m.Raw = []byte(raw)
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpsertActor stores or refreshes a cached user.
func (s *SQLStore) UpsertActor(ctx context.Context, actor Actor) error {
	at := actor.UpdatedAt
	if at.IsZero() {
		at = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO users_cache (user_id, display_name, real_name, updated_at_epoch)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = excluded.display_name,
			real_name = excluded.real_name,
			updated_at_epoch = excluded.updated_at_epoch`),
		actor.UserID, actor.DisplayName, actor.RealName, epochOf(at))
	if err != nil {
		return fmt.Errorf("upsert actor %s: %w", actor.UserID, err)
	}
	return nil
}

// KnownActors reports which of the given user IDs are cached.
func (s *SQLStore) KnownActors(ctx context.Context, userIDs []string) (map[string]bool, error) {
	known := make(map[string]bool)
	if len(userIDs) == 0 {
		return known, nil
	}
	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(userIDs)), ", ")
	rows, err := s.db.QueryContext(ctx, s.q("SELECT user_id FROM users_cache WHERE user_id IN ("+placeholders+")"), args...)
	if err != nil {
		return nil, fmt.Errorf("known actors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		known[id] = true
	}
	return known, rows.Err()
}

// GetActors returns the cached profiles among the given user IDs.
func (s *SQLStore) GetActors(ctx context.Context, userIDs []string) (map[string]Actor, error) {
	out := make(map[string]Actor)
	if len(userIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(userIDs)), ", ")
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT user_id, display_name, real_name, updated_at_epoch
		FROM users_cache WHERE user_id IN (`+placeholders+")"), args...)
	if err != nil {
		return nil, fmt.Errorf("get actors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			actor             Actor
			display, realName sql.NullString
			updated           float64
		)
		if err := rows.Scan(&actor.UserID, &display, &realName, &updated); err != nil {
			return nil, err
		}
		actor.DisplayName = display.String
		actor.RealName = realName.String
		actor.UpdatedAt = timeOf(updated)
		out[actor.UserID] = actor
	}
	return out, rows.Err()
}

// ListThreadsNeedingSummary returns dirty threads of active channels updated
// since the given time, most recently updated first.
func (s *SQLStore) ListThreadsNeedingSummary(ctx context.Context, channelID string, since time.Time, limit int) ([]Thread, error) {
	query := "SELECT " + threadColumns("t") + ` FROM threads t
		JOIN channels c ON c.channel_id = t.channel_id
		WHERE c.is_active AND t.needs_summary AND t.updated_at_epoch >= ?`
	args := []any{epochOf(since)}
	if channelID != "" {
		query += " AND t.channel_id = ?"
		args = append(args, channelID)
	}
	query += " ORDER BY t.updated_at_epoch DESC, t.thread_ts_epoch DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryThreads(ctx, query, args...)
}

// SaveSummary stores a summary and stamps the thread. The dirty flag is cleared
// only when no reply newer than the summarized source arrived in the meantime.
func (s *SQLStore) SaveSummary(ctx context.Context, summary ThreadSummary) error {
	at := summary.UpdatedAt
	if at.IsZero() {
		at = s.now()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`
			UPDATE threads SET
				last_summarized_ts = ?,
				last_summarized_ts_epoch = ?,
				needs_summary = CASE
					WHEN last_reply_ts_epoch IS NULL OR last_reply_ts_epoch <= ? THEN FALSE
					ELSE needs_summary
				END
			WHERE channel_id = ? AND thread_ts = ?`),
			summary.SourceLatest.TS, summary.SourceLatest.Epoch, summary.SourceLatest.Epoch,
			summary.ChannelID, summary.ThreadTS)
		if err != nil {
			return fmt.Errorf("stamp summarized thread %s/%s: %w", summary.ChannelID, summary.ThreadTS, err)
		}
		if err := requireRow(res); err != nil {
			return fmt.Errorf("save summary %s/%s: %w", summary.ChannelID, summary.ThreadTS, err)
		}

		_, err = tx.ExecContext(ctx, s.q(`
			INSERT INTO thread_summaries (channel_id, thread_ts, summary_json, model, source_latest_ts, source_latest_ts_epoch, updated_at_epoch)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (channel_id, thread_ts) DO UPDATE SET
				summary_json = excluded.summary_json,
				model = excluded.model,
				source_latest_ts = excluded.source_latest_ts,
				source_latest_ts_epoch = excluded.source_latest_ts_epoch,
				updated_at_epoch = excluded.updated_at_epoch`),
			summary.ChannelID, summary.ThreadTS, string(summary.Summary), summary.Model,
			summary.SourceLatest.TS, summary.SourceLatest.Epoch, epochOf(at))
		if err != nil {
			return fmt.Errorf("save summary %s/%s: %w", summary.ChannelID, summary.ThreadTS, err)
		}
		return nil
	})
}

// GetSummary retrieves a thread's summary.
func (s *SQLStore) GetSummary(ctx context.Context, channelID, threadTS string) (*ThreadSummary, error) {
	var out ThreadSummary
	var body string
	var latestTS sql.NullString
	var latestEpoch sql.NullFloat64
	var updated float64
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT channel_id, thread_ts, summary_json, model, source_latest_ts, source_latest_ts_epoch, updated_at_epoch
		FROM thread_summaries WHERE channel_id = ? AND thread_ts = ?`), channelID, threadTS).
		Scan(&out.ChannelID, &out.ThreadTS, &body, &out.Model, &latestTS, &latestEpoch, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get summary %s/%s: %w", channelID, threadTS, err)
	}
	out.Summary = []byte(body)
	out.SourceLatest = Watermark{TS: latestTS.String, Epoch: latestEpoch.Float64}
	out.UpdatedAt = timeOf(updated)
	return &out, nil
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) queryThreads(ctx context.Context, query string, args ...any) ([]Thread, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query threads: %w", err)
	}
	defer rows.Close()

	var out []Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// q rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) q(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(row rowScanner) (*Channel, error) {
	var ch Channel
	var lastTS, errMsg, lastResult sql.NullString
	var lastEpoch, ingestedAt, startedAt, finishedAt sql.NullFloat64
	var created, updated float64
	err := row.Scan(&ch.ID, &ch.Name, &ch.IsActive, &lastTS, &lastEpoch, &ingestedAt,
		&ch.Ingest.Status, &startedAt, &finishedAt, &errMsg, &lastResult, &created, &updated)
	if err != nil {
		return nil, err
	}
	ch.LastTS = Watermark{TS: lastTS.String, Epoch: lastEpoch.Float64}
	ch.LastIngestedAt = timePtr(ingestedAt)
	ch.Ingest.StartedAt = timePtr(startedAt)
	ch.Ingest.FinishedAt = timePtr(finishedAt)
	ch.Ingest.ErrorMessage = errMsg.String
	if lastResult.Valid {
		ch.Ingest.LastResult = []byte(lastResult.String)
	}
	ch.CreatedAt = timeOf(created)
	ch.UpdatedAt = timeOf(updated)
	return &ch, nil
}

func scanThread(row rowScanner) (*Thread, error) {
	var t Thread
	var rootText, lastTS, summarizedTS sql.NullString
	var lastEpoch, summarizedEpoch sql.NullFloat64
	var updated float64
	err := row.Scan(&t.ChannelID, &t.ThreadTS, &t.ThreadTSEpoch, &t.RootTS, &rootText, &t.ReplyCount,
		&lastTS, &lastEpoch, &t.NeedsSummary, &summarizedTS, &summarizedEpoch, &updated)
	if err != nil {
		return nil, err
	}
	if rootText.Valid {
		t.RootText = StringPtr(rootText.String)
	}
	if lastEpoch.Valid {
		t.LastReply = &Watermark{TS: lastTS.String, Epoch: lastEpoch.Float64}
	}
	if summarizedEpoch.Valid {
		t.LastSummarized = &Watermark{TS: summarizedTS.String, Epoch: summarizedEpoch.Float64}
	}
	t.UpdatedAt = timeOf(updated)
	return &t, nil
}

func threadColumns(alias string) string {
	if alias == "" {
		return strings.Join(threadColumnNames, ", ")
	}
	cols := make([]string, len(threadColumnNames))
	for i, c := range threadColumnNames {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func epochOf(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// timeOf converts epoch seconds back to a time, rounded to the microsecond.
func timeOf(epoch float64) time.Time {
	sec, frac := math.Modf(epoch)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond))
}

func timePtr(v sql.NullFloat64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := timeOf(v.Float64)
	return &t
}

func nullEpoch(t *time.Time) sql.NullFloat64 {
	if t == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: epochOf(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return nullString(*s)
}

func nullWatermark(w *Watermark) (sql.NullString, sql.NullFloat64) {
	if w == nil || w.IsZero() {
		return sql.NullString{}, sql.NullFloat64{}
	}
	return sql.NullString{String: w.TS, Valid: true}, sql.NullFloat64{Float64: w.Epoch, Valid: true}
}
