package storage

// schemaStatements create the mirror's tables. The DDL is the common subset of
// SQLite and PostgreSQL; every instant is an epoch-seconds DOUBLE PRECISION
// column so both engines compare and order them the same way.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS channels (
		channel_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		last_ts TEXT,
		last_ts_epoch DOUBLE PRECISION,
		last_ingested_at_epoch DOUBLE PRECISION,
		ingest_status TEXT NOT NULL DEFAULT 'idle',
		ingest_started_at_epoch DOUBLE PRECISION,
		ingest_finished_at_epoch DOUBLE PRECISION,
		ingest_error_message TEXT,
		ingest_last_result_json TEXT,
		created_at_epoch DOUBLE PRECISION NOT NULL,
		updated_at_epoch DOUBLE PRECISION NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		channel_id TEXT NOT NULL,
		ts TEXT NOT NULL,
		ts_epoch DOUBLE PRECISION NOT NULL,
		thread_ts TEXT NOT NULL,
		thread_ts_epoch DOUBLE PRECISION NOT NULL,
		user_id TEXT,
		text TEXT,
		raw_json TEXT NOT NULL,
		PRIMARY KEY (channel_id, ts)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages (channel_id, thread_ts)`,
	`CREATE TABLE IF NOT EXISTS threads (
		channel_id TEXT NOT NULL,
		thread_ts TEXT NOT NULL,
		thread_ts_epoch DOUBLE PRECISION NOT NULL,
		root_ts TEXT NOT NULL,
		root_text TEXT,
		reply_count INTEGER NOT NULL DEFAULT 0,
		last_reply_ts TEXT,
		last_reply_ts_epoch DOUBLE PRECISION,
		needs_summary BOOLEAN NOT NULL DEFAULT FALSE,
		last_summarized_ts TEXT,
		last_summarized_ts_epoch DOUBLE PRECISION,
		updated_at_epoch DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (channel_id, thread_ts)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_threads_recent ON threads (channel_id, updated_at_epoch, thread_ts_epoch)`,
	`CREATE INDEX IF NOT EXISTS idx_threads_dirty ON threads (needs_summary, updated_at_epoch)`,
	`CREATE TABLE IF NOT EXISTS users_cache (
		user_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		real_name TEXT NOT NULL DEFAULT '',
		updated_at_epoch DOUBLE PRECISION NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS thread_summaries (
		channel_id TEXT NOT NULL,
		thread_ts TEXT NOT NULL,
		summary_json TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		source_latest_ts TEXT,
		source_latest_ts_epoch DOUBLE PRECISION,
		updated_at_epoch DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (channel_id, thread_ts)
	)`,
}
