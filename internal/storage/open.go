package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Open builds a Store from a DSN:
//
//	memory://                   in-process MemoryStore
//	sqlite://path/to/db.sqlite  SQLite file (file:path is accepted too)
//	postgres://user@host/db     PostgreSQL
//
// When migrate is set the SQL schema is created if missing.
func Open(ctx context.Context, dsn string, migrate bool, logger *slog.Logger) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("empty database url")
	}
	scheme, rest, _ := strings.Cut(dsn, ":")
	scheme = strings.ToLower(scheme)

	var store *SQLStore
	var err error
	switch scheme {
	case "memory", "mem":
		return NewMemoryStore(), nil
	case "sqlite", "sqlite3":
		path := strings.TrimPrefix(rest, "//")
		if path == "" {
			return nil, fmt.Errorf("sqlite database url %q has no path", dsn)
		}
		store, err = NewSQLiteStore(path, logger)
	case "file":
		store, err = NewSQLiteStore(rest, logger)
	case "postgres", "postgresql":
		store, err = NewPostgresStore(dsn, logger)
	default:
		return nil, fmt.Errorf("unsupported database url scheme: %s", scheme)
	}
	if err != nil {
		return nil, err
	}

	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to connect to %s store: %w", store.dialect, err)
	}
	if migrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
	}
	return store, nil
}
