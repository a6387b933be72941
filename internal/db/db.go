// Package db owns the single SQLite database behind the assistant: schema
// creation, idempotent column migrations, and the connection pragmas the
// rest of the runtime relies on (WAL snapshot reads, serialized writer).
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// DB wraps the shared SQLite handle. All stores in the process share one DB.
type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the SQLite file at path and applies the
// connection pragmas: WAL journal, NORMAL sync, foreign keys on, 5s busy
// timeout. A single connection is used so writers serialize in-process
// instead of colliding on SQLITE_BUSY.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqldb.SetMaxOpenConns(1)

	d := &DB{DB: sqldb, path: path}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := sqldb.Exec(pragma); err != nil {
			sqldb.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	slog.Debug("db: opened", "path", path)
	return d, nil
}

// Migrate creates all tables and applies idempotent column additions.
// Safe to call on every startup.
func (d *DB) Migrate(ctx context.Context) error {
	start := time.Now()

	tables := []string{
		// Ephemeral: cleared and repopulated from event sources at startup.
		`CREATE TABLE IF NOT EXISTS channels (
			id TEXT PRIMARY KEY,
			type_name TEXT NOT NULL,
			is_group INTEGER NOT NULL DEFAULT 0,
			is_private INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS event_types (
			name TEXT PRIMARY KEY,
			description TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS event_handlers (
			id TEXT PRIMARY KEY,
			prompt TEXT NOT NULL DEFAULT '',
			channel_id TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS handler_event_types (
			handler_id TEXT NOT NULL REFERENCES event_handlers(id) ON DELETE CASCADE,
			event_type_name TEXT NOT NULL,
			PRIMARY KEY (handler_id, event_type_name)
		)`,
		`CREATE TABLE IF NOT EXISTS session_keys (
			session_key TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			prev_session_id TEXT,
			last_activity INTEGER NOT NULL,
			is_group INTEGER NOT NULL DEFAULT 0,
			is_private INTEGER NOT NULL DEFAULT 0
		)`,
		// Append-only conversation log. The AUTOINCREMENT id is the
		// insertion order every state rebuild folds over.
		`CREATE TABLE IF NOT EXISTS session_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			messages TEXT NOT NULL,
			response_id TEXT NOT NULL DEFAULT '',
			usage TEXT NOT NULL DEFAULT '{}',
			pending TEXT NOT NULL DEFAULT '[]',
			is_compaction INTEGER NOT NULL DEFAULT 0,
			user_id TEXT,
			deleted INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS agent_data (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			channel_id TEXT,
			user_id TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			name TEXT PRIMARY KEY,
			cron TEXT NOT NULL,
			prompt TEXT NOT NULL DEFAULT '',
			channel_id TEXT NOT NULL,
			timezone TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
	}
	for _, ddl := range tables {
		if _, err := d.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	// Idempotent column additions: inspect table_info, ALTER when missing.
	migrations := []columnMigration{
		{"session_entries", "post_id", "TEXT"},
		{"agent_data", "post_id", "TEXT"},
		{"agent_data", "priority", "TEXT NOT NULL DEFAULT 'medium'"},
		{"agent_data", "channel_flags", "TEXT"},
	}
	for _, m := range migrations {
		if err := d.addColumnIfMissing(ctx, m); err != nil {
			return err
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_session_entries_session ON session_entries(session_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_session_entries_post ON session_entries(post_id)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_data_post ON agent_data(post_id)`,
		`CREATE INDEX IF NOT EXISTS idx_handler_event_types_name ON handler_event_types(event_type_name)`,
	}
	for _, ddl := range indexes {
		if _, err := d.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	slog.Info("db: migrated", "path", d.path, "duration", time.Since(start))
	return nil
}

type columnMigration struct {
	table  string
	column string
	decl   string
}

func (d *DB) addColumnIfMissing(ctx context.Context, m columnMigration) error {
	rows, err := d.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", m.table))
	if err != nil {
		return fmt.Errorf("table_info %s: %w", m.table, err)
	}
	defer rows.Close()

	exists := false
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return fmt.Errorf("scan table_info %s: %w", m.table, err)
		}
		if name == m.column {
			exists = true
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if exists {
		return nil
	}

	ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.table, m.column, m.decl)
	if _, err := d.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("%s: %w", ddl, err)
	}
	slog.Debug("db: added column", "table", m.table, "column", m.column)
	return nil
}
