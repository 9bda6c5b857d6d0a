package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Open opens (or creates) a SQLite database at the given path with WAL journaling.
// ":memory:" opens a private in-memory database.
//
// The pool is capped at one connection: SQLite allows a single writer, and an
// in-memory database only exists on the connection that created it.
func Open(path string) (*sql.DB, error) {
	var dsn string
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	} else {
		// ensure parent directory exists to avoid SQLITE_CANTOPEN errors
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// EnsureSchema creates the coach tables if they do not exist.
func EnsureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trigger_rules (
            rule_id TEXT NOT NULL,
            app_id TEXT NOT NULL,
            trigger_event TEXT NOT NULL,
            is_active BOOLEAN NOT NULL DEFAULT 1,
            allow_repeat BOOLEAN NOT NULL DEFAULT 0,
            condition_key TEXT,
            condition_value TEXT,
            message_body TEXT NOT NULL,
            sender_name TEXT,
            created_at INTEGER NOT NULL,
            PRIMARY KEY (app_id, rule_id)
        );`,
		`CREATE INDEX IF NOT EXISTS trigger_rules_lookup_idx ON trigger_rules(app_id, trigger_event, is_active);`,
		`CREATE TABLE IF NOT EXISTS user_events (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            event_id TEXT NOT NULL UNIQUE,
            app_id TEXT NOT NULL,
            user_id TEXT NOT NULL,
            event_name TEXT NOT NULL,
            metadata TEXT,
            created_at INTEGER NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS user_events_user_idx ON user_events(app_id, user_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS conversations (
            conversation_id TEXT PRIMARY KEY,
            app_id TEXT NOT NULL,
            user_id TEXT NOT NULL,
            created_at INTEGER NOT NULL,
            UNIQUE(app_id, user_id)
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            message_id TEXT NOT NULL UNIQUE,
            app_id TEXT NOT NULL,
            user_id TEXT NOT NULL,
            conversation_id TEXT NOT NULL REFERENCES conversations(conversation_id),
            trigger_rule_id TEXT,
            dedup_key TEXT UNIQUE,
            body TEXT NOT NULL,
            sender_name TEXT NOT NULL,
            is_read BOOLEAN NOT NULL DEFAULT 0,
            created_at INTEGER NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS messages_user_idx ON messages(app_id, user_id, is_read, created_at);`,
		`CREATE INDEX IF NOT EXISTS messages_rule_idx ON messages(app_id, user_id, trigger_rule_id);`,
		`CREATE TABLE IF NOT EXISTS outbox (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            aggregate_id TEXT NOT NULL,
            op TEXT NOT NULL,
            payload TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            attempt_count INTEGER NOT NULL DEFAULT 0,
            next_attempt_at INTEGER NOT NULL,
            update_time INTEGER NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS outbox_ready_idx ON outbox(status, next_attempt_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
