package postgres

import (
	"context"
	"database/sql"
)

// EnsureSchema creates the coach tables if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trigger_rules (
            rule_id TEXT NOT NULL,
            app_id TEXT NOT NULL,
            trigger_event TEXT NOT NULL,
            is_active BOOLEAN NOT NULL DEFAULT true,
            allow_repeat BOOLEAN NOT NULL DEFAULT false,
            condition_key TEXT,
            condition_value TEXT,
            message_body TEXT NOT NULL,
            sender_name TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            PRIMARY KEY (app_id, rule_id)
        )`,
		`CREATE INDEX IF NOT EXISTS trigger_rules_lookup_idx ON trigger_rules(app_id, trigger_event) WHERE is_active`,
		`CREATE TABLE IF NOT EXISTS user_events (
            seq BIGSERIAL PRIMARY KEY,
            event_id TEXT NOT NULL UNIQUE,
            app_id TEXT NOT NULL,
            user_id TEXT NOT NULL,
            event_name TEXT NOT NULL,
            metadata JSONB,
            created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
        )`,
		`CREATE INDEX IF NOT EXISTS user_events_user_idx ON user_events(app_id, user_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS conversations (
            conversation_id TEXT PRIMARY KEY,
            app_id TEXT NOT NULL,
            user_id TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            UNIQUE (app_id, user_id)
        )`,
		`CREATE TABLE IF NOT EXISTS messages (
            seq BIGSERIAL PRIMARY KEY,
            message_id TEXT NOT NULL UNIQUE,
            app_id TEXT NOT NULL,
            user_id TEXT NOT NULL,
            conversation_id TEXT NOT NULL REFERENCES conversations(conversation_id),
            trigger_rule_id TEXT,
            dedup_key TEXT UNIQUE,
            body TEXT NOT NULL,
            sender_name TEXT NOT NULL,
            is_read BOOLEAN NOT NULL DEFAULT false,
            created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
        )`,
		`CREATE INDEX IF NOT EXISTS messages_unread_idx ON messages(app_id, user_id, created_at) WHERE NOT is_read`,
		`CREATE INDEX IF NOT EXISTS messages_rule_idx ON messages(app_id, user_id, trigger_rule_id)`,
		`CREATE TABLE IF NOT EXISTS outbox (
            id BIGSERIAL PRIMARY KEY,
            aggregate_id TEXT NOT NULL,
            op TEXT NOT NULL,
            payload JSONB NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            attempt_count INT NOT NULL DEFAULT 0,
            next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            update_time TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
		`CREATE INDEX IF NOT EXISTS outbox_ready_idx ON outbox(next_attempt_at) WHERE status = 'pending'`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
