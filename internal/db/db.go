package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"inbox-service/internal/logging"
)

// Connect opens the postgres pool behind the inbox adapters.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
            kind TEXT NOT NULL,
            id TEXT NOT NULL,
            title TEXT NOT NULL DEFAULT '',
            status TEXT,
            created_at TIMESTAMPTZ DEFAULT NOW(),
            PRIMARY KEY(kind, id)
        );`,
	`CREATE TABLE IF NOT EXISTS conversation_members (
            kind TEXT NOT NULL,
            conversation_id TEXT NOT NULL,
            user_id TEXT NOT NULL,
            counterpart_id TEXT,
            last_read_at TIMESTAMPTZ,
            PRIMARY KEY(kind, conversation_id, user_id),
            FOREIGN KEY(kind, conversation_id) REFERENCES conversations(kind, id) ON DELETE CASCADE
        );`,
	`CREATE TABLE IF NOT EXISTS messages (
            id BIGSERIAL PRIMARY KEY,
            kind TEXT NOT NULL,
            conversation_id TEXT NOT NULL,
            sender_id TEXT NOT NULL,
            content TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            delivered_at TIMESTAMPTZ,
            read_at TIMESTAMPTZ,
            FOREIGN KEY(kind, conversation_id) REFERENCES conversations(kind, id) ON DELETE CASCADE
        );`,
	`CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages(kind, conversation_id, created_at);`,
	`CREATE TABLE IF NOT EXISTS presence (
            user_id TEXT PRIMARY KEY,
            last_seen_at TIMESTAMPTZ NOT NULL
        );`,
}

// Migrate applies the adapter schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}
	log := logging.Component("db")
	log.Info().Int("statements", len(migrations)).Msg("database migrations applied")
	return nil
}
