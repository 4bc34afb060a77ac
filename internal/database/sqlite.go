package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteSchema mirrors migrations/001_chat_schema.sql. Ids are stored as text
// and timestamps as unix nanoseconds.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chat_room (
    id          TEXT PRIMARY KEY,
    project_id  TEXT NOT NULL UNIQUE,
    created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_member (
    id          TEXT PRIMARY KEY,
    chat_id     TEXT NOT NULL REFERENCES chat_room(id) ON DELETE CASCADE,
    user_id     TEXT NOT NULL,
    username    TEXT NOT NULL,
    joined_at   INTEGER NOT NULL,
    UNIQUE (chat_id, user_id)
);

CREATE TABLE IF NOT EXISTS chat_message (
    id          TEXT PRIMARY KEY,
    chat_id     TEXT NOT NULL REFERENCES chat_room(id) ON DELETE CASCADE,
    sender_id   TEXT NOT NULL,
    content     TEXT NOT NULL,
    is_read     INTEGER NOT NULL DEFAULT 0,
    read_at     INTEGER,
    created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chat_message_chat_created ON chat_message(chat_id, created_at DESC);
`

// NewSQLite opens the embedded store at dsn (for example "file:chat.db" or
// "file::memory:") and creates the chat tables.
func NewSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", withForeignKeys(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One connection: in-memory databases are per connection and sqlite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sqlite schema: %w", err)
	}
	return db, nil
}

func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)"
}
