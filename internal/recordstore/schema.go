package recordstore

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS notes (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	college     TEXT NOT NULL DEFAULT '',
	stream      TEXT NOT NULL DEFAULT '',
	branch      TEXT NOT NULL DEFAULT '',
	semester    INTEGER NOT NULL DEFAULT 0,
	subject     TEXT NOT NULL DEFAULT '',
	is_public   INTEGER NOT NULL DEFAULT 1,
	file_url    TEXT NOT NULL,
	storage_key TEXT NOT NULL DEFAULT '',
	checksum    TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notes_owner ON notes(user_id, created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_notes_public ON notes(is_public, created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_notes_subject ON notes(subject);
`

func openSQLite(dsn string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("recordstore: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("recordstore: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("recordstore: apply schema: %w", err)
	}
	return conn, nil
}
