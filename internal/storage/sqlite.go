package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS files (
    id            TEXT PRIMARY KEY,
    category      TEXT     NOT NULL CHECK (category IN ('image', 'voice', 'document', 'video')),
    public_ref    TEXT     NOT NULL,
    original_name TEXT     NOT NULL,
    stored_name   TEXT     NOT NULL UNIQUE,
    size_bytes    INTEGER  NOT NULL DEFAULT 0,
    mime_type     TEXT     NOT NULL DEFAULT '',
    version       INTEGER  NOT NULL DEFAULT 1,
    created_at    DATETIME NOT NULL,
    updated_at    DATETIME NOT NULL,
    UNIQUE (category, stored_name)
);`

// OpenSQLite opens (creating if needed) the sqlite metadata database at path
// and ensures the schema exists. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps sqlite from returning SQLITE_BUSY under load and keeps
	// ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(ctx, defaultDBTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return db, nil
}
