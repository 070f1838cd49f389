package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type migration struct {
	version int
	stmts   []string
}

// Both dialects keep the same table and column names so sqlStore is shared.
var sqliteMigrations = []migration{
	{version: 1, stmts: []string{
		`CREATE TABLE IF NOT EXISTS postings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT NOT NULL,
			title TEXT NOT NULL,
			organization TEXT NOT NULL DEFAULT '',
			qualification TEXT NOT NULL DEFAULT '',
			last_date TEXT NOT NULL DEFAULT '',
			apply_link TEXT NOT NULL DEFAULT '',
			notification_link TEXT NOT NULL DEFAULT '',
			post_date TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			fingerprint TEXT NOT NULL UNIQUE,
			delivered BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_postings_undelivered ON postings(delivered, created_at)`,
		`CREATE TABLE IF NOT EXISTS destinations (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL DEFAULT '',
			added_by INTEGER NOT NULL DEFAULT 0,
			added_at DATETIME NOT NULL,
			active BOOLEAN NOT NULL DEFAULT 1,
			fail_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			joined_at DATETIME NOT NULL,
			verified BOOLEAN NOT NULL DEFAULT 0
		)`,
	}},
}

var postgresMigrations = []migration{
	{version: 1, stmts: []string{
		`CREATE TABLE IF NOT EXISTS postings (
			id BIGSERIAL PRIMARY KEY,
			source TEXT NOT NULL,
			title TEXT NOT NULL,
			organization TEXT NOT NULL DEFAULT '',
			qualification TEXT NOT NULL DEFAULT '',
			last_date TEXT NOT NULL DEFAULT '',
			apply_link TEXT NOT NULL DEFAULT '',
			notification_link TEXT NOT NULL DEFAULT '',
			post_date TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			fingerprint TEXT NOT NULL UNIQUE,
			delivered BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_postings_undelivered ON postings(delivered, created_at)`,
		`CREATE TABLE IF NOT EXISTS destinations (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL DEFAULT '',
			added_by BIGINT NOT NULL DEFAULT 0,
			added_at TIMESTAMPTZ NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			fail_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			joined_at TIMESTAMPTZ NOT NULL,
			verified BOOLEAN NOT NULL DEFAULT FALSE
		)`,
	}},
}

// migrate applies every migration newer than the recorded schema version,
// each in its own transaction.
func migrate(ctx context.Context, db *sqlx.DB, migrations []migration) (int, error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return 0, fmt.Errorf("creating schema_version: %w", err)
	}
	current := 0
	if err := db.GetContext(ctx, &current, `SELECT COALESCE(MAX(version), 0) FROM schema_version`); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return current, err
		}
		for _, stmt := range m.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return current, fmt.Errorf("applying migration v%d: %w", m.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO schema_version (version) VALUES (?)`), m.version); err != nil {
			_ = tx.Rollback()
			return current, fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return current, fmt.Errorf("committing migration v%d: %w", m.version, err)
		}
		current = m.version
	}
	return current, nil
}
