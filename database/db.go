package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		theme TEXT NOT NULL DEFAULT 'dark',
		avatar_url TEXT NOT NULL DEFAULT '',
		background_image TEXT NOT NULL DEFAULT '',
		token TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS dashboards (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		slug TEXT NOT NULL,
		icon TEXT NOT NULL DEFAULT '',
		background_image TEXT NOT NULL DEFAULT '',
		column_ids TEXT NOT NULL DEFAULT '[]',
		version INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (owner_id, slug)
	)`,
	`CREATE TABLE IF NOT EXISTS columns (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		card_ids TEXT NOT NULL DEFAULT '[]'
	)`,
	`CREATE TABLE IF NOT EXISTS cards (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		priority TEXT NOT NULL DEFAULT 'without'
			CHECK (priority IN ('without', 'low', 'medium', 'high')),
		deadline TIMESTAMP,
		column_id TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cards_column_id ON cards (column_id)`,
	`CREATE TABLE IF NOT EXISTS help_requests (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		comment TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
}

// DSN builds the sqlite connection string. Transactions take the write lock
// up front so two board mutations never interleave.
func DSN(path string) string {
	params := "_txlock=immediate&_foreign_keys=on&_busy_timeout=5000"
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return path + "?" + params
}

// InitDB opens the database at path and creates the schema
func InitDB(ctx context.Context, path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// every :memory: connection is its own database
	if strings.HasPrefix(path, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	log.Debug("Database initialized successfully")
	return db, nil
}

// Migrate creates any missing tables and indexes
func Migrate(ctx context.Context, db *sqlx.DB) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
