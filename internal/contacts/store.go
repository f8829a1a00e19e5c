// Package contacts persists display names observed during ingestion so
// quoted senders can be rendered by name after a restart.
package contacts

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"wabot/internal/jid"

	_ "modernc.org/sqlite"
)

// SQLiteStore maps canonical identifiers to the last push name seen.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS contacts (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Upsert records the display name last seen for an identifier. Empty names
// are ignored; identifiers are canonicalized before storage.
func (s *SQLiteStore) Upsert(ctx context.Context, id, name string) error {
	if id == "" || name == "" {
		return nil
	}
	id = jid.Canonicalize(id)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (id, name, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`,
		id, name, time.Now(),
	)
	return err
}

// Name returns the stored display name, falling back to the bare user part
// of the identifier when unknown.
func (s *SQLiteStore) Name(ctx context.Context, id string) string {
	canon := jid.Canonicalize(id)
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM contacts WHERE id = ?`, canon,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return fallbackName(canon)
	}
	if err != nil {
		s.logger.Warn("contact lookup failed", "id", canon, "err", err)
		return fallbackName(canon)
	}
	return name
}

// List returns the most recently updated contacts, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Contact, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, updated_at FROM contacts ORDER BY updated_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Contact is one stored identifier with its display name.
type Contact struct {
	ID        string
	Name      string
	UpdatedAt time.Time
}

func fallbackName(canon string) string {
	if parsed, ok := jid.Parse(canon); ok && parsed.User != "" {
		return parsed.User
	}
	return canon
}
