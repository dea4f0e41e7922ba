// Package tokenstore persists the cached bearer token in a local SQLite
// database so it survives process restarts. Every failure here is non-fatal:
// callers treat a failed read as "no token" and re-authenticate.
package tokenstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// tokenKey is the fixed key the single bearer token lives under.
const tokenKey = "auth_token"

// Store is a durable single-token key-value store. The backing database is
// opened lazily on first use and created if absent.
type Store struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

// New creates a Store backed by the SQLite file at path. The file is not
// touched until the first Get or Put.
func New(path string) *Store {
	return &Store{path: path}
}

// open opens the database and creates the tokens table on first use.
// Callers must hold s.mu.
func (s *Store) open(ctx context.Context) (*sql.DB, error) {
	if s.db != nil {
		return s.db, nil
	}

	db, err := sql.Open("sqlite3", s.path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open token store: %w", err)
	}
	// Single writer, single token — one connection is all we need.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tokens (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tokens table: %w", err)
	}

	s.db = db
	return db, nil
}

// Get returns the stored token, or "" if none is stored.
func (s *Store) Get(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open(ctx)
	if err != nil {
		return "", err
	}

	var token string
	err = db.QueryRowContext(ctx, `SELECT value FROM tokens WHERE key = ?`, tokenKey).Scan(&token)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return token, nil
}

// Put stores the token, overwriting any previous value.
func (s *Store) Put(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open(ctx)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO tokens (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, tokenKey, token); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

// Close closes the backing database if it was ever opened.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
