// Package store provides SQLite-based persistence for the block log.
// It owns the log_entries table, the actors table and the batch transaction
// that groups writes between periodic commits.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// ErrUnavailable wraps failures to reach or commit to the database.
var ErrUnavailable = errors.New("storage unavailable")

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store represents the SQLite database store.
//
// SQLite allows a single writer, so every statement is serialized through mu
// and, while a batch transaction is open, runs inside it. Reads therefore see
// writes that have not been committed yet.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	mu      sync.Mutex
	tx      *sql.Tx
	pending int // writes in the open batch transaction
}

// New opens or creates the database at dbPath.
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", ErrUnavailable, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close commits any open batch and closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	endErr := s.End()
	if err := s.db.Close(); err != nil {
		return err
	}
	return endErr
}

// Initialize creates the schema, applying any pending migrations.
func (s *Store) Initialize() error {
	return s.RunMigrations()
}

// conn returns the statement target. Callers must hold mu.
func (s *Store) conn() queryer {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// write runs fn against the current target and counts it toward the open batch.
func (s *Store) write(fn func(q queryer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fn(s.conn()); err != nil {
		return err
	}
	if s.tx != nil {
		s.pending++
	}
	return nil
}

// read runs fn against the current target.
func (s *Store) read(fn func(q queryer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.conn())
}
