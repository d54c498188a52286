package store

import (
	"context"
	"database/sql"
	"fmt"
)

const currentSchemaVersion = 2

// RunMigrations applies any pending database migrations
func (s *Store) RunMigrations() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx != nil {
		return fmt.Errorf("migrations must run before a batch transaction is opened")
	}

	version, err := s.getSchemaVersion()
	if err != nil {
		return err
	}

	if version < 1 {
		if err := s.migrateToV1(); err != nil {
			return fmt.Errorf("migration to v1 failed: %w", err)
		}
	}

	if version < 2 {
		if err := s.migrateToV2(); err != nil {
			return fmt.Errorf("migration to v2 failed: %w", err)
		}
	}

	return nil
}

// SchemaVersion returns the applied schema version, 0 for an empty database.
func (s *Store) SchemaVersion() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getSchemaVersion()
}

// getSchemaVersion returns the current schema version, 0 if not set
func (s *Store) getSchemaVersion() (int, error) {
	q := s.conn()
	var tableName string
	err := q.QueryRowContext(context.Background(), `
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)

	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	err = q.QueryRowContext(context.Background(), "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, err
	}

	return version, nil
}

// migrateToV1 creates the log table and the indexes the filters depend on
func (s *Store) migrateToV1() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)`,

		// Log entries (append-only except rollback_state)
		`CREATE TABLE IF NOT EXISTS log_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			world TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			actor TEXT NOT NULL,
			action INTEGER NOT NULL,
			rollback_state INTEGER NOT NULL DEFAULT 0,
			old_name TEXT,
			old_meta INTEGER,
			new_name TEXT,
			new_meta INTEGER,
			amount INTEGER NOT NULL DEFAULT 0,
			target_name TEXT,
			old_payload BLOB,
			new_payload BLOB
		)`,

		`CREATE INDEX IF NOT EXISTS idx_log_position ON log_entries(world, x, y, z)`,
		`CREATE INDEX IF NOT EXISTS idx_log_timestamp ON log_entries(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_log_actor ON log_entries(actor)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	_, err := s.db.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)", 1)
	return err
}

// migrateToV2 adds the actor display name table
func (s *Store) migrateToV2() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS actors (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	)`)
	if err != nil {
		return err
	}

	_, err = s.db.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)", currentSchemaVersion)
	return err
}
