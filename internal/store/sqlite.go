// ABOUTME: SQLite store for the decision log using modernc.org/sqlite
// ABOUTME: Opens the database in WAL mode and creates the schema on first use

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists decisions in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path.
// Parent directories are created if needed. ":memory:" opens a private
// in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// WithLogger replaces the store's logger.
func (s *SQLiteStore) WithLogger(logger *slog.Logger) *SQLiteStore {
	s.logger = logger
	return s
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS decisions (
			id           TEXT PRIMARY KEY,
			ts           TEXT NOT NULL,
			level        TEXT NOT NULL,
			scope        TEXT NOT NULL,
			method       TEXT NOT NULL,
			decision     TEXT NOT NULL,
			session_id   TEXT,
			hardware_id  TEXT,
			duration_ms  INTEGER NOT NULL DEFAULT 0,
			context_json TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions(ts);
		CREATE INDEX IF NOT EXISTS idx_decisions_hardware ON decisions(hardware_id, ts);
		CREATE INDEX IF NOT EXISTS idx_decisions_decision ON decisions(decision);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
