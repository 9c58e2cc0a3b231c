// ABOUTME: SQLite-backed session record persistence using modernc.org/sqlite
// ABOUTME: Write-through store so sessions survive process restarts

package session

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrRecordNotFound is returned when a session record does not exist.
var ErrRecordNotFound = errors.New("session record not found")

// Record is the persisted form of a session. Notes and the live principal
// reference are deliberately not persisted; a restored session is rehydrated
// against the realm by name.
type Record struct {
	ID            string
	PrincipalName string
	AuthType      string
	CreatedAt     time.Time
	LastAccessed  time.Time
}

// Store persists session records.
type Store interface {
	Save(rec *Record) error
	Get(id string) (*Record, error)
	Rename(oldID string, rec *Record) error
	Delete(id string) error
	Close() error
}

// SQLiteStore implements Store on a SQLite database file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the session database at path.
// Parent directories are created, WAL mode is enabled, and the schema is
// applied on open.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "session-store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			principal_name TEXT NOT NULL DEFAULT '',
			auth_type TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			last_accessed TIMESTAMP NOT NULL
		)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("session store initialized", "path", path)
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Save inserts or replaces the record.
func (s *SQLiteStore) Save(rec *Record) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sessions (id, principal_name, auth_type, created_at, last_accessed)
		VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.PrincipalName, rec.AuthType, rec.CreatedAt, rec.LastAccessed)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// Get fetches a record by identifier.
func (s *SQLiteStore) Get(id string) (*Record, error) {
	rec := &Record{}
	err := s.db.QueryRow(`
		SELECT id, principal_name, auth_type, created_at, last_accessed
		FROM sessions WHERE id = ?`, id).
		Scan(&rec.ID, &rec.PrincipalName, &rec.AuthType, &rec.CreatedAt, &rec.LastAccessed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return rec, nil
}

// Rename replaces the record stored under oldID with rec (which carries the
// new identifier) in a single transaction, so no moment exists where both or
// neither identifier resolves.
func (s *SQLiteStore) Rename(oldID string, rec *Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning rename: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, oldID); err != nil {
		return fmt.Errorf("deleting old session id: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO sessions (id, principal_name, auth_type, created_at, last_accessed)
		VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.PrincipalName, rec.AuthType, rec.CreatedAt, rec.LastAccessed); err != nil {
		return fmt.Errorf("inserting renamed session: %w", err)
	}
	return tx.Commit()
}

// Delete removes the record. Deleting an absent record is not an error.
func (s *SQLiteStore) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
