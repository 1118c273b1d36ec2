// Package store persists documents, chunks, quizzes, attempts, and study
// notes in SQLite. Records are addressed by id and listed by owner; notes
// are unique per attempt. Missing records are reported with an error that
// matches apperr.ErrNotFound.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/studyai-go/internal/apperr"
)

// ErrNotFound matches every missing-record error returned by the store.
var ErrNotFound = apperr.ErrNotFound

// SQLiteStore is the record store. It is safe for concurrent use.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db  *sql.DB
	now func() time.Time
}

// DefaultDBPath returns the default path for the record database.
// It resolves to ~/.studyai/studyai.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".studyai")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "studyai.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    id          TEXT    PRIMARY KEY,
    owner_id    TEXT    NOT NULL,
    title       TEXT    NOT NULL,
    status      TEXT    NOT NULL CHECK(status IN ('processing','completed','failed')),
    chunk_ids   TEXT    NOT NULL,  -- JSON array
    error       TEXT    NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL,  -- Unix nanoseconds
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents (owner_id, created_at);

CREATE TABLE IF NOT EXISTS chunks (
    id           TEXT    PRIMARY KEY,
    document_id  TEXT    NOT NULL,
    idx          INTEGER NOT NULL,
    body         TEXT    NOT NULL   -- JSON chunker.Chunk
);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks (document_id, idx);

CREATE TABLE IF NOT EXISTS quizzes (
    id           TEXT    PRIMARY KEY,
    document_id  TEXT    NOT NULL,
    owner_id     TEXT    NOT NULL,
    body         TEXT    NOT NULL,  -- JSON quiz.Quiz
    created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_quizzes_owner ON quizzes (owner_id, created_at);
CREATE INDEX IF NOT EXISTS idx_quizzes_document ON quizzes (document_id);

CREATE TABLE IF NOT EXISTS attempts (
    id            TEXT    PRIMARY KEY,
    quiz_id       TEXT    NOT NULL,
    document_id   TEXT    NOT NULL,
    owner_id      TEXT    NOT NULL,
    body          TEXT    NOT NULL,  -- JSON analysis.Attempt
    submitted_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_owner ON attempts (owner_id, submitted_at);
CREATE INDEX IF NOT EXISTS idx_attempts_quiz ON attempts (quiz_id, submitted_at);

CREATE TABLE IF NOT EXISTS notes (
    id           TEXT    PRIMARY KEY,
    attempt_id   TEXT    NOT NULL UNIQUE,
    document_id  TEXT    NOT NULL,
    owner_id     TEXT    NOT NULL,
    body         TEXT    NOT NULL,  -- JSON notes.Notes
    created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notes_owner ON notes (owner_id, created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// notFound returns the store's missing-record error for kind and id.
func notFound(op, kind, id string) error {
	return apperr.New(apperr.StageStore, apperr.KindNotFound, op, fmt.Sprintf("%s %s not found", kind, id))
}

// getBody loads the JSON body column of one row into dst.
func (s *SQLiteStore) getBody(ctx context.Context, op, kind, query, id string, dst any) error {
	var raw string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(op, kind, id)
	}
	if err != nil {
		return fmt.Errorf("store: %s: %w", op, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("store: %s decode: %w", op, err)
	}
	return nil
}

// listBodies runs query and decodes each row's JSON body with decode.
func (s *SQLiteStore) listBodies(ctx context.Context, op, query string, decode func([]byte) error, args ...any) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: %s: %w", op, err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("store: %s scan: %w", op, err)
		}
		if err := decode([]byte(raw)); err != nil {
			return fmt.Errorf("store: %s decode: %w", op, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("store: %s rows: %w", op, err)
	}
	return nil
}

func unixNano(t time.Time) int64 { return t.UnixNano() }

func fromUnixNano(n int64) time.Time { return time.Unix(0, n).UTC() }
