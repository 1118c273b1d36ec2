package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/54b3r/studyai-go/internal/chunker"
	"github.com/54b3r/studyai-go/internal/document"
)

// PutDocument inserts d or replaces the stored record with the same id.
// CreatedAt is set on first insert; UpdatedAt is always refreshed.
func (s *SQLiteStore) PutDocument(ctx context.Context, d *document.Document) error {
	now := s.now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	ids := d.ChunkIDs
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("store: put document: %w", err)
	}

	const q = `
INSERT INTO documents (id, owner_id, title, status, chunk_ids, error, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    owner_id = excluded.owner_id,
    title = excluded.title,
    status = excluded.status,
    chunk_ids = excluded.chunk_ids,
    error = excluded.error,
    updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, q, d.ID, d.OwnerID, d.Title, string(d.Status), string(raw), d.Error,
		unixNano(d.CreatedAt), unixNano(d.UpdatedAt)); err != nil {
		return fmt.Errorf("store: put document: %w", err)
	}
	return nil
}

const documentColumns = `id, owner_id, title, status, chunk_ids, error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (*document.Document, error) {
	var (
		d                document.Document
		status, ids      string
		created, updated int64
	)
	if err := r.Scan(&d.ID, &d.OwnerID, &d.Title, &status, &ids, &d.Error, &created, &updated); err != nil {
		return nil, err
	}
	d.Status = document.Status(status)
	if err := json.Unmarshal([]byte(ids), &d.ChunkIDs); err != nil {
		return nil, err
	}
	d.CreatedAt = fromUnixNano(created)
	d.UpdatedAt = fromUnixNano(updated)
	return &d, nil
}

// Document returns the document with id.
func (s *SQLiteStore) Document(ctx context.Context, id string) (*document.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("get document", "document", id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get document: %w", err)
	}
	return d, nil
}

// DocumentsByOwner returns the owner's documents, oldest first.
func (s *SQLiteStore) DocumentsByOwner(ctx context.Context, ownerID string) ([]*document.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE owner_id = ? ORDER BY created_at ASC, id ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("store: list documents: %w", err)
	}
	defer rows.Close()

	out := []*document.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list documents scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list documents rows: %w", err)
	}
	return out, nil
}

// DeleteDocument removes the document and everything derived from it:
// chunks, quizzes, attempts, and notes.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: delete document: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("delete document", "document", id)
	}
	for _, q := range []string{
		`DELETE FROM chunks WHERE document_id = ?`,
		`DELETE FROM quizzes WHERE document_id = ?`,
		`DELETE FROM attempts WHERE document_id = ?`,
		`DELETE FROM notes WHERE document_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("store: delete document: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: delete document commit: %w", err)
	}
	return nil
}

// ReplaceChunks atomically replaces every stored chunk of documentID.
func (s *SQLiteStore) ReplaceChunks(ctx context.Context, documentID string, chunks []chunker.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: replace chunks: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("store: replace chunks: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks (id, document_id, idx, body) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: replace chunks: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		raw, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("store: replace chunks: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, documentID, c.Index, string(raw)); err != nil {
			return fmt.Errorf("store: replace chunks: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: replace chunks commit: %w", err)
	}
	return nil
}

// Chunks returns the chunks of documentID in document order.
func (s *SQLiteStore) Chunks(ctx context.Context, documentID string) ([]chunker.Chunk, error) {
	out := []chunker.Chunk{}
	err := s.listBodies(ctx, "list chunks",
		`SELECT body FROM chunks WHERE document_id = ? ORDER BY idx ASC`,
		func(raw []byte) error {
			var c chunker.Chunk
			if err := json.Unmarshal(raw, &c); err != nil {
				return err
			}
			out = append(out, c)
			return nil
		}, documentID)
	if err != nil {
		return nil, err
	}
	return out, nil
}
