package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/54b3r/studyai-go/internal/analysis"
	"github.com/54b3r/studyai-go/internal/notes"
	"github.com/54b3r/studyai-go/internal/quiz"
)

// PutQuiz stores q. Quizzes are immutable; storing an existing id fails.
func (s *SQLiteStore) PutQuiz(ctx context.Context, q *quiz.Quiz) error {
	raw, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("store: put quiz: %w", err)
	}
	const stmt = `INSERT INTO quizzes (id, document_id, owner_id, body, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt, q.ID, q.DocumentID, q.OwnerID, string(raw), unixNano(q.CreatedAt)); err != nil {
		return fmt.Errorf("store: put quiz: %w", err)
	}
	return nil
}

// Quiz returns the quiz with id, answers included.
func (s *SQLiteStore) Quiz(ctx context.Context, id string) (*quiz.Quiz, error) {
	var q quiz.Quiz
	if err := s.getBody(ctx, "get quiz", "quiz", `SELECT body FROM quizzes WHERE id = ?`, id, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// QuizzesByOwner returns the owner's quizzes, oldest first.
func (s *SQLiteStore) QuizzesByOwner(ctx context.Context, ownerID string) ([]*quiz.Quiz, error) {
	out := []*quiz.Quiz{}
	err := s.listBodies(ctx, "list quizzes",
		`SELECT body FROM quizzes WHERE owner_id = ? ORDER BY created_at ASC, id ASC`,
		func(raw []byte) error {
			var q quiz.Quiz
			if err := json.Unmarshal(raw, &q); err != nil {
				return err
			}
			out = append(out, &q)
			return nil
		}, ownerID)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PutAttempt stores a. Attempts are immutable; storing an existing id fails.
func (s *SQLiteStore) PutAttempt(ctx context.Context, a *analysis.Attempt) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("store: put attempt: %w", err)
	}
	const stmt = `INSERT INTO attempts (id, quiz_id, document_id, owner_id, body, submitted_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt, a.ID, a.QuizID, a.DocumentID, a.OwnerID, string(raw), unixNano(a.SubmittedAt)); err != nil {
		return fmt.Errorf("store: put attempt: %w", err)
	}
	return nil
}

// Attempt returns the attempt with id.
func (s *SQLiteStore) Attempt(ctx context.Context, id string) (*analysis.Attempt, error) {
	var a analysis.Attempt
	if err := s.getBody(ctx, "get attempt", "attempt", `SELECT body FROM attempts WHERE id = ?`, id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// AttemptsByOwner returns the owner's attempts in submission order.
func (s *SQLiteStore) AttemptsByOwner(ctx context.Context, ownerID string) ([]*analysis.Attempt, error) {
	return s.listAttempts(ctx, `SELECT body FROM attempts WHERE owner_id = ? ORDER BY submitted_at ASC, id ASC`, ownerID)
}

// AttemptsByQuiz returns the attempts at quizID in submission order.
func (s *SQLiteStore) AttemptsByQuiz(ctx context.Context, quizID string) ([]*analysis.Attempt, error) {
	return s.listAttempts(ctx, `SELECT body FROM attempts WHERE quiz_id = ? ORDER BY submitted_at ASC, id ASC`, quizID)
}

func (s *SQLiteStore) listAttempts(ctx context.Context, query, arg string) ([]*analysis.Attempt, error) {
	out := []*analysis.Attempt{}
	err := s.listBodies(ctx, "list attempts", query, func(raw []byte) error {
		var a analysis.Attempt
		if err := json.Unmarshal(raw, &a); err != nil {
			return err
		}
		out = append(out, &a)
		return nil
	}, arg)
	if err != nil {
		return nil, err
	}
	return out, nil
}

var _ notes.Repository = (*SQLiteStore)(nil)

// InsertNotes stores n unless notes for the same attempt already exist, and
// returns whichever record is stored afterwards.
func (s *SQLiteStore) InsertNotes(ctx context.Context, n *notes.Notes) (*notes.Notes, error) {
	raw, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("store: insert notes: %w", err)
	}
	const stmt = `INSERT OR IGNORE INTO notes (id, attempt_id, document_id, owner_id, body, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt, n.ID, n.AttemptID, n.DocumentID, n.OwnerID, string(raw), unixNano(n.CreatedAt)); err != nil {
		return nil, fmt.Errorf("store: insert notes: %w", err)
	}
	return s.NotesByAttempt(ctx, n.AttemptID)
}

// Notes returns the notes with id.
func (s *SQLiteStore) Notes(ctx context.Context, id string) (*notes.Notes, error) {
	var n notes.Notes
	if err := s.getBody(ctx, "get notes", "notes", `SELECT body FROM notes WHERE id = ?`, id, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// NotesByAttempt returns the notes written for attemptID.
func (s *SQLiteStore) NotesByAttempt(ctx context.Context, attemptID string) (*notes.Notes, error) {
	var n notes.Notes
	if err := s.getBody(ctx, "get notes", "notes for attempt", `SELECT body FROM notes WHERE attempt_id = ?`, attemptID, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// NotesByOwner returns the owner's notes, oldest first.
func (s *SQLiteStore) NotesByOwner(ctx context.Context, ownerID string) ([]*notes.Notes, error) {
	out := []*notes.Notes{}
	err := s.listBodies(ctx, "list notes",
		`SELECT body FROM notes WHERE owner_id = ? ORDER BY created_at ASC, id ASC`,
		func(raw []byte) error {
			var n notes.Notes
			if err := json.Unmarshal(raw, &n); err != nil {
				return err
			}
			out = append(out, &n)
			return nil
		}, ownerID)
	if err != nil {
		return nil, err
	}
	return out, nil
}
