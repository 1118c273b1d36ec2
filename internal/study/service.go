// Package study wires the pipeline stages into the per-request flows the
// API and CLI expose. Every read and write is scoped to the owner id the
// caller was authenticated as; records owned by anyone else are Forbidden.
package study

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/54b3r/studyai-go/internal/analysis"
	"github.com/54b3r/studyai-go/internal/analytics"
	"github.com/54b3r/studyai-go/internal/apperr"
	"github.com/54b3r/studyai-go/internal/chunker"
	"github.com/54b3r/studyai-go/internal/document"
	"github.com/54b3r/studyai-go/internal/index"
	"github.com/54b3r/studyai-go/internal/ingestion"
	"github.com/54b3r/studyai-go/internal/logging"
	"github.com/54b3r/studyai-go/internal/notes"
	"github.com/54b3r/studyai-go/internal/quiz"
	"github.com/54b3r/studyai-go/internal/retrieval"
)

// Store is the record store the service reads and writes.
type Store interface {
	ingestion.DocumentStore
	notes.Repository

	Document(ctx context.Context, id string) (*document.Document, error)
	DocumentsByOwner(ctx context.Context, ownerID string) ([]*document.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	Chunks(ctx context.Context, documentID string) ([]chunker.Chunk, error)

	PutQuiz(ctx context.Context, q *quiz.Quiz) error
	Quiz(ctx context.Context, id string) (*quiz.Quiz, error)
	QuizzesByOwner(ctx context.Context, ownerID string) ([]*quiz.Quiz, error)

	PutAttempt(ctx context.Context, a *analysis.Attempt) error
	Attempt(ctx context.Context, id string) (*analysis.Attempt, error)
	AttemptsByOwner(ctx context.Context, ownerID string) ([]*analysis.Attempt, error)
	AttemptsByQuiz(ctx context.Context, quizID string) ([]*analysis.Attempt, error)

	Notes(ctx context.Context, id string) (*notes.Notes, error)
	NotesByOwner(ctx context.Context, ownerID string) ([]*notes.Notes, error)
}

// Deps are the collaborators of a Service. All are required.
type Deps struct {
	Store       Store
	Index       index.Index
	Pipeline    *ingestion.Pipeline
	Quizzes     *quiz.Generator
	Analyzer    *analysis.Analyzer
	Retriever   *retrieval.Engine
	Synthesizer *notes.Synthesizer
}

// Config tunes the service.
type Config struct {
	// Threshold is the minimum relevance score for notes evidence.
	// Defaults to retrieval.DefaultThreshold; negative keeps everything.
	Threshold float64

	// TrendMargin is passed to the analytics aggregator.
	TrendMargin float64
}

// Service runs ingestion, quiz, scoring, notes, and analytics flows.
type Service struct {
	store     Store
	index     index.Index
	pipeline  *ingestion.Pipeline
	quizzes   *quiz.Generator
	analyzer  *analysis.Analyzer
	retriever *retrieval.Engine
	synth     *notes.Synthesizer
	cfg       Config
}

// New returns a Service over deps.
func New(deps Deps, cfg *Config) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("study: store must not be nil")
	case deps.Index == nil:
		return nil, fmt.Errorf("study: index must not be nil")
	case deps.Pipeline == nil:
		return nil, fmt.Errorf("study: ingestion pipeline must not be nil")
	case deps.Quizzes == nil:
		return nil, fmt.Errorf("study: quiz generator must not be nil")
	case deps.Analyzer == nil:
		return nil, fmt.Errorf("study: analyzer must not be nil")
	case deps.Retriever == nil:
		return nil, fmt.Errorf("study: retriever must not be nil")
	case deps.Synthesizer == nil:
		return nil, fmt.Errorf("study: synthesizer must not be nil")
	}
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	switch {
	case c.Threshold == 0:
		c.Threshold = retrieval.DefaultThreshold
	case c.Threshold < 0:
		c.Threshold = 0
	}
	return &Service{
		store:     deps.Store,
		index:     deps.Index,
		pipeline:  deps.Pipeline,
		quizzes:   deps.Quizzes,
		analyzer:  deps.Analyzer,
		retriever: deps.Retriever,
		synth:     deps.Synthesizer,
		cfg:       c,
	}, nil
}

// Ingest indexes a document for in.OwnerID. An empty DocumentID is assigned
// a new id; re-ingesting an existing id requires the same owner.
func (s *Service) Ingest(ctx context.Context, in ingestion.Input) (*document.Document, error) {
	if in.OwnerID == "" {
		return nil, apperr.New(apperr.StageIngestion, apperr.KindInvalidInput, "ingest", "owner id is required")
	}
	if in.DocumentID == "" {
		in.DocumentID = uuid.NewString()
	} else if _, err := s.Document(ctx, in.OwnerID, in.DocumentID); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if strings.TrimSpace(in.Title) == "" {
		in.Title = "Untitled"
	}
	return s.pipeline.Ingest(ctx, in)
}

// IngestURL fetches a plain-text or markdown source and ingests it. An empty
// title is inferred from the URL path.
func (s *Service) IngestURL(ctx context.Context, in ingestion.Input, rawURL string) (*document.Document, error) {
	if in.OwnerID == "" {
		return nil, apperr.New(apperr.StageIngestion, apperr.KindInvalidInput, "ingest", "owner id is required")
	}
	text, err := s.pipeline.FetchText(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Title) == "" {
		in.Title = ingestion.InferSource(rawURL).Title
	}
	in.Text = text
	return s.Ingest(ctx, in)
}

// Document returns the owner's document id.
func (s *Service) Document(ctx context.Context, ownerID, id string) (*document.Document, error) {
	d, err := s.store.Document(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := owned(apperr.StageStore, "document", id, ownerID, d.OwnerID); err != nil {
		return nil, err
	}
	return d, nil
}

// Documents lists the owner's documents.
func (s *Service) Documents(ctx context.Context, ownerID string) ([]*document.Document, error) {
	return s.store.DocumentsByOwner(ctx, ownerID)
}

// DeleteDocument removes a document's index entries and every record
// derived from it.
func (s *Service) DeleteDocument(ctx context.Context, ownerID, id string) error {
	if _, err := s.Document(ctx, ownerID, id); err != nil {
		return err
	}
	if err := s.index.DeleteDocument(ctx, id); err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, id); err != nil {
		return err
	}
	logging.FromContext(ctx).Info("study: document deleted", slog.String("document_id", id))
	return nil
}

// GenerateQuiz builds and stores a quiz for the owner's completed document.
func (s *Service) GenerateQuiz(ctx context.Context, ownerID, documentID string, req quiz.Request) (*quiz.Quiz, error) {
	d, err := s.Document(ctx, ownerID, documentID)
	if err != nil {
		return nil, err
	}
	if !d.Ready() {
		return nil, apperr.New(apperr.StageGeneration, apperr.KindNotReady, "generate",
			fmt.Sprintf("document %s is %s", d.ID, d.Status))
	}
	chunks, err := s.store.Chunks(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	q, err := s.quizzes.Generate(ctx, quiz.Source{Document: d, Chunks: chunks}, req)
	if err != nil {
		return nil, err
	}
	if err := s.store.PutQuiz(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

// Quiz returns the owner's quiz with answers removed.
func (s *Service) Quiz(ctx context.Context, ownerID, id string) (*quiz.Quiz, error) {
	q, err := s.quiz(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	return q.Redacted(), nil
}

func (s *Service) quiz(ctx context.Context, ownerID, id string) (*quiz.Quiz, error) {
	q, err := s.store.Quiz(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := owned(apperr.StageGeneration, "quiz", id, ownerID, q.OwnerID); err != nil {
		return nil, err
	}
	return q, nil
}

// SubmitAttempt scores answers against the owner's quiz and stores the
// attempt. Every submission is a new attempt.
func (s *Service) SubmitAttempt(ctx context.Context, ownerID, quizID string, sub analysis.Submission) (*analysis.Attempt, error) {
	q, err := s.quiz(ctx, ownerID, quizID)
	if err != nil {
		return nil, err
	}
	sub.OwnerID = ownerID
	a, err := s.analyzer.Score(q, sub)
	if err != nil {
		return nil, err
	}
	if err := s.store.PutAttempt(ctx, a); err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Info("study: attempt scored",
		slog.String("quiz_id", quizID),
		slog.String("attempt_id", a.ID),
		slog.Float64("score", a.Score),
		slog.String("level", string(a.Level)),
	)
	return a, nil
}

// Attempt returns the owner's attempt.
func (s *Service) Attempt(ctx context.Context, ownerID, id string) (*analysis.Attempt, error) {
	a, err := s.store.Attempt(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := owned(apperr.StageAnalysis, "attempt", id, ownerID, a.OwnerID); err != nil {
		return nil, err
	}
	return a, nil
}

// QuizAttempts lists the owner's attempts at their quiz in submission order.
func (s *Service) QuizAttempts(ctx context.Context, ownerID, quizID string) ([]*analysis.Attempt, error) {
	if _, err := s.quiz(ctx, ownerID, quizID); err != nil {
		return nil, err
	}
	all, err := s.store.AttemptsByQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	out := make([]*analysis.Attempt, 0, len(all))
	for _, a := range all {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	return out, nil
}

// GenerateNotes returns the study notes for the owner's attempt, producing
// them on first request. Repeated calls return the stored notes without
// retrieval or generation.
func (s *Service) GenerateNotes(ctx context.Context, ownerID, attemptID string) (*notes.Notes, error) {
	a, err := s.Attempt(ctx, ownerID, attemptID)
	if err != nil {
		return nil, err
	}
	existing, err := s.store.NotesByAttempt(ctx, a.ID)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	}

	d, err := s.Document(ctx, ownerID, a.DocumentID)
	if err != nil {
		return nil, err
	}
	if !d.Ready() {
		return nil, apperr.New(apperr.StageRetrieval, apperr.KindNotReady, "retrieve",
			fmt.Sprintf("document %s is %s", d.ID, d.Status))
	}

	res, err := s.retriever.Retrieve(ctx, retrieval.Query{
		DocumentID: a.DocumentID,
		OwnerID:    ownerID,
		Topics:     a.WeakTopics,
		Threshold:  s.cfg.Threshold,
	})
	if err != nil {
		return nil, err
	}
	for _, gap := range res.Gaps {
		logging.FromContext(ctx).Warn("study: weak topic not covered by document",
			slog.String("attempt_id", a.ID),
			slog.Any("error", gap),
		)
	}
	return s.synth.Synthesize(ctx, notes.PerformanceOf(a, d.Title), res)
}

// Notes returns the owner's notes by notes id.
func (s *Service) Notes(ctx context.Context, ownerID, id string) (*notes.Notes, error) {
	n, err := s.store.Notes(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := owned(apperr.StageSynthesis, "notes", id, ownerID, n.OwnerID); err != nil {
		return nil, err
	}
	return n, nil
}

// NotesList returns the owner's notes, oldest first. A non-empty documentID
// restricts the list to notes on that document, which the owner must own.
func (s *Service) NotesList(ctx context.Context, ownerID, documentID string) ([]*notes.Notes, error) {
	if documentID != "" {
		if _, err := s.Document(ctx, ownerID, documentID); err != nil {
			return nil, err
		}
	}
	all, err := s.store.NotesByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if documentID == "" {
		return all, nil
	}
	out := make([]*notes.Notes, 0, len(all))
	for _, n := range all {
		if n.DocumentID == documentID {
			out = append(out, n)
		}
	}
	return out, nil
}

// Analytics aggregates the owner's attempt history and dates the last study
// session from their notes.
func (s *Service) Analytics(ctx context.Context, ownerID string) (analytics.Snapshot, error) {
	attempts, err := s.store.AttemptsByOwner(ctx, ownerID)
	if err != nil {
		return analytics.Snapshot{}, err
	}
	ns, err := s.store.NotesByOwner(ctx, ownerID)
	if err != nil {
		return analytics.Snapshot{}, err
	}
	snap := analytics.Aggregate(analytics.FromAttempts(attempts), analytics.Options{Margin: s.cfg.TrendMargin})
	snap.LastStudySession = analytics.LastSession(analytics.FromNotes(ns))
	return snap, nil
}

// owned returns Forbidden unless caller owns the record. The message does
// not reveal the real owner.
func owned(stage apperr.Stage, kind, id, caller, owner string) error {
	if caller == "" || caller != owner {
		return apperr.New(stage, apperr.KindForbidden, "authorize",
			fmt.Sprintf("%s %s does not belong to the caller", kind, id))
	}
	return nil
}
