package study

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/studyai-go/internal/analysis"
	"github.com/54b3r/studyai-go/internal/analytics"
	"github.com/54b3r/studyai-go/internal/apperr"
	"github.com/54b3r/studyai-go/internal/document"
	"github.com/54b3r/studyai-go/internal/embedder"
	"github.com/54b3r/studyai-go/internal/index"
	"github.com/54b3r/studyai-go/internal/ingestion"
	"github.com/54b3r/studyai-go/internal/notes"
	"github.com/54b3r/studyai-go/internal/provider/providertest"
	"github.com/54b3r/studyai-go/internal/quiz"
	"github.com/54b3r/studyai-go/internal/retrieval"
	"github.com/54b3r/studyai-go/internal/retry"
	"github.com/54b3r/studyai-go/internal/store"
)

const quizReply = `[
  {"question_text": "What do mitochondria produce?", "question_type": "multiple_choice",
   "options": ["Energy", "Proteins", "Lipids"], "correct_answer": "A",
   "explanation": "They produce ATP.", "difficulty": 2, "topics": ["mitochondria"]},
  {"question_text": "Ribosomes synthesize proteins.", "question_type": "true_false",
   "correct_answer": "True", "difficulty": 1, "topics": ["ribosomes"]},
  {"question_text": "Which structure controls what enters the cell?", "question_type": "short_answer",
   "correct_answer": "cell membrane", "difficulty": 3, "topics": ["cell membrane"]}
]`

const notesReply = `## Summary
You answered one of three questions correctly.

## Topic Explanations
Ribosomes build proteins. The cell membrane is selectively permeable.

## Practice Recommendations
- Label a cell diagram.

## Study Plan
Day 1: ribosomes. Day 2: membranes.
`

const cellText = `Mitochondria produce energy for the cell in the form of ATP.

Ribosomes synthesize proteins by translating messenger RNA.

The cell membrane controls what enters and leaves the cell.`

type fixture struct {
	svc       *Service
	store     *store.SQLiteStore
	index     *index.MemoryIndex
	quizModel *providertest.Model
	noteModel *providertest.Model
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fast := retry.Policy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	emb := embedder.NewHashEmbedder(64)
	ix := index.NewMemoryIndex(emb.Identity())

	pl, err := ingestion.NewPipeline(emb, ix, st, nil, nil)
	require.NoError(t, err)

	qm := providertest.Text(quizReply)
	gen, err := quiz.NewGenerator(qm, &quiz.Config{Retry: fast})
	require.NoError(t, err)

	an, err := analysis.NewAnalyzer(nil)
	require.NoError(t, err)

	rt, err := retrieval.NewEngine(emb, ix, &retrieval.Config{Retry: fast})
	require.NoError(t, err)

	nm := providertest.Text(notesReply)
	syn, err := notes.NewSynthesizer(nm, st, &notes.Config{Retry: fast})
	require.NoError(t, err)

	svc, err := New(Deps{
		Store: st, Index: ix, Pipeline: pl, Quizzes: gen,
		Analyzer: an, Retriever: rt, Synthesizer: syn,
	}, &Config{Threshold: -1})
	require.NoError(t, err)

	return &fixture{svc: svc, store: st, index: ix, quizModel: qm, noteModel: nm}
}

func (f *fixture) ingest(t *testing.T, owner string) *document.Document {
	t.Helper()
	d, err := f.svc.Ingest(context.Background(), ingestion.Input{OwnerID: owner, Title: "Cells", Text: cellText})
	require.NoError(t, err)
	require.True(t, d.Ready())
	return d
}

func TestServiceEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.ingest(t, "alice")
	assert.NotEmpty(t, d.ID)

	q, err := f.svc.GenerateQuiz(ctx, "alice", d.ID, quiz.Request{NumQuestions: 3})
	require.NoError(t, err)
	require.Len(t, q.Questions, 3)

	redacted, err := f.svc.Quiz(ctx, "alice", q.ID)
	require.NoError(t, err)
	for _, qq := range redacted.Questions {
		assert.Empty(t, qq.CorrectAnswer, "learner view must not carry answers")
	}

	att, err := f.svc.SubmitAttempt(ctx, "alice", q.ID, analysis.Submission{
		Answers: map[int]string{1: "Energy", 2: "False", 3: "nucleus"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, att.Correct)
	assert.InDelta(t, 33.3, att.Score, 1e-9)
	assert.Equal(t, analysis.LevelNeedsImprovement, att.Level)
	assert.Equal(t, "alice", att.OwnerID)
	assert.NotEmpty(t, att.WeakTopics)

	n, err := f.svc.GenerateNotes(ctx, "alice", att.ID)
	require.NoError(t, err)
	assert.Equal(t, notes.IDForAttempt(att.ID), n.ID)
	assert.Equal(t, notes.PriorityHigh, n.Priority)
	assert.Equal(t, "Cells", n.Performance.DocumentTitle)
	assert.Positive(t, n.Stats.PassagesUsed)

	again, err := f.svc.GenerateNotes(ctx, "alice", att.ID)
	require.NoError(t, err)
	assert.Equal(t, n.ID, again.ID)
	assert.Equal(t, n.Content, again.Content)
	assert.Equal(t, 1, f.noteModel.Calls(), "second request must reuse stored notes")

	got, err := f.svc.Notes(ctx, "alice", n.ID)
	require.NoError(t, err)
	assert.Equal(t, att.ID, got.AttemptID)

	snap, err := f.svc.Analytics(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Attempts)
	assert.Equal(t, analytics.TrendStable, snap.Trend)
	assert.NotEmpty(t, snap.Recommendations)
	require.NotNil(t, snap.LastStudySession)
	assert.True(t, snap.LastStudySession.Equal(n.CreatedAt))

	attempts, err := f.svc.QuizAttempts(ctx, "alice", q.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, att.ID, attempts[0].ID)

	all, err := f.svc.NotesList(ctx, "alice", "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, n.ID, all[0].ID)
	byDoc, err := f.svc.NotesList(ctx, "alice", d.ID)
	require.NoError(t, err)
	assert.Len(t, byDoc, 1)

	sum, err := f.svc.QuizSummary(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, QuizTotals{Total: 1, Completed: 1, AverageScore: 33.3, CompletionRate: 100}, sum.Summary)
	require.Len(t, sum.Quizzes, 1)
	assert.Equal(t, QuizCompleted, sum.Quizzes[0].Status)
	require.NotNil(t, sum.Quizzes[0].LatestScore)
	assert.InDelta(t, 33.3, *sum.Quizzes[0].LatestScore, 1e-9)
}

func TestServiceOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.ingest(t, "alice")
	q, err := f.svc.GenerateQuiz(ctx, "alice", d.ID, quiz.Request{NumQuestions: 3})
	require.NoError(t, err)
	att, err := f.svc.SubmitAttempt(ctx, "alice", q.ID, analysis.Submission{Answers: map[int]string{1: "Energy"}})
	require.NoError(t, err)

	checks := map[string]func() error{
		"document":      func() error { _, err := f.svc.Document(ctx, "mallory", d.ID); return err },
		"delete":        func() error { return f.svc.DeleteDocument(ctx, "mallory", d.ID) },
		"generate quiz": func() error { _, err := f.svc.GenerateQuiz(ctx, "mallory", d.ID, quiz.Request{}); return err },
		"quiz":          func() error { _, err := f.svc.Quiz(ctx, "mallory", q.ID); return err },
		"submit":        func() error { _, err := f.svc.SubmitAttempt(ctx, "mallory", q.ID, analysis.Submission{}); return err },
		"notes":         func() error { _, err := f.svc.GenerateNotes(ctx, "mallory", att.ID); return err },
		"attempts":      func() error { _, err := f.svc.QuizAttempts(ctx, "mallory", q.ID); return err },
		"notes list":    func() error { _, err := f.svc.NotesList(ctx, "mallory", d.ID); return err },
		"reingest": func() error {
			_, err := f.svc.Ingest(ctx, ingestion.Input{DocumentID: d.ID, OwnerID: "mallory", Text: "overwrite"})
			return err
		},
	}
	for name, fn := range checks {
		err := fn()
		assert.ErrorIs(t, err, apperr.ErrForbidden, name)
		assert.False(t, apperr.Retryable(err), name)
	}

	snap, err := f.svc.Analytics(ctx, "mallory")
	require.NoError(t, err)
	assert.Zero(t, snap.Attempts)
	assert.Nil(t, snap.LastStudySession)

	mine, err := f.svc.NotesList(ctx, "mallory", "")
	require.NoError(t, err)
	assert.Empty(t, mine)
	assert.Equal(t, 0, f.noteModel.Calls())
	assert.Equal(t, 1, f.quizModel.Calls())
}

func TestServiceQuizRequiresCompletedDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.PutDocument(ctx, &document.Document{ID: "doc-p", OwnerID: "alice", Status: document.StatusProcessing}))
	_, err := f.svc.GenerateQuiz(ctx, "alice", "doc-p", quiz.Request{})
	assert.ErrorIs(t, err, apperr.ErrNotReady)
	assert.True(t, apperr.Retryable(err))
	assert.Equal(t, 0, f.quizModel.Calls())

	_, err = f.svc.GenerateQuiz(ctx, "alice", "missing", quiz.Request{})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestServiceDeleteDocumentRemovesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.ingest(t, "alice")
	require.Positive(t, f.index.Len())
	q, err := f.svc.GenerateQuiz(ctx, "alice", d.ID, quiz.Request{NumQuestions: 3})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteDocument(ctx, "alice", d.ID))
	assert.Zero(t, f.index.Len())

	_, err = f.svc.Document(ctx, "alice", d.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.svc.Quiz(ctx, "alice", q.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestQuizSummaryPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.ingest(t, "alice")
	_, err := f.svc.GenerateQuiz(ctx, "alice", d.ID, quiz.Request{NumQuestions: 3})
	require.NoError(t, err)

	sum, err := f.svc.QuizSummary(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, QuizTotals{Total: 1, Pending: 1}, sum.Summary)
	require.Len(t, sum.Quizzes, 1)
	assert.Equal(t, QuizPending, sum.Quizzes[0].Status)
	assert.Nil(t, sum.Quizzes[0].BestScore)

	empty, err := f.svc.QuizSummary(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty.Quizzes)
	assert.Zero(t, empty.Summary.CompletionRate)
}

func TestNotesListFiltersByDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.ingest(t, "alice")
	second := f.ingest(t, "alice")
	for _, d := range []*document.Document{first, second} {
		q, err := f.svc.GenerateQuiz(ctx, "alice", d.ID, quiz.Request{NumQuestions: 3})
		require.NoError(t, err)
		att, err := f.svc.SubmitAttempt(ctx, "alice", q.ID, analysis.Submission{Answers: map[int]string{1: "Energy"}})
		require.NoError(t, err)
		_, err = f.svc.GenerateNotes(ctx, "alice", att.ID)
		require.NoError(t, err)
	}

	all, err := f.svc.NotesList(ctx, "alice", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	got, err := f.svc.NotesList(ctx, "alice", second.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, second.ID, got[0].DocumentID)

	_, err = f.svc.NotesList(ctx, "alice", "no-such-document")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestQuizAttemptsInSubmissionOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.ingest(t, "alice")
	q, err := f.svc.GenerateQuiz(ctx, "alice", d.ID, quiz.Request{NumQuestions: 3})
	require.NoError(t, err)

	none, err := f.svc.QuizAttempts(ctx, "alice", q.ID)
	require.NoError(t, err)
	assert.Empty(t, none)

	var ids []string
	for _, answer := range []string{"Energy", "Proteins"} {
		att, err := f.svc.SubmitAttempt(ctx, "alice", q.ID, analysis.Submission{Answers: map[int]string{1: answer}})
		require.NoError(t, err)
		ids = append(ids, att.ID)
	}

	got, err := f.svc.QuizAttempts(ctx, "alice", q.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[0], got[0].ID)
	assert.Equal(t, ids[1], got[1].ID)
}
