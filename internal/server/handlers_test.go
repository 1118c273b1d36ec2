package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/studyai-go/internal/analysis"
	"github.com/54b3r/studyai-go/internal/analytics"
	"github.com/54b3r/studyai-go/internal/apperr"
	"github.com/54b3r/studyai-go/internal/document"
	"github.com/54b3r/studyai-go/internal/ingestion"
	"github.com/54b3r/studyai-go/internal/notes"
	"github.com/54b3r/studyai-go/internal/quiz"
	"github.com/54b3r/studyai-go/internal/study"
)

// ---------------------------------------------------------------------------
// Fake study service
// ---------------------------------------------------------------------------

// fakeService implements studyService for handler tests. Records belong to
// "alice"; any other owner is Forbidden and unknown ids are NotFound.
type fakeService struct {
	mu sync.Mutex
	// err, when set, is returned by every method.
	err error
	// block makes generation calls wait for their context to end.
	block bool
	// lastInput is the most recent ingestion input.
	lastInput ingestion.Input
	// lastURL is the most recent IngestURL source.
	lastURL string
	// lastSubmission is the most recent attempt submission.
	lastSubmission analysis.Submission
	// lastDocumentID is the most recent NotesList document filter.
	lastDocumentID string
}

func (f *fakeService) check(owner, id string) error {
	if f.err != nil {
		return f.err
	}
	if !strings.HasSuffix(id, "-1") {
		return apperr.New(apperr.StageStore, apperr.KindNotFound, "get", id)
	}
	if owner != "alice" {
		return apperr.New(apperr.StageStore, apperr.KindForbidden, "authorize", id)
	}
	return nil
}

func (f *fakeService) Ingest(_ context.Context, in ingestion.Input) (*document.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.lastInput = in
	return &document.Document{ID: "doc-1", OwnerID: in.OwnerID, Title: in.Title, Status: document.StatusCompleted}, nil
}

func (f *fakeService) IngestURL(ctx context.Context, in ingestion.Input, rawURL string) (*document.Document, error) {
	f.mu.Lock()
	f.lastURL = rawURL
	f.mu.Unlock()
	return f.Ingest(ctx, in)
}

func (f *fakeService) Document(_ context.Context, owner, id string) (*document.Document, error) {
	if err := f.check(owner, id); err != nil {
		return nil, err
	}
	return &document.Document{ID: id, OwnerID: owner, Status: document.StatusCompleted}, nil
}

func (f *fakeService) Documents(_ context.Context, _ string) ([]*document.Document, error) {
	return nil, f.err
}

func (f *fakeService) DeleteDocument(_ context.Context, owner, id string) error {
	return f.check(owner, id)
}

func (f *fakeService) GenerateQuiz(ctx context.Context, owner, id string, _ quiz.Request) (*quiz.Quiz, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := f.check(owner, id); err != nil {
		return nil, err
	}
	return &quiz.Quiz{ID: "quiz-1", DocumentID: id, OwnerID: owner,
		Questions: []quiz.Question{{ID: 1, Text: "Q?", Type: quiz.ShortAnswer, CorrectAnswer: "A"}}}, nil
}

func (f *fakeService) Quiz(_ context.Context, owner, id string) (*quiz.Quiz, error) {
	if err := f.check(owner, id); err != nil {
		return nil, err
	}
	return &quiz.Quiz{ID: id, OwnerID: owner, Questions: []quiz.Question{{ID: 1, Text: "Q?", Type: quiz.ShortAnswer}}}, nil
}

func (f *fakeService) QuizSummary(_ context.Context, _ string) (*study.QuizSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &study.QuizSummary{Quizzes: []study.QuizOverview{}}, nil
}

func (f *fakeService) SubmitAttempt(_ context.Context, owner, id string, sub analysis.Submission) (*analysis.Attempt, error) {
	if err := f.check(owner, id); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.lastSubmission = sub
	f.mu.Unlock()
	return &analysis.Attempt{ID: "att-1", QuizID: id, OwnerID: owner, Answers: sub.Answers}, nil
}

func (f *fakeService) Attempt(_ context.Context, owner, id string) (*analysis.Attempt, error) {
	if err := f.check(owner, id); err != nil {
		return nil, err
	}
	return &analysis.Attempt{ID: id, OwnerID: owner}, nil
}

func (f *fakeService) QuizAttempts(_ context.Context, owner, id string) ([]*analysis.Attempt, error) {
	if err := f.check(owner, id); err != nil {
		return nil, err
	}
	return []*analysis.Attempt{{ID: "att-1", QuizID: id, OwnerID: owner}}, nil
}

func (f *fakeService) GenerateNotes(_ context.Context, owner, id string) (*notes.Notes, error) {
	if err := f.check(owner, id); err != nil {
		return nil, err
	}
	return &notes.Notes{ID: "notes-1", AttemptID: id, OwnerID: owner}, nil
}

func (f *fakeService) Notes(_ context.Context, owner, id string) (*notes.Notes, error) {
	if err := f.check(owner, id); err != nil {
		return nil, err
	}
	return &notes.Notes{ID: id, OwnerID: owner}, nil
}

func (f *fakeService) NotesList(_ context.Context, owner, documentID string) ([]*notes.Notes, error) {
	if documentID != "" {
		if err := f.check(owner, documentID); err != nil {
			return nil, err
		}
	} else if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.lastDocumentID = documentID
	f.mu.Unlock()
	if owner != "alice" {
		return nil, nil
	}
	return []*notes.Notes{{ID: "notes-1", DocumentID: "doc-1", OwnerID: owner}}, nil
}

func (f *fakeService) Analytics(_ context.Context, _ string) (analytics.Snapshot, error) {
	if f.err != nil {
		return analytics.Snapshot{}, f.err
	}
	return analytics.Snapshot{Attempts: 2, AverageScore: 75, Trend: analytics.TrendStable}, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// newTestServer builds a bare *Server for calling handlers directly.
func newTestServer() *Server {
	reg := prometheus.NewRegistry()
	return &Server{
		svc:     &fakeService{},
		cfg:     &Config{GenerationTimeout: time.Minute, MaxBodyBytes: 1 << 20},
		log:     quietLogger,
		metrics: newServerMetrics(reg),
	}
}

// newAPITestServer builds a fully wired server around svc and returns its
// handler and metrics registry.
func newAPITestServer(t *testing.T, svc studyService, cfg *Config) (http.Handler, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.Logger = quietLogger
	cfg.MetricsRegistry = reg
	cfg.MetricsGatherer = reg
	cfg.RateLimit = 1000
	cfg.RateBurst = 1000
	s, err := New(svc, cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(s.stopRL)
	return s.Handler(), reg
}

func do(t *testing.T, h http.Handler, method, path, owner, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if owner != "" {
		req.Header.Set(ownerHeader, owner)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v (raw %q)", err, w.Body.String())
	}
	return body.Error
}

// ---------------------------------------------------------------------------
// Routes
// ---------------------------------------------------------------------------

func Test_API_IngestText(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	h, _ := newAPITestServer(t, svc, nil)

	w := do(t, h, http.MethodPost, "/api/documents", "alice", `{"title":"Cells","text":"Mitochondria produce ATP."}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("want 201, got %d body: %s", w.Code, w.Body.String())
	}
	var doc document.Document
	if err := json.NewDecoder(w.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.OwnerID != "alice" || doc.Status != document.StatusCompleted {
		t.Errorf("unexpected document: %+v", doc)
	}
	if svc.lastInput.Title != "Cells" || svc.lastInput.OwnerID != "alice" {
		t.Errorf("service saw %+v", svc.lastInput)
	}
}

func Test_API_IngestURL(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	h, _ := newAPITestServer(t, svc, nil)

	w := do(t, h, http.MethodPost, "/api/documents", "alice", `{"url":"https://example.edu/cells.md"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("want 201, got %d body: %s", w.Code, w.Body.String())
	}
	if svc.lastURL != "https://example.edu/cells.md" {
		t.Errorf("url not passed through: %q", svc.lastURL)
	}
}

func Test_API_IngestValidation(t *testing.T) {
	t.Parallel()
	h, _ := newAPITestServer(t, &fakeService{}, nil)

	cases := map[string]string{
		"neither source": `{"title":"x"}`,
		"both sources":   `{"text":"t","url":"https://example.edu/a.txt"}`,
		"unknown field":  `{"text":"t","colour":"blue"}`,
		"not json":       `not-json`,
	}
	for name, body := range cases {
		w := do(t, h, http.MethodPost, "/api/documents", "alice", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: want 400, got %d", name, w.Code)
			continue
		}
		if e := decodeError(t, w); e.Kind != string(apperr.KindInvalidInput) || e.Retryable {
			t.Errorf("%s: unexpected error body %+v", name, e)
		}
	}
}

func Test_API_MissingOwner(t *testing.T) {
	t.Parallel()
	h, _ := newAPITestServer(t, &fakeService{}, nil)

	w := do(t, h, http.MethodGet, "/api/analytics", "", "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("want 403, got %d", w.Code)
	}
	if e := decodeError(t, w); e.Kind != string(apperr.KindForbidden) {
		t.Errorf("want forbidden kind, got %+v", e)
	}
}

func Test_API_OwnershipAndNotFound(t *testing.T) {
	t.Parallel()
	h, _ := newAPITestServer(t, &fakeService{}, nil)

	cases := []struct {
		method, path, owner string
		want                int
	}{
		{http.MethodGet, "/api/documents/doc-1", "alice", http.StatusOK},
		{http.MethodGet, "/api/documents/doc-1", "mallory", http.StatusForbidden},
		{http.MethodGet, "/api/documents/doc-9", "alice", http.StatusNotFound},
		{http.MethodDelete, "/api/documents/doc-1", "alice", http.StatusNoContent},
		{http.MethodPost, "/api/documents/doc-1/quizzes", "alice", http.StatusCreated},
		{http.MethodGet, "/api/quizzes/quiz-1", "mallory", http.StatusForbidden},
		{http.MethodGet, "/api/attempts/att-1", "alice", http.StatusOK},
		{http.MethodPost, "/api/attempts/att-1/notes", "alice", http.StatusOK},
		{http.MethodPost, "/api/attempts/att-9/notes", "alice", http.StatusNotFound},
		{http.MethodGet, "/api/notes/notes-1", "alice", http.StatusOK},
		{http.MethodGet, "/api/quizzes/quiz-1/attempts", "alice", http.StatusOK},
		{http.MethodGet, "/api/quizzes/quiz-1/attempts", "mallory", http.StatusForbidden},
		{http.MethodGet, "/api/quizzes/quiz-9/attempts", "alice", http.StatusNotFound},
		{http.MethodGet, "/api/notes?document_id=doc-1", "mallory", http.StatusForbidden},
		{http.MethodGet, "/api/notes?document_id=doc-9", "alice", http.StatusNotFound},
		{http.MethodGet, "/api/quizzes", "alice", http.StatusOK},
		{http.MethodGet, "/api/documents", "alice", http.StatusOK},
	}
	for _, tc := range cases {
		w := do(t, h, tc.method, tc.path, tc.owner, "")
		if w.Code != tc.want {
			t.Errorf("%s %s as %s: want %d, got %d body: %s", tc.method, tc.path, tc.owner, tc.want, w.Code, w.Body.String())
		}
	}
}

func Test_API_ListAttempts(t *testing.T) {
	t.Parallel()
	h, _ := newAPITestServer(t, &fakeService{}, nil)

	w := do(t, h, http.MethodGet, "/api/quizzes/quiz-1/attempts", "alice", "")
	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d body: %s", w.Code, w.Body.String())
	}
	var body attemptList
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Attempts) != 1 || body.Attempts[0].QuizID != "quiz-1" {
		t.Errorf("unexpected attempts: %+v", body.Attempts)
	}
}

func Test_API_ListNotes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name, path, owner string
		wantDocument      string
		wantRaw           string
	}{
		{"all notes", "/api/notes", "alice", "", `"id":"notes-1"`},
		{"by document", "/api/notes?document_id=doc-1", "alice", "doc-1", `"id":"notes-1"`},
		{"no notes yet", "/api/notes", "bob", "", `{"notes":[]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			svc := &fakeService{}
			h, _ := newAPITestServer(t, svc, nil)

			w := do(t, h, http.MethodGet, tc.path, tc.owner, "")
			if w.Code != http.StatusOK {
				t.Fatalf("want 200, got %d body: %s", w.Code, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), tc.wantRaw) {
				t.Errorf("body %s does not contain %s", w.Body.String(), tc.wantRaw)
			}
			if svc.lastDocumentID != tc.wantDocument {
				t.Errorf("service saw document %q, want %q", svc.lastDocumentID, tc.wantDocument)
			}
		})
	}
}

func Test_API_SubmitAttemptDecodesAnswers(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	h, _ := newAPITestServer(t, svc, nil)

	w := do(t, h, http.MethodPost, "/api/quizzes/quiz-1/attempts", "alice",
		`{"answers":{"1":"Energy","3":"cell membrane"},"time_taken_seconds":95}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("want 201, got %d body: %s", w.Code, w.Body.String())
	}
	sub := svc.lastSubmission
	if sub.Answers[1] != "Energy" || sub.Answers[3] != "cell membrane" || sub.TimeTakenSeconds != 95 {
		t.Errorf("submission not decoded: %+v", sub)
	}
}

func Test_API_ErrorEnvelope(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		err        error
		status     int
		kind       string
		retryable  bool
		retryAfter bool
	}{
		{"not ready", apperr.New(apperr.StageGeneration, apperr.KindNotReady, "generate", "processing"), http.StatusConflict, "not_ready", true, false},
		{"provider down", apperr.New(apperr.StageGeneration, apperr.KindProviderUnavailable, "complete", "refused"), http.StatusServiceUnavailable, "provider_unavailable", true, true},
		{"invalid generation", apperr.New(apperr.StageGeneration, apperr.KindGenerationInvalid, "generate", "bad json"), http.StatusBadGateway, "generation_invalid", false, false},
		{"synthesis failed", apperr.New(apperr.StageSynthesis, apperr.KindSynthesisFailed, "synthesize", "no sections"), http.StatusServiceUnavailable, "synthesis_failed", true, true},
		{"plain", errors.New("disk on fire"), http.StatusInternalServerError, "internal", false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h, _ := newAPITestServer(t, &fakeService{err: tc.err}, nil)
			w := do(t, h, http.MethodPost, "/api/documents/doc-1/quizzes", "alice", "")
			if w.Code != tc.status {
				t.Fatalf("want %d, got %d", tc.status, w.Code)
			}
			if got := w.Header().Get("Retry-After") != ""; got != tc.retryAfter {
				t.Errorf("Retry-After present=%v, want %v", got, tc.retryAfter)
			}
			e := decodeError(t, w)
			if e.Kind != tc.kind || e.Retryable != tc.retryable || e.Message == "" {
				t.Errorf("unexpected error body %+v", e)
			}
		})
	}
}

func Test_API_GenerationTimeout(t *testing.T) {
	t.Parallel()
	h, reg := newAPITestServer(t, &fakeService{block: true}, &Config{GenerationTimeout: 20 * time.Millisecond})

	w := do(t, h, http.MethodPost, "/api/documents/doc-1/quizzes", "alice", "")
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("want 504, got %d", w.Code)
	}
	if e := decodeError(t, w); e.Kind != "timeout" || !e.Retryable {
		t.Errorf("unexpected error body %+v", e)
	}
	if v := counterValue(t, reg, "studyai_generation_requests_total", map[string]string{"operation": "quiz", "outcome": "timeout"}); v != 1 {
		t.Errorf("timeout counter: want 1, got %v", v)
	}
}

func Test_API_AuthProtectsAPIRoutesOnly(t *testing.T) {
	t.Parallel()
	h, _ := newAPITestServer(t, &fakeService{}, &Config{APIKey: "secret"})

	if w := do(t, h, http.MethodGet, "/api/health", "", ""); w.Code != http.StatusOK {
		t.Errorf("health: want 200 without token, got %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/analytics", "alice", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("analytics: want 401 without token, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/analytics", nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set(ownerHeader, "alice")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("analytics with token: want 200, got %d", w.Code)
	}
	var snap analytics.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Attempts != 2 {
		t.Errorf("want 2 attempts, got %d", snap.Attempts)
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want int
	}{
		{apperr.ErrInvalidInput, http.StatusBadRequest},
		{apperr.ErrForbidden, http.StatusForbidden},
		{apperr.ErrNotFound, http.StatusNotFound},
		{apperr.ErrNotReady, http.StatusConflict},
		{apperr.ErrInsufficientEvidence, http.StatusUnprocessableEntity},
		{apperr.ErrIngestionFailed, http.StatusBadGateway},
		{apperr.ErrIndexUnavailable, http.StatusServiceUnavailable},
		{apperr.ErrDimensionMismatch, http.StatusInternalServerError},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
