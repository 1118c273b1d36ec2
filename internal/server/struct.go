package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/studyai-go/internal/analysis"
	"github.com/54b3r/studyai-go/internal/analytics"
	"github.com/54b3r/studyai-go/internal/document"
	"github.com/54b3r/studyai-go/internal/ingestion"
	"github.com/54b3r/studyai-go/internal/notes"
	"github.com/54b3r/studyai-go/internal/quiz"
	"github.com/54b3r/studyai-go/internal/study"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// GenerationTimeout bounds a whole ingestion, quiz, or notes request,
	// retries included. Defaults to 3 minutes.
	GenerationTimeout time.Duration
	// MaxBodyBytes caps request bodies. Defaults to 10 MiB.
	MaxBodyBytes int64
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency checks run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server's metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// studyService is the interface the handlers call.
// *study.Service satisfies it; tests inject a fake.
type studyService interface {
	Ingest(ctx context.Context, in ingestion.Input) (*document.Document, error)
	IngestURL(ctx context.Context, in ingestion.Input, rawURL string) (*document.Document, error)
	Document(ctx context.Context, ownerID, id string) (*document.Document, error)
	Documents(ctx context.Context, ownerID string) ([]*document.Document, error)
	DeleteDocument(ctx context.Context, ownerID, id string) error
	GenerateQuiz(ctx context.Context, ownerID, documentID string, req quiz.Request) (*quiz.Quiz, error)
	Quiz(ctx context.Context, ownerID, id string) (*quiz.Quiz, error)
	QuizSummary(ctx context.Context, ownerID string) (*study.QuizSummary, error)
	SubmitAttempt(ctx context.Context, ownerID, quizID string, sub analysis.Submission) (*analysis.Attempt, error)
	Attempt(ctx context.Context, ownerID, id string) (*analysis.Attempt, error)
	QuizAttempts(ctx context.Context, ownerID, quizID string) ([]*analysis.Attempt, error)
	GenerateNotes(ctx context.Context, ownerID, attemptID string) (*notes.Notes, error)
	Notes(ctx context.Context, ownerID, id string) (*notes.Notes, error)
	NotesList(ctx context.Context, ownerID, documentID string) ([]*notes.Notes, error)
	Analytics(ctx context.Context, ownerID string) (analytics.Snapshot, error)
}

var _ studyService = (*study.Service)(nil)

// Server is the HTTP server that exposes the study pipeline.
type Server struct {
	// svc runs every request flow.
	svc studyService
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency checks for GET /api/ready.
	pingers []Pinger
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
	// metrics holds the Prometheus collectors owned by this server.
	metrics *serverMetrics
}

// ingestRequest is the JSON body for POST /api/documents. Exactly one of
// Text and URL must be set.
type ingestRequest struct {
	// DocumentID re-ingests an existing document when set.
	DocumentID string `json:"document_id,omitempty"`
	// Title is the display title. Inferred from URL when empty.
	Title string `json:"title,omitempty"`
	// Text is the extracted document text.
	Text string `json:"text,omitempty"`
	// URL names a plain-text or markdown source to fetch.
	URL string `json:"url,omitempty"`
}

// documentList is the JSON response for GET /api/documents.
type documentList struct {
	Documents []*document.Document `json:"documents"`
}

// attemptList is the JSON response for GET /api/quizzes/{id}/attempts.
type attemptList struct {
	Attempts []*analysis.Attempt `json:"attempts"`
}

// notesList is the JSON response for GET /api/notes.
type notesList struct {
	Notes []*notes.Notes `json:"notes"`
}

// errorBody is the JSON error envelope returned by every API route.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail describes a failed request.
type errorDetail struct {
	// Stage is the pipeline stage that failed, when known.
	Stage string `json:"stage,omitempty"`
	// Kind is the error category from the taxonomy.
	Kind string `json:"kind"`
	// Message is a human-readable description.
	Message string `json:"message"`
	// Retryable reports whether the same request may succeed later.
	Retryable bool `json:"retryable"`
}
