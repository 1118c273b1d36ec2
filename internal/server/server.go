// Package server implements the HTTP API over the study pipeline: document
// ingestion, quiz generation and scoring, study notes, and analytics.
// The server is started by the `studyai serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/studyai-go/internal/logging"
)

// ownerHeader carries the authenticated learner id. It is set by the
// fronting auth layer and treated as opaque.
const ownerHeader = "X-Owner-ID"

// New constructs a Server from the provided service and config.
func New(svc studyService, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("server: study service must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.GenerationTimeout == 0 {
		cfg.GenerationTimeout = 3 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must outlast the slowest generation request.
		cfg.WriteTimeout = cfg.GenerationTimeout + 30*time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		svc:     svc,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}
	if cfg.APIKey == "" {
		s.log.Warn("server: API key not set, authentication disabled")
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	s.stopRL = stop

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, s.metrics.instrument(s.routes(rl))),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// routes builds the mux. Health, readiness, and metrics are open; every
// other route requires the API key. Routes that call the model or embedder
// are additionally rate limited per IP.
func (s *Server) routes(rl *rateLimiter) *http.ServeMux {
	protect := func(h http.HandlerFunc) http.Handler { return authMiddleware(s.cfg.APIKey, h) }
	limited := func(h http.HandlerFunc) http.Handler { return authMiddleware(s.cfg.APIKey, rl.middleware(h)) }

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	mux.Handle("POST /api/documents", limited(s.handleIngest))
	mux.Handle("GET /api/documents", protect(s.handleListDocuments))
	mux.Handle("GET /api/documents/{id}", protect(s.handleGetDocument))
	mux.Handle("DELETE /api/documents/{id}", protect(s.handleDeleteDocument))
	mux.Handle("POST /api/documents/{id}/quizzes", limited(s.handleGenerateQuiz))
	mux.Handle("GET /api/quizzes", protect(s.handleListQuizzes))
	mux.Handle("GET /api/quizzes/{id}", protect(s.handleGetQuiz))
	mux.Handle("POST /api/quizzes/{id}/attempts", protect(s.handleSubmitAttempt))
	mux.Handle("GET /api/quizzes/{id}/attempts", protect(s.handleListAttempts))
	mux.Handle("GET /api/attempts/{id}", protect(s.handleGetAttempt))
	mux.Handle("POST /api/attempts/{id}/notes", limited(s.handleGenerateNotes))
	mux.Handle("GET /api/notes", protect(s.handleListNotes))
	mux.Handle("GET /api/notes/{id}", protect(s.handleGetNotes))
	mux.Handle("GET /api/analytics", protect(s.handleAnalytics))
	return mux
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		s.log.Info("server: stopped")
		return nil
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		logging.FromContext(r.Context()).Error("health encode error", slog.Any("error", err))
	}
}
