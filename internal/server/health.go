package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/studyai-go/internal/logging"
)

// pingTimeout bounds each dependency check so /api/ready answers quickly
// when a dependency hangs.
const pingTimeout = 5 * time.Second

// Pinger is a dependency that can report its own reachability.
// Implementations must be safe for concurrent use.
type Pinger interface {
	// Ping returns nil when the dependency is reachable.
	Ping(ctx context.Context) error
	// Name labels the dependency in readiness output (e.g. "qdrant").
	Name() string
}

// MultiPinger combines several Pingers into one.
type MultiPinger struct {
	pingers []Pinger
}

// NewMultiPinger constructs a MultiPinger over pingers.
func NewMultiPinger(pingers ...Pinger) *MultiPinger {
	return &MultiPinger{pingers: pingers}
}

// Ping checks every dependency concurrently and returns the failure of the
// first one in registration order, prefixed with its name.
func (m *MultiPinger) Ping(ctx context.Context) error {
	for i, err := range pingAll(ctx, m.pingers) {
		if err != nil {
			return fmt.Errorf("%s: %w", m.pingers[i].Name(), err)
		}
	}
	return nil
}

// Name returns a combined label for logging.
func (m *MultiPinger) Name() string { return "multi" }

// pingAll runs each Pinger under pingTimeout in parallel. The result is
// indexed like pingers.
func pingAll(ctx context.Context, pingers []Pinger) []error {
	errs := make([]error, len(pingers))
	var g errgroup.Group
	for i, p := range pingers {
		g.Go(func() error {
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			defer cancel()
			errs[i] = p.Ping(pingCtx)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// readyCheck is one dependency's check result.
type readyCheck struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	LatencyMS int64  `json:"latency_ms"`
	// Error is the failure reason; empty on success.
	Error string `json:"error,omitempty"`
}

// readyResponse is the body of GET /api/ready.
type readyResponse struct {
	// Ready is true only when every check succeeded.
	Ready  bool         `json:"ready"`
	Checks []readyCheck `json:"checks"`
}

// handleReady handles GET /api/ready. It answers 200 when every registered
// dependency is reachable and 503 otherwise. /api/health, by contrast, only
// reports that the process is up.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	checks := make([]readyCheck, len(s.pingers))
	var g errgroup.Group
	for i, p := range s.pingers {
		g.Go(func() error {
			pingCtx, cancel := context.WithTimeout(r.Context(), pingTimeout)
			defer cancel()
			start := time.Now()
			err := p.Ping(pingCtx)
			checks[i] = readyCheck{Name: p.Name(), OK: err == nil, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				checks[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	resp := readyResponse{Ready: true, Checks: checks}
	for _, c := range checks {
		if !c.OK {
			resp.Ready = false
			log.Warn("readiness check failed",
				slog.String("dependency", c.Name),
				slog.String("error", c.Error),
			)
		}
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, resp)
}
