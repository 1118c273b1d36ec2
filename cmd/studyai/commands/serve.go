package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/studyai-go/internal/config"
	"github.com/54b3r/studyai-go/internal/server"
	"github.com/54b3r/studyai-go/internal/tracing"
)

// NewServeCmd constructs the `studyai serve` command, which starts the HTTP
// API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the studyai HTTP API",
		Long: `Start the studyai HTTP API.

Callers identify the learner with the X-Owner-ID header and, when
STUDYAI_API_KEY is set, authenticate with "Authorization: Bearer <key>".

Examples:
  studyai serve
  studyai serve --port 9090
  INDEX_BACKEND=memory EMBEDDING_PROVIDER=hash studyai serve`,
		RunE: audited(func(cmd *cobra.Command, args []string) error {
			ctx, log := commandContext(cmd)
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Opt-in; a no-op when the Langfuse keys are absent.
			flush, ok := tracing.Setup(tracing.ConfigFromEnv())
			defer flush()
			if ok {
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			st, err := buildStack(ctx, log, stackOptions{registry: prometheus.DefaultRegisterer})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = st.Close() }()

			if err := server.NewMultiPinger(st.pingers...).Ping(ctx); err != nil {
				log.Warn("serve: dependency not ready at startup", slog.Any("error", err))
			}

			srv, err := server.New(st.svc, &server.Config{
				Host:              host,
				Port:              port,
				Logger:            log,
				Pingers:           st.pingers,
				APIKey:            config.EnvString("STUDYAI_API_KEY", ""),
				GenerationTimeout: config.EnvDuration("GENERATION_TIMEOUT", 0),
				RateLimit:         config.EnvFloat("RATE_LIMIT", 0),
				RateBurst:         config.EnvInt("RATE_BURST", 0),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		}),
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
