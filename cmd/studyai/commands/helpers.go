package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/54b3r/studyai-go/internal/analysis"
	"github.com/54b3r/studyai-go/internal/analytics"
	"github.com/54b3r/studyai-go/internal/audit"
	"github.com/54b3r/studyai-go/internal/config"
	"github.com/54b3r/studyai-go/internal/embedder"
	"github.com/54b3r/studyai-go/internal/index"
	"github.com/54b3r/studyai-go/internal/ingestion"
	"github.com/54b3r/studyai-go/internal/logging"
	"github.com/54b3r/studyai-go/internal/notes"
	"github.com/54b3r/studyai-go/internal/provider"
	"github.com/54b3r/studyai-go/internal/quiz"
	"github.com/54b3r/studyai-go/internal/retrieval"
	"github.com/54b3r/studyai-go/internal/server"
	"github.com/54b3r/studyai-go/internal/store"
	"github.com/54b3r/studyai-go/internal/study"
)

// defaultOwner is the learner id used by CLI commands when --owner is unset.
const defaultOwner = "local"

// stack is the fully wired pipeline shared by every command.
type stack struct {
	svc     *study.Service
	store   *store.SQLiteStore
	pingers []server.Pinger
	closers []func() error
}

// Close releases every resource in reverse order of acquisition.
func (s *stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// stackOptions controls what buildStack wires.
type stackOptions struct {
	// registry receives pipeline metrics. Nil uses a private registry.
	registry prometheus.Registerer
}

// buildStack wires store, embedder, index, model, and the study service from
// the environment. The caller must Close the returned stack.
func buildStack(ctx context.Context, log *slog.Logger, opts stackOptions) (st *stack, err error) {
	st = &stack{}
	defer func() {
		if err != nil {
			_ = st.Close()
		}
	}()
	if opts.registry == nil {
		opts.registry = prometheus.NewRegistry()
	}

	dbPath := config.EnvString("STUDYAI_DB", "")
	if dbPath == "" {
		if dbPath, err = store.DefaultDBPath(); err != nil {
			return nil, err
		}
	}
	records, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	st.store = records
	st.closers = append(st.closers, records.Close)
	st.pingers = append(st.pingers, server.NewStorePinger(records))
	log.Info("store opened", slog.String("path", dbPath))

	emb, err := buildEmbedder(ctx, log, st)
	if err != nil {
		return nil, err
	}

	ix, err := buildIndex(ctx, log, emb.Identity(), st)
	if err != nil {
		return nil, err
	}

	pipeline, err := ingestion.NewPipeline(emb, ix, records, &ingestion.Config{
		ChunkSize:    config.EnvInt("CHUNK_SIZE", 0),
		ChunkOverlap: config.EnvInt("CHUNK_OVERLAP", 0),
		Batch: embedder.BatchConfig{
			BatchSize:   config.EnvInt("EMBEDDING_BATCH_SIZE", 0),
			Concurrency: config.EnvInt("EMBEDDING_CONCURRENCY", 0),
		},
	}, opts.registry)
	if err != nil {
		return nil, err
	}

	levels, err := levelsFromEnv()
	if err != nil {
		return nil, err
	}
	analyzer, err := analysis.NewAnalyzer(&analysis.Config{
		Levels:        levels,
		MaxWeakTopics: config.EnvInt("MAX_WEAK_TOPICS", 0),
	})
	if err != nil {
		return nil, err
	}

	retriever, err := retrieval.NewEngine(emb, ix, &retrieval.Config{
		TopK: config.EnvInt("RETRIEVAL_TOP_K", 0),
	})
	if err != nil {
		return nil, err
	}

	quizzes, synth, err := buildGenerators(ctx, log, records, st)
	if err != nil {
		return nil, err
	}

	st.svc, err = study.New(study.Deps{
		Store:       records,
		Index:       ix,
		Pipeline:    pipeline,
		Quizzes:     quizzes,
		Analyzer:    analyzer,
		Retriever:   retriever,
		Synthesizer: synth,
	}, &study.Config{
		Threshold:   config.EnvFloat("RELEVANCE_THRESHOLD", 0),
		TrendMargin: config.EnvFloat("TREND_MARGIN", analytics.DefaultMargin),
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// buildEmbedder constructs the embedding provider and wraps it in a cache:
// Redis when REDIS_URL is set, otherwise an in-process LRU.
func buildEmbedder(ctx context.Context, log *slog.Logger, st *stack) (embedder.Provider, error) {
	if err := embedder.ValidateConfig(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised", slog.String("backend", embedder.Backend()), slog.String("identity", emb.Identity().String()))

	if url := config.EnvString("REDIS_URL", ""); url != "" {
		client, err := embedder.NewRedisClient(ctx, url)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, client.Close)
		st.pingers = append(st.pingers, server.NewRedisPinger(redis.UniversalClient(client)))
		log.Info("embedding cache: redis")
		return embedder.NewCached(emb, embedder.NewRedisCache(client, config.EnvDuration("REDIS_TTL", 0))), nil
	}
	if size := config.EnvInt("EMBEDDING_CACHE_SIZE", embedder.DefaultLRUSize); size > 0 {
		log.Info("embedding cache: in-process", slog.Int("capacity", size))
		return embedder.NewCached(emb, embedder.NewLRU(size)), nil
	}
	return emb, nil
}

// buildIndex constructs the vector index named by INDEX_BACKEND. The memory
// index lives only as long as the process, so it suits `serve` and tests but
// not separate CLI invocations.
func buildIndex(ctx context.Context, log *slog.Logger, id embedder.Identity, st *stack) (index.Index, error) {
	switch backend := config.EnvString("INDEX_BACKEND", "qdrant"); backend {
	case "memory":
		log.Warn("index: in-memory backend, vectors are lost on exit")
		return index.NewMemoryIndex(id), nil
	case "qdrant":
		cfg := &index.QdrantConfig{
			Host:       config.EnvString("QDRANT_HOST", "localhost"),
			Port:       config.EnvInt("QDRANT_PORT", 6334),
			Collection: config.EnvString("QDRANT_COLLECTION", ""),
			APIKey:     config.EnvString("QDRANT_API_KEY", ""),
			UseTLS:     config.EnvBool("QDRANT_TLS"),
		}
		qx, err := index.NewQdrantIndex(ctx, cfg, id)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
		}
		st.closers = append(st.closers, qx.Close)
		st.pingers = append(st.pingers, server.NewQdrantPinger(qx.Client()))
		log.Info("qdrant index ready", slog.String("host", cfg.Host), slog.Int("port", cfg.Port))
		return qx, nil
	default:
		return nil, fmt.Errorf("unknown INDEX_BACKEND %q: valid values are memory, qdrant", backend)
	}
}

// buildGenerators constructs the chat model and the two components that
// call it.
func buildGenerators(ctx context.Context, log *slog.Logger, repo notes.Repository, st *stack) (*quiz.Generator, *notes.Synthesizer, error) {
	providerCfg := provider.ConfigFromEnv()
	chatModel, err := provider.New(ctx, providerCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	st.pingers = append(st.pingers, server.NewLLMPinger(provider.NewHealthCheck(providerCfg), string(providerCfg.Backend)))
	log.Info("provider initialised", slog.String("provider", string(providerCfg.Backend)), slog.String("model", providerCfg.ModelName()))

	maxAttempts := config.EnvInt("GENERATION_MAX_ATTEMPTS", 0)
	callTimeout := config.EnvDuration("MODEL_CALL_TIMEOUT", 0)

	quizzes, err := quiz.NewGenerator(chatModel, &quiz.Config{
		MaxAttempts: maxAttempts,
		Timeout:     callTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	priorities, err := prioritiesFromEnv()
	if err != nil {
		return nil, nil, err
	}
	offsets, err := reviewOffsetsFromEnv()
	if err != nil {
		return nil, nil, err
	}
	synth, err := notes.NewSynthesizer(chatModel, repo, &notes.Config{
		MaxAttempts:     maxAttempts,
		Timeout:         callTimeout,
		MaxPromptTokens: config.EnvInt("MAX_PROMPT_TOKENS", 0),
		MinutesPerTopic: config.EnvInt("MINUTES_PER_TOPIC", 0),
		Priorities:      priorities,
		ReviewOffsets:   offsets,
	})
	if err != nil {
		return nil, nil, err
	}
	return quizzes, synth, nil
}

// levelsFromEnv reads SCORE_LEVELS ("90:excellent,70:good,...") into score
// thresholds. Unset means the analyzer defaults.
func levelsFromEnv() ([]analysis.Threshold, error) {
	pairs, err := config.EnvPairs("SCORE_LEVELS")
	if err != nil {
		return nil, err
	}
	out := make([]analysis.Threshold, 0, len(pairs))
	for _, p := range pairs {
		minScore, err := strconv.ParseFloat(p.Key, 64)
		if err != nil {
			return nil, fmt.Errorf("SCORE_LEVELS: invalid minimum score %q", p.Key)
		}
		out = append(out, analysis.Threshold{Min: minScore, Level: analysis.Level(p.Value)})
	}
	return out, nil
}

// prioritiesFromEnv overlays LEVEL_PRIORITIES ("fair:high,good:medium") on
// notes.DefaultPriorities.
func prioritiesFromEnv() (map[analysis.Level]notes.Priority, error) {
	pairs, err := config.EnvPairs("LEVEL_PRIORITIES")
	if err != nil {
		return nil, err
	}
	out := maps.Clone(notes.DefaultPriorities)
	for _, p := range pairs {
		pr, err := parsePriority(p.Value)
		if err != nil {
			return nil, fmt.Errorf("LEVEL_PRIORITIES: %w", err)
		}
		out[analysis.Level(p.Key)] = pr
	}
	return out, nil
}

// reviewOffsetsFromEnv overlays REVIEW_OFFSETS ("high:24h,low:336h") on
// notes.DefaultReviewOffsets.
func reviewOffsetsFromEnv() (map[notes.Priority]time.Duration, error) {
	pairs, err := config.EnvPairs("REVIEW_OFFSETS")
	if err != nil {
		return nil, err
	}
	out := maps.Clone(notes.DefaultReviewOffsets)
	for _, p := range pairs {
		pr, err := parsePriority(p.Key)
		if err != nil {
			return nil, fmt.Errorf("REVIEW_OFFSETS: %w", err)
		}
		d, err := time.ParseDuration(p.Value)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("REVIEW_OFFSETS: invalid delay %q for %s", p.Value, pr)
		}
		out[pr] = d
	}
	return out, nil
}

func parsePriority(s string) (notes.Priority, error) {
	switch pr := notes.Priority(s); pr {
	case notes.PriorityHigh, notes.PriorityMedium, notes.PriorityLow:
		return pr, nil
	default:
		return "", fmt.Errorf("unknown priority %q", s)
	}
}

// audited wraps a RunE so every command records its outcome in the audit log.
func audited(run func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		start := time.Now()
		err := run(cmd, args)
		audit.LogCommandEnd(logging.FromContext(cmd.Context()), cmd.Name(), time.Since(start), err)
		return err
	}
}

// commandContext returns the command's context carrying a fresh logger.
func commandContext(cmd *cobra.Command) (context.Context, *slog.Logger) {
	log := logging.New()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logging.WithLogger(ctx, log)
	cmd.SetContext(ctx)
	return ctx, log
}

// printJSON writes v to w as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
