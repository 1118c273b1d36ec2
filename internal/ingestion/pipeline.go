// Package ingestion implements the document write path. It records the
// document as processing, chunks its text, embeds the chunks with bounded
// concurrency, upserts them into the semantic index, persists the chunks,
// and only then marks the document completed. Readers gate on that status,
// so a document being (re)ingested is never consumed half-written.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/studyai-go/internal/apperr"
	"github.com/54b3r/studyai-go/internal/chunker"
	"github.com/54b3r/studyai-go/internal/document"
	"github.com/54b3r/studyai-go/internal/embedder"
	"github.com/54b3r/studyai-go/internal/index"
	"github.com/54b3r/studyai-go/internal/logging"
	"github.com/54b3r/studyai-go/internal/retry"
)

// DocumentStore persists ingestion state.
type DocumentStore interface {
	PutDocument(ctx context.Context, d *document.Document) error
	ReplaceChunks(ctx context.Context, documentID string, chunks []chunker.Chunk) error
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum chunk body size in bytes.
	// Defaults to chunker.DefaultMaxSize if zero.
	ChunkSize int

	// ChunkOverlap is the number of bytes repeated from the previous chunk.
	// Defaults to chunker.DefaultOverlap if zero; negative disables overlap.
	ChunkOverlap int

	// Batch controls embedding fan-out.
	Batch embedder.BatchConfig

	// UpsertBatchSize is the number of records per index write. Defaults to 64.
	UpsertBatchSize int

	// UpsertConcurrency caps in-flight index writes. Defaults to 4.
	UpsertConcurrency int

	// Retry bounds retries of transient index failures per write.
	Retry retry.Policy

	// HTTPTimeout is the timeout for FetchText requests.
	// Defaults to 30s if zero.
	HTTPTimeout time.Duration

	// MaxFetchBytes caps the body FetchText will read. Defaults to 10 MiB.
	MaxFetchBytes int64

	// UserAgent is the HTTP User-Agent header sent with fetch requests.
	UserAgent string
}

// Input is one document to ingest.
type Input struct {
	DocumentID string
	OwnerID    string
	Title      string
	Text       string
}

// Pipeline orchestrates chunk → embed → upsert for one document at a time.
// Concurrent ingestion of different documents is independent.
type Pipeline struct {
	// chunker splits document text into positioned chunks.
	chunker *chunker.Chunker

	// embedder converts chunk bodies into vectors in bounded batches.
	embedder *embedder.Batcher

	// index receives the chunk vectors.
	index index.Index

	// store records document status and chunk text.
	store DocumentStore

	// cfg holds the resolved pipeline configuration.
	cfg *Config

	// httpClient is the HTTP client used by FetchText.
	httpClient *http.Client

	metrics *metrics
	now     func() time.Time
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
// Metrics register against reg; a nil reg uses a private registry.
func NewPipeline(p embedder.Provider, ix index.Index, st DocumentStore, cfg *Config, reg prometheus.Registerer) (*Pipeline, error) {
	if p == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if ix == nil {
		return nil, fmt.Errorf("ingestion: index must not be nil")
	}
	if st == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if p.Identity() != ix.Identity() {
		return nil, apperr.New(apperr.StageIngestion, apperr.KindDimensionMismatch, "configure",
			fmt.Sprintf("embedder %s does not match index %s", p.Identity(), ix.Identity()))
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = chunker.DefaultMaxSize
	}
	if cfg.ChunkOverlap == 0 {
		cfg.ChunkOverlap = chunker.DefaultOverlap
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 10
	}
	if cfg.UpsertBatchSize <= 0 {
		cfg.UpsertBatchSize = 64
	}
	if cfg.UpsertConcurrency <= 0 {
		cfg.UpsertConcurrency = 4
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.MaxFetchBytes <= 0 {
		cfg.MaxFetchBytes = 10 << 20
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "studyai-go/1.0 (document ingestion)"
	}

	ch, err := chunker.New(chunker.WithMaxSize(cfg.ChunkSize), chunker.WithOverlap(cfg.ChunkOverlap))
	if err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Pipeline{
		chunker:  ch,
		embedder: embedder.NewBatcher(p, &cfg.Batch),
		index:    ix,
		store:    st,
		cfg:      cfg,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		metrics: newMetrics(reg),
		now:     time.Now,
	}, nil
}

// Ingest indexes in and returns the completed document. Re-ingesting an
// existing document id replaces its chunks. On any failure the document is
// recorded as failed and an IngestionFailed error wrapping the cause is
// returned; retrying is safe.
func (p *Pipeline) Ingest(ctx context.Context, in Input) (*document.Document, error) {
	log := logging.FromContext(ctx).With(slog.String("document_id", in.DocumentID))
	start := p.now()

	if in.DocumentID == "" || in.OwnerID == "" {
		return nil, apperr.New(apperr.StageIngestion, apperr.KindInvalidInput, "ingest", "document id and owner id are required")
	}
	if strings.TrimSpace(in.Text) == "" {
		return nil, apperr.New(apperr.StageIngestion, apperr.KindInvalidInput, "ingest", "document text is empty")
	}

	doc := &document.Document{
		ID:       in.DocumentID,
		OwnerID:  in.OwnerID,
		Title:    in.Title,
		Status:   document.StatusProcessing,
		ChunkIDs: []string{},
	}
	if err := p.store.PutDocument(ctx, doc); err != nil {
		return nil, apperr.Wrap(apperr.StageIngestion, apperr.KindIngestionFailed, "record", err)
	}
	log.Info("ingestion: started", slog.Int("bytes", len(in.Text)))

	chunks, err := p.write(ctx, in)
	if err != nil {
		p.metrics.documents.WithLabelValues("failed").Inc()
		doc.Status = document.StatusFailed
		doc.Error = err.Error()
		// The failure must be recorded even if the request context is done.
		if serr := p.store.PutDocument(context.WithoutCancel(ctx), doc); serr != nil {
			log.Error("ingestion: could not record failure", slog.Any("error", serr))
		}
		log.Error("ingestion: failed", logging.Err(err))
		if errors.Is(err, apperr.ErrIngestionFailed) {
			return doc, err
		}
		return doc, apperr.Wrap(apperr.StageIngestion, apperr.KindIngestionFailed, "ingest", err)
	}

	doc.Status = document.StatusCompleted
	doc.Error = ""
	doc.ChunkIDs = make([]string, len(chunks))
	for i, c := range chunks {
		doc.ChunkIDs[i] = c.ID
	}
	if err := p.store.PutDocument(ctx, doc); err != nil {
		p.metrics.documents.WithLabelValues("failed").Inc()
		return doc, apperr.Wrap(apperr.StageIngestion, apperr.KindIngestionFailed, "record", err)
	}

	elapsed := p.now().Sub(start)
	p.metrics.documents.WithLabelValues("completed").Inc()
	p.metrics.chunks.Add(float64(len(chunks)))
	p.metrics.duration.Observe(elapsed.Seconds())
	log.Info("ingestion: completed",
		slog.Int("chunks", len(chunks)),
		slog.Duration("elapsed", elapsed),
	)
	return doc, nil
}

// write drops stale index entries, then chunks, embeds, upserts, and
// persists the chunks of in.
func (p *Pipeline) write(ctx context.Context, in Input) ([]chunker.Chunk, error) {
	err := retry.Do(ctx, p.cfg.Retry, "index delete", func(ctx context.Context) error {
		return p.index.DeleteDocument(ctx, in.DocumentID)
	})
	if err != nil {
		return nil, err
	}

	chunks := p.chunker.Chunk(in.DocumentID, in.Text)
	if len(chunks) == 0 {
		return nil, apperr.New(apperr.StageIngestion, apperr.KindInvalidInput, "chunk", "document produced no chunks")
	}

	bodies := make([]string, len(chunks))
	for i, c := range chunks {
		bodies[i] = c.Body()
	}
	vecs, err := p.embedder.Embed(ctx, bodies)
	if err != nil {
		return nil, err
	}

	records := make([]index.Record, len(chunks))
	for i, c := range chunks {
		records[i] = index.Record{
			ChunkID: c.ID,
			Vector:  vecs[i],
			Metadata: index.Metadata{
				DocumentID: in.DocumentID,
				OwnerID:    in.OwnerID,
				ChunkIndex: c.Index,
				Start:      c.Start,
				End:        c.End,
				Text:       c.Text,
				Topics:     c.Topics,
			},
		}
	}
	if err := p.upsert(ctx, records); err != nil {
		return nil, err
	}

	if err := p.store.ReplaceChunks(ctx, in.DocumentID, chunks); err != nil {
		return nil, err
	}
	return chunks, nil
}

// upsert writes records in batches, UpsertConcurrency at a time. Records are
// keyed by chunk id, so batches may land in any order.
func (p *Pipeline) upsert(ctx context.Context, records []index.Record) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.UpsertConcurrency)
	for start := 0; start < len(records); start += p.cfg.UpsertBatchSize {
		batch := records[start:min(start+p.cfg.UpsertBatchSize, len(records))]
		g.Go(func() error {
			return retry.Do(gctx, p.cfg.Retry, "index upsert", func(ctx context.Context) error {
				return p.index.Upsert(ctx, batch...)
			})
		})
	}
	return g.Wait()
}
