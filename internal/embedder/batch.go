package embedder

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/studyai-go/internal/retry"
)

const (
	// DefaultBatchSize is the number of texts sent per provider call.
	DefaultBatchSize = 16
	// DefaultConcurrency is the number of provider calls in flight at once.
	DefaultConcurrency = 4
)

// BatchConfig controls how a Batcher fans out provider calls.
type BatchConfig struct {
	// BatchSize is the number of texts per provider call. Defaults to 16.
	BatchSize int
	// Concurrency caps in-flight provider calls. Defaults to 4.
	Concurrency int
	// Retry bounds retries of transient provider failures per batch.
	Retry retry.Policy
}

// Batcher embeds large inputs by splitting them into batches, running a
// bounded number of batches concurrently, and validating vector lengths.
// It implements Provider, so it can stand in for the wrapped provider.
type Batcher struct {
	provider Provider
	cfg      BatchConfig
}

// NewBatcher wraps p. A nil cfg uses defaults.
func NewBatcher(p Provider, cfg *BatchConfig) *Batcher {
	c := BatchConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	return &Batcher{provider: p, cfg: c}
}

// Identity reports the wrapped provider's identity.
func (b *Batcher) Identity() Identity { return b.provider.Identity() }

// Embed returns vectors parallel to texts. The first failing batch cancels
// the rest; no partial result is returned.
func (b *Batcher) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	want := b.provider.Identity().Dimension

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Concurrency)

	for start := 0; start < len(texts); start += b.cfg.BatchSize {
		end := min(start+b.cfg.BatchSize, len(texts))
		g.Go(func() error {
			var vecs [][]float32
			err := retry.Do(gctx, b.cfg.Retry, "embed batch", func(ctx context.Context) error {
				v, err := b.provider.Embed(ctx, texts[start:end])
				if err != nil {
					return err
				}
				vecs = v
				return nil
			})
			if err != nil {
				return err
			}
			if len(vecs) != end-start {
				return requestFailed(b.provider.Identity().Model,
					fmt.Errorf("batch %d-%d: expected %d embeddings, got %d", start, end, end-start, len(vecs)))
			}
			if err := CheckDimensions(vecs, want); err != nil {
				return err
			}
			copy(out[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
