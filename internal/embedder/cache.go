package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/54b3r/studyai-go/internal/logging"
)

// Cache stores vectors by key. Lookups that fail are treated as misses by
// [Cached]; a cache outage never fails an embed call.
// Implementations must be safe to call from multiple goroutines.
type Cache interface {
	// Get returns the vector stored under key and whether it was present.
	Get(ctx context.Context, key string) ([]float32, bool, error)
	// Set stores vec under key.
	Set(ctx context.Context, key string, vec []float32) error
}

// CacheKey derives the cache key for text under identity, so a model or
// dimension change never serves stale vectors.
func CacheKey(id Identity, text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + id.String() + ":" + hex.EncodeToString(sum[:])
}

// Cached is a Provider that consults a Cache before calling the wrapped
// provider, and only sends cache misses upstream.
type Cached struct {
	provider Provider
	cache    Cache
}

// NewCached wraps p with cache c.
func NewCached(p Provider, c Cache) *Cached {
	return &Cached{provider: p, cache: c}
}

// Identity reports the wrapped provider's identity.
func (c *Cached) Identity() Identity { return c.provider.Identity() }

// Embed serves hits from the cache and embeds the misses in one call.
func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	log := logging.FromContext(ctx)
	id := c.provider.Identity()

	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		vec, ok, err := c.cache.Get(ctx, CacheKey(id, t))
		if err != nil {
			log.Warn("embedder: cache get failed", slog.Any("error", err))
		}
		if ok && len(vec) == id.Dimension {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.provider.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, requestFailed(id.Model, errCountMismatch(len(missTexts), len(vecs)))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		if err := c.cache.Set(ctx, CacheKey(id, missTexts[j]), vecs[j]); err != nil {
			log.Warn("embedder: cache set failed", slog.Any("error", err))
		}
	}
	return out, nil
}

// LRU is an in-process least-recently-used Cache.
type LRU struct {
	entries *lru.Cache[string, []float32]
}

// DefaultLRUSize is the capacity NewLRU uses when given none.
const DefaultLRUSize = 4096

// NewLRU returns an LRU holding at most capacity vectors. capacity <= 0
// defaults to DefaultLRUSize.
func NewLRU(capacity int) *LRU {
	if capacity <= 0 {
		capacity = DefaultLRUSize
	}
	// lru.New only fails for a non-positive size.
	entries, _ := lru.New[string, []float32](capacity)
	return &LRU{entries: entries}
}

// Get returns the vector for key and marks it most recently used.
func (c *LRU) Get(_ context.Context, key string) ([]float32, bool, error) {
	vec, ok := c.entries.Get(key)
	return vec, ok, nil
}

// Set stores vec under key, evicting the least recently used entry when full.
func (c *LRU) Set(_ context.Context, key string, vec []float32) error {
	c.entries.Add(key, vec)
	return nil
}

// Len returns the number of cached vectors.
func (c *LRU) Len() int { return c.entries.Len() }
