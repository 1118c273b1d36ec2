package embedder

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/54b3r/studyai-go/internal/keywords"
)

// HashEmbedder is an offline Provider that maps text to a normalised
// bag-of-words vector with feature hashing. Identical texts get identical
// vectors and texts that share words score higher under cosine similarity,
// which is enough for tests and local development.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns a HashEmbedder producing vectors of the given
// length. dimensions <= 0 defaults to 256.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Identity reports the hash model and dimension.
func (e *HashEmbedder) Identity() Identity {
	return Identity{Model: "hash", Dimension: e.dimensions}
}

// Embed returns one deterministic unit vector per text.
func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *HashEmbedder) vector(text string) []float32 {
	acc := make([]float64, e.dimensions)
	for _, w := range keywords.Words(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(w))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dimensions)) //nolint:gosec // dimensions is positive
		if sum&(1<<63) != 0 {
			acc[bucket]--
		} else {
			acc[bucket]++
		}
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	vec := make([]float32, e.dimensions)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	norm = math.Sqrt(norm)
	for i, v := range acc {
		vec[i] = float32(v / norm)
	}
	return vec
}
