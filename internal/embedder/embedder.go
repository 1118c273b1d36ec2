// Package embedder converts text into fixed-dimension vectors for the
// semantic index. Backends (Ollama, OpenAI, Azure OpenAI, Gemini, and an
// offline hashing embedder) share the [Provider] contract, so downstream
// code depends only on the vector shape and never on the backend.
package embedder

import (
	"context"
	"fmt"
	"net/http"

	"github.com/54b3r/studyai-go/internal/apperr"
)

// Identity names the model that produced a vector and the vector length.
// Vectors are only comparable when their identities are equal.
type Identity struct {
	// Model is the backend model name (e.g. "nomic-embed-text").
	Model string `json:"model"`
	// Dimension is the vector length.
	Dimension int `json:"dimension"`
}

// String renders the identity as "model/dimension".
func (id Identity) String() string { return fmt.Sprintf("%s/%d", id.Model, id.Dimension) }

// Provider converts text into embeddings.
// Implementations must be safe to call from multiple goroutines.
type Provider interface {
	// Embed converts a batch of texts into vectors. The returned slice is
	// parallel to texts and every vector has Identity().Dimension entries.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Identity reports the model name and output dimension.
	Identity() Identity
}

// EmbedOne embeds a single text, typically a query.
func EmbedOne(ctx context.Context, p Provider, text string) ([]float32, error) {
	vecs, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, apperr.New(apperr.StageEmbedding, apperr.KindProviderUnavailable, "embed",
			fmt.Sprintf("expected 1 embedding, got %d", len(vecs)))
	}
	return vecs[0], nil
}

// CheckDimensions returns a DimensionMismatch error naming the first vector
// whose length differs from want.
func CheckDimensions(vecs [][]float32, want int) error {
	for i, v := range vecs {
		if len(v) != want {
			return apperr.New(apperr.StageEmbedding, apperr.KindDimensionMismatch, "embed",
				fmt.Sprintf("vector %d has %d dimensions, expected %d", i, len(v), want))
		}
	}
	return nil
}

// requestFailed classifies a transport-level failure as ProviderUnavailable.
func requestFailed(backend string, err error) error {
	return apperr.Wrap(apperr.StageEmbedding, apperr.KindProviderUnavailable, backend+" embed", err)
}

// statusError classifies a non-2xx HTTP response. Throttling and server-side
// failures are transient; other client errors mean the request is wrong.
func statusError(backend string, status int, msg string) error {
	kind := apperr.KindInvalidInput
	if status == http.StatusTooManyRequests || status >= 500 {
		kind = apperr.KindProviderUnavailable
	}
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", status)
	}
	return apperr.New(apperr.StageEmbedding, kind, backend+" embed", msg)
}

func errCountMismatch(want, got int) error {
	return fmt.Errorf("expected %d embeddings, got %d", want, got)
}
