//go:build integration

package embedder

import (
	"context"
	"os"
	"testing"
	"time"
)

// TestOllamaEmbedder_Integration embeds two study passages against a locally
// running Ollama instance and checks the vectors are usable by the index.
//
// Prerequisites:
//
//	ollama pull nomic-embed-text
//	ollama serve
//
// Run with:
//
//	go test -tags=integration -run TestOllamaEmbedder_Integration ./internal/embedder/
func TestOllamaEmbedder_Integration(t *testing.T) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = defaultOllamaModel
	}

	emb := NewOllamaEmbedder(&OllamaConfig{
		Host:       host,
		Model:      model,
		Dimensions: DefaultDimensions("ollama"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	texts := []string{
		"Photosynthesis converts light energy into chemical energy stored in glucose.",
		"The Treaty of Westphalia ended the Thirty Years' War in 1648.",
	}

	vecs, err := emb.Embed(ctx, texts)
	if err != nil {
		t.Fatalf("Embed() failed: %v\n\nEnsure Ollama is running and %q is pulled:\n  ollama pull %s", err, model, model)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("expected %d embeddings, got %d", len(texts), len(vecs))
	}

	same := true
	for j := range vecs[0] {
		if vecs[0][j] != vecs[1][j] {
			same = false
			break
		}
	}
	if same {
		t.Error("embeddings for unrelated passages are identical")
	}

	t.Logf("model=%s dim=%d (set EMBEDDING_DIMENSIONS=%d if this differs)", model, len(vecs[0]), len(vecs[0]))
}
