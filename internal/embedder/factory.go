package embedder

import (
	"context"
	"fmt"

	"github.com/54b3r/studyai-go/internal/config"
)

// Default embedding models per backend.
const (
	defaultOllamaModel  = "nomic-embed-text"
	defaultOpenAIModel  = "text-embedding-3-small"
	defaultBedrockModel = "amazon.titan-embed-text-v2"
	defaultGeminiModel  = "text-embedding-004"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	// Other Ollama models may differ; override with EMBEDDING_DIMENSIONS.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
	// defaultGeminiDimensions is the output dimension of text-embedding-004.
	defaultGeminiDimensions = 768
	// defaultHashDimensions is the output dimension of the offline hash embedder.
	defaultHashDimensions = 256
)

// DefaultDimensions returns the correct default embedding vector size for the
// given backend name. Callers that need to pre-configure a vector store (e.g.
// Qdrant collection creation) should use this rather than hardcoding a value.
// EMBEDDING_DIMENSIONS always takes precedence when set.
func DefaultDimensions(backend string) int {
	if v := config.EnvInt("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	switch backend {
	case "ollama":
		return defaultOllamaDimensions
	case "gemini":
		return defaultGeminiDimensions
	case "hash":
		return defaultHashDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// Backend resolves the effective embedding backend: EMBEDDING_PROVIDER, then
// MODEL_PROVIDER, then "ollama".
func Backend() string {
	if b := config.EnvString("EMBEDDING_PROVIDER", ""); b != "" {
		return b
	}
	return config.EnvString("MODEL_PROVIDER", "ollama")
}

// NewFromEnv constructs a Provider using cascading defaults that inherit
// from the chat provider configuration when embedding-specific overrides are
// not set.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER: if unset, inherits MODEL_PROVIDER (default: ollama)
//  2. Per-backend credentials are inherited from the chat provider's env vars
//  3. EMBEDDING_MODEL: overrides the default model for the resolved backend
//  4. EMBEDDING_API_KEY: overrides the inherited API key
//  5. EMBEDDING_ENDPOINT: overrides the inherited endpoint
//  6. EMBEDDING_DIMENSIONS: overrides the default dimensions
//  7. EMBEDDING_TIMEOUT: per-call HTTP timeout (e.g. "30s")
func NewFromEnv(ctx context.Context) (Provider, error) {
	backend := Backend()
	dims := DefaultDimensions(backend)
	timeout := config.EnvDuration("EMBEDDING_TIMEOUT", 0)

	switch backend {
	case "ollama":
		host := config.EnvString("EMBEDDING_ENDPOINT", "")
		if host == "" {
			host = config.EnvString("OLLAMA_HOST", "http://localhost:11434")
		}
		return NewOllamaEmbedder(&OllamaConfig{
			Host:       host,
			Model:      config.EnvString("EMBEDDING_MODEL", defaultOllamaModel),
			Dimensions: dims,
			Timeout:    timeout,
		}), nil

	case "openai":
		apiKey := config.EnvString("EMBEDDING_API_KEY", "")
		if apiKey == "" {
			apiKey = config.EnvString("OPENAI_API_KEY", "")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		baseURL := config.EnvString("EMBEDDING_ENDPOINT", "")
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    baseURL,
			APIKey:     apiKey,
			Model:      config.EnvString("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: dims,
			Timeout:    timeout,
		}), nil

	case "azure":
		apiKey := config.EnvString("EMBEDDING_API_KEY", "")
		if apiKey == "" {
			apiKey = config.EnvString("AZURE_OPENAI_API_KEY", "")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		endpoint := config.EnvString("EMBEDDING_ENDPOINT", "")
		if endpoint == "" {
			endpoint = config.EnvString("AZURE_OPENAI_ENDPOINT", "")
		}
		if endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    endpoint + "/openai",
			APIKey:     apiKey,
			Model:      config.EnvString("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: dims,
			Azure:      true,
			APIVersion: config.EnvString("AZURE_OPENAI_API_VERSION", "2025-04-01-preview"),
			Timeout:    timeout,
		}), nil

	case "gemini":
		apiKey := config.EnvString("EMBEDDING_API_KEY", "")
		if apiKey == "" {
			apiKey = config.EnvString("GOOGLE_API_KEY", "")
		}
		return NewGeminiEmbedder(ctx, &GeminiConfig{
			APIKey:     apiKey,
			Model:      config.EnvString("EMBEDDING_MODEL", defaultGeminiModel),
			Dimensions: dims,
		})

	case "hash":
		return NewHashEmbedder(dims), nil

	case "bedrock":
		return nil, fmt.Errorf("embedder: bedrock embedding support is not yet implemented (model: %s)", defaultBedrockModel)

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q: valid values are ollama, openai, azure, gemini, hash", backend)
	}
}
