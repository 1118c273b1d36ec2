package embedder

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/studyai-go/internal/apperr"
	"github.com/54b3r/studyai-go/internal/config"
)

// chatModelMarkers are name fragments of chat models. Pointing
// EMBEDDING_MODEL at one of these usually means the chat and embedding
// settings were mixed up.
var chatModelMarkers = []string{
	"gpt-4", "gpt-3.5", "gpt-35", "o1", "o3",
	"llama2", "llama3", "llama-2", "llama-3",
	"mistral", "mixtral", "gemma", "phi-", "phi3",
	"claude", "command-r", "deepseek", "qwen",
	"solar", "vicuna", "falcon", "yi-",
}

func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, m := range chatModelMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// requirement is one setting a backend cannot start without. Any of vars
// satisfies it.
type requirement struct {
	what string
	vars []string
}

var backendRequirements = map[string][]requirement{
	"openai": {{"OpenAI API key", []string{"EMBEDDING_API_KEY", "OPENAI_API_KEY"}}},
	"azure": {
		{"Azure API key", []string{"EMBEDDING_API_KEY", "AZURE_OPENAI_API_KEY"}},
		{"Azure endpoint", []string{"EMBEDDING_ENDPOINT", "AZURE_OPENAI_ENDPOINT"}},
	},
	"gemini": {{"Google API key", []string{"EMBEDDING_API_KEY", "GOOGLE_API_KEY"}}},
}

// ValidateConfig checks the embedding settings before anything is built, so
// a missing credential fails at startup instead of on the first ingestion.
// Suspicious but workable settings are logged as warnings.
func ValidateConfig(log *slog.Logger) error {
	backend := Backend()

	switch backend {
	case "ollama", "hash":
	case "bedrock":
		return apperr.New(apperr.StageEmbedding, apperr.KindInvalidInput, "validate",
			"bedrock embeddings are not supported, set EMBEDDING_PROVIDER to ollama, openai, azure, gemini, or hash")
	default:
		if config.EnvString("EMBEDDING_PROVIDER", "") == "" {
			log.Warn("embedder: EMBEDDING_PROVIDER unset, using the chat backend for embeddings",
				slog.String("backend", backend))
		}
	}

	for _, req := range backendRequirements[backend] {
		if !anySet(req.vars) {
			return apperr.New(apperr.StageEmbedding, apperr.KindInvalidInput, "validate",
				fmt.Sprintf("no %s found, set %s", req.what, strings.Join(req.vars, " or ")))
		}
	}

	if model := config.EnvString("EMBEDDING_MODEL", ""); model != "" && looksLikeChatModel(model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model",
			slog.String("model", model),
			slog.String("hint", "use an embedding model such as nomic-embed-text or text-embedding-3-small"),
		)
	}
	return nil
}

func anySet(vars []string) bool {
	for _, v := range vars {
		if config.EnvString(v, "") != "" {
			return true
		}
	}
	return false
}
