// Package tracing sends eino model callbacks to Langfuse so quiz and notes
// generations can be inspected per call.
package tracing

import (
	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"

	"github.com/54b3r/studyai-go/internal/config"
)

// defaultHost is used when LANGFUSE_HOST is unset.
const defaultHost = "http://localhost:3000"

// Config holds the Langfuse credentials.
type Config struct {
	Host      string
	PublicKey string
	SecretKey string
}

// ConfigFromEnv reads LANGFUSE_HOST, LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY.
func ConfigFromEnv() Config {
	return Config{
		Host:      config.EnvString("LANGFUSE_HOST", defaultHost),
		PublicKey: config.EnvString("LANGFUSE_PUBLIC_KEY", ""),
		SecretKey: config.EnvString("LANGFUSE_SECRET_KEY", ""),
	}
}

// Enabled reports whether both keys are present.
func (c Config) Enabled() bool { return c.PublicKey != "" && c.SecretKey != "" }

// Setup registers a global Langfuse callback handler when cfg is enabled.
// The returned flush func must run before exit so buffered traces are sent;
// it is a no-op when tracing is disabled.
func Setup(cfg Config) (flush func(), enabled bool) {
	if !cfg.Enabled() {
		return func() {}, false
	}
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      cfg.Host,
		PublicKey: cfg.PublicKey,
		SecretKey: cfg.SecretKey,
	})
	callbacks.AppendGlobalHandlers(handler)
	return flusher, true
}
