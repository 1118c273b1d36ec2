package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HealthCheckConfig checks a backend without generating tokens.
// Implementations must be safe to call from multiple goroutines.
type HealthCheckConfig interface {
	// HealthCheck returns nil when the backend is reachable and the
	// credentials are accepted.
	HealthCheck(ctx context.Context) error
}

// httpCheck issues a GET against a cheap listing endpoint.
type httpCheck struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// HealthCheck performs the GET and treats any 2xx as healthy.
func (h *httpCheck) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("provider: build health request: %w", err)
	}
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider: health request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("provider: health check returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// NewHealthCheck returns a zero-cost check for cfg's backend, or nil when
// the backend has no cheap endpoint to call (Bedrock).
func NewHealthCheck(cfg *Config) HealthCheckConfig {
	client := &http.Client{Timeout: 5 * time.Second}
	switch cfg.Backend {
	case BackendOllama:
		host := cfg.Ollama.Host
		if host == "" {
			host = "http://localhost:11434"
		}
		return &httpCheck{url: strings.TrimRight(host, "/") + "/api/tags", client: client}
	case BackendOpenAI:
		return &httpCheck{
			url:     "https://api.openai.com/v1/models",
			headers: map[string]string{"Authorization": "Bearer " + cfg.OpenAI.APIKey},
			client:  client,
		}
	case BackendAzure:
		az := cfg.AzureOpenAI
		return &httpCheck{
			url:     strings.TrimRight(az.Endpoint, "/") + "/openai/models?api-version=" + az.APIVersion,
			headers: map[string]string{"api-key": az.APIKey},
			client:  client,
		}
	case BackendGemini:
		return &httpCheck{
			url:     "https://generativelanguage.googleapis.com/v1beta/models",
			headers: map[string]string{"x-goog-api-key": cfg.Gemini.APIKey},
			client:  client,
		}
	default:
		return nil
	}
}
