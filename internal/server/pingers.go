package server

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
	"github.com/redis/go-redis/v9"

	"github.com/54b3r/studyai-go/internal/provider"
)

// LLMPinger checks an LLM backend through its zero-cost health endpoint.
// It satisfies the Pinger interface and is used by GET /api/ready.
type LLMPinger struct {
	// healthCheck issues the backend's cheapest authenticated request.
	healthCheck provider.HealthCheckConfig
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewLLMPinger constructs an LLMPinger for the given backend. A nil hc
// reports the backend as unchecked rather than spending tokens.
func NewLLMPinger(hc provider.HealthCheckConfig, name string) *LLMPinger {
	return &LLMPinger{healthCheck: hc, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping runs the backend health check.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if p.healthCheck == nil {
		return fmt.Errorf("%s: no health check available", p.name)
	}
	if err := p.healthCheck.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%s health check failed: %w", p.name, err)
	}
	return nil
}

// QdrantPinger checks a Qdrant instance using its native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to ping.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
// Returns nil if Qdrant is reachable, or a descriptive error otherwise.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	_, err := p.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// StorePinger checks the record store.
type StorePinger struct {
	store interface{ Ping(ctx context.Context) error }
}

// NewStorePinger constructs a StorePinger for any store with a Ping method.
func NewStorePinger(store interface{ Ping(ctx context.Context) error }) *StorePinger {
	return &StorePinger{store: store}
}

// Name returns the dependency label used in readiness responses.
func (p *StorePinger) Name() string { return "sqlite" }

// Ping checks the store connection.
func (p *StorePinger) Ping(ctx context.Context) error {
	if err := p.store.Ping(ctx); err != nil {
		return fmt.Errorf("store ping failed: %w", err)
	}
	return nil
}

// RedisPinger checks the embedding cache.
type RedisPinger struct {
	client redis.UniversalClient
}

// NewRedisPinger constructs a RedisPinger for client.
func NewRedisPinger(client redis.UniversalClient) *RedisPinger {
	return &RedisPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *RedisPinger) Name() string { return "redis" }

// Ping sends PING.
func (p *RedisPinger) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
