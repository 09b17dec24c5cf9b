package domain

import "context"

// ChunkFunc receives incremental output. Returning an error aborts the stream.
type ChunkFunc func(text string) error

// Backend is a client for one self-hosted inference backend.
type Backend interface {
	// ID returns the registry id of the backend this client talks to.
	ID() string
	// Generate sends a non-streaming request and returns the completed reply.
	Generate(ctx context.Context, payload BackendPayload) (*BackendResponse, error)
	// GenerateStream sends a streaming request and calls fn for every
	// non-empty partial response, in arrival order.
	GenerateStream(ctx context.Context, payload BackendPayload, fn ChunkFunc) (*BackendResponse, error)
	// Probe performs a lightweight liveness check.
	Probe(ctx context.Context) error
}

// FallbackOptions are the sampling options forwarded to a fallback provider.
type FallbackOptions struct {
	Agent       string
	Temperature float64
	MaxTokens   int
	TopP        float64
}

// FallbackProvider is the cloud completion service used when every local
// candidate has failed.
type FallbackProvider interface {
	Name() string
	Complete(ctx context.Context, prompt string, opts FallbackOptions) (string, error)
}

// StreamingFallback extends FallbackProvider with native streaming.
type StreamingFallback interface {
	FallbackProvider
	CompleteStream(ctx context.Context, prompt string, opts FallbackOptions, fn ChunkFunc) (string, error)
}

// HealthChecker reports whether a backend is currently usable.
type HealthChecker interface {
	IsHealthy(ctx context.Context, id string) bool
}
