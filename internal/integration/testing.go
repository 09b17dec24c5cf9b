// Package integration holds end-to-end tests that wire the real registry,
// backend clients, health monitor, dispatcher and gateway together.
package integration

import (
	"context"
	"os"
	"testing"
	"time"
)

// Config holds integration test configuration from environment.
type Config struct {
	OllamaURL   string // live backend, e.g. http://localhost:11434
	OllamaModel string
	OpenAIKey   string
	OpenAIModel string
	TestTimeout time.Duration
	SkipSlow    bool
}

// LoadConfig loads integration test configuration from environment.
func LoadConfig() *Config {
	cfg := &Config{
		OllamaURL:   os.Getenv("MODELGATE_IT_OLLAMA_URL"),
		OllamaModel: os.Getenv("MODELGATE_IT_OLLAMA_MODEL"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIModel: os.Getenv("MODELGATE_IT_OPENAI_MODEL"),
		TestTimeout: 60 * time.Second,
		SkipSlow:    os.Getenv("SKIP_SLOW_TESTS") == "1",
	}
	if cfg.OllamaModel == "" {
		cfg.OllamaModel = "llama3.2:3b"
	}
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = "gpt-4o-mini"
	}
	return cfg
}

// SkipIfUnset skips the test when the named environment value is empty.
func SkipIfUnset(t *testing.T, value, name string) {
	t.Helper()
	if value == "" {
		t.Skipf("Skipping live integration test: %s not set", name)
	}
}

// SkipIfShort skips integration tests in short mode.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests.
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}
