package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"modelgate/internal/adapter/llm"
	"modelgate/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fakeBackend is a scripted backend client. A nil generate replies with
// "<id> says hi"; streamChunks are delivered before streamErr is returned.
type fakeBackend struct {
	id string

	mu           sync.Mutex
	calls        int
	payloads     []domain.BackendPayload
	generate     func(ctx context.Context) (*domain.BackendResponse, error)
	streamChunks []string
	streamErr    error
}

func (f *fakeBackend) ID() string { return f.id }

func (f *fakeBackend) record(p domain.BackendPayload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.payloads = append(f.payloads, p)
}

func (f *fakeBackend) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeBackend) Generate(ctx context.Context, p domain.BackendPayload) (*domain.BackendResponse, error) {
	f.record(p)
	if f.generate != nil {
		return f.generate(ctx)
	}
	return &domain.BackendResponse{Text: f.id + " says hi", Model: f.id + ":latest", EvalCount: 3}, nil
}

func (f *fakeBackend) GenerateStream(ctx context.Context, p domain.BackendPayload, fn domain.ChunkFunc) (*domain.BackendResponse, error) {
	f.record(p)
	var text strings.Builder
	for _, c := range f.streamChunks {
		if err := fn(c); err != nil {
			return nil, err
		}
		text.WriteString(c)
	}
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return &domain.BackendResponse{Text: text.String(), Model: f.id + ":latest", EvalCount: len(f.streamChunks)}, nil
}

func (f *fakeBackend) Probe(context.Context) error { return nil }

func failing(err error) func(context.Context) (*domain.BackendResponse, error) {
	return func(context.Context) (*domain.BackendResponse, error) { return nil, err }
}

var errRefused = errors.New("connection refused")

// fakeHealth reports every id healthy unless listed in down.
type fakeHealth struct {
	mu      sync.Mutex
	down    map[string]bool
	checked []string
}

func (h *fakeHealth) IsHealthy(_ context.Context, id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checked = append(h.checked, id)
	return !h.down[id]
}

// fakeFallback implements only domain.FallbackProvider.
type fakeFallback struct {
	text  string
	err   error
	calls int
	opts  domain.FallbackOptions
}

func (f *fakeFallback) Name() string { return "openai" }

func (f *fakeFallback) Complete(_ context.Context, _ string, opts domain.FallbackOptions) (string, error) {
	f.calls++
	f.opts = opts
	return f.text, f.err
}

// fakeStreamingFallback adds native streaming.
type fakeStreamingFallback struct {
	fakeFallback
	chunks []string
}

func (f *fakeStreamingFallback) CompleteStream(_ context.Context, _ string, _ domain.FallbackOptions, fn domain.ChunkFunc) (string, error) {
	f.calls++
	var text strings.Builder
	for _, c := range f.chunks {
		if err := fn(c); err != nil {
			return text.String(), err
		}
		text.WriteString(c)
	}
	return text.String(), f.err
}

type recordingUsage struct {
	mu     sync.Mutex
	events []domain.UsageEvent
	err    error
}

func (u *recordingUsage) Record(_ context.Context, ev domain.UsageEvent) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.events = append(u.events, ev)
	return u.err
}

func testDescriptor(id string) domain.BackendDescriptor {
	return domain.BackendDescriptor{
		ID:               id,
		Endpoint:         "http://" + id + ":11434",
		Model:            id + ":latest",
		MaxTokens:        2048,
		TemperatureRange: domain.TemperatureRange{Min: 0.1, Max: 0.7},
	}
}

// newTestDispatcher builds a dispatcher whose "writer" agent routes to the
// given backends in order; any other agent gets the default route [first].
func newTestDispatcher(t *testing.T, deps Deps, backends ...*fakeBackend) *Dispatcher {
	t.Helper()
	var descs []domain.BackendDescriptor
	var ids []string
	clients := make(map[string]domain.Backend)
	for _, b := range backends {
		descs = append(descs, testDescriptor(b.id))
		ids = append(ids, b.id)
		clients[b.id] = b
	}
	reg, err := llm.NewRegistry(descs, []domain.AgentRoute{{Agent: "writer", Backends: ids}}, ids[:1])
	require.NoError(t, err)

	deps.Routes = reg
	if deps.Backends == nil {
		deps.Backends = clients
	}
	deps.BuildPayload = llm.BuildPayload
	deps.FallbackOptions = llm.FallbackOptionsFor
	if deps.Logger == nil {
		deps.Logger = newTestLogger()
	}
	d, err := NewDispatcher(deps)
	require.NoError(t, err)
	return d
}

func ptr[T any](v T) *T { return &v }
