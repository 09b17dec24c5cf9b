package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"go.opentelemetry.io/otel/trace"

	"modelgate/internal/domain"
	"modelgate/internal/infra/tracer"
)

var _ domain.Backend = (*OllamaBackend)(nil)

// OllamaBackend talks to one Ollama-compatible inference server using the
// native /api/generate and /api/version endpoints.
type OllamaBackend struct {
	id     string
	client *api.Client
	logger *slog.Logger
}

// NewOllamaBackend creates a client for desc. httpClient should carry a pooled
// transport shared by all backends; nil means http.DefaultClient.
func NewOllamaBackend(desc domain.BackendDescriptor, httpClient *http.Client, logger *slog.Logger) (*OllamaBackend, error) {
	base, err := url.Parse(strings.TrimRight(desc.Endpoint, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, domain.NewDomainError("NewOllamaBackend", domain.ErrInvalidInput,
			fmt.Sprintf("backend %q: invalid endpoint %q", desc.ID, desc.Endpoint))
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaBackend{
		id:     desc.ID,
		client: api.NewClient(base, httpClient),
		logger: logger,
	}, nil
}

// ID implements domain.Backend.
func (b *OllamaBackend) ID() string { return b.id }

// Generate implements domain.Backend with a single non-streaming call.
func (b *OllamaBackend) Generate(ctx context.Context, payload domain.BackendPayload) (*domain.BackendResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "backend.generate",
		trace.WithAttributes(
			tracer.StringAttr("backend.id", b.id),
			tracer.StringAttr("backend.model", payload.Model),
		),
	)
	defer span.End()

	payload.Stream = false
	var last *api.GenerateResponse
	err := b.client.Generate(ctx, toGenerateRequest(payload), func(r api.GenerateResponse) error {
		last = &r
		return nil
	})
	if err != nil {
		err = mapBackendError(b.id, err)
		tracer.RecordError(span, err)
		return nil, err
	}
	// A non-2xx reply with an empty body ends without a single response object.
	if last == nil {
		err := fmt.Errorf("backend %s: empty reply: %w", b.id, domain.ErrMalformedResponse)
		tracer.RecordError(span, err)
		return nil, err
	}
	if !last.Done && last.Response == "" {
		err := fmt.Errorf("backend %s: reply has neither text nor done flag: %w", b.id, domain.ErrMalformedResponse)
		tracer.RecordError(span, err)
		return nil, err
	}

	resp := fromGenerateResponse(last, last.Response)
	setResponseAttrs(span, resp)
	tracer.SetOK(span)
	logGenerateCompleted(ctx, b.logger, b.id, resp)
	return resp, nil
}

// GenerateStream implements domain.Backend. fn sees every non-empty partial
// response in arrival order. An error returned by fn is passed back as is.
func (b *OllamaBackend) GenerateStream(ctx context.Context, payload domain.BackendPayload, fn domain.ChunkFunc) (*domain.BackendResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "backend.generate_stream",
		trace.WithAttributes(
			tracer.StringAttr("backend.id", b.id),
			tracer.StringAttr("backend.model", payload.Model),
		),
	)
	defer span.End()

	payload.Stream = true
	var (
		final  *api.GenerateResponse
		text   strings.Builder
		chunks int
		fnErr  error
	)
	err := b.client.Generate(ctx, toGenerateRequest(payload), func(r api.GenerateResponse) error {
		if r.Response != "" {
			if err := fn(r.Response); err != nil {
				fnErr = err
				return err
			}
			text.WriteString(r.Response)
			chunks++
		}
		if r.Done {
			final = &r
		}
		return nil
	})
	span.SetAttributes(tracer.IntAttr("backend.chunks", chunks))
	if fnErr != nil {
		tracer.RecordError(span, fnErr)
		return nil, fnErr
	}
	if err != nil {
		err = mapBackendError(b.id, err)
		tracer.RecordError(span, err)
		return nil, err
	}
	// The client stops quietly when the connection drops mid-stream, so a
	// missing done marker is the only sign of truncation.
	if final == nil {
		err := fmt.Errorf("backend %s: stream ended without done marker after %d chunks: %w",
			b.id, chunks, domain.ErrMalformedResponse)
		tracer.RecordError(span, err)
		return nil, err
	}

	resp := fromGenerateResponse(final, text.String())
	setResponseAttrs(span, resp)
	tracer.SetOK(span)
	logGenerateCompleted(ctx, b.logger, b.id, resp)
	return resp, nil
}

// Probe implements domain.Backend using GET /api/version.
func (b *OllamaBackend) Probe(ctx context.Context) error {
	version, err := b.client.Version(ctx)
	if err != nil {
		return fmt.Errorf("%w: backend %s: %w", domain.ErrBackendUnavailable, b.id, err)
	}
	b.logger.Debug("backend probe ok", "backend", b.id, "version", version)
	return nil
}

func toGenerateRequest(p domain.BackendPayload) *api.GenerateRequest {
	stream := p.Stream
	return &api.GenerateRequest{
		Model:  p.Model,
		Prompt: p.Prompt,
		Stream: &stream,
		Options: map[string]any{
			"temperature":    p.Options.Temperature,
			"num_predict":    p.Options.NumPredict,
			"top_k":          p.Options.TopK,
			"top_p":          p.Options.TopP,
			"repeat_penalty": p.Options.RepeatPenalty,
		},
	}
}

func fromGenerateResponse(r *api.GenerateResponse, text string) *domain.BackendResponse {
	return &domain.BackendResponse{
		Text:          text,
		Model:         r.Model,
		Context:       r.Context,
		TotalDuration: r.TotalDuration,
		EvalCount:     r.EvalCount,
	}
}
