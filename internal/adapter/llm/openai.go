package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/meguminnnnnnnnn/go-openai"
	"go.opentelemetry.io/otel/trace"

	"modelgate/internal/domain"
	"modelgate/internal/infra/config"
	"modelgate/internal/infra/tracer"
)

var _ domain.StreamingFallback = (*OpenAIFallback)(nil)

const defaultFallbackTimeout = 60 * time.Second

// OpenAIFallback is the cloud completion provider used once every local
// candidate has failed. It speaks the OpenAI chat-completions API, so any
// compatible service works through base_url.
type OpenAIFallback struct {
	name    string
	model   string
	timeout time.Duration
	client  *openai.Client
	logger  *slog.Logger
}

// NewOpenAIFallback creates the fallback provider from config.
func NewOpenAIFallback(cfg config.FallbackConfig, httpClient *http.Client, logger *slog.Logger) *OpenAIFallback {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if httpClient != nil {
		oc.HTTPClient = httpClient
	}

	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultFallbackTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIFallback{
		name:    name,
		model:   cfg.Model,
		timeout: timeout,
		client:  openai.NewClientWithConfig(oc),
		logger:  logger,
	}
}

// Name implements domain.FallbackProvider.
func (p *OpenAIFallback) Name() string { return p.name }

// Model returns the chat model requested from the provider.
func (p *OpenAIFallback) Model() string { return p.model }

// Complete implements domain.FallbackProvider.
func (p *OpenAIFallback) Complete(ctx context.Context, prompt string, opts domain.FallbackOptions) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ctx, span := tracer.StartSpan(ctx, "fallback.complete",
		trace.WithAttributes(
			tracer.StringAttr("fallback.provider", p.name),
			tracer.StringAttr("fallback.model", p.model),
		),
	)
	defer span.End()

	resp, err := p.client.CreateChatCompletion(ctx, p.request(prompt, opts, false))
	if err != nil {
		err = mapFallbackError(p.name, err)
		tracer.RecordError(span, err)
		return "", err
	}
	if len(resp.Choices) == 0 {
		err := fmt.Errorf("%w: %s: reply has no choices", domain.ErrProviderError, p.name)
		tracer.RecordError(span, err)
		return "", err
	}

	span.SetAttributes(tracer.IntAttr("fallback.completion_tokens", resp.Usage.CompletionTokens))
	tracer.SetOK(span)
	p.logger.Debug("fallback completion done",
		"provider", p.name,
		"model", resp.Model,
		"tokens", resp.Usage.TotalTokens,
	)
	return resp.Choices[0].Message.Content, nil
}

// CompleteStream implements domain.StreamingFallback. fn receives each
// non-empty delta; the full text is returned on success.
func (p *OpenAIFallback) CompleteStream(ctx context.Context, prompt string, opts domain.FallbackOptions, fn domain.ChunkFunc) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ctx, span := tracer.StartSpan(ctx, "fallback.complete_stream",
		trace.WithAttributes(
			tracer.StringAttr("fallback.provider", p.name),
			tracer.StringAttr("fallback.model", p.model),
		),
	)
	defer span.End()

	stream, err := p.client.CreateChatCompletionStream(ctx, p.request(prompt, opts, true))
	if err != nil {
		err = mapFallbackError(p.name, err)
		tracer.RecordError(span, err)
		return "", err
	}
	defer stream.Close()

	var text strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			err = mapFallbackError(p.name, err)
			tracer.RecordError(span, err)
			return text.String(), err
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if err := fn(delta); err != nil {
			tracer.RecordError(span, err)
			return text.String(), err
		}
		text.WriteString(delta)
	}

	tracer.SetOK(span)
	return text.String(), nil
}

func (p *OpenAIFallback) request(prompt string, opts domain.FallbackOptions, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(opts.Temperature),
		TopP:        float32(opts.TopP),
		MaxTokens:   opts.MaxTokens,
		User:        opts.Agent,
		Stream:      stream,
	}
}
