package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	openai "github.com/meguminnnnnnnnn/go-openai"
	"github.com/ollama/ollama/api"
	"go.opentelemetry.io/otel/trace"

	"modelgate/internal/domain"
	"modelgate/internal/infra/tracer"
)

// mapBackendError classifies a local backend failure. Every result matches
// domain.ErrBackendRequestFailed; context errors stay matchable too.
func mapBackendError(id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrBackendRequestFailed) {
		return err
	}

	var se api.StatusError
	if errors.As(err, &se) {
		detail := fmt.Sprintf("backend %s: status %d: %s", id, se.StatusCode, se.ErrorMessage)
		if se.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %w: %s", domain.ErrBackendRequestFailed, domain.ErrRateLimit, detail)
		}
		return fmt.Errorf("%w: %s", domain.ErrBackendRequestFailed, detail)
	}
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	if errors.As(err, &typeErr) || errors.As(err, &syntaxErr) {
		return fmt.Errorf("backend %s: %w: %w", id, domain.ErrMalformedResponse, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: backend %s: %w: %w", domain.ErrBackendRequestFailed, id, domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: backend %s: %w", domain.ErrBackendRequestFailed, id, err)
}

// mapFallbackError classifies a cloud provider failure the way mapBackendError
// does for local backends. Every result matches domain.ErrProviderError.
func mapFallbackError(name string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		detail := fmt.Sprintf("%s: API error %d: %s", name, apiErr.HTTPStatusCode, apiErr.Message)
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %w: %s", domain.ErrProviderError, domain.ErrRateLimit, detail)
		case apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %w: %s", domain.ErrProviderError, domain.ErrAuthInvalid, detail)
		default:
			return fmt.Errorf("%w: %s", domain.ErrProviderError, detail)
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%w: %s: HTTP %d: %w", domain.ErrProviderError, name, reqErr.HTTPStatusCode, reqErr.Err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrProviderError, name, err)
}

func logGenerateCompleted(ctx context.Context, logger *slog.Logger, id string, resp *domain.BackendResponse) {
	logger.Debug("backend generate completed",
		"request_id", domain.RequestIDFromContext(ctx),
		"backend", id,
		"model", resp.Model,
		"eval_count", resp.EvalCount,
		"total_duration", resp.TotalDuration,
	)
}

func setResponseAttrs(span trace.Span, resp *domain.BackendResponse) {
	span.SetAttributes(
		tracer.StringAttr("backend.model", resp.Model),
		tracer.IntAttr("backend.eval_count", resp.EvalCount),
		tracer.DurationAttr("backend.total_duration_ms", resp.TotalDuration),
	)
}
