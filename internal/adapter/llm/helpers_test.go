package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	openai "github.com/meguminnnnnnnnn/go-openai"
	"github.com/ollama/ollama/api"

	"modelgate/internal/domain"
)

func TestMapBackendErrorNil(t *testing.T) {
	if mapBackendError("phi4", nil) != nil {
		t.Error("nil error should stay nil")
	}
}

func TestMapBackendErrorStatus429(t *testing.T) {
	err := mapBackendError("phi4", api.StatusError{StatusCode: http.StatusTooManyRequests, ErrorMessage: "busy"})
	if !errors.Is(err, domain.ErrBackendRequestFailed) {
		t.Errorf("expected ErrBackendRequestFailed, got %v", err)
	}
	if !errors.Is(err, domain.ErrRateLimit) {
		t.Errorf("expected ErrRateLimit, got %v", err)
	}
}

func TestMapBackendErrorStatus500(t *testing.T) {
	err := mapBackendError("phi4", api.StatusError{StatusCode: http.StatusInternalServerError, ErrorMessage: "model crashed"})
	if !errors.Is(err, domain.ErrBackendRequestFailed) {
		t.Errorf("expected ErrBackendRequestFailed, got %v", err)
	}
	if errors.Is(err, domain.ErrRateLimit) {
		t.Error("500 should not be a rate limit")
	}
	if got := err.Error(); got == "" {
		t.Error("error message should not be empty")
	}
}

func TestMapBackendErrorMalformed(t *testing.T) {
	var target map[string]any
	jsonErr := json.Unmarshal([]byte("{not json"), &target)
	err := mapBackendError("phi4", jsonErr)
	if !errors.Is(err, domain.ErrMalformedResponse) {
		t.Errorf("expected ErrMalformedResponse, got %v", err)
	}
	if !domain.IsCandidateFailure(err) {
		t.Error("malformed response should be a candidate failure")
	}
}

func TestMapBackendErrorDeadline(t *testing.T) {
	err := mapBackendError("phi4", context.DeadlineExceeded)
	if !errors.Is(err, domain.ErrTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected timeout and deadline to match, got %v", err)
	}
}

func TestMapBackendErrorAlreadyClassified(t *testing.T) {
	in := errors.Join(domain.ErrBackendRequestFailed, errors.New("x"))
	if got := mapBackendError("phi4", in); got != in {
		t.Errorf("classified error should pass through, got %v", got)
	}
}

func TestMapFallbackErrorAPIStatuses(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, domain.ErrRateLimit},
		{http.StatusUnauthorized, domain.ErrAuthInvalid},
		{http.StatusForbidden, domain.ErrAuthInvalid},
		{http.StatusBadGateway, domain.ErrProviderError},
	}
	for _, tt := range tests {
		err := mapFallbackError("openai", &openai.APIError{HTTPStatusCode: tt.status, Message: "m"})
		if !errors.Is(err, domain.ErrProviderError) {
			t.Errorf("status %d: expected ErrProviderError, got %v", tt.status, err)
		}
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: expected %v, got %v", tt.status, tt.want, err)
		}
	}
}

func TestMapFallbackErrorOther(t *testing.T) {
	err := mapFallbackError("openai", errors.New("dial tcp: refused"))
	if !errors.Is(err, domain.ErrProviderError) {
		t.Errorf("expected ErrProviderError, got %v", err)
	}
	if mapFallbackError("openai", nil) != nil {
		t.Error("nil error should stay nil")
	}
}
