package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrConfigLoad    = fmt.Errorf("failed to load configuration")
	ErrEncryption    = fmt.Errorf("encryption operation failed")
	ErrDecryption    = fmt.Errorf("decryption failed")
	ErrRateLimit     = fmt.Errorf("rate limit exceeded")
	ErrUsageStore    = fmt.Errorf("usage store operation failed")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrAuthInvalid   = fmt.Errorf("authentication failed")
	ErrProviderError = fmt.Errorf("provider error")

	// Dispatch errors.
	ErrBackendNotFound        = fmt.Errorf("backend not found")
	ErrBackendUnavailable     = fmt.Errorf("backend unavailable")
	ErrBackendRequestFailed   = fmt.Errorf("backend request failed")
	ErrMalformedResponse      = fmt.Errorf("malformed backend response: %w", ErrBackendRequestFailed)
	ErrAllCandidatesExhausted = fmt.Errorf("all candidate backends exhausted")
	ErrFallbackFailed         = fmt.Errorf("fallback provider failed")
	ErrStreamInterrupted      = fmt.Errorf("stream interrupted after partial output")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Registry.Describe")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsCandidateFailure reports whether err is a per-backend failure that the
// dispatcher absorbs by moving to the next candidate.
func IsCandidateFailure(err error) bool {
	return errors.Is(err, ErrBackendUnavailable) || errors.Is(err, ErrBackendRequestFailed)
}

// ErrorCode is a machine-parseable error category for monitoring and API replies.
type ErrorCode string

const (
	CodeUnknown              ErrorCode = "UNKNOWN"
	CodeInvalidInput         ErrorCode = "INVALID_INPUT"
	CodeConfigLoad           ErrorCode = "CONFIG_LOAD"
	CodeEncryption           ErrorCode = "ENCRYPTION"
	CodeDecryption           ErrorCode = "DECRYPTION"
	CodeRateLimit            ErrorCode = "RATE_LIMIT"
	CodeUsageStore           ErrorCode = "USAGE_STORE"
	CodeTimeout              ErrorCode = "TIMEOUT"
	CodeAuthInvalid          ErrorCode = "AUTH_INVALID"
	CodeProviderError        ErrorCode = "PROVIDER_ERROR"
	CodeBackendNotFound      ErrorCode = "BACKEND_NOT_FOUND"
	CodeBackendUnavailable   ErrorCode = "BACKEND_UNAVAILABLE"
	CodeBackendRequestFailed ErrorCode = "BACKEND_REQUEST_FAILED"
	CodeMalformedResponse    ErrorCode = "MALFORMED_RESPONSE"
	CodeCandidatesExhausted  ErrorCode = "ALL_CANDIDATES_EXHAUSTED"
	CodeFallbackFailed       ErrorCode = "FALLBACK_FAILED"
	CodeStreamInterrupted    ErrorCode = "STREAM_INTERRUPTED"
)

// errorCodes is ordered from most to least specific so that errors matching
// several sentinels (a DispatchError is both exhausted and fallback-failed,
// a malformed response is also a request failure) resolve deterministically.
var errorCodes = []struct {
	err  error
	code ErrorCode
}{
	{ErrStreamInterrupted, CodeStreamInterrupted},
	{ErrFallbackFailed, CodeFallbackFailed},
	{ErrAllCandidatesExhausted, CodeCandidatesExhausted},
	{ErrMalformedResponse, CodeMalformedResponse},
	{ErrBackendRequestFailed, CodeBackendRequestFailed},
	{ErrBackendUnavailable, CodeBackendUnavailable},
	{ErrBackendNotFound, CodeBackendNotFound},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrConfigLoad, CodeConfigLoad},
	{ErrEncryption, CodeEncryption},
	{ErrDecryption, CodeDecryption},
	{ErrRateLimit, CodeRateLimit},
	{ErrUsageStore, CodeUsageStore},
	{ErrTimeout, CodeTimeout},
	{ErrAuthInvalid, CodeAuthInvalid},
	{ErrProviderError, CodeProviderError},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
