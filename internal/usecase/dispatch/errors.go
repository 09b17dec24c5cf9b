package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"modelgate/internal/domain"
)

// DispatchError is the terminal failure of a dispatch: every candidate
// failed and the fallback either failed or was not configured. It matches
// both domain.ErrAllCandidatesExhausted and domain.ErrFallbackFailed.
type DispatchError struct {
	RequestID string
	Agent     string
	Attempts  []domain.Attempt
	Fallback  string // provider name, "" when none is configured
	Err       error  // fallback failure, nil when none is configured
}

func (e *DispatchError) Error() string {
	var b strings.Builder
	b.WriteString("all candidates exhausted")
	if e.Agent != "" {
		fmt.Fprintf(&b, " for agent %q", e.Agent)
	}
	b.WriteString(": [")
	for i, a := range e.Attempts {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %s", a.Backend, a.Error)
	}
	b.WriteString("]; ")
	switch {
	case e.Fallback == "":
		b.WriteString("no fallback configured")
	case e.Err != nil:
		fmt.Fprintf(&b, "fallback %s: %v", e.Fallback, e.Err)
	default:
		fmt.Fprintf(&b, "fallback %s failed", e.Fallback)
	}
	return b.String()
}

func (e *DispatchError) Is(target error) bool {
	return target == domain.ErrAllCandidatesExhausted || target == domain.ErrFallbackFailed
}

func (e *DispatchError) Unwrap() error { return e.Err }

// StreamInterruptedError reports a stream that failed after output had
// already been delivered. The delivered chunks stand; nothing is retried.
type StreamInterruptedError struct {
	Backend string
	Chunks  int
	Err     error
}

func (e *StreamInterruptedError) Error() string {
	return fmt.Sprintf("stream from %s interrupted after %d chunks: %v", e.Backend, e.Chunks, e.Err)
}

func (e *StreamInterruptedError) Is(target error) bool {
	return target == domain.ErrStreamInterrupted
}

func (e *StreamInterruptedError) Unwrap() error { return e.Err }

// chunkRejectedError marks an error returned by the caller's chunk callback so
// it is never mistaken for a backend failure.
type chunkRejectedError struct{ err error }

func (e *chunkRejectedError) Error() string { return e.err.Error() }
func (e *chunkRejectedError) Unwrap() error { return e.err }

func asChunkRejected(err error) (*chunkRejectedError, bool) {
	var cr *chunkRejectedError
	ok := errors.As(err, &cr)
	return cr, ok
}
