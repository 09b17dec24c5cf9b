package gateway

import "modelgate/internal/domain"

// FrameType identifies the kind of frame sent over the WebSocket stream.
type FrameType string

const (
	FrameTypeRequest FrameType = "request"
	FrameTypeChunk   FrameType = "chunk"
	FrameTypeDone    FrameType = "done"
	FrameTypeError   FrameType = "error"
)

// Frame is the envelope exchanged over /api/v1/stream/ws. The client sends
// exactly one request frame; the server answers with chunk frames followed
// by one done or error frame.
type Frame struct {
	Type    FrameType                 `json:"type"`
	Request *domain.GenerationRequest `json:"request,omitempty"` // request only
	Chunk   *domain.Chunk             `json:"chunk,omitempty"`   // chunk only
	Result  *domain.GenerationResult  `json:"result,omitempty"`  // done, and error after partial output
	Error   string                    `json:"error,omitempty"`
	Code    domain.ErrorCode          `json:"code,omitempty"`
}

// StreamLine is one line of the NDJSON stream served by /api/v1/stream.
type StreamLine struct {
	Chunk   string                   `json:"chunk,omitempty"`
	Backend string                   `json:"backend,omitempty"`
	Done    bool                     `json:"done,omitempty"`
	Result  *domain.GenerationResult `json:"result,omitempty"`
	Error   string                   `json:"error,omitempty"`
	Code    domain.ErrorCode         `json:"code,omitempty"`
}
