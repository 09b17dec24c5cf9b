package domain

import "time"

// GenerationRequest is a caller's request to produce text for an agent.
// Nil sampling fields fall back to the request builder defaults.
type GenerationRequest struct {
	AgentName     string   `json:"agent"`
	Prompt        string   `json:"prompt"`
	Temperature   *float64 `json:"temperature,omitempty"`
	MaxTokens     *int     `json:"max_tokens,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
}

// Attempt is one entry of a dispatch attempt log.
type Attempt struct {
	Backend  string        `json:"backend"`
	Skipped  bool          `json:"skipped,omitempty"` // not called: unhealthy
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// GenerationResult is the normalized output of a dispatch.
type GenerationResult struct {
	RequestID       string        `json:"request_id"`
	Text            string        `json:"text"`
	BackendUsed     string        `json:"backend_used"`
	Model           string        `json:"model,omitempty"`
	TokensGenerated int           `json:"tokens_generated"`
	ProcessingTime  time.Duration `json:"processing_time"`
	UsedFallback    bool          `json:"used_fallback"`
	Attempts        []Attempt     `json:"attempts,omitempty"`
}

// Chunk is one incremental piece of streamed output.
type Chunk struct {
	Text    string `json:"text"`
	Backend string `json:"backend"`
}

// PayloadOptions are the sampling knobs sent to a backend.
type PayloadOptions struct {
	Temperature   float64 `json:"temperature"`
	NumPredict    int     `json:"num_predict"`
	TopK          int     `json:"top_k"`
	TopP          float64 `json:"top_p"`
	RepeatPenalty float64 `json:"repeat_penalty"`
}

// BackendPayload is the wire-level generation request for one backend.
type BackendPayload struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options PayloadOptions `json:"options"`
}

// BackendResponse is a normalized completed backend reply.
type BackendResponse struct {
	Text          string        `json:"response"`
	Model         string        `json:"model"`
	Context       []int         `json:"context,omitempty"`
	TotalDuration time.Duration `json:"total_duration"`
	EvalCount     int           `json:"eval_count"`
}
