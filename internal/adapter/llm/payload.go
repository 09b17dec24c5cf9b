package llm

import "modelgate/internal/domain"

// Sampling defaults applied when a request leaves a knob unset.
const (
	DefaultTemperature   = 0.7
	DefaultTopK          = 40
	DefaultTopP          = 0.9
	DefaultRepeatPenalty = 1.1
)

// BuildPayload converts req into the wire payload for desc. Temperature is
// clamped to the backend's range; a caller's max tokens passes through
// unchanged and otherwise the backend's MaxTokens applies. Stream is left
// false; streaming callers set it.
func BuildPayload(desc domain.BackendDescriptor, req domain.GenerationRequest) domain.BackendPayload {
	temperature := DefaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	numPredict := desc.MaxTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		numPredict = *req.MaxTokens
	}

	return domain.BackendPayload{
		Model:  desc.Model,
		Prompt: req.Prompt,
		Options: domain.PayloadOptions{
			Temperature:   desc.TemperatureRange.Clamp(temperature),
			NumPredict:    numPredict,
			TopK:          valueOr(req.TopK, DefaultTopK),
			TopP:          valueOr(req.TopP, DefaultTopP),
			RepeatPenalty: valueOr(req.RepeatPenalty, DefaultRepeatPenalty),
		},
	}
}

// FallbackOptionsFor derives the options forwarded to the cloud fallback.
// There is no backend range to clamp against, so only defaults apply.
func FallbackOptionsFor(req domain.GenerationRequest) domain.FallbackOptions {
	opts := domain.FallbackOptions{
		Agent:       req.AgentName,
		Temperature: valueOr(req.Temperature, DefaultTemperature),
		TopP:        valueOr(req.TopP, DefaultTopP),
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		opts.MaxTokens = *req.MaxTokens
	}
	return opts
}

func valueOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}
