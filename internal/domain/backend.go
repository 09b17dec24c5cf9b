package domain

import (
	"fmt"
	"slices"
	"time"
)

// TemperatureRange is an inclusive [Min, Max] bound for sampling temperature.
type TemperatureRange struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Clamp returns t limited to the range.
func (r TemperatureRange) Clamp(t float64) float64 {
	return min(max(t, r.Min), r.Max)
}

// BackendDescriptor describes a single self-hosted inference backend.
// Descriptors are built once at startup and never mutated.
type BackendDescriptor struct {
	ID               string           `json:"id"`
	Endpoint         string           `json:"endpoint"`
	Model            string           `json:"model"`
	Capabilities     []string         `json:"capabilities,omitempty"`
	MaxTokens        int              `json:"max_tokens"`
	TemperatureRange TemperatureRange `json:"temperature_range"`
}

// Validate checks the descriptor invariants.
func (d BackendDescriptor) Validate() error {
	switch {
	case d.ID == "":
		return NewDomainError("BackendDescriptor.Validate", ErrInvalidInput, "empty backend id")
	case d.Endpoint == "":
		return NewDomainError("BackendDescriptor.Validate", ErrInvalidInput, fmt.Sprintf("backend %q: empty endpoint", d.ID))
	case d.MaxTokens <= 0:
		return NewDomainError("BackendDescriptor.Validate", ErrInvalidInput, fmt.Sprintf("backend %q: max_tokens must be > 0", d.ID))
	case d.TemperatureRange.Min > d.TemperatureRange.Max:
		return NewDomainError("BackendDescriptor.Validate", ErrInvalidInput,
			fmt.Sprintf("backend %q: temperature range [%g, %g] is inverted", d.ID, d.TemperatureRange.Min, d.TemperatureRange.Max))
	}
	return nil
}

// HasCapability reports whether the backend advertises the given tag.
func (d BackendDescriptor) HasCapability(tag string) bool {
	return slices.Contains(d.Capabilities, tag)
}

// AgentRoute is the ordered candidate list for one logical agent.
// The first backend is the most preferred.
type AgentRoute struct {
	Agent    string   `json:"agent"`
	Backends []string `json:"backends"`
}

// HealthRecord is the cached liveness state of one backend.
type HealthRecord struct {
	Healthy   bool          `json:"healthy"`
	CheckedAt time.Time     `json:"checked_at"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
}

// BackendStatus is the externally visible health view of a backend.
type BackendStatus struct {
	Healthy      bool       `json:"healthy"`
	Endpoint     string     `json:"endpoint"`
	Model        string     `json:"model"`
	Capabilities []string   `json:"capabilities,omitempty"`
	LastChecked  *time.Time `json:"last_checked,omitempty"`
	Error        string     `json:"error,omitempty"`
}
