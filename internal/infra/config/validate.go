package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	known := validateBackends(cfg, ve)
	validateRoutes(cfg, known, ve)
	validateDispatch(cfg, ve)
	validateHealth(cfg, ve)
	validateFallback(cfg, ve)
	validateCircuitBreaker(cfg, ve)
	validateServer(cfg, ve)
	validateUsage(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

// validateBackends returns the set of well-formed backend ids.
func validateBackends(cfg *Config, ve *ValidationError) map[string]bool {
	known := make(map[string]bool, len(cfg.Backends))
	if len(cfg.Backends) == 0 {
		ve.Add("backends must not be empty")
		return known
	}

	endpoints := make(map[string]string)
	for i, b := range cfg.Backends {
		if b.ID == "" {
			ve.Add("backends[%d].id must not be empty", i)
			continue
		}
		if known[b.ID] {
			ve.Add("backends[%d]: duplicate backend id %q", i, b.ID)
		}
		known[b.ID] = true

		if b.Endpoint == "" {
			ve.Add("backends[%d] (%s): endpoint must not be empty", i, b.ID)
		} else if u, err := url.Parse(b.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
			ve.Add("backends[%d] (%s): endpoint %q is not an absolute URL", i, b.ID, b.Endpoint)
		} else {
			norm := strings.TrimRight(b.Endpoint, "/")
			if other, ok := endpoints[norm]; ok {
				ve.Add("backends[%d] (%s): endpoint %q already used by %q", i, b.ID, b.Endpoint, other)
			}
			endpoints[norm] = b.ID
		}
		if b.Model == "" {
			ve.Add("backends[%d] (%s): model must not be empty", i, b.ID)
		}
		if b.MaxTokens <= 0 {
			ve.Add("backends[%d] (%s): max_tokens must be > 0", i, b.ID)
		}
		if b.TemperatureRange.Min > b.TemperatureRange.Max {
			ve.Add("backends[%d] (%s): temperature_range.min %.2f exceeds max %.2f",
				i, b.ID, b.TemperatureRange.Min, b.TemperatureRange.Max)
		}
		if b.TemperatureRange.Min < 0 {
			ve.Add("backends[%d] (%s): temperature_range.min must be >= 0", i, b.ID)
		}
	}
	return known
}

func validateRoutes(cfg *Config, known map[string]bool, ve *ValidationError) {
	if len(cfg.Routes.Default) == 0 {
		ve.Add("routes.default must not be empty")
	}
	for _, id := range cfg.Routes.Default {
		if !known[id] {
			ve.Add("routes.default references unknown backend %q", id)
		}
	}

	seen := make(map[string]bool)
	for i, r := range cfg.Routes.Agents {
		if r.Agent == "" {
			ve.Add("routes.agents[%d].agent must not be empty", i)
			continue
		}
		if seen[r.Agent] {
			ve.Add("routes.agents[%d]: duplicate agent %q", i, r.Agent)
		}
		seen[r.Agent] = true
		if len(r.Backends) == 0 {
			ve.Add("routes.agents[%d] (%s): backends must not be empty", i, r.Agent)
		}
		for _, id := range r.Backends {
			if !known[id] {
				ve.Add("routes.agents[%d] (%s): unknown backend %q", i, r.Agent, id)
			}
		}
	}
}

func validateDispatch(cfg *Config, ve *ValidationError) {
	if cfg.Dispatch.RequestTimeout <= 0 {
		ve.Add("dispatch.request_timeout must be > 0")
	}
}

func validateHealth(cfg *Config, ve *ValidationError) {
	if cfg.Health.Interval <= 0 {
		ve.Add("health.interval must be > 0")
	}
	if cfg.Health.ProbeTimeout <= 0 {
		ve.Add("health.probe_timeout must be > 0")
	}
	if cfg.Health.Concurrency < 0 {
		ve.Add("health.concurrency must be >= 0")
	}
}

var validFallbackTypes = map[string]bool{
	"openai": true,
}

func validateFallback(cfg *Config, ve *ValidationError) {
	f := cfg.Fallback
	if !f.Enabled {
		return
	}
	if !validFallbackTypes[f.Type] {
		ve.Add("fallback.type %q is invalid (want: openai)", f.Type)
	}
	if f.Model == "" {
		ve.Add("fallback.model must not be empty when fallback is enabled")
	}
	if f.Timeout <= 0 {
		ve.Add("fallback.timeout must be > 0")
	}
	if f.BaseURL != "" {
		if u, err := url.Parse(f.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			ve.Add("fallback.base_url %q is not an absolute URL", f.BaseURL)
		}
	}
	if strings.HasPrefix(f.APIKey, EncPrefix) {
		ve.Add("fallback.api_key is encrypted but MODELGATE_CONFIG_KEY is not set")
	}
}

func validateCircuitBreaker(cfg *Config, ve *ValidationError) {
	cb := cfg.CircuitBreaker
	if !cb.Enabled {
		return
	}
	if cb.MaxFailures == 0 {
		ve.Add("circuit_breaker.max_failures must be > 0")
	}
	if cb.Timeout <= 0 {
		ve.Add("circuit_breaker.timeout must be > 0")
	}
}

func validateServer(cfg *Config, ve *ValidationError) {
	s := cfg.Server
	if s.Addr == "" {
		ve.Add("server.addr must not be empty")
	} else if _, _, err := net.SplitHostPort(s.Addr); err != nil {
		ve.Add("server.addr %q is invalid: %v", s.Addr, err)
	}
	if s.RequestsPerMin < 0 {
		ve.Add("server.requests_per_min must be >= 0")
	}
	if s.RequestsPerMin > 0 && s.Burst <= 0 {
		ve.Add("server.burst must be > 0 when rate limiting is enabled")
	}
	for _, p := range s.TrustedProxies {
		if _, _, err := net.ParseCIDR(p); err != nil && net.ParseIP(p) == nil {
			ve.Add("server.trusted_proxies entry %q is not an IP or CIDR", p)
		}
	}
}

func validateUsage(cfg *Config, ve *ValidationError) {
	u := cfg.Usage
	if !u.Enabled {
		return
	}
	if u.Path == "" {
		ve.Add("usage.path must not be empty when usage is enabled")
	}
	if u.Retention < 0 {
		ve.Add("usage.retention must be >= 0")
	}
	if u.PruneSchedule != "" && !validSchedule(u.PruneSchedule) {
		ve.Add("usage.prune_schedule %q is neither a cron expression nor a duration", u.PruneSchedule)
	}
}

// validSchedule mirrors the scheduler: a Go duration or a standard cron spec.
func validSchedule(s string) bool {
	if d, err := time.ParseDuration(s); err == nil {
		return d > 0
	}
	_, err := cron.ParseStandard(s)
	return err == nil
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

var validLogFormats = map[string]bool{
	"text": true, "json": true,
}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	if !validLogFormats[cfg.Logger.Format] {
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

var validExporters = map[string]bool{
	"noop": true, "stdout": true, "file": true,
}

func validateTracer(cfg *Config, ve *ValidationError) {
	tc := cfg.Tracer
	if !tc.Enabled {
		return
	}
	if !validExporters[tc.Exporter] {
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout, file)", tc.Exporter)
	}
	if tc.Exporter == "file" && tc.Output == "" {
		ve.Add("tracer.output must be set for the file exporter")
	}
	if tc.SampleRatio < 0 || tc.SampleRatio > 1 {
		ve.Add("tracer.sample_ratio %g must be within [0, 1]", tc.SampleRatio)
	}
}
