package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validationErrors(t *testing.T, cfg *Config) []string {
	t.Helper()
	err := Validate(cfg)
	require.Error(t, err)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	return ve.Errors
}

func containsMsg(errs []string, substr string) bool {
	for _, e := range errs {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

func TestValidateListsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Backends[0].TemperatureRange = TemperatureRangeConfig{Min: 0.9, Max: 0.1}
	cfg.Backends[1].MaxTokens = 0
	cfg.Routes.Agents = append(cfg.Routes.Agents, AgentRouteConfig{Agent: "ghost", Backends: []string{"missing"}})

	errs := validationErrors(t, cfg)
	assert.True(t, containsMsg(errs, "temperature_range.min"), errs)
	assert.True(t, containsMsg(errs, "max_tokens must be > 0"), errs)
	assert.True(t, containsMsg(errs, `unknown backend "missing"`), errs)
	assert.Len(t, errs, 3)
}

func TestValidateDuplicates(t *testing.T) {
	cfg := Defaults()
	dup := cfg.Backends[0]
	cfg.Backends = append(cfg.Backends, dup)
	cfg.Routes.Agents = append(cfg.Routes.Agents, cfg.Routes.Agents[0])

	errs := validationErrors(t, cfg)
	assert.True(t, containsMsg(errs, "duplicate backend id"), errs)
	assert.True(t, containsMsg(errs, "already used by"), errs)
	assert.True(t, containsMsg(errs, "duplicate agent"), errs)
}

func TestValidateEndpointTrailingSlashIsDuplicate(t *testing.T) {
	cfg := Defaults()
	cfg.Backends[1].Endpoint = cfg.Backends[0].Endpoint + "/"
	errs := validationErrors(t, cfg)
	assert.True(t, containsMsg(errs, "already used by"), errs)
}

func TestValidateEmptyRoutes(t *testing.T) {
	cfg := Defaults()
	cfg.Routes.Default = nil
	cfg.Routes.Agents[0].Backends = nil

	errs := validationErrors(t, cfg)
	assert.True(t, containsMsg(errs, "routes.default must not be empty"), errs)
	assert.True(t, containsMsg(errs, "backends must not be empty"), errs)
}

func TestValidateBadEndpoint(t *testing.T) {
	cfg := Defaults()
	cfg.Backends[0].Endpoint = "localhost:11434"
	errs := validationErrors(t, cfg)
	assert.True(t, containsMsg(errs, "not an absolute URL"), errs)
}

func TestValidateFallback(t *testing.T) {
	cfg := Defaults()
	cfg.Fallback.Type = "anthropic"
	cfg.Fallback.Model = ""
	errs := validationErrors(t, cfg)
	assert.True(t, containsMsg(errs, "fallback.type"), errs)
	assert.True(t, containsMsg(errs, "fallback.model"), errs)

	cfg.Fallback.Enabled = false
	assert.NoError(t, Validate(cfg))
}

func TestValidateServerAndLogger(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Addr = "no-port"
	cfg.Server.TrustedProxies = []string{"not-an-ip"}
	cfg.Logger.Level = "verbose"
	cfg.Tracer = TracerConfig{Enabled: true, Exporter: "zipkin"}

	errs := validationErrors(t, cfg)
	assert.True(t, containsMsg(errs, "server.addr"), errs)
	assert.True(t, containsMsg(errs, "trusted_proxies"), errs)
	assert.True(t, containsMsg(errs, "logger.level"), errs)
	assert.True(t, containsMsg(errs, "tracer.exporter"), errs)
}

func TestValidateTracerFileExporter(t *testing.T) {
	cfg := Defaults()
	cfg.Tracer = TracerConfig{Enabled: true, Exporter: "file", SampleRatio: 1.5}
	errs := validationErrors(t, cfg)
	assert.True(t, containsMsg(errs, "tracer.output"), errs)
	assert.True(t, containsMsg(errs, "tracer.sample_ratio"), errs)

	cfg.Tracer = TracerConfig{Enabled: true, Exporter: "file", Output: "/tmp/spans.json", SampleRatio: 0.25}
	assert.NoError(t, Validate(cfg))
}

func TestValidateUsageSchedule(t *testing.T) {
	cfg := Defaults()
	cfg.Usage.Enabled = true

	for _, sched := range []string{"@daily", "0 3 * * *", "12h", "@every 6h"} {
		cfg.Usage.PruneSchedule = sched
		assert.NoError(t, Validate(cfg), sched)
	}

	cfg.Usage.PruneSchedule = "sometimes"
	errs := validationErrors(t, cfg)
	assert.True(t, containsMsg(errs, "usage.prune_schedule"), errs)
}

func TestValidationErrorFormat(t *testing.T) {
	ve := &ValidationError{}
	assert.False(t, ve.HasErrors())
	ve.Add("a %d", 1)
	ve.Add("b")
	assert.True(t, ve.HasErrors())
	assert.Equal(t, "config validation failed:\n  - a 1\n  - b", ve.Error())
}
