package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestIncludesSingleFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "fallback.yaml", `
fallback:
  model: gpt-4o-mini
`)
	path := writeConfig(t, dir, "config.yaml", `
includes:
  - "fallback.yaml"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Fallback.Model != "gpt-4o-mini" {
		t.Errorf("Fallback.Model = %q, want gpt-4o-mini", cfg.Fallback.Model)
	}
}

func TestIncludesGlobAndMainWins(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "conf.d")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	writeConfig(t, sub, "a.yaml", "logger:\n  level: debug\n")
	writeConfig(t, sub, "b.yaml", "server:\n  addr: \"0.0.0.0:7000\"\n")
	path := writeConfig(t, dir, "config.yaml", `
includes:
  - "conf.d/*.yaml"
logger:
  level: error
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:7000" {
		t.Errorf("Server.Addr = %q, want value from include", cfg.Server.Addr)
	}
	if cfg.Logger.Level != "error" {
		t.Errorf("Logger.Level = %q, main file should win", cfg.Logger.Level)
	}
}

func TestIncludesNested(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "inner.yaml", "health:\n  interval: 15s\n")
	writeConfig(t, dir, "outer.yaml", "includes: [\"inner.yaml\"]\n")
	path := writeConfig(t, dir, "config.yaml", "includes: [\"outer.yaml\"]\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Health.Interval.String() != "15s" {
		t.Errorf("Health.Interval = %v, want 15s", cfg.Health.Interval)
	}
}

func TestIncludesCircular(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", "includes: [\"b.yaml\"]\n")
	writeConfig(t, dir, "b.yaml", "includes: [\"a.yaml\"]\n")
	path := writeConfig(t, dir, "config.yaml", "includes: [\"a.yaml\"]\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "circular") {
		t.Errorf("expected circular include error, got %v", err)
	}
}

func TestIncludesEscapeRejected(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "includes: [\"../outside.yaml\"]\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "escapes") {
		t.Errorf("expected escape error, got %v", err)
	}
}

func TestIncludesMissingLiteral(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "includes: [\"missing.yaml\"]\n")
	if _, err := Load(path); err == nil {
		t.Error("expected error for missing literal include")
	}
}

func TestIncludesEmptyGlobIsFine(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "includes: [\"conf.d/*.yaml\"]\n")
	if _, err := Load(path); err != nil {
		t.Errorf("Load: %v", err)
	}
}

func TestIncludesBackendCatalogueMerges(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "backends.d")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	writeConfig(t, sub, "a.yaml", `
backends:
  - id: gpu1
    endpoint: http://gpu1:11434
    model: phi4:latest
    max_tokens: 4096
    temperature_range: {min: 0.1, max: 0.7}
`)
	writeConfig(t, sub, "b.yaml", `
backends:
  - id: gpu2
    endpoint: http://gpu2:11434
    model: mistral:latest
    max_tokens: 2048
    temperature_range: {min: 0.1, max: 0.8}
routes:
  agents:
    - agent: writer
      backends: [gpu2, gpu1]
`)
	path := writeConfig(t, dir, "config.yaml", `
includes: ["backends.d/*.yaml"]
backends:
  - id: gpu1
    endpoint: http://gpu1-new:11434
    model: phi4:latest
    max_tokens: 4096
    temperature_range: {min: 0.1, max: 0.7}
routes:
  default: [gpu1]
  agents:
    - agent: coder
      backends: [gpu1]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Backends) != 2 {
		t.Fatalf("Backends = %+v, want gpu1 and gpu2 only (defaults replaced)", cfg.Backends)
	}
	if cfg.Backends[0].ID != "gpu1" || cfg.Backends[0].Endpoint != "http://gpu1-new:11434" {
		t.Errorf("Backends[0] = %+v, main file should replace gpu1 in place", cfg.Backends[0])
	}
	if cfg.Backends[1].ID != "gpu2" {
		t.Errorf("Backends[1] = %+v, want gpu2", cfg.Backends[1])
	}
	if len(cfg.Routes.Agents) != 2 || cfg.Routes.Agents[0].Agent != "writer" || cfg.Routes.Agents[1].Agent != "coder" {
		t.Errorf("Routes.Agents = %+v, want writer then coder", cfg.Routes.Agents)
	}
}

func TestMergeByKey(t *testing.T) {
	key := func(r AgentRouteConfig) string { return r.Agent }
	base := []AgentRouteConfig{{Agent: "a", Backends: []string{"x"}}, {Agent: "b"}}
	got := mergeByKey(base, []AgentRouteConfig{{Agent: "c"}, {Agent: "a", Backends: []string{"y"}}}, key)

	if len(got) != 3 || got[0].Backends[0] != "y" || got[2].Agent != "c" {
		t.Errorf("mergeByKey = %+v", got)
	}
	if base[0].Backends[0] != "x" {
		t.Error("base slice must not be modified")
	}
}
