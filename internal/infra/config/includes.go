package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const maxIncludeDepth = 10

// catalogue is the part of a config file that merges across files instead
// of being overwritten: backends by id, agent routes by agent name.
type catalogue struct {
	Includes []string        `yaml:"includes"`
	Backends []BackendConfig `yaml:"backends"`
	Routes   struct {
		Agents []AgentRouteConfig `yaml:"agents"`
	} `yaml:"routes"`
}

// layering applies config files onto one Config. The first file that lists
// backends (or agent routes) replaces the built-in defaults; every later file
// merges into that list, and a repeated id replaces the earlier entry.
type layering struct {
	cfg         *Config
	visited     map[string]bool // absolute paths already loaded
	ownBackends bool
	ownAgents   bool
}

func newLayering(cfg *Config) *layering {
	return &layering{cfg: cfg, visited: make(map[string]bool)}
}

// applyFile loads path after its own includes, so the including file wins.
func (l *layering) applyFile(path string, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("config includes: max depth %d exceeded", maxIncludeDepth)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config includes: abs path %q: %w", path, err)
	}
	if l.visited[abs] {
		return fmt.Errorf("config includes: circular include detected for %q", abs)
	}
	l.visited[abs] = true

	if err := validatePermissions(abs); err != nil {
		return err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("read config %q: %w", abs, err)
	}
	if len(data) == 0 {
		return nil
	}

	var cat catalogue
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return fmt.Errorf("parse config %q: %w", abs, err)
	}
	for _, pattern := range cat.Includes {
		paths, err := expandInclude(pattern, filepath.Dir(abs))
		if err != nil {
			return err
		}
		for _, p := range paths {
			if err := l.applyFile(p, depth+1); err != nil {
				return err
			}
		}
	}
	return l.overlay(data, cat)
}

// overlay decodes data onto the config, then restores merged catalogue lists.
func (l *layering) overlay(data []byte, cat catalogue) error {
	prevBackends, prevAgents := l.cfg.Backends, l.cfg.Routes.Agents
	if err := yaml.Unmarshal(data, l.cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	l.cfg.Includes = nil

	if cat.Backends != nil {
		if l.ownBackends {
			l.cfg.Backends = mergeByKey(prevBackends, cat.Backends, func(b BackendConfig) string { return b.ID })
		}
		l.ownBackends = true
	}
	if cat.Routes.Agents != nil {
		if l.ownAgents {
			l.cfg.Routes.Agents = mergeByKey(prevAgents, cat.Routes.Agents, func(r AgentRouteConfig) string { return r.Agent })
		}
		l.ownAgents = true
	}
	return nil
}

// mergeByKey returns base with add applied: matching keys are replaced in
// place, new keys are appended in order.
func mergeByKey[T any](base, add []T, key func(T) string) []T {
	out := make([]T, len(base), len(base)+len(add))
	copy(out, base)
	index := make(map[string]int, len(out))
	for i, v := range out {
		index[key(v)] = i
	}
	for _, v := range add {
		if i, ok := index[key(v)]; ok {
			out[i] = v
			continue
		}
		index[key(v)] = len(out)
		out = append(out, v)
	}
	return out
}

// expandInclude resolves pattern relative to baseDir and expands globs.
// Relative patterns may not climb out of baseDir.
func expandInclude(pattern, baseDir string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(baseDir, pattern)
		rel, err := filepath.Rel(baseDir, pattern)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, fmt.Errorf("config includes: path %q escapes config directory", pattern)
		}
	}
	pattern = filepath.Clean(pattern)

	if !strings.ContainsAny(pattern, "*?[") {
		// Literal path: a missing file is reported by applyFile.
		return []string{pattern}, nil
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("config includes: glob %q: %w", pattern, err)
	}
	return matches, nil
}
