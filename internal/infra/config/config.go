package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config is the top-level application configuration.
type Config struct {
	Backends       []BackendConfig      `yaml:"backends"`
	Routes         RoutesConfig         `yaml:"routes"`
	Dispatch       DispatchConfig       `yaml:"dispatch"`
	Health         HealthConfig         `yaml:"health"`
	Fallback       FallbackConfig       `yaml:"fallback"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Pool           PoolConfig           `yaml:"pool"`
	Server         ServerConfig         `yaml:"server"`
	Usage          UsageConfig          `yaml:"usage"`
	Logger         LoggerConfig         `yaml:"logger"`
	Tracer         TracerConfig         `yaml:"tracer"`
	Includes       []string             `yaml:"includes,omitempty"`
}

// TemperatureRangeConfig is an inclusive sampling temperature bound.
type TemperatureRangeConfig struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// BackendConfig describes one self-hosted inference backend.
type BackendConfig struct {
	ID               string                 `yaml:"id"`
	Endpoint         string                 `yaml:"endpoint"`
	Model            string                 `yaml:"model"`
	Capabilities     []string               `yaml:"capabilities,omitempty"`
	MaxTokens        int                    `yaml:"max_tokens"`
	TemperatureRange TemperatureRangeConfig `yaml:"temperature_range"`
}

// AgentRouteConfig maps one agent name to its ordered backend ids.
type AgentRouteConfig struct {
	Agent    string   `yaml:"agent"`
	Backends []string `yaml:"backends"`
}

// RoutesConfig holds the agent route table.
type RoutesConfig struct {
	Default []string           `yaml:"default"` // used for unmapped agents
	Agents  []AgentRouteConfig `yaml:"agents"`
}

// DispatchConfig holds per-request dispatch settings.
type DispatchConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// HealthConfig holds health monitor settings.
type HealthConfig struct {
	Interval     time.Duration `yaml:"interval"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	Background   bool          `yaml:"background"`
	Concurrency  int           `yaml:"concurrency"`
}

// FallbackConfig holds the cloud fallback provider settings.
type FallbackConfig struct {
	Enabled bool          `yaml:"enabled"`
	Type    string        `yaml:"type"` // "openai"
	Name    string        `yaml:"name"`
	BaseURL string        `yaml:"base_url,omitempty"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
	Stream  bool          `yaml:"stream"` // use native streaming when the stream endpoint falls back
}

// CircuitBreakerConfig holds per-backend circuit breaker settings.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings for backend clients.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
	ConnTimeout         time.Duration `yaml:"conn_timeout"`
}

// ServerConfig holds the caller-facing HTTP gateway settings.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	RequestsPerMin int           `yaml:"requests_per_min"`
	Burst          int           `yaml:"burst"`
	TrustedProxies []string      `yaml:"trusted_proxies,omitempty"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	WebSocket      bool          `yaml:"websocket"`
}

// UsageConfig holds usage accounting settings.
type UsageConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Path          string        `yaml:"path"`
	Retention     time.Duration `yaml:"retention"`
	PruneSchedule string        `yaml:"prune_schedule"` // cron expression or duration
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`               // "noop", "stdout" or "file"
	Output      string  `yaml:"output,omitempty"`       // span file for the "file" exporter
	SampleRatio float64 `yaml:"sample_ratio,omitempty"` // fraction of root spans kept; 0 keeps all
}

// defaultDataDir returns the persistent data directory under $HOME/.modelgate.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".modelgate")
}

// Defaults returns a Config with the stock backend catalogue and route table.
func Defaults() *Config {
	return &Config{
		Backends: DefaultBackends(),
		Routes: RoutesConfig{
			Default: []string{"llama3_2"},
			Agents:  DefaultAgentRoutes(),
		},
		Dispatch: DispatchConfig{
			RequestTimeout: 30 * time.Second,
		},
		Health: HealthConfig{
			Interval:     60 * time.Second,
			ProbeTimeout: 5 * time.Second,
			Background:   true,
			Concurrency:  4,
		},
		Fallback: FallbackConfig{
			Enabled: true,
			Type:    "openai",
			Name:    "openai",
			Model:   "gpt-3.5-turbo",
			Timeout: 60 * time.Second,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:     false,
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			Interval:    60 * time.Second,
		},
		Pool: PoolConfig{
			ConnTimeout: 5 * time.Second,
		},
		Server: ServerConfig{
			Addr:           "127.0.0.1:8080",
			RequestsPerMin: 100,
			Burst:          20,
			WriteTimeout:   5 * time.Minute,
			WebSocket:      true,
		},
		Usage: UsageConfig{
			Enabled:       false,
			Path:          filepath.Join(defaultDataDir(), "usage.db"),
			Retention:     90 * 24 * time.Hour,
			PruneSchedule: "@daily",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// DefaultBackends returns the stock local model catalogue.
func DefaultBackends() []BackendConfig {
	return []BackendConfig{
		{
			ID: "llama3_2", Endpoint: "http://localhost:11434", Model: "llama3.2:3b-instruct-q4_k_m",
			Capabilities:     []string{"general_conversation", "code_assistance", "reasoning"},
			MaxTokens:        4096,
			TemperatureRange: TemperatureRangeConfig{Min: 0.1, Max: 0.9},
		},
		{
			ID: "gemma3_qat", Endpoint: "http://localhost:11435", Model: "gemma2:2b-instruct-q4_0",
			Capabilities:     []string{"specialized_tasks", "efficient_processing", "domain_specific"},
			MaxTokens:        2048,
			TemperatureRange: TemperatureRangeConfig{Min: 0.2, Max: 0.8},
		},
		{
			ID: "phi4", Endpoint: "http://localhost:11436", Model: "phi3:14b-medium-4k-instruct-q4_k_m",
			Capabilities:     []string{"advanced_reasoning", "code_generation", "complex_analysis"},
			MaxTokens:        4096,
			TemperatureRange: TemperatureRangeConfig{Min: 0.1, Max: 0.7},
		},
		{
			ID: "deepseek_r1", Endpoint: "http://localhost:11437", Model: "deepseek-coder:6.7b-instruct-q4_k_m",
			Capabilities:     []string{"reasoning", "analysis", "problem_solving"},
			MaxTokens:        4096,
			TemperatureRange: TemperatureRangeConfig{Min: 0.1, Max: 0.8},
		},
		{
			ID: "gpt_oss", Endpoint: "http://localhost:11438", Model: "mistral:7b-instruct-q4_k_m",
			Capabilities:     []string{"open_source_gpt", "general_purpose"},
			MaxTokens:        4096,
			TemperatureRange: TemperatureRangeConfig{Min: 0.2, Max: 0.9},
		},
		{
			ID: "smollm2", Endpoint: "http://localhost:11439", Model: "tinyllama:1.1b-chat-q4_k_m",
			Capabilities:     []string{"lightweight_processing", "fast_responses", "edge_deployment"},
			MaxTokens:        1024,
			TemperatureRange: TemperatureRangeConfig{Min: 0.3, Max: 0.9},
		},
		{
			ID: "mistral", Endpoint: "http://localhost:11440", Model: "mistral:7b-instruct-v0.2-q4_k_m",
			Capabilities:     []string{"multilingual", "code_generation", "instruction_following"},
			MaxTokens:        4096,
			TemperatureRange: TemperatureRangeConfig{Min: 0.1, Max: 0.8},
		},
	}
}

// DefaultAgentRoutes returns the stock agent route table.
func DefaultAgentRoutes() []AgentRouteConfig {
	route := func(agent string, backends ...string) AgentRouteConfig {
		return AgentRouteConfig{Agent: agent, Backends: backends}
	}
	return []AgentRouteConfig{
		// Conversation
		route("neochat", "llama3_2", "gpt_oss"),
		route("personax", "smollm2", "llama3_2"),
		route("girlfriend", "llama3_2", "smollm2"),
		route("emotisense", "gemma3_qat", "smollm2"),
		route("callghost", "smollm2", "llama3_2"),
		route("memora", "llama3_2", "deepseek_r1"),
		// Technical
		route("configai", "phi4", "gemma3_qat"),
		route("infoseek", "phi4", "llama3_2"),
		route("documind", "mistral", "llama3_2"),
		route("netscope", "deepseek_r1", "phi4"),
		route("authwise", "gemma3_qat", "deepseek_r1"),
		route("spylens", "deepseek_r1", "phi4"),
		// Creative
		route("cinegen", "mistral", "llama3_2"),
		route("contentcrafter", "mistral", "gpt_oss"),
		route("dreamweaver", "gpt_oss", "llama3_2"),
		route("ideaforge", "gpt_oss", "mistral"),
		route("aiblogster", "mistral", "llama3_2"),
		route("vocamind", "smollm2", "llama3_2"),
		// Business intelligence
		route("datasphere", "deepseek_r1", "phi4"),
		route("datavision", "phi4", "deepseek_r1"),
		route("taskmaster", "llama3_2", "gemma3_qat"),
		route("reportly", "gemma3_qat", "mistral"),
		route("dnaforge", "deepseek_r1", "phi4"),
		route("carebot", "gemma3_qat", "llama3_2"),
		route("codemaster", "phi4", "mistral"),
	}
}

// Load reads the YAML config at path, merges includes, applies environment
// overrides, decrypts secrets, and validates. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := newLayering(cfg).applyFile(path, 0); err != nil {
		return nil, err
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("MODELGATE_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides overlays MODELGATE_* environment variables onto cfg.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MODELGATE_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("MODELGATE_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("MODELGATE_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("MODELGATE_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("MODELGATE_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("MODELGATE_SERVER_TRUSTED_PROXIES"); v != "" {
		cfg.Server.TrustedProxies = splitAndTrim(v, ",")
	}
	if v := os.Getenv("MODELGATE_DISPATCH_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Dispatch.RequestTimeout = d
		}
	}
	if v := os.Getenv("MODELGATE_HEALTH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Health.Interval = d
		}
	}
	if v := os.Getenv("MODELGATE_HEALTH_PROBE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Health.ProbeTimeout = d
		}
	}
	if v := os.Getenv("MODELGATE_HEALTH_BACKGROUND"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Health.Background = b
		}
	}
	if v := os.Getenv("MODELGATE_FALLBACK_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Fallback.Enabled = b
		}
	}
	if v := os.Getenv("MODELGATE_FALLBACK_MODEL"); v != "" {
		cfg.Fallback.Model = v
	}
	if v := os.Getenv("MODELGATE_FALLBACK_BASE_URL"); v != "" {
		cfg.Fallback.BaseURL = v
	}
	// The conventional OpenAI variable is honored, the explicit one wins.
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Fallback.APIKey == "" {
		cfg.Fallback.APIKey = v
	}
	if v := os.Getenv("MODELGATE_FALLBACK_API_KEY"); v != "" {
		cfg.Fallback.APIKey = v
	}
	if v := os.Getenv("MODELGATE_USAGE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Usage.Enabled = b
		}
	}
	if v := os.Getenv("MODELGATE_USAGE_PATH"); v != "" {
		cfg.Usage.Path = v
	}

	// Per-backend endpoint overrides: MODELGATE_BACKEND_<ID>_ENDPOINT
	for i := range cfg.Backends {
		envKey := fmt.Sprintf("MODELGATE_BACKEND_%s_ENDPOINT", strings.ToUpper(cfg.Backends[i].ID))
		if v := os.Getenv(envKey); v != "" {
			cfg.Backends[i].Endpoint = v
		}
	}
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
