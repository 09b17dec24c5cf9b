package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"modelgate/internal/adapter/llm"
	"modelgate/internal/adapter/usage"
	"modelgate/internal/infra/config"
)

// CheckStatus represents the result of a diagnostic check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named diagnostic.
type Check struct {
	Name string
	Fn   func(ctx context.Context, cfg *config.Config) CheckResult
}

const doctorProbeTimeout = 5 * time.Second

func newDoctorCmd(cfgPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose configuration, backends and local state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := cfgPath()
			cfg, err := config.Load(path)
			checks := []Check{
				{Name: "Config file", Fn: checkConfigFile(path, err)},
				{Name: "Routes", Fn: checkRoutes},
				{Name: "Backend connectivity", Fn: checkBackends},
				{Name: "Fallback", Fn: checkFallback},
				{Name: "Usage store", Fn: checkUsageStore},
				{Name: "Listen address", Fn: checkListenAddr},
			}
			return runDoctor(cmd.Context(), cmd.OutOrStdout(), cfg, checks)
		},
	}
}

// runDoctor executes checks in order and reports results to w. It fails when
// any check fails.
func runDoctor(ctx context.Context, w io.Writer, cfg *config.Config, checks []Check) error {
	fmt.Fprintln(w, "modelgate doctor")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(ctx, cfg)
		result.Name = check.Name

		fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(w, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

func notLoaded() CheckResult {
	return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
}

// checkConfigFile reports whether the config file exists and loads. A missing
// file is a warning: built-in defaults are used.
func checkConfigFile(cfgPath string, cfgErr error) func(context.Context, *config.Config) CheckResult {
	return func(context.Context, *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Run 'modelgate validate' for the full list of problems",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config at %s, using built-in defaults", cfgPath),
				Fix:     "Pass --config or set MODELGATE_CONFIG",
			}
		}
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("config loaded from %s", cfgPath)}
	}
}

func checkRoutes(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	reg, err := llm.NewRegistryFromConfig(cfg)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}
	if len(cfg.Routes.Default) == 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%d agent(s) routed; unmapped agents have no candidates", len(reg.Agents())),
			Fix:     "Set routes.default to catch unmapped agents",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d backend(s), %d agent route(s), default [%s]", len(reg.Backends()), len(reg.Agents()), strings.Join(cfg.Routes.Default, ", ")),
	}
}

// checkBackends probes every backend once, bypassing the health cache.
func checkBackends(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	reg, err := llm.NewRegistryFromConfig(cfg)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}
	backends, err := llm.NewBackends(reg, cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}

	var up, down []string
	for _, d := range reg.Backends() {
		pctx, cancel := context.WithTimeout(ctx, doctorProbeTimeout)
		err := backends[d.ID].Probe(pctx)
		cancel()
		if err != nil {
			down = append(down, d.ID)
		} else {
			up = append(up, d.ID)
		}
	}

	switch {
	case len(down) == 0:
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("all %d backend(s) reachable", len(up))}
	case len(up) == 0:
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("no backend reachable: %s", strings.Join(down, ", ")),
			Fix:     "Start the inference servers or fix the endpoints in the backends section",
		}
	default:
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("reachable [%s]; unreachable [%s]", strings.Join(up, ", "), strings.Join(down, ", ")),
		}
	}
}

func checkFallback(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	fb := cfg.Fallback
	switch {
	case !fb.Enabled:
		return CheckResult{Status: StatusWarn, Message: "disabled; requests fail once every local candidate is down"}
	case strings.HasPrefix(fb.APIKey, config.EncPrefix):
		return CheckResult{
			Status:  StatusFail,
			Message: "api_key is encrypted but MODELGATE_CONFIG_KEY is not set",
			Fix:     "Export MODELGATE_CONFIG_KEY with the passphrase used by 'modelgate encrypt'",
		}
	case fb.APIKey == "" && fb.BaseURL == "":
		return CheckResult{
			Status:  StatusWarn,
			Message: "enabled without api_key or base_url; it will be skipped",
			Fix:     "Set OPENAI_API_KEY or MODELGATE_FALLBACK_API_KEY",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s (%s) configured", fb.Name, fb.Model)}
}

func checkUsageStore(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if !cfg.Usage.Enabled {
		return CheckResult{Status: StatusPass, Message: "usage accounting disabled"}
	}
	store, err := usage.NewSQLiteStore(cfg.Usage.Path)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: err.Error(),
			Fix:     fmt.Sprintf("Check that %s is writable", filepath.Dir(cfg.Usage.Path)),
		}
	}
	_ = store.Close()
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("database ready at %s", cfg.Usage.Path)}
}

func checkListenAddr(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("cannot bind %s: %v", cfg.Server.Addr, err),
			Fix:     "Stop the process holding the port or use 'modelgate serve --addr'",
		}
	}
	_ = ln.Close()
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s is free", cfg.Server.Addr)}
}
