package engine

import (
	"fmt"
	"log/slog"

	wayfindr "github.com/Paranoid-AF/wayfindr"
	"github.com/Paranoid-AF/wayfindr/provider"
)

// Runtime is what a front end queries through: the configuration, the provider
// registry and the engine built from both. A Runtime is immutable; reloads
// replace it.
type Runtime struct {
	Config   *wayfindr.Config
	Registry *provider.Registry
	Engine   Querier
	// Warnings collects configuration and provider load problems.
	Warnings []string
}

// LoadRuntime reads the .env file, the configuration and the provider
// definitions and builds an engine. Problems are logged and kept as
// warnings; the caller always gets a usable runtime.
func LoadRuntime() *Runtime {
	if err := wayfindr.LoadEnvFile(); err != nil {
		slog.Warn("failed to load .env file", "path", wayfindr.EnvPath(), "error", err)
	}

	var warnings []string
	cfg, err := wayfindr.LoadConfig()
	if err != nil {
		slog.Warn("failed to load config, using defaults", "error", err)
		warnings = append(warnings, err.Error())
		cfg = wayfindr.DefaultConfig()
	}
	warnings = append(warnings, wayfindr.ValidateConfig(cfg)...)

	var defs []provider.Definition
	dir, err := wayfindr.ProvidersDir(cfg)
	if err != nil {
		warnings = append(warnings, err.Error())
		defs = provider.Builtin()
	} else {
		defs, err = provider.Discover(dir)
		warnings = append(warnings, flatten(err)...)
	}

	reg, err := provider.Load(defs)
	for _, msg := range flatten(err) {
		slog.Warn("provider rejected", "error", msg)
		warnings = append(warnings, msg)
	}
	if cfg.Fallback != "" {
		if p, ok := reg.Find(cfg.Fallback); !ok {
			warnings = append(warnings, fmt.Sprintf("fallback provider %q is not loaded", cfg.Fallback))
		} else if !p.Enabled {
			warnings = append(warnings, fmt.Sprintf("fallback provider %q is disabled", cfg.Fallback))
		}
	}
	slog.Info("providers loaded", "count", reg.Len(), "dir", dir)

	return NewRuntime(cfg, reg, warnings)
}

// NewRuntime builds a Runtime around an already loaded registry.
func NewRuntime(cfg *wayfindr.Config, reg *provider.Registry, warnings []string) *Runtime {
	return &Runtime{
		Config:   cfg,
		Registry: reg,
		Engine: New(reg, Options{
			Location: cfg.Location,
			Fallback: cfg.Fallback,
			Retries:  cfg.Retries,
			Timeout:  cfg.TimeoutDuration(),
		}),
		Warnings: warnings,
	}
}

// Providers summarises the registry in priority order.
func (rt *Runtime) Providers() []wayfindr.ProviderInfo {
	if rt.Registry == nil {
		return nil
	}
	infos := make([]wayfindr.ProviderInfo, 0, rt.Registry.Len())
	for _, p := range rt.Registry.ByPriority() {
		info := wayfindr.ProviderInfo{
			ID:       p.ID,
			Name:     p.Name,
			Priority: p.Priority,
			Enabled:  p.Enabled,
			Source:   p.Source,
			Prefixes: p.Prefixes,
			Patterns: p.Patterns,
			Commands: make([]string, 0, len(p.Commands)),
		}
		for _, c := range p.Commands {
			info.Commands = append(info.Commands, c.ID)
		}
		infos = append(infos, info)
	}
	return infos
}

// flatten splits a joined error into its messages.
func flatten(err error) []string {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, flatten(e)...)
		}
		return out
	}
	return []string{err.Error()}
}
