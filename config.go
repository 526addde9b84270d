package wayfindr

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"mvdan.cc/sh/v3/shell"

	defaults "github.com/Paranoid-AF/wayfindr/default"
)

// Config represents the user's wayfindr configuration.
type Config struct {
	Version int `toml:"version" json:"version"`
	// Location is handed to providers whose matchers set use_location.
	Location string `toml:"location" json:"location" env:"WAYFINDR_LOCATION"`
	// Timeout is the default per-call HTTP timeout, as a Go duration.
	Timeout string `toml:"timeout" json:"timeout" env:"WAYFINDR_TIMEOUT"`
	// Retries is the number of extra attempts for timed-out or unreachable calls.
	Retries int `toml:"retries" json:"retries" env:"WAYFINDR_RETRIES"`
	// Fallback names the provider used for input no provider claims.
	Fallback string `toml:"fallback" json:"fallback,omitempty" env:"WAYFINDR_FALLBACK"`
	// ProvidersDir holds provider definitions. Empty means <config dir>/providers.
	ProvidersDir string `toml:"providers_dir" json:"providers_dir,omitempty" env:"WAYFINDR_PROVIDERS_DIR"`
}

// ConfigDir returns the config directory path.
// Resolution order: $WAYFINDR_CONFIG_DIR > $XDG_CONFIG_HOME/wayfindr > ~/.config/wayfindr
func ConfigDir() string {
	if dir := os.Getenv("WAYFINDR_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "wayfindr")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "wayfindr-config")
	}
	return filepath.Join(home, ".config", "wayfindr")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// EnvPath returns the path of the optional .env file holding API keys.
func EnvPath() string {
	return filepath.Join(ConfigDir(), ".env")
}

// DefaultConfig returns the default configuration from the embedded config.toml.
func DefaultConfig() *Config {
	var cfg Config
	if _, err := toml.Decode(string(defaults.DefaultConfigTOML), &cfg); err != nil {
		panic("wayfindr: invalid embedded config.toml: " + err.Error())
	}
	return &cfg
}

// LoadConfig loads config from disk over the defaults, then applies
// WAYFINDR_* environment overrides. A missing file yields the defaults.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	switch {
	case err == nil:
		// Keys absent from the file keep their default values.
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", ConfigPath(), err)
		}
	case !os.IsNotExist(err):
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	cfg.Location = strings.TrimSpace(cfg.Location)
	cfg.Fallback = strings.TrimSpace(cfg.Fallback)
	return cfg, nil
}

// LoadEnvFile loads API keys from EnvPath into the process environment.
// Variables already set are left untouched. A missing file is not an error.
func LoadEnvFile() error {
	err := godotenv.Load(EnvPath())
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// TimeoutDuration returns the configured timeout, or 0 when it is unset or
// invalid.
func (c *Config) TimeoutDuration() time.Duration {
	if c == nil || c.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}

// ProvidersDir returns the provider definition directory with "~" and
// environment variables expanded.
func ProvidersDir(cfg *Config) (string, error) {
	if cfg == nil || cfg.ProvidersDir == "" {
		return filepath.Join(ConfigDir(), "providers"), nil
	}
	dir := cfg.ProvidersDir
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		dir = "$HOME" + dir[1:]
	}
	expanded, err := shell.Expand(dir, nil)
	if err != nil {
		return "", fmt.Errorf("expand providers_dir %q: %w", cfg.ProvidersDir, err)
	}
	return expanded, nil
}

// ValidateConfig checks configuration for potential issues and returns warnings.
func ValidateConfig(cfg *Config) []string {
	var warnings []string
	if cfg == nil {
		return warnings
	}
	if cfg.Timeout != "" && cfg.TimeoutDuration() == 0 {
		warnings = append(warnings, fmt.Sprintf("timeout %q is not a positive duration; using the default", cfg.Timeout))
	}
	if cfg.Retries < 0 {
		warnings = append(warnings, "retries is negative; retrying is disabled")
	}
	if cfg.Location == "" {
		warnings = append(warnings, "location is empty; location-based queries will have no default")
	}
	if cfg.ProvidersDir != "" {
		dir, err := ProvidersDir(cfg)
		if err != nil {
			warnings = append(warnings, err.Error())
		} else if _, err := os.Stat(dir); err != nil {
			warnings = append(warnings, fmt.Sprintf("providers_dir %s is not readable; built-in providers will be used", dir))
		}
	}
	return warnings
}
