// Package config loads the CLI-level operator configuration
// (resorch.yaml and a sibling .env), distinct from internal/policy's
// per-run run_policy.v1. Grounded on the teacher's pkg/config/loader.go
// Initialize/load pipeline: read YAML, expand environment references,
// parse, then merge onto hardcoded defaults with mergo.WithOverride so
// an operator only needs to state what they want to change.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigEnv is the environment variable an operator can set to
// point at a resorch.yaml outside the working directory.
const DefaultConfigEnv = "RESORCH_CONFIG"

// Load resolves and loads resorch.yaml plus a sibling .env.
//
// Resolution order for the YAML path: explicit path argument, then
// $RESORCH_CONFIG, then ./resorch.yaml. A missing file at the resolved
// path is not an error: Load falls back to Defaults() so the CLI works
// unconfigured, matching the teacher's "warn and continue" stance on a
// missing .env in cmd/tarsy/main.go.
func Load(path string) (*Config, error) {
	resolved := resolvePath(path)

	envPath := envPathFor(resolved)
	if err := godotenv.Load(envPath); err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("could not load .env file", "path", envPath, "error", err)
		}
	} else {
		slog.Info("loaded environment file", "path", envPath)
	}

	cfg := Defaults()
	if resolved == "" {
		return cfg, nil
	}

	yamlCfg, err := loadYAML(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("resorch config file not found, using defaults", "path", resolved)
			return cfg, nil
		}
		return nil, newLoadError(resolved, err)
	}
	cfg.ConfigPath = resolved

	if err := mergeInto(cfg, yamlCfg); err != nil {
		return nil, newLoadError(resolved, err)
	}
	return cfg, nil
}

// resolvePath applies the explicit-path / env-var / cwd-default
// resolution order. It returns "" only when none of the three yields a
// file that exists, in which case the caller uses built-in defaults.
func resolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if fromEnv := os.Getenv(DefaultConfigEnv); fromEnv != "" {
		return fromEnv
	}
	if _, err := os.Stat("resorch.yaml"); err == nil {
		return "resorch.yaml"
	}
	return ""
}

func envPathFor(configPath string) string {
	if configPath == "" {
		return ".env"
	}
	return filepath.Join(filepath.Dir(configPath), ".env")
}

func loadYAML(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = ExpandEnv(data)

	var cfg YAMLConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &cfg, nil
}

// mergeInto layers non-zero fields from y onto cfg, leaving any field y
// doesn't set at its Defaults() value.
func mergeInto(cfg *Config, y *YAMLConfig) error {
	if y.RunsRoot != "" {
		cfg.RunsRoot = y.RunsRoot
	}
	if y.Driver != nil {
		if err := mergo.Merge(&cfg.Driver, *y.Driver, mergo.WithOverride); err != nil {
			return fmt.Errorf("merge driver config: %w", err)
		}
	}
	if y.Citations != nil {
		if err := mergo.Merge(&cfg.Citations, *y.Citations, mergo.WithOverride); err != nil {
			return fmt.Errorf("merge citations config: %w", err)
		}
	}
	if y.Watch != nil {
		if err := mergo.Merge(&cfg.Watch, *y.Watch, mergo.WithOverride); err != nil {
			return fmt.Errorf("merge watch config: %w", err)
		}
	}
	return nil
}
