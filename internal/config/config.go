// Package config loads service configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/factotum-dev/factotum/internal/ai"
	"github.com/factotum-dev/factotum/internal/refine"
)

// Config holds all tunables for the refinement service.
type Config struct {
	// Model is the completion model name. FACTOTUM_MODEL overrides it.
	Model string `yaml:"model"`

	// MaxTokens bounds a single completion response.
	MaxTokens int `yaml:"max_tokens"`

	// MaxIterations caps round trips per run.
	MaxIterations int `yaml:"max_iterations"`

	// ConfidenceThreshold ends a run early when the fact-check stage
	// reports at least this confidence.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// ConfidenceProbe enables the fact-check confidence estimate.
	ConfidenceProbe bool `yaml:"confidence_probe"`

	// MaxConcurrentCalls caps in-flight completion calls across runs.
	MaxConcurrentCalls int `yaml:"max_concurrent_calls"`

	// RequestsPerSecond rate-limits completion calls (0 = unlimited).
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// HistoryPath is the SQLite file for the run ledger ("" disables it).
	// FACTOTUM_HISTORY_PATH overrides it.
	HistoryPath string `yaml:"history_path"`

	// ListenAddr is the HTTP boundary address. FACTOTUM_LISTEN_ADDR
	// overrides it.
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Model:               ai.GetDefaultModel(),
		MaxTokens:           ai.DefaultMaxTokens,
		MaxIterations:       3,
		ConfidenceThreshold: 0.9,
		MaxConcurrentCalls:  3,
		ListenAddr:          "127.0.0.1:8080",
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then environment overrides, then validation.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FACTOTUM_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("FACTOTUM_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("FACTOTUM_HISTORY_PATH"); v != "" {
		cfg.HistoryPath = v
	}
	if v := os.Getenv("FACTOTUM_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxIterations = n
		}
	}
}

// Validate rejects configurations that would misbehave at runtime.
func (c Config) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", c.MaxIterations)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0,1], got %v", c.ConfidenceThreshold)
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be at least 1, got %d", c.MaxTokens)
	}
	if c.MaxConcurrentCalls < 0 {
		return fmt.Errorf("max_concurrent_calls cannot be negative, got %d", c.MaxConcurrentCalls)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second cannot be negative, got %v", c.RequestsPerSecond)
	}
	return nil
}

// Refinement returns the per-run loop configuration.
func (c Config) Refinement() refine.Config {
	return refine.Config{
		MaxIterations:       c.MaxIterations,
		ConfidenceThreshold: c.ConfidenceThreshold,
		ConfidenceProbe:     c.ConfidenceProbe,
	}
}

// Client returns the completion client configuration.
func (c Config) Client() ai.Config {
	return ai.Config{
		Model:              c.Model,
		MaxTokens:          c.MaxTokens,
		MaxConcurrentCalls: c.MaxConcurrentCalls,
		RequestsPerSecond:  c.RequestsPerSecond,
	}
}
