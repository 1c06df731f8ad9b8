// Package config loads the runtime configuration from YAML, with
// environment variable expansion so secrets stay out of config files.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/emachat/ema/internal/retry"
)

// Config is the root configuration.
type Config struct {
	LLM     LLMConfig     `yaml:"llm"`
	Actor   ActorConfig   `yaml:"actor"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LLMConfig selects and tunes the model backend.
type LLMConfig struct {
	// Provider is "openai", "anthropic" or "stub".
	Provider string `yaml:"provider"`

	Model string `yaml:"model"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// BaseURL overrides the provider endpoint (proxies, compatible
	// gateways).
	BaseURL string `yaml:"base_url"`

	// MaxTokens caps each completion; zero uses the adapter default.
	MaxTokens int `yaml:"max_tokens"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig tunes LLM call retries.
type RetryConfig struct {
	Enabled      bool          `yaml:"enabled"`
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// ActorConfig describes the default actor persona and run bounds.
type ActorConfig struct {
	Name         string `yaml:"name"`
	UserName     string `yaml:"user_name"`
	SystemPrompt string `yaml:"system_prompt"`
	MaxSteps     int    `yaml:"max_steps"`
	TokenLimit   int    `yaml:"token_limit"`
}

// StorageConfig selects the memory store backend.
type StorageConfig struct {
	// Path is the SQLite database file; empty selects the in-memory
	// store.
	Path string `yaml:"path"`
}

// LoggingConfig tunes structured log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig exposes Prometheus metrics over HTTP when enabled.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider:  "openai",
			Model:     "gpt-4o-mini",
			APIKeyEnv: "OPENAI_API_KEY",
			Retry: RetryConfig{
				Enabled:      true,
				MaxAttempts:  3,
				InitialDelay: time.Second,
				MaxDelay:     30 * time.Second,
			},
		},
		Actor: ActorConfig{
			Name:       "Ema",
			UserName:   "User",
			MaxSteps:   50,
			TokenLimit: 80000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// Load reads a YAML config file over the defaults. Environment
// variables referenced as ${VAR} or $VAR in the file are expanded
// before parsing.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic", "stub":
	case "":
		return fmt.Errorf("config: llm.provider is required")
	default:
		return fmt.Errorf("config: unknown llm.provider %q", c.LLM.Provider)
	}
	if c.LLM.Provider != "stub" {
		if c.LLM.Model == "" {
			return fmt.Errorf("config: llm.model is required")
		}
		if c.LLM.APIKeyEnv == "" {
			return fmt.Errorf("config: llm.api_key_env is required")
		}
	}
	if c.Actor.MaxSteps < 0 {
		return fmt.Errorf("config: actor.max_steps must not be negative")
	}
	if c.Actor.TokenLimit < 0 {
		return fmt.Errorf("config: actor.token_limit must not be negative")
	}
	return nil
}

// APIKey resolves the configured API key from the environment.
func (c LLMConfig) APIKey() (string, error) {
	if c.APIKeyEnv == "" {
		return "", fmt.Errorf("config: llm.api_key_env is not set")
	}
	key := os.Getenv(c.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("config: environment variable %s is empty", c.APIKeyEnv)
	}
	return key, nil
}

// RetryConfig converts to the retry package's configuration.
func (c RetryConfig) RetryConfig() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.Enabled = c.Enabled
	if c.MaxAttempts > 0 {
		cfg.MaxAttempts = c.MaxAttempts
	}
	if c.InitialDelay > 0 {
		cfg.InitialDelay = c.InitialDelay
	}
	if c.MaxDelay > 0 {
		cfg.MaxDelay = c.MaxDelay
	}
	return cfg
}
