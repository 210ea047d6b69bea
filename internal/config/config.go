// Package config loads harness settings from a TOML or YAML file, applies
// environment overrides and validates the result.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/martinemde/harness/llm"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every setting's environment variable, e.g. HARNESS_MODEL.
const EnvPrefix = "HARNESS_"

// Config holds the settings the CLI needs to build an agent.
type Config struct {
	Model         string `toml:"model" yaml:"model" env:"MODEL" validate:"required"`
	Provider      string `toml:"provider" yaml:"provider" env:"PROVIDER"`
	API           string `toml:"api" yaml:"api" env:"API" validate:"omitempty,oneof=anthropic-messages openai-completions openai-responses gollm"`
	BaseURL       string `toml:"base_url" yaml:"base_url" env:"BASE_URL" validate:"omitempty,url"`
	ThinkingLevel string `toml:"thinking_level" yaml:"thinking_level" env:"THINKING_LEVEL" validate:"oneof=off minimal low medium high xhigh"`
	SystemPrompt  string `toml:"system_prompt" yaml:"system_prompt" env:"SYSTEM_PROMPT"`
	MaxTokens     int    `toml:"max_tokens" yaml:"max_tokens" env:"MAX_TOKENS" validate:"gte=0"`
	MaxRetries    int    `toml:"max_retries" yaml:"max_retries" env:"MAX_RETRIES" validate:"gte=0,lte=10"`
	LoopWindow    int    `toml:"loop_detection_window" yaml:"loop_detection_window" env:"LOOP_DETECTION_WINDOW" validate:"gte=0"`
	SteeringMode  string `toml:"steering_mode" yaml:"steering_mode" env:"STEERING_MODE" validate:"oneof=one-at-a-time all"`
	FollowUpMode  string `toml:"follow_up_mode" yaml:"follow_up_mode" env:"FOLLOW_UP_MODE" validate:"oneof=one-at-a-time all"`
	LogLevel      string `toml:"log_level" yaml:"log_level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	WorkDir       string `toml:"work_dir" yaml:"work_dir" env:"WORK_DIR"`

	// Keys maps provider names to API keys. Environment variables such as
	// ANTHROPIC_API_KEY take precedence.
	Keys map[string]string `toml:"keys" yaml:"keys"`

	environ map[string]string
}

// providerKeyVars names the environment variable holding each provider's key.
var providerKeyVars = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"mistral":   "MISTRAL_API_KEY",
	"deepseek":  "DEEPSEEK_API_KEY",
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Model:         "claude-sonnet-4-5",
		Provider:      "anthropic",
		ThinkingLevel: string(llm.ThinkingOff),
		SteeringMode:  "one-at-a-time",
		FollowUpMode:  "one-at-a-time",
		LogLevel:      "info",
		MaxRetries:    2,
		LoopWindow:    10,
	}
}

// Load reads path (if non-empty) over the defaults, then applies HARNESS_*
// environment overrides and validates.
func Load(path string) (*Config, error) {
	return load(path, nil)
}

// load is Load with an explicit environment; nil means the process
// environment.
func load(path string, environ map[string]string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if environ == nil {
		environ = env.ToMap(os.Environ())
	}
	cfg.environ = environ
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if cfg.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		cfg.WorkDir = wd
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(cfg *Config, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to decode YAML config %s: %w", path, err)
		}
	case ".toml", "":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("failed to decode TOML config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field constraint.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// APIKey returns the key for provider, preferring its environment variable
// over the file's keys table. A missing key is not an error. Its signature
// matches agentloop.AgentOptions.GetAPIKey.
func (c *Config) APIKey(_ context.Context, provider string) (string, error) {
	provider = strings.ToLower(provider)
	if name, ok := providerKeyVars[provider]; ok {
		if v := c.lookupEnv(name); v != "" {
			return v, nil
		}
	}
	return c.Keys[provider], nil
}

func (c *Config) lookupEnv(name string) string {
	if c.environ != nil {
		return c.environ[name]
	}
	return os.Getenv(name)
}

// ResolveModel finds the configured model in the catalog. A model the
// catalog does not know is accepted when API names its wire family. BaseURL
// overrides the catalog endpoint.
func (c *Config) ResolveModel() (llm.Model, error) {
	model, ok := llm.GetModel(c.Provider, c.Model)
	if !ok {
		if c.API == "" {
			return llm.Model{}, fmt.Errorf("unknown model %q for provider %q; set api to use an uncatalogued model", c.Model, c.Provider)
		}
		model = llm.Model{
			ID:       c.Model,
			Name:     c.Model,
			API:      c.API,
			Provider: c.Provider,
			Input:    []string{"text"},
		}
	}
	if c.API != "" {
		model.API = c.API
	}
	if c.BaseURL != "" {
		model.BaseURL = c.BaseURL
	}
	return model, nil
}
