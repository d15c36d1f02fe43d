package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dylangamachefl/portfolio-website-v3/retry"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port           int `yaml:"port"`
		MaxSessions    int `yaml:"max_sessions"`
		SessionIdleMin int `yaml:"session_idle_min"`
		TurnTimeoutSec int `yaml:"turn_timeout_sec"`
	} `yaml:"server"`
	LLM struct {
		Provider          string `yaml:"provider"`
		Model             string `yaml:"model"`
		BaseURL           string `yaml:"base_url"`
		APIKeyEnv         string `yaml:"api_key_env"`
		APIKey            string `yaml:"-"`
		RequestTimeoutSec int    `yaml:"request_timeout_sec"`
	} `yaml:"llm"`
	Retry struct {
		MaxRetries        int     `yaml:"max_retries"`
		InitialDelayMs    int     `yaml:"initial_delay_ms"`
		MaxDelayMs        int     `yaml:"max_delay_ms"`
		BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	} `yaml:"retry"`
	Profile struct {
		Path string `yaml:"path"`
	} `yaml:"profile"`
	Transcripts struct {
		Dir string `yaml:"dir"`
	} `yaml:"transcripts"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

func Default() Config {
	var cfg Config
	cfg.Server.Port = 8080
	cfg.Server.MaxSessions = 500
	cfg.Server.SessionIdleMin = 30
	cfg.Server.TurnTimeoutSec = 180
	cfg.LLM.Provider = ProviderGemini
	cfg.LLM.Model = "gemma-3-27b-it"
	cfg.LLM.APIKeyEnv = "GEMINI_API_KEY"
	cfg.LLM.RequestTimeoutSec = 120
	p := retry.DefaultPolicy()
	cfg.Retry.MaxRetries = p.MaxRetries
	cfg.Retry.InitialDelayMs = int(p.InitialDelay / time.Millisecond)
	cfg.Retry.MaxDelayMs = int(p.MaxDelay / time.Millisecond)
	cfg.Retry.BackoffMultiplier = p.Multiplier
	cfg.Log.Level = "info"
	return cfg
}

// Load decodes the YAML file at path over Default and reads the API key
// from the environment. A missing key is not an error; the endpoint reports it.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default when path does not exist.
func LoadOrDefault(path string) (Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = Default()
		cfg.applyEnv()
		return cfg, nil
	}
	return cfg, err
}

func (c *Config) applyEnv() {
	envName := c.LLM.APIKeyEnv
	if envName == "" {
		envName = "GEMINI_API_KEY"
	}
	c.LLM.APIKey = os.Getenv(envName)
	if p := os.Getenv("PORTFOLIO_LLM_PROVIDER"); p != "" {
		c.LLM.Provider = p
	}
}

func (c Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderGemini, ProviderOpenAI, ProviderMock:
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.BackoffMultiplier <= 1 {
		return fmt.Errorf("retry.backoff_multiplier must be > 1, got %v", c.Retry.BackoffMultiplier)
	}
	if c.Retry.InitialDelayMs < 0 || c.Retry.MaxDelayMs < c.Retry.InitialDelayMs {
		return fmt.Errorf("retry delays must satisfy 0 <= initial_delay_ms <= max_delay_ms")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive")
	}
	return nil
}

// RetryPolicy builds the backoff policy the chat sessions use.
func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries:   c.Retry.MaxRetries,
		InitialDelay: time.Duration(c.Retry.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(c.Retry.MaxDelayMs) * time.Millisecond,
		Multiplier:   c.Retry.BackoffMultiplier,
	}
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.LLM.RequestTimeoutSec) * time.Second
}

func (c Config) SessionIdle() time.Duration {
	return time.Duration(c.Server.SessionIdleMin) * time.Minute
}

func (c Config) TurnTimeout() time.Duration {
	return time.Duration(c.Server.TurnTimeoutSec) * time.Second
}
