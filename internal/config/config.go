// Package config loads runtime settings from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/qninhdt/storycards/internal/llm"
)

// Config is the process configuration
type Config struct {
	Port              string `env:"PORT" envDefault:"8080"`
	DBPath            string `env:"DB_PATH" envDefault:"storycards.db"`
	DBDriver          string `env:"DB_DRIVER" envDefault:"sqlite3"`
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info"`
	LogDev            bool   `env:"LOG_DEV"`
	PromptTokenBudget int    `env:"PROMPT_TOKEN_BUDGET" envDefault:"4000"`
	OTelEndpoint      string `env:"OTEL_ENDPOINT"`
	RateLimitRPS      int    `env:"RATE_LIMIT_RPS" envDefault:"100"`

	LLMProvider      string `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey     string `env:"OPENAI_API_KEY"`
	OpenAIModel      string `env:"OPENAI_MODEL" envDefault:"gpt-4-turbo-preview"`
	OpenAIBaseURL    string `env:"OPENAI_BASE_URL"`
	AnthropicAPIKey  string `env:"ANTHROPIC_API_KEY"`
	ClaudeModel      string `env:"CLAUDE_MODEL" envDefault:"claude-3-5-sonnet-20241022"`
	GoogleAPIKey     string `env:"GOOGLE_API_KEY"`
	GeminiModel      string `env:"GEMINI_MODEL" envDefault:"gemini-1.5-pro"`
	OpenRouterAPIKey string `env:"OPENROUTER_API_KEY"`
	OpenRouterModel  string `env:"OPENROUTER_MODEL" envDefault:"anthropic/claude-3-haiku"`
	KoboldCPPURL     string `env:"KOBOLDCPP_URL" envDefault:"http://localhost:5001"`
}

// Load reads the configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges the tags cannot express
func (c *Config) Validate() error {
	if c.PromptTokenBudget < 0 {
		return fmt.Errorf("PROMPT_TOKEN_BUDGET must not be negative")
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be positive")
	}
	return nil
}

// Addr is the HTTP listen address
func (c *Config) Addr() string {
	return ":" + c.Port
}

// LLM returns the provider section
func (c *Config) LLM() llm.Config {
	return llm.Config{
		Provider: c.LLMProvider,
		Providers: map[string]llm.ProviderConfig{
			llm.ProviderOpenAI:     {APIKey: c.OpenAIAPIKey, Model: c.OpenAIModel, BaseURL: c.OpenAIBaseURL},
			llm.ProviderClaude:     {APIKey: c.AnthropicAPIKey, Model: c.ClaudeModel},
			llm.ProviderGemini:     {APIKey: c.GoogleAPIKey, Model: c.GeminiModel},
			llm.ProviderOpenRouter: {APIKey: c.OpenRouterAPIKey, Model: c.OpenRouterModel},
			llm.ProviderKoboldCPP:  {BaseURL: c.KoboldCPPURL},
		},
	}
}
