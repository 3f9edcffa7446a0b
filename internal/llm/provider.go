// Package llm talks to the language-model vendors that narrate story turns.
// Every vendor implements Provider; Service picks the active one.
package llm

import (
	"context"
	"fmt"
	"unicode/utf8"
)

// Provider names
const (
	ProviderOpenAI     = "openai"
	ProviderClaude     = "claude"
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
	ProviderKoboldCPP  = "koboldcpp"
)

// ProviderNames lists the supported providers
var ProviderNames = []string{ProviderOpenAI, ProviderClaude, ProviderGemini, ProviderOpenRouter, ProviderKoboldCPP}

const (
	// DefaultTemperature is used for story generation when none is given
	DefaultTemperature = 0.9
	// DefaultMaxTokens is used for story generation when none is given
	DefaultMaxTokens = 500

	keyEventTemperature = 0.3
	keyEventMaxTokens   = 50
)

// FallbackEvent is recorded when no key event could be extracted
const FallbackEvent = "Story continued"

// Conversation roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one prior exchange in the conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token consumption, estimated when the vendor does not
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a generated story continuation
type Response struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
	Model   string `json:"model,omitempty"`
}

// Options tune one generation call. Zero values use provider defaults.
type Options struct {
	Model       string
	Temperature *float64
	MaxTokens   int
}

func (o Options) temperature() float64 {
	if o.Temperature != nil {
		return *o.Temperature
	}
	return DefaultTemperature
}

func (o Options) maxTokens() int {
	if o.MaxTokens > 0 {
		return o.MaxTokens
	}
	return DefaultMaxTokens
}

// Status is the result of a connection test
type Status struct {
	Provider string `json:"provider"`
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Model    string `json:"model,omitempty"`
}

// Model is a selectable model of a provider
type Model struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Provider is one LLM vendor backend
type Provider interface {
	Name() string
	GenerateResponse(ctx context.Context, systemPrompt, userInput string, history []Message, opts Options) (*Response, error)
	ExtractKeyEvent(ctx context.Context, text string) (string, error)
	TestConnection(ctx context.Context) Status
	Models(ctx context.Context) ([]Model, error)
}

// ProviderConfig configures one provider
type ProviderConfig struct {
	APIKey  string `json:"api_key,omitempty"`
	Model   string `json:"model,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
}

// merge returns c with the non-empty fields of o applied
func (c ProviderConfig) merge(o ProviderConfig) ProviderConfig {
	if o.APIKey != "" {
		c.APIKey = o.APIKey
	}
	if o.Model != "" {
		c.Model = o.Model
	}
	if o.BaseURL != "" {
		c.BaseURL = o.BaseURL
	}
	return c
}

// New builds the named provider
func New(name string, cfg ProviderConfig) (Provider, error) {
	switch name {
	case ProviderOpenAI:
		return NewOpenAI(cfg), nil
	case ProviderClaude:
		return NewClaude(cfg), nil
	case ProviderGemini:
		return NewGemini(cfg), nil
	case ProviderOpenRouter:
		return NewOpenRouter(cfg), nil
	case ProviderKoboldCPP:
		return NewKoboldCPP(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
}

// keyEventPrompt asks for a one-line summary of a story turn
func keyEventPrompt(text string) string {
	return fmt.Sprintf(`Summarize the key event from this story turn in one brief sentence (10 words or less):

%s

Focus on: location changes, important discoveries, quest milestones, character relationships.
Output only the event description, nothing else.`, text)
}

// estimateTokens approximates tokens at four characters per token
func estimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// EstimateUsage builds a usage report from prompt and completion text
func EstimateUsage(prompt, completion string) Usage {
	p, c := estimateTokens(prompt), estimateTokens(completion)
	return Usage{PromptTokens: p, CompletionTokens: c, TotalTokens: p + c}
}

func errNoAPIKey(provider string) error {
	return fmt.Errorf("%s: api key not configured", provider)
}
