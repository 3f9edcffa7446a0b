package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOpenRouterURL   = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel = "anthropic/claude-3-haiku"
	openRouterProbeModel   = "openai/gpt-3.5-turbo"
)

var openRouterModels = []Model{
	{ID: "tngtech/deepseek-r1t2-chimera:free", Name: "DeepSeek R1T2 Chimera (Free)"},
	{ID: "anthropic/claude-3-5-sonnet", Name: "Claude 3.5 Sonnet"},
	{ID: "anthropic/claude-3-haiku", Name: "Claude 3 Haiku"},
	{ID: "openai/gpt-4-turbo", Name: "GPT-4 Turbo"},
	{ID: "openai/gpt-4o", Name: "GPT-4o"},
	{ID: "openai/gpt-3.5-turbo", Name: "GPT-3.5 Turbo"},
	{ID: "google/gemini-pro-1.5", Name: "Gemini Pro 1.5"},
	{ID: "meta-llama/llama-3.1-70b-instruct", Name: "Llama 3.1 70B"},
	{ID: "meta-llama/llama-3.1-8b-instruct", Name: "Llama 3.1 8B"},
	{ID: "mistralai/mixtral-8x7b-instruct", Name: "Mixtral 8x7B"},
	{ID: "mistralai/mistral-7b-instruct", Name: "Mistral 7B"},
	{ID: "deepseek/deepseek-chat", Name: "DeepSeek Chat"},
	{ID: "deepseek/deepseek-r1:free", Name: "DeepSeek R1 (Free)"},
}

// OpenRouter handles communication with the OpenRouter chat completions API
type OpenRouter struct {
	cfg        ProviderConfig
	httpClient *http.Client
}

// NewOpenRouter creates an OpenRouter provider
func NewOpenRouter(cfg ProviderConfig) *OpenRouter {
	if cfg.Model == "" {
		cfg.Model = defaultOpenRouterModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenRouterURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OpenRouter{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// CompletionRequest is the request to the OpenRouter API
type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// CompletionResponse is the response from the OpenRouter API
type CompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int     `json:"index"`
		Message Message `json:"message"`
		Reason  string  `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Name implements Provider
func (p *OpenRouter) Name() string { return ProviderOpenRouter }

// CreateCompletion calls the chat completions endpoint
func (p *OpenRouter) CreateCompletion(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if p.cfg.APIKey == "" {
		return nil, errNoAPIKey(ProviderOpenRouter)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("HTTP-Referer", "https://storycards.local")
	httpReq.Header.Set("X-Title", "Story Cards")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var completion CompletionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return nil, fmt.Errorf("failed to parse response (status %d): %w", resp.StatusCode, err)
	}
	if completion.Error != nil {
		return nil, fmt.Errorf("API error: %s (%s)", completion.Error.Message, completion.Error.Type)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(respBody))
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	return &completion, nil
}

// GenerateResponse implements Provider
func (p *OpenRouter) GenerateResponse(ctx context.Context, systemPrompt, userInput string, history []Message, opts Options) (*Response, error) {
	model := opts.Model
	if model == "" {
		model = p.cfg.Model
	}
	messages := make([]Message, 0, len(history)+2)
	messages = append(messages, Message{Role: "system", Content: systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, Message{Role: RoleUser, Content: userInput})

	completion, err := p.CreateCompletion(ctx, &CompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: opts.temperature(),
		MaxTokens:   opts.maxTokens(),
	})
	if err != nil {
		return nil, err
	}

	content := completion.Choices[0].Message.Content
	usage := completion.Usage
	if usage.TotalTokens == 0 {
		usage = EstimateUsage(systemPrompt+userInput, content)
	}
	return &Response{Content: content, Usage: usage, Model: completion.Model}, nil
}

// ExtractKeyEvent implements Provider
func (p *OpenRouter) ExtractKeyEvent(ctx context.Context, text string) (string, error) {
	completion, err := p.CreateCompletion(ctx, &CompletionRequest{
		Model:       openRouterProbeModel,
		Messages:    []Message{{Role: RoleUser, Content: keyEventPrompt(text)}},
		Temperature: keyEventTemperature,
		MaxTokens:   keyEventMaxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}

// TestConnection implements Provider
func (p *OpenRouter) TestConnection(ctx context.Context) Status {
	status := Status{Provider: ProviderOpenRouter}
	completion, err := p.CreateCompletion(ctx, &CompletionRequest{
		Model:     p.cfg.Model,
		Messages:  []Message{{Role: RoleUser, Content: "Hi"}},
		MaxTokens: 5,
	})
	if err != nil {
		status.Message = err.Error()
		return status
	}
	status.Success = true
	status.Message = "Connected to OpenRouter"
	status.Model = completion.Model
	return status
}

// Models implements Provider
func (p *OpenRouter) Models(context.Context) ([]Model, error) {
	return openRouterModels, nil
}
