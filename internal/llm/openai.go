package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	defaultOpenAIModel = "gpt-4-turbo-preview"
	openAIProbeModel   = "gpt-3.5-turbo"
)

var openAIModels = []Model{
	{ID: "gpt-4-turbo-preview", Name: "GPT-4 Turbo"},
	{ID: "gpt-4", Name: "GPT-4"},
	{ID: "gpt-4o", Name: "GPT-4o"},
	{ID: "gpt-4o-mini", Name: "GPT-4o Mini"},
	{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo"},
}

// OpenAI generates with the OpenAI chat completions API, or any compatible
// endpoint when a base URL is configured
type OpenAI struct {
	client openai.Client
	cfg    ProviderConfig
}

// NewOpenAI creates an OpenAI provider
func NewOpenAI(cfg ProviderConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...), cfg: cfg}
}

// Name implements Provider
func (p *OpenAI) Name() string { return ProviderOpenAI }

// GenerateResponse implements Provider
func (p *OpenAI) GenerateResponse(ctx context.Context, systemPrompt, userInput string, history []Message, opts Options) (*Response, error) {
	if p.cfg.APIKey == "" {
		return nil, errNoAPIKey(ProviderOpenAI)
	}
	model := opts.Model
	if model == "" {
		model = p.cfg.Model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	messages = append(messages, openai.SystemMessage(systemPrompt))
	for _, m := range history {
		if m.Role == RoleAssistant {
			messages = append(messages, openai.AssistantMessage(m.Content))
		} else {
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	messages = append(messages, openai.UserMessage(userInput))

	completion, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    messages,
		Temperature: openai.Float(opts.temperature()),
		MaxTokens:   openai.Int(int64(opts.maxTokens())),
	})
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai completion: no choices in response")
	}

	return &Response{
		Content: completion.Choices[0].Message.Content,
		Model:   completion.Model,
		Usage: Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}, nil
}

// ExtractKeyEvent implements Provider
func (p *OpenAI) ExtractKeyEvent(ctx context.Context, text string) (string, error) {
	if p.cfg.APIKey == "" {
		return "", errNoAPIKey(ProviderOpenAI)
	}
	completion, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(openAIProbeModel),
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(keyEventPrompt(text))},
		Temperature: openai.Float(keyEventTemperature),
		MaxTokens:   openai.Int(keyEventMaxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("openai key event: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("openai key event: no choices in response")
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}

// TestConnection implements Provider
func (p *OpenAI) TestConnection(ctx context.Context) Status {
	status := Status{Provider: ProviderOpenAI}
	if p.cfg.APIKey == "" {
		status.Message = "API key not configured"
		return status
	}
	completion, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(p.cfg.Model),
		Messages:  []openai.ChatCompletionMessageParamUnion{openai.UserMessage("Hi")},
		MaxTokens: openai.Int(5),
	})
	if err != nil {
		status.Message = err.Error()
		return status
	}
	status.Success = true
	status.Message = "Connected to OpenAI"
	status.Model = completion.Model
	return status
}

// Models implements Provider. With an API key the live model list is used,
// falling back to the built-in list on error.
func (p *OpenAI) Models(ctx context.Context) ([]Model, error) {
	if p.cfg.APIKey == "" {
		return openAIModels, nil
	}
	page, err := p.client.Models.List(ctx)
	if err != nil {
		return openAIModels, nil
	}
	var out []Model
	for _, m := range page.Data {
		if strings.HasPrefix(m.ID, "gpt-") {
			out = append(out, Model{ID: m.ID, Name: m.ID})
		}
	}
	if len(out) == 0 {
		return openAIModels, nil
	}
	return out, nil
}
