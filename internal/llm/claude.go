package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
)

const (
	defaultClaudeModel = "claude-3-5-sonnet-20241022"
	claudeProbeModel   = "claude-3-haiku-20240307"
)

var claudeModels = []Model{
	{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet"},
	{ID: "claude-3-opus-20240229", Name: "Claude 3 Opus"},
	{ID: "claude-3-sonnet-20240229", Name: "Claude 3 Sonnet"},
	{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku"},
}

// Claude generates with the Anthropic messages API
type Claude struct {
	client anthropic.Client
	cfg    ProviderConfig
}

// NewClaude creates a Claude provider
func NewClaude(cfg ProviderConfig) *Claude {
	if cfg.Model == "" {
		cfg.Model = defaultClaudeModel
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Claude{client: anthropic.NewClient(opts...), cfg: cfg}
}

// Name implements Provider
func (p *Claude) Name() string { return ProviderClaude }

// GenerateResponse implements Provider
func (p *Claude) GenerateResponse(ctx context.Context, systemPrompt, userInput string, history []Message, opts Options) (*Response, error) {
	if p.cfg.APIKey == "" {
		return nil, errNoAPIKey(ProviderClaude)
	}
	model := opts.Model
	if model == "" {
		model = p.cfg.Model
	}

	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, m := range history {
		if m.Role == RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		} else {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(userInput)))

	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(opts.maxTokens()),
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:    messages,
		Temperature: param.NewOpt(opts.temperature()),
	})
	if err != nil {
		return nil, fmt.Errorf("claude message: %w", err)
	}

	in, out := int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)
	return &Response{
		Content: messageText(msg),
		Model:   string(msg.Model),
		Usage:   Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out},
	}, nil
}

// ExtractKeyEvent implements Provider
func (p *Claude) ExtractKeyEvent(ctx context.Context, text string) (string, error) {
	if p.cfg.APIKey == "" {
		return "", errNoAPIKey(ProviderClaude)
	}
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(claudeProbeModel),
		MaxTokens:   keyEventMaxTokens,
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(keyEventPrompt(text)))},
		Temperature: param.NewOpt(keyEventTemperature),
	})
	if err != nil {
		return "", fmt.Errorf("claude key event: %w", err)
	}
	return strings.TrimSpace(messageText(msg)), nil
}

// TestConnection implements Provider
func (p *Claude) TestConnection(ctx context.Context) Status {
	status := Status{Provider: ProviderClaude}
	if p.cfg.APIKey == "" {
		status.Message = "API key not configured"
		return status
	}
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(claudeProbeModel),
		MaxTokens: 10,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock("Hi"))},
	})
	if err != nil {
		status.Message = err.Error()
		return status
	}
	status.Success = true
	status.Message = "Connected to Claude"
	status.Model = string(msg.Model)
	return status
}

// Models implements Provider
func (p *Claude) Models(context.Context) ([]Model, error) {
	return claudeModels, nil
}

func messageText(msg *anthropic.Message) string {
	var parts []string
	for _, block := range msg.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "")
}
