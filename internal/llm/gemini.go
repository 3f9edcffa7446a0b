package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"
)

const (
	defaultGeminiModel = "gemini-1.5-pro"
	geminiProbeModel   = "gemini-1.5-flash"
)

var geminiModels = []Model{
	{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro"},
	{ID: "gemini-1.5-flash", Name: "Gemini 1.5 Flash"},
	{ID: "gemini-pro", Name: "Gemini Pro"},
}

// Gemini generates with the Google Gemini API. The client is created on
// first use because construction needs a context.
type Gemini struct {
	cfg ProviderConfig

	once      sync.Once
	client    *genai.Client
	clientErr error
}

// NewGemini creates a Gemini provider
func NewGemini(cfg ProviderConfig) *Gemini {
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	return &Gemini{cfg: cfg}
}

// Name implements Provider
func (p *Gemini) Name() string { return ProviderGemini }

func (p *Gemini) getClient(ctx context.Context) (*genai.Client, error) {
	if p.cfg.APIKey == "" {
		return nil, errNoAPIKey(ProviderGemini)
	}
	p.once.Do(func() {
		cc := &genai.ClientConfig{APIKey: p.cfg.APIKey, Backend: genai.BackendGeminiAPI}
		if p.cfg.BaseURL != "" {
			cc.HTTPOptions = genai.HTTPOptions{BaseURL: p.cfg.BaseURL}
		}
		p.client, p.clientErr = genai.NewClient(ctx, cc)
	})
	if p.clientErr != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", p.clientErr)
	}
	return p.client, nil
}

// GenerateResponse implements Provider
func (p *Gemini) GenerateResponse(ctx context.Context, systemPrompt, userInput string, history []Message, opts Options) (*Response, error) {
	client, err := p.getClient(ctx)
	if err != nil {
		return nil, err
	}
	model := opts.Model
	if model == "" {
		model = p.cfg.Model
	}

	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(userInput, genai.RoleUser))

	resp, err := client.Models.GenerateContent(ctx, model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(float32(opts.temperature())),
		MaxOutputTokens:   int32(opts.maxTokens()),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	text := resp.Text()
	usage := EstimateUsage(systemPrompt+userInput, text)
	if md := resp.UsageMetadata; md != nil && md.TotalTokenCount > 0 {
		usage = Usage{
			PromptTokens:     int(md.PromptTokenCount),
			CompletionTokens: int(md.CandidatesTokenCount),
			TotalTokens:      int(md.TotalTokenCount),
		}
	}
	return &Response{Content: text, Usage: usage, Model: model}, nil
}

// ExtractKeyEvent implements Provider
func (p *Gemini) ExtractKeyEvent(ctx context.Context, text string) (string, error) {
	client, err := p.getClient(ctx)
	if err != nil {
		return "", err
	}
	resp, err := client.Models.GenerateContent(ctx, geminiProbeModel,
		[]*genai.Content{genai.NewContentFromText(keyEventPrompt(text), genai.RoleUser)},
		&genai.GenerateContentConfig{
			Temperature:     genai.Ptr(float32(keyEventTemperature)),
			MaxOutputTokens: keyEventMaxTokens,
		})
	if err != nil {
		return "", fmt.Errorf("gemini key event: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

// TestConnection implements Provider
func (p *Gemini) TestConnection(ctx context.Context) Status {
	status := Status{Provider: ProviderGemini}
	client, err := p.getClient(ctx)
	if err != nil {
		status.Message = err.Error()
		return status
	}
	if _, err := client.Models.GenerateContent(ctx, p.cfg.Model,
		[]*genai.Content{genai.NewContentFromText("Hi", genai.RoleUser)},
		&genai.GenerateContentConfig{MaxOutputTokens: 5}); err != nil {
		status.Message = err.Error()
		return status
	}
	status.Success = true
	status.Message = "Connected to Gemini"
	status.Model = p.cfg.Model
	return status
}

// Models implements Provider
func (p *Gemini) Models(context.Context) ([]Model, error) {
	return geminiModels, nil
}
