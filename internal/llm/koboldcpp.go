package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultKoboldURL = "http://localhost:5001"
	koboldModelID    = "local"
)

var koboldStops = []string{"### Human:", "### User:", "\n\n###"}

// KoboldCPP generates with a local KoboldCPP server. Token usage is
// estimated because the server does not report it.
type KoboldCPP struct {
	cfg        ProviderConfig
	httpClient *http.Client
}

// NewKoboldCPP creates a KoboldCPP provider
func NewKoboldCPP(cfg ProviderConfig) *KoboldCPP {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultKoboldURL
	}
	if cfg.Model == "" {
		cfg.Model = koboldModelID
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &KoboldCPP{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

type koboldRequest struct {
	Prompt       string   `json:"prompt"`
	MaxLength    int      `json:"max_length"`
	Temperature  float64  `json:"temperature"`
	TopP         float64  `json:"top_p,omitempty"`
	RepPen       float64  `json:"rep_pen,omitempty"`
	StopSequence []string `json:"stop_sequence"`
}

type koboldResponse struct {
	Results []struct {
		Text string `json:"text"`
	} `json:"results"`
}

// Name implements Provider
func (p *KoboldCPP) Name() string { return ProviderKoboldCPP }

func (p *KoboldCPP) generate(ctx context.Context, req koboldRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/api/v1/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("koboldcpp: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("koboldcpp error: %d", resp.StatusCode)
	}
	var out koboldResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(out.Results) == 0 {
		return "", nil
	}
	return out.Results[0].Text, nil
}

// BuildPrompt renders a conversation in the instruct format the server expects
func (p *KoboldCPP) BuildPrompt(systemPrompt, userInput string, history []Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### System:\n%s\n\n", systemPrompt)
	for _, m := range history {
		switch m.Role {
		case RoleUser:
			fmt.Fprintf(&b, "### Human:\n%s\n\n", m.Content)
		case RoleAssistant:
			fmt.Fprintf(&b, "### Assistant:\n%s\n\n", m.Content)
		}
	}
	fmt.Fprintf(&b, "### Human:\n%s\n\n### Assistant:\n", userInput)
	return b.String()
}

// GenerateResponse implements Provider
func (p *KoboldCPP) GenerateResponse(ctx context.Context, systemPrompt, userInput string, history []Message, opts Options) (*Response, error) {
	prompt := p.BuildPrompt(systemPrompt, userInput, history)
	text, err := p.generate(ctx, koboldRequest{
		Prompt:       prompt,
		MaxLength:    opts.maxTokens(),
		Temperature:  opts.temperature(),
		TopP:         0.9,
		RepPen:       1.1,
		StopSequence: koboldStops,
	})
	if err != nil {
		return nil, err
	}
	return &Response{
		Content: strings.TrimSpace(text),
		Usage:   EstimateUsage(prompt, text),
		Model:   koboldModelID,
	}, nil
}

// ExtractKeyEvent implements Provider
func (p *KoboldCPP) ExtractKeyEvent(ctx context.Context, text string) (string, error) {
	prompt := "### System:\nYou are a helpful assistant that summarizes story events in one brief sentence.\n\n" +
		"### Human:\n" + keyEventPrompt(text) + "\n\n### Assistant:\n"
	out, err := p.generate(ctx, koboldRequest{
		Prompt:       prompt,
		MaxLength:    keyEventMaxTokens,
		Temperature:  keyEventTemperature,
		StopSequence: []string{"\n", "###"},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (p *KoboldCPP) loadedModel(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/api/v1/model", nil)
	if err != nil {
		return "", err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	var body struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.Result == "" {
		return "Local Model", nil
	}
	return body.Result, nil
}

// TestConnection implements Provider
func (p *KoboldCPP) TestConnection(ctx context.Context) Status {
	status := Status{Provider: ProviderKoboldCPP}
	model, err := p.loadedModel(ctx)
	if err != nil {
		status.Message = fmt.Sprintf("connection failed - is KoboldCPP running? (%v)", err)
		return status
	}
	status.Success = true
	status.Message = "Connected to KoboldCPP"
	status.Model = model
	return status
}

// Models implements Provider
func (p *KoboldCPP) Models(ctx context.Context) ([]Model, error) {
	if name, err := p.loadedModel(ctx); err == nil {
		return []Model{{ID: koboldModelID, Name: name}}, nil
	}
	return []Model{{ID: koboldModelID, Name: "Local Model (KoboldCPP)"}}, nil
}
