package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name    string
	content string
	event   string
	err     error
	calls   atomic.Int32
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) GenerateResponse(_ context.Context, _, _ string, _ []Message, _ Options) (*Response, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return &Response{Content: p.content, Usage: EstimateUsage("x", p.content), Model: "stub"}, nil
}

func (p *stubProvider) ExtractKeyEvent(context.Context, string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return p.event, nil
}

func (p *stubProvider) TestConnection(context.Context) Status {
	return Status{Provider: p.name, Success: p.err == nil}
}

func (p *stubProvider) Models(context.Context) ([]Model, error) {
	return []Model{{ID: "stub", Name: "Stub"}}, nil
}

func TestNewServiceRejectsUnknownProvider(t *testing.T) {
	_, err := NewService(Config{Provider: "llama-farm"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider: llama-farm")
}

func TestServiceConfigHidesKeys(t *testing.T) {
	svc, err := NewService(Config{
		Provider: ProviderOpenRouter,
		Providers: map[string]ProviderConfig{
			ProviderOpenRouter: {APIKey: "sk-secret", Model: "openai/gpt-4o"},
			ProviderKoboldCPP:  {BaseURL: "http://localhost:5001"},
		},
	}, nil)
	require.NoError(t, err)

	view := svc.Config()
	assert.Equal(t, ProviderOpenRouter, view.ActiveProvider)
	assert.Equal(t, "openai/gpt-4o", view.ActiveModel)
	assert.True(t, view.Providers[ProviderOpenRouter].HasAPIKey)
	assert.False(t, view.Providers[ProviderClaude].HasAPIKey)
	assert.Len(t, view.Providers, len(ProviderNames))
	assert.Equal(t, "http://localhost:5001", view.Providers[ProviderKoboldCPP].BaseURL)
}

func TestServiceSetProvider(t *testing.T) {
	svc, err := NewService(Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, svc.ActiveName())

	require.NoError(t, svc.SetProvider(ProviderClaude, ProviderConfig{Model: "claude-3-haiku-20240307"}))
	assert.Equal(t, ProviderClaude, svc.ActiveName())
	assert.Equal(t, "claude-3-haiku-20240307", svc.Config().ActiveModel)

	err = svc.SetProvider("nope", ProviderConfig{})
	require.Error(t, err)
	assert.Equal(t, ProviderClaude, svc.ActiveName())
}

func TestServiceUpdateConfigMerges(t *testing.T) {
	svc, err := NewService(Config{Providers: map[string]ProviderConfig{
		ProviderOpenAI: {APIKey: "k1", Model: "gpt-4"},
	}}, nil)
	require.NoError(t, err)

	require.NoError(t, svc.UpdateConfig(Config{Providers: map[string]ProviderConfig{
		ProviderOpenAI: {Model: "gpt-4o"},
	}}))
	view := svc.Config()
	assert.Equal(t, "gpt-4o", view.ActiveModel)
	assert.True(t, view.Providers[ProviderOpenAI].HasAPIKey)

	require.Error(t, svc.UpdateConfig(Config{Providers: map[string]ProviderConfig{"bogus": {}}}))
	require.Error(t, svc.UpdateConfig(Config{Provider: "bogus"}))
}

func TestServiceGenerateWrapsErrors(t *testing.T) {
	svc, err := NewService(Config{Provider: ProviderOpenRouter}, nil)
	require.NoError(t, err)

	cause := errors.New("rate limited")
	svc.Use(&stubProvider{name: ProviderOpenRouter, err: cause})

	_, err = svc.GenerateResponse(context.Background(), "sys", "in", nil, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.True(t, strings.HasPrefix(err.Error(), "failed to generate response: "))
}

func TestServiceRoutesToActiveProvider(t *testing.T) {
	svc, err := NewService(Config{Provider: ProviderOpenRouter}, nil)
	require.NoError(t, err)

	router := &stubProvider{name: ProviderOpenRouter, content: "from router", event: "Hero arrived"}
	kobold := &stubProvider{name: ProviderKoboldCPP, content: "from kobold"}
	svc.Use(router)
	svc.Use(kobold)

	resp, err := svc.GenerateResponse(context.Background(), "sys", "in", nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "from router", resp.Content)

	event, err := svc.ExtractKeyEvent(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, "Hero arrived", event)

	require.NoError(t, svc.SetProvider(ProviderKoboldCPP, ProviderConfig{}))
	// switching drops the cached client so the stub must be reinstalled
	svc.Use(kobold)
	resp, err = svc.GenerateResponse(context.Background(), "sys", "in", nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "from kobold", resp.Content)
	assert.EqualValues(t, 1, router.calls.Load())
}

func TestServiceStatuses(t *testing.T) {
	svc, err := NewService(Config{
		Provider: ProviderOpenRouter,
		Providers: map[string]ProviderConfig{
			ProviderKoboldCPP: {},
		},
	}, nil)
	require.NoError(t, err)
	svc.Use(&stubProvider{name: ProviderOpenRouter})
	svc.Use(&stubProvider{name: ProviderKoboldCPP, err: errors.New("down")})

	statuses := svc.Statuses(context.Background())
	require.Len(t, statuses, 2)
	assert.Equal(t, ProviderOpenRouter, statuses[0].Provider)
	assert.True(t, statuses[0].Success)
	assert.Equal(t, ProviderKoboldCPP, statuses[1].Provider)
	assert.False(t, statuses[1].Success)
}

func TestServiceModelsUnknown(t *testing.T) {
	svc, err := NewService(Config{}, nil)
	require.NoError(t, err)
	_, err = svc.Models(context.Background(), "bogus")
	require.Error(t, err)

	models, err := svc.Models(context.Background(), ProviderClaude)
	require.NoError(t, err)
	assert.Equal(t, claudeModels, models)
}

func TestOpenAICompatibleEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-test",` +
			`"choices":[{"index":0,"message":{"role":"assistant","content":"A wolf howls."},"finish_reason":"stop"}],` +
			`"usage":{"prompt_tokens":9,"completion_tokens":4,"total_tokens":13}}`))
	}))
	defer srv.Close()

	p := NewOpenAI(ProviderConfig{APIKey: "test", BaseURL: srv.URL + "/v1/"})
	resp, err := p.GenerateResponse(context.Background(), "sys", "listen", nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "A wolf howls.", resp.Content)
	assert.Equal(t, "gpt-test", resp.Model)
	assert.Equal(t, Usage{PromptTokens: 9, CompletionTokens: 4, TotalTokens: 13}, resp.Usage)
}

func TestClaudeMessagesEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"m1","type":"message","role":"assistant","model":"claude-test",` +
			`"content":[{"type":"text","text":"Snow settles."}],"stop_reason":"end_turn",` +
			`"usage":{"input_tokens":6,"output_tokens":3}}`))
	}))
	defer srv.Close()

	p := NewClaude(ProviderConfig{APIKey: "test", BaseURL: srv.URL})
	resp, err := p.GenerateResponse(context.Background(), "sys", "wait", nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "Snow settles.", resp.Content)
	assert.Equal(t, Usage{PromptTokens: 6, CompletionTokens: 3, TotalTokens: 9}, resp.Usage)
}

func TestProvidersWithoutKeys(t *testing.T) {
	for _, name := range []string{ProviderOpenAI, ProviderClaude, ProviderGemini, ProviderOpenRouter} {
		p, err := New(name, ProviderConfig{})
		require.NoError(t, err)
		_, err = p.GenerateResponse(context.Background(), "sys", "in", nil, Options{})
		assert.Error(t, err, name)
		assert.False(t, p.TestConnection(context.Background()).Success, name)
	}
	_, err := New("bogus", ProviderConfig{})
	assert.EqualError(t, err, "unknown provider: bogus")
}
