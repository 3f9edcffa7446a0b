package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKoboldBuildPrompt(t *testing.T) {
	p := NewKoboldCPP(ProviderConfig{})
	got := p.BuildPrompt("Be vivid.", "look around", []Message{
		{Role: RoleUser, Content: "wake up"},
		{Role: RoleAssistant, Content: "You wake."},
	})

	want := "### System:\nBe vivid.\n\n" +
		"### Human:\nwake up\n\n" +
		"### Assistant:\nYou wake.\n\n" +
		"### Human:\nlook around\n\n### Assistant:\n"
	assert.Equal(t, want, got)
}

func TestKoboldGenerateResponse(t *testing.T) {
	var seen koboldRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/generate", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&seen))
		_, _ = w.Write([]byte(`{"results":[{"text":"  Rain falls.  "}]}`))
	}))
	defer srv.Close()

	p := NewKoboldCPP(ProviderConfig{BaseURL: srv.URL})
	resp, err := p.GenerateResponse(context.Background(), "sys", "wait", nil, Options{MaxTokens: 80})
	require.NoError(t, err)

	assert.Equal(t, "Rain falls.", resp.Content)
	assert.Equal(t, koboldModelID, resp.Model)
	assert.Positive(t, resp.Usage.PromptTokens)
	assert.Equal(t, resp.Usage.PromptTokens+resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
	assert.Equal(t, 80, seen.MaxLength)
	assert.Equal(t, koboldStops, seen.StopSequence)
	assert.True(t, strings.HasSuffix(seen.Prompt, "### Assistant:\n"))
}

func TestKoboldErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewKoboldCPP(ProviderConfig{BaseURL: srv.URL})
	_, err := p.GenerateResponse(context.Background(), "sys", "wait", nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestKoboldModelsAndConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/model", r.URL.Path)
		_, _ = w.Write([]byte(`{"result":"koboldcpp/mythomax-13b"}`))
	}))
	defer srv.Close()

	p := NewKoboldCPP(ProviderConfig{BaseURL: srv.URL})
	status := p.TestConnection(context.Background())
	assert.True(t, status.Success)
	assert.Equal(t, "koboldcpp/mythomax-13b", status.Model)

	models, err := p.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Model{{ID: "local", Name: "koboldcpp/mythomax-13b"}}, models)
}

func TestKoboldModelsFallback(t *testing.T) {
	p := NewKoboldCPP(ProviderConfig{BaseURL: "http://127.0.0.1:1"})
	models, err := p.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Local Model (KoboldCPP)", models[0].Name)
	assert.False(t, p.TestConnection(context.Background()).Success)
}
