package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newOpenRouterServer(t *testing.T, handler func(req CompletionRequest) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		var req CompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		status, body := handler(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// TestOpenRouterGenerateResponse tests message assembly and usage passthrough
func TestOpenRouterGenerateResponse(t *testing.T) {
	var seen CompletionRequest
	srv := newOpenRouterServer(t, func(req CompletionRequest) (int, string) {
		seen = req
		return http.StatusOK, `{"id":"1","model":"anthropic/claude-3-haiku","choices":[{"index":0,"message":{"role":"assistant","content":"The door creaks open."}}],"usage":{"prompt_tokens":12,"completion_tokens":5,"total_tokens":17}}`
	})

	p := NewOpenRouter(ProviderConfig{APIKey: "test-key", BaseURL: srv.URL + "/"})
	history := []Message{{Role: RoleUser, Content: "knock"}, {Role: RoleAssistant, Content: "silence"}}
	resp, err := p.GenerateResponse(context.Background(), "You narrate.", "open the door", history, Options{})
	if err != nil {
		t.Fatalf("GenerateResponse failed: %v", err)
	}

	if resp.Content != "The door creaks open." {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 17 {
		t.Errorf("TotalTokens = %d, want 17", resp.Usage.TotalTokens)
	}
	if len(seen.Messages) != 4 {
		t.Fatalf("sent %d messages, want 4", len(seen.Messages))
	}
	if seen.Messages[0].Role != "system" || seen.Messages[3].Content != "open the door" {
		t.Errorf("unexpected messages: %+v", seen.Messages)
	}
	if seen.Model != defaultOpenRouterModel {
		t.Errorf("Model = %q, want %q", seen.Model, defaultOpenRouterModel)
	}
	if seen.Temperature != DefaultTemperature || seen.MaxTokens != DefaultMaxTokens {
		t.Errorf("defaults not applied: temp=%v max=%d", seen.Temperature, seen.MaxTokens)
	}
}

// TestOpenRouterEstimatesMissingUsage tests the fallback when usage is absent
func TestOpenRouterEstimatesMissingUsage(t *testing.T) {
	srv := newOpenRouterServer(t, func(CompletionRequest) (int, string) {
		return http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":"abcdefgh"}}]}`
	})

	p := NewOpenRouter(ProviderConfig{APIKey: "test-key", BaseURL: srv.URL})
	resp, err := p.GenerateResponse(context.Background(), "sys", "in", nil, Options{})
	if err != nil {
		t.Fatalf("GenerateResponse failed: %v", err)
	}
	if resp.Usage.CompletionTokens != 2 {
		t.Errorf("CompletionTokens = %d, want 2", resp.Usage.CompletionTokens)
	}
}

// TestOpenRouterErrors tests API error, bad status and empty choices
func TestOpenRouterErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"api error", http.StatusBadRequest, `{"error":{"message":"bad model","type":"invalid_request"}}`, "bad model"},
		{"bad status", http.StatusBadGateway, `{}`, "status 502"},
		{"no choices", http.StatusOK, `{"choices":[]}`, "no choices"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newOpenRouterServer(t, func(CompletionRequest) (int, string) { return tt.status, tt.body })
			p := NewOpenRouter(ProviderConfig{APIKey: "test-key", BaseURL: srv.URL})
			_, err := p.GenerateResponse(context.Background(), "sys", "in", nil, Options{})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

// TestOpenRouterRequiresAPIKey tests that no request is made without a key
func TestOpenRouterRequiresAPIKey(t *testing.T) {
	p := NewOpenRouter(ProviderConfig{BaseURL: "http://127.0.0.1:1"})
	if _, err := p.GenerateResponse(context.Background(), "sys", "in", nil, Options{}); err == nil {
		t.Fatal("expected error without API key")
	}
	status := p.TestConnection(context.Background())
	if status.Success {
		t.Error("TestConnection succeeded without API key")
	}
}

// TestOpenRouterExtractKeyEvent tests the key event request parameters
func TestOpenRouterExtractKeyEvent(t *testing.T) {
	srv := newOpenRouterServer(t, func(req CompletionRequest) (int, string) {
		if req.Model != openRouterProbeModel || req.MaxTokens != keyEventMaxTokens || req.Temperature != keyEventTemperature {
			t.Errorf("unexpected key event request: %+v", req)
		}
		return http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":"  The hero found a key.\n"}}]}`
	})

	p := NewOpenRouter(ProviderConfig{APIKey: "test-key", BaseURL: srv.URL})
	event, err := p.ExtractKeyEvent(context.Background(), "The hero found a key under the mat.")
	if err != nil {
		t.Fatalf("ExtractKeyEvent failed: %v", err)
	}
	if event != "The hero found a key." {
		t.Errorf("event = %q", event)
	}
}
