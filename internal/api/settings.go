package api

import (
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/qninhdt/storycards/internal/apperr"
	"github.com/qninhdt/storycards/internal/llm"
	"github.com/qninhdt/storycards/internal/script"
	"github.com/qninhdt/storycards/internal/validation"
)

// MaxLogLimit bounds the limit query parameter of the script log endpoint
const MaxLogLimit = script.MaxLogEntries

// listScripts lists pipeline stages in execution order
func (s *Server) listScripts(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, s.pipeline.Stages())
}

// updateScript toggles or reorders a stage
func (s *Server) updateScript(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := validation.ValidateStageName(name); err != nil {
		s.fail(w, r, err)
		return
	}
	var settings script.Settings
	if err := decode(r, &settings); err != nil {
		s.fail(w, r, err)
		return
	}
	if !s.pipeline.UpdateSettings(name, settings) {
		s.fail(w, r, apperr.NotFound("script", name))
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"name":    name,
		"enabled": s.pipeline.IsEnabled(name),
	})
}

// scriptLogs returns execution log entries, filtered by turn or limited to
// the newest
func (s *Server) scriptLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if turnID := q.Get("turn"); turnID != "" {
		writeData(w, http.StatusOK, s.pipeline.LogsForTurn(turnID))
		return
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > MaxLogLimit {
			s.fail(w, r, apperr.Validation("limit must be between 1 and %d", MaxLogLimit))
			return
		}
		writeData(w, http.StatusOK, s.pipeline.RecentLogs(n))
		return
	}
	writeData(w, http.StatusOK, s.pipeline.Logs())
}

// clearScriptLogs empties the execution log
func (s *Server) clearScriptLogs(w http.ResponseWriter, r *http.Request) {
	s.pipeline.ClearLogs()
	writeData(w, http.StatusOK, map[string]bool{"cleared": true})
}

type llmSettingsRequest struct {
	Provider  string                        `json:"provider"`
	Model     string                        `json:"model"`
	APIKey    string                        `json:"api_key"`
	BaseURL   string                        `json:"base_url"`
	Providers map[string]llm.ProviderConfig `json:"providers"`
}

// getLLMSettings returns the provider configuration without secrets
func (s *Server) getLLMSettings(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, s.llm.Config())
}

// updateLLMSettings switches provider and merges provider settings
func (s *Server) updateLLMSettings(w http.ResponseWriter, r *http.Request) {
	var req llmSettingsRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Provider != "" {
		if err := validateProvider(req.Provider); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	for name := range req.Providers {
		if err := validateProvider(name); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	if len(req.Providers) > 0 {
		if err := s.llm.UpdateConfig(llm.Config{Providers: req.Providers}); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if req.Provider != "" {
		override := llm.ProviderConfig{APIKey: req.APIKey, Model: req.Model, BaseURL: req.BaseURL}
		if err := s.llm.SetProvider(req.Provider, override); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	writeData(w, http.StatusOK, s.llm.Config())
}

// testLLM probes a provider, the active one by default
func (s *Server) testLLM(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("provider")
	if name != "" {
		if err := validateProvider(name); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	writeData(w, http.StatusOK, s.llm.TestConnection(r.Context(), name))
}

// listModels lists a provider's models, the active one by default
func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("provider")
	if name != "" {
		if err := validateProvider(name); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	models, err := s.llm.Models(r.Context(), name)
	if err != nil {
		s.fail(w, r, apperr.Wrap(apperr.CodeGeneration, "failed to list models", err))
		return
	}
	writeData(w, http.StatusOK, models)
}

// llmStatuses probes every configured provider
func (s *Server) llmStatuses(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, s.llm.Statuses(r.Context()))
}

func validateProvider(name string) error {
	if !slices.Contains(llm.ProviderNames, name) {
		return apperr.Validation("unknown provider: %s", name)
	}
	return nil
}
