package llm

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/qninhdt/storycards/internal/llm"

// Config selects the active provider and configures each provider
type Config struct {
	Provider  string                    `json:"provider"`
	Providers map[string]ProviderConfig `json:"providers"`
}

// ProviderView is the secret-free view of a provider's configuration
type ProviderView struct {
	Model     string `json:"model"`
	BaseURL   string `json:"base_url,omitempty"`
	HasAPIKey bool   `json:"has_api_key"`
}

// ConfigView is the secret-free view of the service configuration
type ConfigView struct {
	ActiveProvider string                  `json:"active_provider"`
	ActiveModel    string                  `json:"active_model"`
	Providers      map[string]ProviderView `json:"providers"`
}

// Service routes generation to the active provider
type Service struct {
	mu        sync.RWMutex
	cfg       Config
	providers map[string]Provider
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewService creates a provider service. An empty provider name selects OpenAI.
func NewService(cfg Config, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderOpenAI
	}
	if !slices.Contains(ProviderNames, cfg.Provider) {
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
	providers := make(map[string]ProviderConfig, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		providers[name] = pc
	}
	cfg.Providers = providers

	return &Service{
		cfg:       cfg,
		providers: make(map[string]Provider),
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
	}, nil
}

// provider returns the cached client for name, building it on first use
func (s *Service) provider(name string) (Provider, error) {
	s.mu.RLock()
	p, ok := s.providers[name]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.providers[name]; ok {
		return p, nil
	}
	p, err := New(name, s.cfg.Providers[name])
	if err != nil {
		return nil, err
	}
	s.providers[name] = p
	return p, nil
}

// Use installs p as the client for its provider name, replacing any cached one
func (s *Service) Use(p Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[p.Name()] = p
}

// ActiveName returns the name of the active provider
func (s *Service) ActiveName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Provider
}

// SetProvider switches the active provider, applying override on top of its
// stored configuration
func (s *Service) SetProvider(name string, override ProviderConfig) error {
	if !slices.Contains(ProviderNames, name) {
		return fmt.Errorf("unknown provider: %s", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Provider = name
	s.cfg.Providers[name] = s.cfg.Providers[name].merge(override)
	delete(s.providers, name)
	s.logger.Info("llm provider selected", zap.String("provider", name))
	return nil
}

// UpdateConfig merges update into the stored configuration. Non-empty fields
// win; a non-empty provider name switches the active provider.
func (s *Service) UpdateConfig(update Config) error {
	if update.Provider != "" && !slices.Contains(ProviderNames, update.Provider) {
		return fmt.Errorf("unknown provider: %s", update.Provider)
	}
	for name := range update.Providers {
		if !slices.Contains(ProviderNames, name) {
			return fmt.Errorf("unknown provider: %s", name)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, pc := range update.Providers {
		s.cfg.Providers[name] = s.cfg.Providers[name].merge(pc)
		delete(s.providers, name)
	}
	if update.Provider != "" {
		s.cfg.Provider = update.Provider
	}
	return nil
}

// Config returns the configuration without API keys
func (s *Service) Config() ConfigView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	view := ConfigView{
		ActiveProvider: s.cfg.Provider,
		Providers:      make(map[string]ProviderView, len(ProviderNames)),
	}
	for _, name := range ProviderNames {
		pc := s.cfg.Providers[name]
		view.Providers[name] = ProviderView{
			Model:     pc.Model,
			BaseURL:   pc.BaseURL,
			HasAPIKey: pc.APIKey != "",
		}
	}
	view.ActiveModel = view.Providers[s.cfg.Provider].Model
	return view
}

func (s *Service) active() (Provider, error) {
	return s.provider(s.ActiveName())
}

// GenerateResponse generates a story continuation with the active provider
func (s *Service) GenerateResponse(ctx context.Context, systemPrompt, userInput string, history []Message, opts Options) (*Response, error) {
	p, err := s.active()
	if err != nil {
		return nil, fmt.Errorf("failed to generate response: %w", err)
	}

	ctx, span := s.tracer.Start(ctx, "llm.generate", trace.WithAttributes(
		attribute.String("llm.provider", p.Name()),
		attribute.Int("llm.history", len(history)),
	))
	defer span.End()

	resp, err := p.GenerateResponse(ctx, systemPrompt, userInput, history, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("llm generation failed", zap.String("provider", p.Name()), zap.Error(err))
		return nil, fmt.Errorf("failed to generate response: %w", err)
	}
	span.SetAttributes(
		attribute.String("llm.model", resp.Model),
		attribute.Int("llm.total_tokens", resp.Usage.TotalTokens),
	)
	return resp, nil
}

// ExtractKeyEvent summarizes a story turn with the active provider
func (s *Service) ExtractKeyEvent(ctx context.Context, text string) (string, error) {
	p, err := s.active()
	if err != nil {
		return "", err
	}

	ctx, span := s.tracer.Start(ctx, "llm.extract_key_event", trace.WithAttributes(
		attribute.String("llm.provider", p.Name()),
	))
	defer span.End()

	event, err := p.ExtractKeyEvent(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("extract key event: %w", err)
	}
	return event, nil
}

// TestConnection probes the named provider, or the active one when name is empty
func (s *Service) TestConnection(ctx context.Context, name string) Status {
	if name == "" {
		name = s.ActiveName()
	}
	p, err := s.provider(name)
	if err != nil {
		return Status{Provider: name, Message: err.Error()}
	}
	return p.TestConnection(ctx)
}

// Models lists the models of the named provider, or the active one when name is empty
func (s *Service) Models(ctx context.Context, name string) ([]Model, error) {
	if name == "" {
		name = s.ActiveName()
	}
	p, err := s.provider(name)
	if err != nil {
		return nil, err
	}
	return p.Models(ctx)
}

// Statuses probes every configured provider concurrently. Results follow
// ProviderNames order.
func (s *Service) Statuses(ctx context.Context) []Status {
	s.mu.RLock()
	var names []string
	for _, name := range ProviderNames {
		if _, ok := s.cfg.Providers[name]; ok || name == s.cfg.Provider {
			names = append(names, name)
		}
	}
	s.mu.RUnlock()

	statuses := make([]Status, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			statuses[i] = s.TestConnection(gctx, name)
			return nil
		})
	}
	_ = g.Wait()
	return statuses
}
