package cli

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/qninhdt/storycards/internal/cards"
	"github.com/qninhdt/storycards/internal/config"
	"github.com/qninhdt/storycards/internal/db"
	"github.com/qninhdt/storycards/internal/llm"
	"github.com/qninhdt/storycards/internal/prompt"
	"github.com/qninhdt/storycards/internal/script"
	"github.com/qninhdt/storycards/internal/session"
	"github.com/qninhdt/storycards/internal/telemetry"
	"github.com/qninhdt/storycards/internal/turn"
)

const serviceName = "storycards"

// app is the wired object graph shared by every command
type app struct {
	cfg          *config.Config
	logger       *zap.Logger
	db           *db.DB
	cards        *cards.Store
	sessions     *session.Service
	llm          *llm.Service
	pipeline     *script.Pipeline
	orchestrator *turn.Orchestrator

	shutdownTracing func(context.Context) error
}

// newApp opens storage and builds the services. provider, when set, replaces
// the configured client of the same name.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, provider llm.Provider) (*app, error) {
	shutdown, err := telemetry.Setup(ctx, cfg.OTelEndpoint, serviceName)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	database, err := db.Open(cfg.DBDriver, cfg.DBPath)
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("open database: %w", err)
	}

	llmSvc, err := llm.NewService(cfg.LLM(), logger.Named("llm"))
	if err != nil {
		database.Close()
		_ = shutdown(ctx)
		return nil, err
	}
	if provider != nil {
		llmSvc.Use(provider)
	}

	store := cards.NewStore(db.NewCardRepo(database), logger.Named("cards"))
	store.SetConditionChecker(script.NewConditions().Compile)
	sessions := session.NewService(db.NewSessionRepo(database), db.NewTurnRepo(database), store, logger.Named("session"))
	pipeline := script.NewPipeline(logger.Named("script"), script.DefaultStages(store, logger.Named("script"))...)
	compositor := prompt.NewCompositor(store, cfg.PromptTokenBudget, logger.Named("prompt"))

	return &app{
		cfg:             cfg,
		logger:          logger,
		db:              database,
		cards:           store,
		sessions:        sessions,
		llm:             llmSvc,
		pipeline:        pipeline,
		orchestrator:    turn.NewOrchestrator(store, sessions, compositor, llmSvc, pipeline, logger.Named("turn")),
		shutdownTracing: shutdown,
	}, nil
}

// Close flushes spans and closes the database
func (a *app) Close(ctx context.Context) error {
	return errors.Join(a.shutdownTracing(ctx), a.db.Close())
}

// open wires the application from the loaded configuration
func (o *options) open(ctx context.Context) (*app, error) {
	return newApp(ctx, o.cfg, o.logger, o.stub)
}

// run opens the application for the duration of fn
func (o *options) run(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	a, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			a.logger.Warn("close", zap.Error(err))
		}
	}()
	return fn(ctx, a)
}
