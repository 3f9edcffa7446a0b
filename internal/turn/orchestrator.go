// Package turn plays story turns: it composes the prompt, asks the LLM for the
// next beat, post-processes it through the script pipeline and persists the
// result.
package turn

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/qninhdt/storycards/internal/apperr"
	"github.com/qninhdt/storycards/internal/cards"
	"github.com/qninhdt/storycards/internal/llm"
	"github.com/qninhdt/storycards/internal/memory"
	"github.com/qninhdt/storycards/internal/prompt"
	"github.com/qninhdt/storycards/internal/script"
	"github.com/qninhdt/storycards/internal/session"
	"github.com/qninhdt/storycards/internal/validation"
)

// HistoryTurns is how many prior turns are replayed to the LLM
const HistoryTurns = 3

const tracerName = "github.com/qninhdt/storycards/internal/turn"

// Generator is the LLM collaborator
type Generator interface {
	GenerateResponse(ctx context.Context, systemPrompt, userInput string, history []llm.Message, opts llm.Options) (*llm.Response, error)
	ExtractKeyEvent(ctx context.Context, text string) (string, error)
}

// CardStore is the card access the orchestrator needs
type CardStore interface {
	GetMany(ctx context.Context, ids []int64) ([]*cards.Card, error)
	Create(ctx context.Context, in cards.Input) (*cards.Card, error)
	IncrementUsage(ctx context.Context, id int64) (*cards.Card, error)
}

// Request is one player turn
type Request struct {
	SessionID int64       `json:"sessionId"`
	Input     string      `json:"playerInput"`
	FocusID   int64       `json:"focusCardId,omitempty"`
	Options   llm.Options `json:"-"`
}

// Result is the outcome of a played turn
type Result struct {
	Response       string              `json:"response"`
	TurnNumber     int                 `json:"turnNumber"`
	TokenUsage     llm.Usage           `json:"tokenUsage"`
	TokenReport    prompt.TokenReport  `json:"tokenReport"`
	ExtractedEvent string              `json:"extractedEvent"`
	Composition    *prompt.Composition `json:"composition"`
	ActiveCards    []int64             `json:"activeCards"`
	NewCards       []*cards.Card       `json:"newCards,omitempty"`
	Pipeline       *script.RunResult   `json:"pipeline,omitempty"`
}

// Preview is the prompt a turn would use, without calling the LLM
type Preview struct {
	SystemPrompt    string              `json:"systemPrompt"`
	Composition     *prompt.Composition `json:"composition"`
	TokenReport     prompt.TokenReport  `json:"tokenReport"`
	ActiveCardCount int                 `json:"activeCardCount"`
}

// Orchestrator coordinates one turn across the card store, compositor,
// LLM, script pipeline and persistence
type Orchestrator struct {
	cards      CardStore
	sessions   *session.Service
	compositor *prompt.Compositor
	generator  Generator
	pipeline   *script.Pipeline
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewOrchestrator creates an orchestrator. A nil pipeline skips
// post-processing.
func NewOrchestrator(cardStore CardStore, sessions *session.Service, compositor *prompt.Compositor,
	generator Generator, pipeline *script.Pipeline, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cards:      cardStore,
		sessions:   sessions,
		compositor: compositor,
		generator:  generator,
		pipeline:   pipeline,
		logger:     logger,
		tracer:     otel.Tracer(tracerName),
	}
}

// Play runs one turn. Nothing is persisted unless generation succeeds; turns
// on the same session are serialized.
func (o *Orchestrator) Play(ctx context.Context, req Request) (*Result, error) {
	if err := validation.ValidateSessionID(req.SessionID); err != nil {
		return nil, err
	}
	if err := validation.ValidatePlayerInput(req.Input); err != nil {
		return nil, err
	}

	ctx, span := o.tracer.Start(ctx, "turn.play", trace.WithAttributes(
		attribute.Int64("session.id", req.SessionID),
	))
	defer span.End()

	defer o.sessions.Lock(req.SessionID)()

	result, err := o.play(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("turn.number", result.TurnNumber),
		attribute.Int("turn.total_tokens", result.TokenUsage.TotalTokens),
	)
	return result, nil
}

func (o *Orchestrator) play(ctx context.Context, req Request) (*Result, error) {
	repo := o.sessions.Repository()
	turns := o.sessions.Turns()

	sess, err := repo.GetByID(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	active, err := o.cards.GetMany(ctx, sess.ActiveCards)
	if err != nil {
		return nil, fmt.Errorf("load active cards: %w", err)
	}
	mem := sess.Memory()

	comp, err := o.compositor.Compose(ctx, prompt.Request{Active: active, FocusID: req.FocusID, Memory: mem})
	if err != nil {
		return nil, err
	}

	past, err := turns.GetBySessionID(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	resp, err := o.generator.GenerateResponse(ctx, comp.Prompt, req.Input, recentHistory(past, HistoryTurns), req.Options)
	if err != nil {
		return nil, apperr.Generation(err)
	}

	event := o.extractEvent(ctx, resp.Content)
	mem.AddEvent(event, memory.ImportanceNormal)

	last, err := turns.GetLastTurnNumber(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("last turn number: %w", err)
	}
	turnNumber := last + 1

	run := o.runPipeline(ctx, sess, active, past, req.Input, resp.Content, turnNumber)

	activeIDs := slices.Clone(sess.ActiveCards)
	questProgress := make(map[string]int, len(sess.QuestProgress))
	for k, v := range sess.QuestProgress {
		questProgress[k] = v
	}
	patch := session.Patch{}

	var created []*cards.Card
	if run != nil {
		activeIDs, created = o.applyEffects(ctx, activeIDs, run)
		state, err := run.Context.State()
		if err != nil {
			o.logger.Warn("encode script state", zap.Int64("session_id", sess.ID), zap.Error(err))
		} else if len(state) > 0 {
			patch.ScriptState = state
		}
		for questID, condition := range script.CompletedQuests(run.Events) {
			questProgress[questID] = 100
			name := condition
			if name == "" {
				name = questID
			}
			mem.SetQuestProgress(name, 100)
		}
		for _, fact := range criticalEvents(run.Events) {
			mem.AddEstablishedFact(fact)
		}
	}

	data := mem.Data()
	patch.ActiveCards = &activeIDs
	patch.StoryMemory = &data
	patch.QuestProgress = &questProgress
	if _, err := repo.Update(ctx, sess.ID, patch); err != nil {
		return nil, err
	}

	if _, err := turns.Create(ctx, &session.Turn{
		SessionID:    sess.ID,
		TurnNumber:   turnNumber,
		PlayerInput:  req.Input,
		LLMResponse:  resp.Content,
		SystemPrompt: comp.Prompt,
		TokenCount:   resp.Usage.TotalTokens,
	}); err != nil {
		return nil, err
	}

	for _, c := range active {
		if _, err := o.cards.IncrementUsage(ctx, c.ID); err != nil {
			o.logger.Warn("increment card usage", zap.Int64("card_id", c.ID), zap.Error(err))
		}
	}

	o.logger.Info("turn played",
		zap.Int64("session_id", sess.ID),
		zap.Int("turn", turnNumber),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.String("focus_mode", comp.Mode),
	)

	return &Result{
		Response:       resp.Content,
		TurnNumber:     turnNumber,
		TokenUsage:     resp.Usage,
		TokenReport:    prompt.Report(comp.Prompt, active),
		ExtractedEvent: event,
		Composition:    comp,
		ActiveCards:    activeIDs,
		NewCards:       created,
		Pipeline:       run,
	}, nil
}

// extractEvent asks the LLM for a one-line summary, falling back to a fixed
// event on failure
func (o *Orchestrator) extractEvent(ctx context.Context, text string) string {
	event, err := o.generator.ExtractKeyEvent(ctx, text)
	if err != nil {
		o.logger.Warn("key event extraction failed", zap.Error(err))
		return llm.FallbackEvent
	}
	event = strings.TrimSpace(event)
	if event == "" {
		return llm.FallbackEvent
	}
	return event
}

// runPipeline post-processes the fresh response. Failures are contained.
func (o *Orchestrator) runPipeline(ctx context.Context, sess *session.Session, active []*cards.Card,
	past []*session.Turn, input, response string, turnNumber int) *script.RunResult {
	if o.pipeline == nil {
		return nil
	}
	sc := script.Context{
		Session:         sess,
		ActiveCards:     active,
		StoryHistory:    past,
		CurrentInput:    input,
		CurrentResponse: response,
		Turn:            turnNumber,
	}
	if err := sc.LoadState(sess.ScriptState); err != nil {
		o.logger.Warn("discarding unreadable script state", zap.Int64("session_id", sess.ID), zap.Error(err))
	}
	run, err := o.pipeline.Run(ctx, sc)
	if err != nil {
		o.logger.Warn("script pipeline skipped", zap.Int64("session_id", sess.ID), zap.Error(err))
		return nil
	}
	return run
}

// applyEffects folds the pipeline's activations, deactivations and new cards
// into the active id list
func (o *Orchestrator) applyEffects(ctx context.Context, activeIDs []int64, run *script.RunResult) ([]int64, []*cards.Card) {
	if len(run.CardsToActivate) > 0 {
		found, err := o.cards.GetMany(ctx, run.CardsToActivate)
		if err != nil {
			o.logger.Warn("resolve activated cards", zap.Error(err))
		}
		for _, c := range found {
			if !slices.Contains(activeIDs, c.ID) {
				activeIDs = append(activeIDs, c.ID)
			}
		}
	}

	var created []*cards.Card
	for _, in := range run.NewCards {
		in.Source = cards.SourceAutoGenerated
		c, err := o.cards.Create(ctx, in)
		if err != nil {
			o.logger.Warn("create generated card", zap.String("name", in.Name), zap.Error(err))
			continue
		}
		created = append(created, c)
		activeIDs = append(activeIDs, c.ID)
	}

	activeIDs = slices.DeleteFunc(activeIDs, func(id int64) bool {
		return slices.Contains(run.CardsToDeactivate, id)
	})
	return activeIDs, created
}

// Preview composes the prompt the next turn would use
func (o *Orchestrator) Preview(ctx context.Context, sessionID, focusID int64) (*Preview, error) {
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	active, err := o.cards.GetMany(ctx, sess.ActiveCards)
	if err != nil {
		return nil, fmt.Errorf("load active cards: %w", err)
	}
	comp, err := o.compositor.Compose(ctx, prompt.Request{Active: active, FocusID: focusID, Memory: sess.Memory()})
	if err != nil {
		return nil, err
	}
	return &Preview{
		SystemPrompt:    comp.Prompt,
		Composition:     comp,
		TokenReport:     prompt.Report(comp.Prompt, active),
		ActiveCardCount: len(active),
	}, nil
}

// History returns a session's turns in order
func (o *Orchestrator) History(ctx context.Context, sessionID int64) ([]*session.Turn, error) {
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	return o.sessions.History(ctx, sessionID)
}

// recentHistory replays the last n turns as user/assistant message pairs
func recentHistory(past []*session.Turn, n int) []llm.Message {
	if len(past) > n {
		past = past[len(past)-n:]
	}
	msgs := make([]llm.Message, 0, 2*len(past))
	for _, t := range past {
		msgs = append(msgs,
			llm.Message{Role: llm.RoleUser, Content: t.PlayerInput},
			llm.Message{Role: llm.RoleAssistant, Content: t.LLMResponse},
		)
	}
	return msgs
}

// criticalEvents returns the critical key events recorded during a run
func criticalEvents(events []script.Event) []string {
	var out []string
	for _, e := range events {
		if e.Type != "key_event_recorded" {
			continue
		}
		if critical, _ := e.Data["critical"].(bool); !critical {
			continue
		}
		if text, _ := e.Data["event"].(string); text != "" {
			out = append(out, text)
		}
	}
	return out
}
