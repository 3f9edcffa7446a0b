// Package agents drafts new story material with the LLM.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/qninhdt/storycards/internal/apperr"
	"github.com/qninhdt/storycards/internal/cards"
	"github.com/qninhdt/storycards/internal/llm"
)

// MaxDraftCards caps the cards one world draft may add besides the world card
const MaxDraftCards = 12

const (
	architectTemperature = 0.8
	architectMaxTokens   = 2048
)

const architectSystem = `You are The Architect, a world-builder for a card-driven interactive fiction engine.

Each card is a short piece of prompt text that is injected into the storyteller's context. Given a theme, design one
world and the cards a player needs to start a story in it.

Reply with a single JSON object and nothing else:
{
  "name": "<world name>",
  "description": "<2-4 sentences describing the world's essence, written as prompt text>",
  "cards": [
    {"name": "...", "type": "Location|Character|Time|Mood", "rarity": "Common|Bronze|Silver|Gold",
     "prompt": "<1-3 sentences of prompt text>", "parent": "<name of another card, or empty>", "tags": ["..."]}
  ]
}

RULES:
- 5 to 10 cards. At least two Locations, one Character and one Mood.
- "parent" nests a card inside another one, for example a tavern inside a city. Leave it empty for top-level cards.
- Prompt text is written in second person present tense and never mentions cards or games.
- Rarer cards carry more lore; keep most cards Common or Bronze.`

// Generator produces text from the active LLM provider
type Generator interface {
	GenerateResponse(ctx context.Context, systemPrompt, userInput string, history []llm.Message, opts llm.Options) (*llm.Response, error)
}

// CardStore is the subset of the card store the architect writes to
type CardStore interface {
	Create(ctx context.Context, in cards.Input) (*cards.Card, error)
	Delete(ctx context.Context, id int64) error
}

// Result is a generated world
type Result struct {
	World *cards.Card   `json:"world"`
	Cards []*cards.Card `json:"cards"`
	Usage llm.Usage     `json:"usage"`
}

// Architect turns a theme into a linked set of auto-generated cards
type Architect struct {
	gen    Generator
	store  CardStore
	logger *zap.Logger
}

// NewArchitect creates an architect
func NewArchitect(gen Generator, store CardStore, logger *zap.Logger) *Architect {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Architect{gen: gen, store: store, logger: logger}
}

// Draft asks the LLM for a world built around theme
func (a *Architect) Draft(ctx context.Context, theme string) (*WorldDraft, llm.Usage, error) {
	theme = strings.TrimSpace(theme)
	if theme == "" {
		theme = "Surprise me with something creative and unique"
	}
	temperature := architectTemperature
	resp, err := a.gen.GenerateResponse(ctx, architectSystem, "Theme: "+theme, nil, llm.Options{
		Temperature: &temperature,
		MaxTokens:   architectMaxTokens,
	})
	if err != nil {
		return nil, llm.Usage{}, apperr.Generation(err)
	}

	draft, err := ParseDraft(resp.Content)
	if err != nil {
		return nil, resp.Usage, err
	}
	return draft, resp.Usage, nil
}

// ParseDraft extracts and validates a world draft from model output. Code
// fences and prose around the JSON object are ignored.
func ParseDraft(text string) (*WorldDraft, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, apperr.New(apperr.CodeGeneration, "architect reply contains no JSON object")
	}

	var draft WorldDraft
	if err := json.Unmarshal([]byte(text[start:end+1]), &draft); err != nil {
		return nil, apperr.Wrap(apperr.CodeGeneration, "failed to parse world draft", err)
	}
	if err := draft.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.CodeGeneration, err.Error(), err)
	}
	return &draft, nil
}

// Build drafts a world and stores it. Cards are created parents first; on
// failure the cards created so far are removed again.
func (a *Architect) Build(ctx context.Context, theme string) (*Result, error) {
	draft, usage, err := a.Draft(ctx, theme)
	if err != nil {
		return nil, err
	}
	res, err := a.Install(ctx, draft)
	if err != nil {
		return nil, err
	}
	res.Usage = usage
	a.logger.Info("world generated",
		zap.String("world", res.World.Name),
		zap.Int("cards", len(res.Cards)),
		zap.Int("total_tokens", usage.TotalTokens),
	)
	return res, nil
}

// Install stores a validated draft as auto-generated cards
func (a *Architect) Install(ctx context.Context, draft *WorldDraft) (res *Result, err error) {
	var created []*cards.Card
	defer func() {
		if err != nil {
			a.rollback(created)
		}
	}()

	world, err := a.store.Create(ctx, cards.Input{
		Name:       draft.Name,
		Type:       cards.TypeWorld,
		Rarity:     cards.RarityGold,
		Source:     cards.SourceAutoGenerated,
		PromptText: draft.Description,
	})
	if err != nil {
		return nil, fmt.Errorf("create world card: %w", err)
	}
	created = append(created, world)

	byName := map[string]int64{strings.ToLower(draft.Name): world.ID}
	pending := draft.Cards
	for len(pending) > 0 {
		var next []CardDraft
		for _, d := range pending {
			parent, ready := resolveParent(d, byName, draft)
			if !ready {
				next = append(next, d)
				continue
			}
			c, err := a.store.Create(ctx, d.input(parent))
			if err != nil {
				return nil, fmt.Errorf("create card %q: %w", d.Name, err)
			}
			created = append(created, c)
			byName[strings.ToLower(d.Name)] = c.ID
		}
		if len(next) == len(pending) {
			// Parents form a cycle; hang the rest off the world.
			for i := range next {
				next[i].Parent = ""
			}
		}
		pending = next
	}

	return &Result{World: world, Cards: created[1:]}, nil
}

// resolveParent returns the parent id for d. ready is false while the named
// parent is a draft that has not been created yet.
func resolveParent(d CardDraft, byName map[string]int64, draft *WorldDraft) (int64, bool) {
	world := byName[strings.ToLower(draft.Name)]
	name := strings.ToLower(strings.TrimSpace(d.Parent))
	if name == "" || name == strings.ToLower(d.Name) {
		return world, true
	}
	if id, ok := byName[name]; ok {
		return id, true
	}
	for _, other := range draft.Cards {
		if strings.ToLower(other.Name) == name {
			return 0, false
		}
	}
	return world, true
}

func (d CardDraft) input(parent int64) cards.Input {
	rarity := cards.Rarity(d.Rarity)
	if rarity == "" {
		rarity = cards.RarityCommon
	}
	return cards.Input{
		Name:          d.Name,
		Type:          cards.Type(d.Type),
		Rarity:        rarity,
		Source:        cards.SourceAutoGenerated,
		PromptText:    d.Prompt,
		ParentCardIDs: []int64{parent},
		Tags:          d.Tags,
	}
}

// rollback deletes created cards, children first
func (a *Architect) rollback(created []*cards.Card) {
	ctx := context.Background()
	for i := len(created) - 1; i >= 0; i-- {
		if err := a.store.Delete(ctx, created[i].ID); err != nil {
			a.logger.Warn("rollback generated card", zap.Int64("card_id", created[i].ID), zap.Error(err))
		}
	}
}
