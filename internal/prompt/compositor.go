// Package prompt assembles the system prompt sent to the storyteller model
// from the cards active in a session.
package prompt

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/qninhdt/storycards/internal/apperr"
	"github.com/qninhdt/storycards/internal/cards"
	"github.com/qninhdt/storycards/internal/memory"
)

// BaseInstructions open every system prompt
const BaseInstructions = `You are an interactive storytelling AI. Your role is to create an engaging, immersive narrative experience.

Guidelines:
- Respond to the player's actions with vivid, descriptive prose
- Stay consistent with the established world, characters, and events
- Allow player agency - their choices should matter
- Keep responses focused and around 150-250 words
- End with a clear situation that invites player action
- Never break character or acknowledge you're an AI`

// OpenEnded is appended when no cards are active
const OpenEnded = "Begin an open-ended adventure based on the player's first action."

const (
	// DefaultBudget is the target prompt size in estimated tokens
	DefaultBudget = 4000
	// MaxChainDepth bounds the primary-parent ancestor chain
	MaxChainDepth = 5
	// MaxHints bounds the available-but-inactive hint list
	MaxHints = 5

	companionSuffix = " (traveling with player)"
)

// Composition modes
const (
	ModeEmpty    = "empty"
	ModeFocus    = "focus"
	ModeStandard = "standard"
)

// CardSource looks up cards that are not necessarily active
type CardSource interface {
	Get(ctx context.Context, id int64) (*cards.Card, error)
	All(ctx context.Context) ([]*cards.Card, error)
}

// Request describes one prompt to compose
type Request struct {
	Active   []*cards.Card
	FocusID  int64
	Memory   *memory.StoryMemory
	Standard bool
}

// Composition is a composed prompt together with how it was built
type Composition struct {
	Prompt      string  `json:"prompt"`
	Mode        string  `json:"mode"`
	FocusID     int64   `json:"focus_id,omitempty"`
	AncestorIDs []int64 `json:"ancestor_ids,omitempty"`
	HintIDs     []int64 `json:"hint_ids,omitempty"`
	Degraded    bool    `json:"degraded,omitempty"`
	Tokens      int     `json:"tokens"`
}

// Compositor builds system prompts
type Compositor struct {
	source CardSource
	budget int
	logger *zap.Logger
}

// NewCompositor creates a compositor. A non-positive budget uses DefaultBudget.
func NewCompositor(source CardSource, budget int, logger *zap.Logger) *Compositor {
	if budget <= 0 {
		budget = DefaultBudget
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compositor{source: source, budget: budget, logger: logger}
}

// BuildSystemPrompt returns only the prompt text of Compose
func (c *Compositor) BuildSystemPrompt(ctx context.Context, req Request) (string, error) {
	comp, err := c.Compose(ctx, req)
	if err != nil {
		return "", err
	}
	return comp.Prompt, nil
}

// Compose builds the system prompt for the active cards. With a focus card
// the prompt centers on it; otherwise cards are grouped by type.
func (c *Compositor) Compose(ctx context.Context, req Request) (*Composition, error) {
	deck := cards.NewDeck(req.Active)
	memoryBlock := ""
	if req.Memory != nil {
		memoryBlock = req.Memory.BuildPrompt()
	}

	if deck.Size() == 0 {
		text := BaseInstructions + "\n\n" + OpenEnded
		if memoryBlock != "" {
			text += "\n\n" + memoryBlock
		}
		return &Composition{Prompt: text, Mode: ModeEmpty, Tokens: EstimateTokens(text)}, nil
	}

	if req.Standard {
		text := joinSections(BaseInstructions, standardSections(deck), memoryBlock)
		return &Composition{Prompt: text, Mode: ModeStandard, Tokens: EstimateTokens(text)}, nil
	}

	focus, err := c.pickFocus(ctx, deck, req.FocusID)
	if err != nil {
		return nil, err
	}
	if focus == nil {
		text := joinSections(BaseInstructions, standardSections(deck), memoryBlock)
		return &Composition{Prompt: text, Mode: ModeStandard, Tokens: EstimateTokens(text)}, nil
	}

	all, err := c.source.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load cards: %w", err)
	}
	idx := cards.NewIndex(append(all, focus))

	chain := ancestorChain(idx, focus)
	hints := availableHints(idx, deck, focus, chain)

	layout := &focusLayout{deck: deck, focus: focus, chain: chain, hints: hints, memory: memoryBlock}
	text := layout.render()
	degraded := false
	if EstimateTokens(text) > c.budget {
		layout.compressOthers = true
		text = layout.render()
		degraded = true
	}
	if EstimateTokens(text) > c.budget && len(layout.hints) > 0 {
		layout.hints = nil
		text = layout.render()
	}
	if degraded {
		c.logger.Debug("prompt over budget, compressed secondary cards",
			zap.Int64("focus_id", focus.ID),
			zap.Int("budget", c.budget),
			zap.Int("tokens", EstimateTokens(text)),
		)
	}

	return &Composition{
		Prompt:      text,
		Mode:        ModeFocus,
		FocusID:     focus.ID,
		AncestorIDs: cardIDs(chain),
		HintIDs:     cardIDs(layout.hints),
		Degraded:    degraded,
		Tokens:      EstimateTokens(text),
	}, nil
}

// pickFocus resolves an explicit focus id, falling back to type priority
func (c *Compositor) pickFocus(ctx context.Context, deck *cards.Deck, focusID int64) (*cards.Card, error) {
	if focusID != 0 {
		if card, ok := deck.Get(focusID); ok {
			return card, nil
		}
		card, err := c.source.Get(ctx, focusID)
		switch {
		case err == nil:
			return card, nil
		case apperr.IsCode(err, apperr.CodeNotFound):
			c.logger.Warn("focus card not found, using priority order", zap.Int64("focus_id", focusID))
		default:
			return nil, err
		}
	}
	return deck.Peek(), nil
}

// ancestorChain follows first parents from the focus up to MaxChainDepth
// levels and returns them root first
func ancestorChain(idx *cards.Index, focus *cards.Card) []*cards.Card {
	visited := map[int64]bool{focus.ID: true}
	var chain []*cards.Card
	current := focus
	for range MaxChainDepth {
		pid := current.PrimaryParent()
		if pid == 0 || visited[pid] {
			break
		}
		parent, ok := idx.Get(pid)
		if !ok {
			break
		}
		visited[pid] = true
		chain = append(chain, parent)
		current = parent
	}
	slices.Reverse(chain)
	return chain
}

// availableHints lists inactive cards that share an ancestor with the focus
func availableHints(idx *cards.Index, deck *cards.Deck, focus *cards.Card, chain []*cards.Card) []*cards.Card {
	focusAncestors := idx.AncestorSet(focus.ID, cards.DefaultMaxDepth)
	if len(focusAncestors) == 0 {
		return nil
	}
	inChain := make(map[int64]bool, len(chain))
	for _, c := range chain {
		inChain[c.ID] = true
	}

	var hints []*cards.Card
	for _, candidate := range idx.All() {
		if len(hints) == MaxHints {
			break
		}
		if candidate.ID == focus.ID || deck.Contains(candidate.ID) || inChain[candidate.ID] || focusAncestors[candidate.ID] {
			continue
		}
		for aid := range idx.AncestorSet(candidate.ID, cards.DefaultMaxDepth) {
			if focusAncestors[aid] {
				hints = append(hints, candidate)
				break
			}
		}
	}
	return hints
}

// focusLayout renders a focus-based prompt
type focusLayout struct {
	deck           *cards.Deck
	focus          *cards.Card
	chain          []*cards.Card
	hints          []*cards.Card
	memory         string
	compressOthers bool
}

func (l *focusLayout) render() string {
	inChain := make(map[int64]bool, len(l.chain))
	for _, c := range l.chain {
		inChain[c.ID] = true
	}

	var mood, world, others []string
	for _, c := range l.deck.GetAll() {
		switch {
		case c.ID == l.focus.ID:
		case c.Type == cards.TypeMood:
			mood = append(mood, c.PromptText)
		case inChain[c.ID]:
		case c.Type == cards.TypeWorld:
			world = append(world, c.PromptText)
		case l.compressOthers:
			others = append(others, fmt.Sprintf("%s%s: %s", c.Name, companion(c), Essence(c)))
		default:
			others = append(others, fmt.Sprintf("%s%s:\n%s", c.Name, companion(c), c.PromptText))
		}
	}

	var sections []string
	if len(mood) > 0 {
		sections = append(sections, "=== TONE & ATMOSPHERE ===\n"+strings.Join(mood, "\n\n"))
	}
	if len(world) > 0 {
		sections = append(sections, "=== WORLD RULES & LORE ===\n"+strings.Join(world, "\n\n"))
	}
	if len(l.chain) > 0 {
		lines := make([]string, 0, len(l.chain))
		for _, c := range l.chain {
			lines = append(lines, fmt.Sprintf("- %s (%s): %s", c.Name, c.Type, Essence(c)))
		}
		sections = append(sections, "=== CONTEXT ===\n"+strings.Join(lines, "\n"))
	}
	sections = append(sections, fmt.Sprintf("=== CURRENT SCENE: %s%s (%s) ===\n%s",
		l.focus.Name, companion(l.focus), l.focus.Type, l.focus.PromptText))
	if len(others) > 0 {
		sections = append(sections, "=== ALSO PRESENT ===\n"+strings.Join(others, "\n\n"))
	}
	if len(l.hints) > 0 {
		lines := make([]string, 0, len(l.hints))
		for _, c := range l.hints {
			lines = append(lines, fmt.Sprintf("- %s (%s)", c.Name, c.Type))
		}
		sections = append(sections, "=== AVAILABLE NEARBY (not in scene) ===\n"+strings.Join(lines, "\n"))
	}

	return joinSections(BaseInstructions, sections, l.memory)
}

// standardSections groups active cards by type in fixed priority order
func standardSections(deck *cards.Deck) []string {
	var sections []string

	if mood := deck.ByType(cards.TypeMood); len(mood) > 0 {
		sections = append(sections, "=== TONE & ATMOSPHERE ===\n"+joinText(mood))
	}
	if world := deck.ByType(cards.TypeWorld); len(world) > 0 {
		sections = append(sections, "=== WORLD RULES & LORE ===\n"+joinText(world))
	}
	locations, times := deck.ByType(cards.TypeLocation), deck.ByType(cards.TypeTime)
	if len(locations) > 0 || len(times) > 0 {
		var parts []string
		if len(locations) > 0 {
			parts = append(parts, "Location:\n"+joinText(locations))
		}
		if len(times) > 0 {
			parts = append(parts, "Time:\n"+joinText(times))
		}
		sections = append(sections, "=== CURRENT SCENE ===\n"+strings.Join(parts, "\n\n"))
	}
	if characters := deck.ByType(cards.TypeCharacter); len(characters) > 0 {
		parts := make([]string, 0, len(characters))
		for _, c := range characters {
			parts = append(parts, fmt.Sprintf("%s%s:\n%s", c.Name, companion(c), c.PromptText))
		}
		sections = append(sections, "=== CHARACTERS IN SCENE ===\n"+strings.Join(parts, "\n\n"))
	}
	return sections
}

func joinSections(base string, sections []string, memoryBlock string) string {
	parts := append([]string{base}, sections...)
	if memoryBlock != "" {
		parts = append(parts, memoryBlock)
	}
	return strings.Join(parts, "\n\n")
}

func joinText(cs []*cards.Card) string {
	texts := make([]string, 0, len(cs))
	for _, c := range cs {
		texts = append(texts, c.PromptText)
	}
	return strings.Join(texts, "\n\n")
}

func companion(c *cards.Card) string {
	if c.Type == cards.TypeCharacter && c.PossessionState {
		return companionSuffix
	}
	return ""
}

func cardIDs(cs []*cards.Card) []int64 {
	if len(cs) == 0 {
		return nil
	}
	out := make([]int64, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.ID)
	}
	return out
}
