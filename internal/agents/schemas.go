package agents

import (
	"strings"

	"github.com/qninhdt/storycards/internal/apperr"
	"github.com/qninhdt/storycards/internal/cards"
)

// CardDraft is one card proposed by the architect. Parent names another
// draft of the same world; empty attaches the card to the world card.
type CardDraft struct {
	Name   string   `json:"name"`
	Type   string   `json:"type"`
	Rarity string   `json:"rarity"`
	Prompt string   `json:"prompt"`
	Parent string   `json:"parent,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}

// WorldDraft is the architect's JSON output
type WorldDraft struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Cards       []CardDraft `json:"cards"`
}

// Validate checks the draft before anything is stored
func (w *WorldDraft) Validate() error {
	if strings.TrimSpace(w.Name) == "" {
		return apperr.Validation("world draft has no name")
	}
	if strings.TrimSpace(w.Description) == "" {
		return apperr.Validation("world draft has no description")
	}
	if len(w.Cards) > MaxDraftCards {
		return apperr.Validation("world draft has %d cards, at most %d allowed", len(w.Cards), MaxDraftCards)
	}

	seen := map[string]bool{strings.ToLower(w.Name): true}
	for _, c := range w.Cards {
		if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Prompt) == "" {
			return apperr.Validation("drafted card %q needs a name and a prompt", c.Name)
		}
		t := cards.Type(c.Type)
		if !t.Valid() || t == cards.TypeWorld {
			return apperr.Validation("drafted card %q has invalid type %q", c.Name, c.Type)
		}
		if c.Rarity != "" && !cards.Rarity(c.Rarity).Valid() {
			return apperr.Validation("drafted card %q has invalid rarity %q", c.Name, c.Rarity)
		}
		key := strings.ToLower(c.Name)
		if seen[key] {
			return apperr.Validation("drafted card name %q is used twice", c.Name)
		}
		seen[key] = true
	}
	return nil
}
