// Package seed installs the built-in system and starter cards.
package seed

import (
	"context"
	_ "embed"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/qninhdt/storycards/internal/cards"
)

//go:embed cards.yaml
var cardsYAML []byte

// CardDef is one seed card as written in cards.yaml
type CardDef struct {
	Name   string       `yaml:"name"`
	Type   cards.Type   `yaml:"type"`
	Rarity cards.Rarity `yaml:"rarity"`
	Prompt string       `yaml:"prompt"`
	Tags   []string     `yaml:"tags"`
}

// Catalog is the parsed seed file
type Catalog struct {
	System  []CardDef `yaml:"system"`
	Default []CardDef `yaml:"default"`
}

// CardStore is what seeding needs from the card store
type CardStore interface {
	All(ctx context.Context) ([]*cards.Card, error)
	Create(ctx context.Context, in cards.Input) (*cards.Card, error)
}

// Result counts what a seed run did
type Result struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// Load parses the embedded catalog
func Load() (*Catalog, error) {
	return Parse(cardsYAML)
}

// Parse decodes a catalog and checks every entry names a known type
func Parse(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse seed cards: %w", err)
	}
	for _, set := range [][]CardDef{cat.System, cat.Default} {
		for _, def := range set {
			if def.Name == "" || !def.Type.Valid() {
				return nil, fmt.Errorf("seed card %q has invalid type %q", def.Name, def.Type)
			}
		}
	}
	return &cat, nil
}

// Seed creates every catalog card that does not exist yet. A card exists
// when a card with the same name, type and source is already stored.
func Seed(ctx context.Context, store CardStore, logger *zap.Logger) (Result, error) {
	cat, err := Load()
	if err != nil {
		return Result{}, err
	}
	return cat.Install(ctx, store, logger)
}

// Install writes the catalog into store
func (c *Catalog) Install(ctx context.Context, store CardStore, logger *zap.Logger) (Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	existing, err := store.All(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list cards: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, card := range existing {
		seen[key(card.Name, card.Type, card.Source)] = true
	}

	var res Result
	level := 1
	install := func(defs []CardDef, source cards.Source) error {
		for _, def := range defs {
			k := key(def.Name, def.Type, source)
			if seen[k] {
				res.Skipped++
				continue
			}
			rarity := def.Rarity
			if rarity == "" {
				rarity = cards.RarityCommon
			}
			if _, err := store.Create(ctx, cards.Input{
				Name:           def.Name,
				Type:           def.Type,
				Rarity:         rarity,
				Source:         source,
				PromptText:     def.Prompt,
				KnowledgeLevel: &level,
				Tags:           def.Tags,
			}); err != nil {
				return fmt.Errorf("seed %s card %q: %w", source, def.Name, err)
			}
			seen[k] = true
			res.Added++
		}
		return nil
	}

	if err := install(c.System, cards.SourceSystem); err != nil {
		return res, err
	}
	if err := install(c.Default, cards.SourceDefault); err != nil {
		return res, err
	}
	logger.Info("seeded cards", zap.Int("added", res.Added), zap.Int("skipped", res.Skipped))
	return res, nil
}

func key(name string, typ cards.Type, source cards.Source) string {
	return string(source) + "\x00" + string(typ) + "\x00" + name
}
