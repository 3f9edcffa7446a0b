package seed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qninhdt/storycards/internal/apperr"
	"github.com/qninhdt/storycards/internal/cards"
)

func TestLoadEmbeddedCatalog(t *testing.T) {
	cat, err := Load()
	require.NoError(t, err)
	assert.Len(t, cat.System, 26)
	require.Len(t, cat.Default, 4)

	names := make([]string, 0, len(cat.Default))
	for _, def := range cat.Default {
		names = append(names, def.Name)
	}
	assert.Equal(t, []string{"Medieval Fantasy Setting", "Dark and Mysterious", "Tavern Quarter", "Evening Time"}, names)
	assert.Contains(t, cat.Default[0].Prompt, "Dragons are legendary creatures")
}

func TestParseRejectsUnknownType(t *testing.T) {
	_, err := Parse([]byte("system:\n  - name: Moon\n    type: Planet\n"))
	assert.Error(t, err)
}

func TestSeedIsIdempotent(t *testing.T) {
	store := cards.NewStore(cards.NewMemoryRepository(), nil)
	ctx := context.Background()

	first, err := Seed(ctx, store, nil)
	require.NoError(t, err)
	assert.Equal(t, 30, first.Added)
	assert.Zero(t, first.Skipped)

	second, err := Seed(ctx, store, nil)
	require.NoError(t, err)
	assert.Zero(t, second.Added)
	assert.Equal(t, 30, second.Skipped)

	all, err := store.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 30)
}

func TestSeededCardsAreProtected(t *testing.T) {
	store := cards.NewStore(cards.NewMemoryRepository(), nil)
	ctx := context.Background()
	_, err := Seed(ctx, store, nil)
	require.NoError(t, err)

	list, err := store.List(ctx, cards.Filter{Source: cards.SourceDefault})
	require.NoError(t, err)
	require.Len(t, list, 4)
	for _, c := range list {
		assert.Equal(t, 1, c.KnowledgeLevel)
		assert.Equal(t, c.Rarity.MaxKnowledgeLevel(), c.MaxKnowledgeLevel)
		assert.True(t, apperr.IsCode(store.Delete(ctx, c.ID), apperr.CodeImmutableCard))
	}

	tavern, err := store.List(ctx, cards.Filter{Source: cards.SourceSystem, Tag: "social"})
	require.NoError(t, err)
	assert.NotEmpty(t, tavern)
}

func TestInstallKeepsUserCardWithSameName(t *testing.T) {
	store := cards.NewStore(cards.NewMemoryRepository(), nil)
	ctx := context.Background()
	_, err := store.Create(ctx, cards.Input{Name: "Forest", Type: cards.TypeLocation, Rarity: cards.RarityCommon, PromptText: "mine"})
	require.NoError(t, err)

	cat := &Catalog{System: []CardDef{{Name: "Forest", Type: cards.TypeLocation, Prompt: "Dense woods."}}}
	res, err := cat.Install(ctx, store, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
}
