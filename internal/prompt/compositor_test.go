package prompt

import (
	"context"
	"strings"
	"testing"

	"github.com/qninhdt/storycards/internal/cards"
	"github.com/qninhdt/storycards/internal/memory"
)

type fixture struct {
	store *cards.Store
	comp  *Compositor
}

func newFixture(t *testing.T, budget int) *fixture {
	t.Helper()
	store := cards.NewStore(cards.NewMemoryRepository(), nil)
	return &fixture{store: store, comp: NewCompositor(store, budget, nil)}
}

func (f *fixture) card(t *testing.T, in cards.Input) *cards.Card {
	t.Helper()
	c, err := f.store.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Failed to create %q: %v", in.Name, err)
	}
	return c
}

// TestEmptyActiveSet tests the open-ended prompt
func TestEmptyActiveSet(t *testing.T) {
	f := newFixture(t, 0)
	comp, err := f.comp.Compose(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if !strings.HasPrefix(comp.Prompt, BaseInstructions) {
		t.Error("Prompt should start with base instructions")
	}
	if !strings.HasSuffix(comp.Prompt, OpenEnded) {
		t.Errorf("Expected open-ended ending, got %q", comp.Prompt)
	}
	if comp.Mode != ModeEmpty {
		t.Errorf("Expected empty mode, got %s", comp.Mode)
	}
}

// TestFocusByPriority tests that Location beats Mood and tone precedes the scene
func TestFocusByPriority(t *testing.T) {
	f := newFixture(t, 0)
	mood := f.card(t, cards.Input{Name: "Dark", Type: cards.TypeMood, PromptText: "Dark and brooding."})
	tavern := f.card(t, cards.Input{Name: "Tavern", Type: cards.TypeLocation, PromptText: "A crowded tavern full of smoke."})

	comp, err := f.comp.Compose(context.Background(), Request{Active: []*cards.Card{mood, tavern}})
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if comp.FocusID != tavern.ID {
		t.Fatalf("Expected Tavern as focus, got %d", comp.FocusID)
	}

	tone := strings.Index(comp.Prompt, "=== TONE & ATMOSPHERE ===")
	dark := strings.Index(comp.Prompt, "Dark and brooding.")
	scene := strings.Index(comp.Prompt, "=== CURRENT SCENE: Tavern")
	full := strings.Index(comp.Prompt, "A crowded tavern full of smoke.")

	if tone < 0 || dark < tone {
		t.Errorf("Mood text missing from tone section:\n%s", comp.Prompt)
	}
	if scene < 0 || full < scene {
		t.Errorf("Tavern text missing from scene section:\n%s", comp.Prompt)
	}
	if dark > full {
		t.Error("Tone section should come before the focus card")
	}
}

// TestAncestorChainRootFirst tests essences rendered root to focus before the focus
func TestAncestorChainRootFirst(t *testing.T) {
	f := newFixture(t, 0)
	world := f.card(t, cards.Input{Name: "Realm", Type: cards.TypeWorld, PromptText: "Realm essence."})
	city := f.card(t, cards.Input{Name: "City", Type: cards.TypeLocation, PromptText: "City essence.", ParentCardIDs: []int64{world.ID}})
	inn := f.card(t, cards.Input{Name: "Inn", Type: cards.TypeLocation, PromptText: "The inn in full detail.", ParentCardIDs: []int64{city.ID}})

	comp, err := f.comp.Compose(context.Background(), Request{
		Active:  []*cards.Card{world, inn},
		FocusID: inn.ID,
	})
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}

	if len(comp.AncestorIDs) != 2 || comp.AncestorIDs[0] != world.ID || comp.AncestorIDs[1] != city.ID {
		t.Fatalf("Expected chain [%d %d], got %v", world.ID, city.ID, comp.AncestorIDs)
	}

	r := strings.Index(comp.Prompt, "Realm essence.")
	c := strings.Index(comp.Prompt, "City essence.")
	i := strings.Index(comp.Prompt, "The inn in full detail.")
	if r < 0 || c < 0 || i < 0 || !(r < c && c < i) {
		t.Errorf("Expected realm < city < inn, got %d %d %d:\n%s", r, c, i, comp.Prompt)
	}
	if strings.Contains(comp.Prompt, "=== WORLD RULES & LORE ===") {
		t.Error("World card in the chain should be compressed, not rendered as lore")
	}
}

// TestChainFollowsFirstParentOnly tests multi-parent focus cards
func TestChainFollowsFirstParentOnly(t *testing.T) {
	f := newFixture(t, 0)
	a := f.card(t, cards.Input{Name: "A", Type: cards.TypeWorld, PromptText: "a"})
	b := f.card(t, cards.Input{Name: "B", Type: cards.TypeWorld, PromptText: "b"})
	focus := f.card(t, cards.Input{Name: "F", Type: cards.TypeLocation, PromptText: "f", ParentCardIDs: []int64{a.ID, b.ID}})

	comp, err := f.comp.Compose(context.Background(), Request{Active: []*cards.Card{focus}})
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if len(comp.AncestorIDs) != 1 || comp.AncestorIDs[0] != a.ID {
		t.Errorf("Expected chain [%d], got %v", a.ID, comp.AncestorIDs)
	}
}

// TestChainDepthBounded tests the five-level chain limit
func TestChainDepthBounded(t *testing.T) {
	f := newFixture(t, 0)
	prev := f.card(t, cards.Input{Name: "L0", Type: cards.TypeWorld})
	for i := 1; i <= 7; i++ {
		prev = f.card(t, cards.Input{Name: "L", Type: cards.TypeLocation, ParentCardIDs: []int64{prev.ID}})
	}
	comp, err := f.comp.Compose(context.Background(), Request{Active: []*cards.Card{prev}})
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if len(comp.AncestorIDs) != MaxChainDepth {
		t.Errorf("Expected %d ancestors, got %d", MaxChainDepth, len(comp.AncestorIDs))
	}
}

// TestAvailableHints tests inactive siblings listed by name only
func TestAvailableHints(t *testing.T) {
	f := newFixture(t, 0)
	town := f.card(t, cards.Input{Name: "Town", Type: cards.TypeLocation, PromptText: "town"})
	square := f.card(t, cards.Input{Name: "Square", Type: cards.TypeLocation, PromptText: "square", ParentCardIDs: []int64{town.ID}})
	f.card(t, cards.Input{Name: "Blacksmith", Type: cards.TypeLocation, PromptText: "SECRET FORGE TEXT", ParentCardIDs: []int64{town.ID}})
	f.card(t, cards.Input{Name: "Elsewhere", Type: cards.TypeLocation, PromptText: "elsewhere"})

	comp, err := f.comp.Compose(context.Background(), Request{Active: []*cards.Card{square}})
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if !strings.Contains(comp.Prompt, "- Blacksmith (Location)") {
		t.Errorf("Expected Blacksmith hint:\n%s", comp.Prompt)
	}
	if strings.Contains(comp.Prompt, "SECRET FORGE TEXT") {
		t.Error("Hint cards must not be loaded into context")
	}
	if strings.Contains(comp.Prompt, "Elsewhere") {
		t.Error("Unrelated card listed as a hint")
	}
}

// TestAlsoPresentAndCompanion tests secondary cards and the companion suffix
func TestAlsoPresentAndCompanion(t *testing.T) {
	f := newFixture(t, 0)
	loc := f.card(t, cards.Input{Name: "Road", Type: cards.TypeLocation, PromptText: "road"})
	dog := f.card(t, cards.Input{Name: "Rex", Type: cards.TypeCharacter, PromptText: "A loyal dog.", PossessionState: true})

	comp, err := f.comp.Compose(context.Background(), Request{Active: []*cards.Card{loc, dog}})
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if !strings.Contains(comp.Prompt, "=== ALSO PRESENT ===\nRex (traveling with player):\nA loyal dog.") {
		t.Errorf("Unexpected also-present rendering:\n%s", comp.Prompt)
	}
}

// TestStandardPrompt tests the grouped fallback layout
func TestStandardPrompt(t *testing.T) {
	f := newFixture(t, 0)
	active := []*cards.Card{
		f.card(t, cards.Input{Name: "Hero", Type: cards.TypeCharacter, PromptText: "hero text", PossessionState: true}),
		f.card(t, cards.Input{Name: "Night", Type: cards.TypeTime, PromptText: "night text"}),
		f.card(t, cards.Input{Name: "Keep", Type: cards.TypeLocation, PromptText: "keep text"}),
		f.card(t, cards.Input{Name: "Lore", Type: cards.TypeWorld, PromptText: "lore text"}),
		f.card(t, cards.Input{Name: "Grim", Type: cards.TypeMood, PromptText: "grim text"}),
	}

	mem := memory.New()
	mem.SetLocation("Keep")

	comp, err := f.comp.Compose(context.Background(), Request{Active: active, Standard: true, Memory: mem})
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}

	order := []string{"grim text", "lore text", "Location:\nkeep text", "Time:\nnight text", "Hero (traveling with player):\nhero text", "=== STORY MEMORY ==="}
	last := -1
	for _, want := range order {
		i := strings.Index(comp.Prompt, want)
		if i < 0 {
			t.Fatalf("Missing %q in:\n%s", want, comp.Prompt)
		}
		if i < last {
			t.Errorf("%q out of order", want)
		}
		last = i
	}
}

// TestBudgetCompressesSecondaryCards tests degradation when the prompt is too large
func TestBudgetCompressesSecondaryCards(t *testing.T) {
	f := newFixture(t, 200)
	long := strings.Repeat("word ", 300)
	loc := f.card(t, cards.Input{Name: "Hall", Type: cards.TypeLocation, PromptText: "hall"})
	npc := f.card(t, cards.Input{Name: "Bard", Type: cards.TypeCharacter, PromptText: long})

	comp, err := f.comp.Compose(context.Background(), Request{Active: []*cards.Card{loc, npc}})
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if !comp.Degraded {
		t.Error("Expected degraded composition")
	}
	if strings.Contains(comp.Prompt, long) {
		t.Error("Secondary card should be compressed")
	}
	if !strings.Contains(comp.Prompt, "Bard: ") {
		t.Errorf("Expected compressed Bard line:\n%s", comp.Prompt)
	}
}

// TestExplicitFocusMissingFallsBack tests an unknown focus id
func TestExplicitFocusMissingFallsBack(t *testing.T) {
	f := newFixture(t, 0)
	loc := f.card(t, cards.Input{Name: "Hall", Type: cards.TypeLocation, PromptText: "hall"})
	comp, err := f.comp.Compose(context.Background(), Request{Active: []*cards.Card{loc}, FocusID: 999})
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if comp.FocusID != loc.ID {
		t.Errorf("Expected fallback focus %d, got %d", loc.ID, comp.FocusID)
	}
}

// TestEmptyPromptTextIsNotAnError tests cards without text
func TestEmptyPromptTextIsNotAnError(t *testing.T) {
	f := newFixture(t, 0)
	blank := f.card(t, cards.Input{Name: "Blank", Type: cards.TypeMood})
	if _, err := f.comp.Compose(context.Background(), Request{Active: []*cards.Card{blank}}); err != nil {
		t.Errorf("Compose failed: %v", err)
	}
}
