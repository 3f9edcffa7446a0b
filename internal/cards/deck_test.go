package cards

import "testing"

// TestDeckPeekPriority tests focus priority Location > Character > Time > World > Mood
func TestDeckPeekPriority(t *testing.T) {
	mood := &Card{ID: 1, Type: TypeMood}
	world := &Card{ID: 2, Type: TypeWorld}
	char := &Card{ID: 3, Type: TypeCharacter}
	loc := &Card{ID: 4, Type: TypeLocation}
	tm := &Card{ID: 5, Type: TypeTime}

	d := NewDeck([]*Card{mood, world, char, tm, loc})
	if got := d.Peek(); got.ID != loc.ID {
		t.Errorf("Expected location focus, got %d", got.ID)
	}

	d = NewDeck([]*Card{mood, world, tm, char})
	if got := d.Peek(); got.ID != char.ID {
		t.Errorf("Expected character focus, got %d", got.ID)
	}

	d = NewDeck([]*Card{mood, world, tm})
	if got := d.Peek(); got.ID != tm.ID {
		t.Errorf("Expected time focus, got %d", got.ID)
	}

	if NewDeck(nil).Peek() != nil {
		t.Error("Expected nil focus for empty deck")
	}
}

// TestDeckDeduplicates tests that repeated cards are kept once
func TestDeckDeduplicates(t *testing.T) {
	a := &Card{ID: 1, Type: TypeMood}
	d := NewDeck([]*Card{a, a, nil})
	if d.Size() != 1 {
		t.Errorf("Expected size 1, got %d", d.Size())
	}
	if !d.Contains(1) || d.Contains(2) {
		t.Error("Unexpected membership")
	}
	if ids := d.IDs(); len(ids) != 1 || ids[0] != 1 {
		t.Errorf("Expected ids [1], got %v", ids)
	}
}

// TestTriggerResolver tests activation and deactivation effects
func TestTriggerResolver(t *testing.T) {
	owner := &Card{ID: 10}
	r := NewTriggerResolver([]int64{20})

	eff, err := r.ResolveAll(owner, []Trigger{
		{Type: TriggerOnMention, Condition: "a"},
		{Type: TriggerOnMention, Condition: "b", Action: ActionDeactivate, Target: 20},
		{Type: TriggerOnMention, Condition: "c", Action: ActionDeactivate, Target: 30},
	})
	if err != nil {
		t.Fatalf("ResolveAll failed: %v", err)
	}
	if len(eff.Activate) != 1 || eff.Activate[0] != 10 {
		t.Errorf("Expected activate [10], got %v", eff.Activate)
	}
	if len(eff.Deactivate) != 1 || eff.Deactivate[0] != 20 {
		t.Errorf("Expected deactivate [20], got %v", eff.Deactivate)
	}

	if _, err := r.Resolve(owner, Trigger{Action: "explode"}); err == nil {
		t.Error("Expected error for unknown action")
	}
}
