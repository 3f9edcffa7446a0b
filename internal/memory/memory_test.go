package memory

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// TestRecentEventsBound tests that only the last five events are kept, in order
func TestRecentEventsBound(t *testing.T) {
	m := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 8; i++ {
		m.AddEventAt(fmt.Sprintf("event %d", i), ImportanceNormal, base.Add(time.Duration(i)*time.Second))
	}

	events := m.RecentEvents()
	if len(events) != MaxEvents {
		t.Fatalf("Expected %d events, got %d", MaxEvents, len(events))
	}
	for i, e := range events {
		want := fmt.Sprintf("event %d", i+4)
		if e.Description != want {
			t.Errorf("Expected %q at %d, got %q", want, i, e.Description)
		}
	}
}

// TestCriticalEventsBecomeFacts tests promotion and deduplication
func TestCriticalEventsBecomeFacts(t *testing.T) {
	m := New()
	m.AddEvent("The king dies", ImportanceCritical)
	m.AddEvent("The king dies", ImportanceCritical)
	m.AddEvent("It rains", "")

	facts := m.EstablishedFacts()
	if len(facts) != 1 || facts[0] != "The king dies" {
		t.Errorf("Expected one fact, got %v", facts)
	}
	if got := m.RecentEvents()[2].Importance; got != ImportanceNormal {
		t.Errorf("Expected default importance normal, got %q", got)
	}
}

// TestJSONRoundTrip tests that serialize -> parse -> serialize is a fixed point
func TestJSONRoundTrip(t *testing.T) {
	m := New()
	m.SetLocation("Tavern")
	m.AddEventAt("Met the bard", ImportanceNormal, time.UnixMilli(1700000000000))
	m.AddEventAt("Found the map", ImportanceCritical, time.UnixMilli(1700000001000))
	m.SetQuestProgress("Find the map", 100)

	first, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	restored, err := Parse(first)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	second, err := json.Marshal(restored)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	if diff := cmp.Diff(string(first), string(second)); diff != "" {
		t.Errorf("Round trip mismatch (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(m.Data(), restored.Data()); diff != "" {
		t.Errorf("Data mismatch (-want +got):\n%s", diff)
	}
}

// TestEmptyRoundTrip tests the empty memory and null input
func TestEmptyRoundTrip(t *testing.T) {
	for _, raw := range []string{"", "null", "{}"} {
		m, err := Parse([]byte(raw))
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", raw, err)
		}
		if !m.Empty() {
			t.Errorf("Expected empty memory for %q", raw)
		}
		if m.BuildPrompt() != "" {
			t.Errorf("Expected empty prompt for %q", raw)
		}
	}
}

// TestParseTrimsOversizedRing tests loading data with more than five events
func TestParseTrimsOversizedRing(t *testing.T) {
	raw := `{"recentEvents":[{"description":"1"},{"description":"2"},{"description":"3"},{"description":"4"},{"description":"5"},{"description":"6"}]}`
	m, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	events := m.RecentEvents()
	if len(events) != 5 || events[0].Description != "2" {
		t.Errorf("Expected events 2..6, got %v", events)
	}
}

// TestBuildPromptSections tests section rendering and omission
func TestBuildPromptSections(t *testing.T) {
	m := New()
	m.AddEvent("Crossed the river", ImportanceNormal)

	out := m.BuildPrompt()
	if !strings.HasPrefix(out, "=== STORY MEMORY ===") {
		t.Errorf("Missing header: %q", out)
	}
	if !strings.Contains(out, "Recent Events:\n- Crossed the river") {
		t.Errorf("Missing recent events: %q", out)
	}
	for _, absent := range []string{"Current Location", "Established Facts", "Active Quests"} {
		if strings.Contains(out, absent) {
			t.Errorf("Empty section %q rendered: %q", absent, out)
		}
	}

	m.SetLocation("Old Mill")
	m.SetQuestProgress("Rescue the miller", 40)
	out = m.BuildPrompt()
	if !strings.Contains(out, "Current Location: Old Mill") {
		t.Errorf("Missing location: %q", out)
	}
	if !strings.Contains(out, "- Rescue the miller: 40%") {
		t.Errorf("Missing quest progress: %q", out)
	}
	if strings.Index(out, "Current Location") > strings.Index(out, "Recent Events") {
		t.Error("Location should precede recent events")
	}
}

// TestDataIsCopy tests that callers cannot mutate memory through Data
func TestDataIsCopy(t *testing.T) {
	m := New()
	m.AddEstablishedFact("sky is green")
	d := m.Data()
	d.EstablishedFacts[0] = "changed"
	d.QuestProgress["q"] = 1

	if m.EstablishedFacts()[0] != "sky is green" {
		t.Error("Data leaked a reference to facts")
	}
	if len(m.QuestProgress()) != 0 {
		t.Error("Data leaked a reference to quest progress")
	}
}
