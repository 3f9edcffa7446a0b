// Package memory keeps the bounded rolling narrative memory of a story.
package memory

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
)

// MaxEvents is the size of the recent-event ring
const MaxEvents = 5

// Event importance levels
const (
	ImportanceNormal   = "normal"
	ImportanceCritical = "critical"
)

// Event is one remembered story beat. Timestamp is Unix milliseconds.
type Event struct {
	Description string `json:"description"`
	Importance  string `json:"importance"`
	Timestamp   int64  `json:"timestamp"`
}

// Data is the plain serializable form of a StoryMemory
type Data struct {
	CurrentLocation  *string        `json:"currentLocation"`
	RecentEvents     []Event        `json:"recentEvents"`
	EstablishedFacts []string       `json:"establishedFacts"`
	QuestProgress    map[string]int `json:"questProgress"`
}

// StoryMemory is a bounded summary of what has happened in a story
type StoryMemory struct {
	data Data
}

// New creates an empty story memory
func New() *StoryMemory {
	return FromData(Data{})
}

// FromData reconstructs a story memory from its plain form. The ring bound is
// enforced on load, keeping the newest events.
func FromData(d Data) *StoryMemory {
	m := &StoryMemory{data: Data{
		RecentEvents:     slices.Clone(d.RecentEvents),
		EstablishedFacts: slices.Clone(d.EstablishedFacts),
		QuestProgress:    make(map[string]int, len(d.QuestProgress)),
	}}
	if d.CurrentLocation != nil {
		loc := *d.CurrentLocation
		m.data.CurrentLocation = &loc
	}
	if m.data.RecentEvents == nil {
		m.data.RecentEvents = []Event{}
	}
	if m.data.EstablishedFacts == nil {
		m.data.EstablishedFacts = []string{}
	}
	for k, v := range d.QuestProgress {
		m.data.QuestProgress[k] = v
	}
	if n := len(m.data.RecentEvents); n > MaxEvents {
		m.data.RecentEvents = m.data.RecentEvents[n-MaxEvents:]
	}
	return m
}

// Parse decodes a story memory from JSON. Empty input yields an empty memory.
func Parse(raw []byte) (*StoryMemory, error) {
	if len(strings.TrimSpace(string(raw))) == 0 || string(raw) == "null" {
		return New(), nil
	}
	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("parse story memory: %w", err)
	}
	return FromData(d), nil
}

// Data returns a copy of the plain form
func (m *StoryMemory) Data() Data {
	return FromData(m.data).data
}

// MarshalJSON implements json.Marshaler
func (m *StoryMemory) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.data)
}

// UnmarshalJSON implements json.Unmarshaler
func (m *StoryMemory) UnmarshalJSON(raw []byte) error {
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	m.data = parsed.data
	return nil
}

// AddEvent records an event stamped with the current time
func (m *StoryMemory) AddEvent(description, importance string) {
	m.AddEventAt(description, importance, time.Now())
}

// AddEventAt records an event, evicting the oldest once the ring is full.
// Critical events also become established facts.
func (m *StoryMemory) AddEventAt(description, importance string, at time.Time) {
	if importance == "" {
		importance = ImportanceNormal
	}
	if importance == ImportanceCritical {
		m.AddEstablishedFact(description)
	}

	m.data.RecentEvents = append(m.data.RecentEvents, Event{
		Description: description,
		Importance:  importance,
		Timestamp:   at.UnixMilli(),
	})
	if n := len(m.data.RecentEvents); n > MaxEvents {
		m.data.RecentEvents = slices.Clone(m.data.RecentEvents[n-MaxEvents:])
	}
}

// RecentEvents returns the remembered events, oldest first
func (m *StoryMemory) RecentEvents() []Event {
	return slices.Clone(m.data.RecentEvents)
}

// EstablishedFacts returns the permanent facts in insertion order
func (m *StoryMemory) EstablishedFacts() []string {
	return slices.Clone(m.data.EstablishedFacts)
}

// SetLocation records where the story currently is; empty clears it
func (m *StoryMemory) SetLocation(location string) {
	if location == "" {
		m.data.CurrentLocation = nil
		return
	}
	m.data.CurrentLocation = &location
}

// Location returns the current location, or ""
func (m *StoryMemory) Location() string {
	if m.data.CurrentLocation == nil {
		return ""
	}
	return *m.data.CurrentLocation
}

// AddEstablishedFact appends a fact unless it is already known
func (m *StoryMemory) AddEstablishedFact(fact string) {
	if fact == "" || slices.Contains(m.data.EstablishedFacts, fact) {
		return
	}
	m.data.EstablishedFacts = append(m.data.EstablishedFacts, fact)
}

// SetQuestProgress records a quest's completion percentage, clamped to 0..100
func (m *StoryMemory) SetQuestProgress(quest string, percent int) {
	m.data.QuestProgress[quest] = max(0, min(100, percent))
}

// QuestProgress returns a copy of the quest progress map
func (m *StoryMemory) QuestProgress() map[string]int {
	out := make(map[string]int, len(m.data.QuestProgress))
	for k, v := range m.data.QuestProgress {
		out[k] = v
	}
	return out
}

// Empty reports whether there is nothing to render
func (m *StoryMemory) Empty() bool {
	return m.data.CurrentLocation == nil &&
		len(m.data.EstablishedFacts) == 0 &&
		len(m.data.RecentEvents) == 0 &&
		len(m.data.QuestProgress) == 0
}

// BuildPrompt renders the memory block appended to system prompts. Empty
// sections are left out and an empty memory renders as "".
func (m *StoryMemory) BuildPrompt() string {
	if m.Empty() {
		return ""
	}

	var sections []string
	if m.data.CurrentLocation != nil {
		sections = append(sections, "Current Location: "+*m.data.CurrentLocation)
	}
	if len(m.data.EstablishedFacts) > 0 {
		sections = append(sections, "Established Facts:\n"+bullets(m.data.EstablishedFacts))
	}
	if len(m.data.RecentEvents) > 0 {
		descs := make([]string, 0, len(m.data.RecentEvents))
		for _, e := range m.data.RecentEvents {
			descs = append(descs, e.Description)
		}
		sections = append(sections, "Recent Events:\n"+bullets(descs))
	}
	if len(m.data.QuestProgress) > 0 {
		names := make([]string, 0, len(m.data.QuestProgress))
		for name := range m.data.QuestProgress {
			names = append(names, name)
		}
		sort.Strings(names)
		lines := make([]string, 0, len(names))
		for _, name := range names {
			lines = append(lines, fmt.Sprintf("%s: %d%%", name, m.data.QuestProgress[name]))
		}
		sections = append(sections, "Active Quests:\n"+bullets(lines))
	}

	return "=== STORY MEMORY ===\n" + strings.Join(sections, "\n\n")
}

func bullets(items []string) string {
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(item)
	}
	return b.String()
}
