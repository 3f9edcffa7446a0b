package script

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/qninhdt/storycards/internal/cards"
	"github.com/qninhdt/storycards/internal/session"
)

// Context is the per-turn bag passed through the pipeline. Stages read it and
// return Updates; they never see another stage's partial mutations.
type Context struct {
	Session         *session.Session `json:"session,omitempty"`
	ActiveCards     []*cards.Card    `json:"activeCards"`
	StoryHistory    []*session.Turn  `json:"storyHistory"`
	CurrentInput    string           `json:"currentInput"`
	CurrentResponse string           `json:"currentResponse"`
	Turn            int              `json:"turn"`

	Inventory          *Inventory     `json:"inventory,omitempty"`
	QuestState         *QuestState    `json:"questState,omitempty"`
	StoryMemory        *MemoryTrack   `json:"storyMemory,omitempty"`
	MemorySummary      string         `json:"memorySummary,omitempty"`
	AutoActivatedCards []int64        `json:"autoActivatedCards,omitempty"`
	Extra              map[string]any `json:"extra,omitempty"`
}

// Clone returns a deep copy of the context
func (c Context) Clone() Context {
	out := c
	if c.Session != nil {
		s := *c.Session
		s.ActiveCards = slices.Clone(c.Session.ActiveCards)
		s.QuestProgress = maps.Clone(c.Session.QuestProgress)
		s.ScriptState = maps.Clone(c.Session.ScriptState)
		s.StoryMemory = c.Session.Memory().Data()
		out.Session = &s
	}
	out.ActiveCards = make([]*cards.Card, len(c.ActiveCards))
	for i, card := range c.ActiveCards {
		out.ActiveCards[i] = card.Clone()
	}
	out.StoryHistory = slices.Clone(c.StoryHistory)
	out.Inventory = c.Inventory.Clone()
	out.QuestState = c.QuestState.Clone()
	out.StoryMemory = c.StoryMemory.Clone()
	out.AutoActivatedCards = slices.Clone(c.AutoActivatedCards)
	out.Extra = maps.Clone(c.Extra)
	return out
}

// ActiveIDs returns the ids of the active cards in activation order
func (c *Context) ActiveIDs() []int64 {
	return cards.NewDeck(c.ActiveCards).IDs()
}

// LoadState decodes script-owned fields persisted on a session. Null map
// entries are dropped.
func (c *Context) LoadState(state map[string]json.RawMessage) error {
	if raw, ok := state[session.StateInventory]; ok && len(raw) > 0 {
		inv := &Inventory{}
		if err := json.Unmarshal(raw, inv); err != nil {
			return fmt.Errorf("decode inventory: %w", err)
		}
		c.Inventory = inv
	}
	if raw, ok := state[session.StateQuestState]; ok && len(raw) > 0 {
		qs := &QuestState{}
		if err := json.Unmarshal(raw, qs); err != nil {
			return fmt.Errorf("decode quest state: %w", err)
		}
		maps.DeleteFunc(qs.Objectives, func(_ string, o *Objective) bool { return o == nil })
		c.QuestState = qs
	}
	if raw, ok := state[session.StateStoryMemory]; ok && len(raw) > 0 {
		mt := &MemoryTrack{}
		if err := json.Unmarshal(raw, mt); err != nil {
			return fmt.Errorf("decode story memory: %w", err)
		}
		maps.DeleteFunc(mt.CharacterStates, func(_ string, s *CharacterState) bool { return s == nil })
		c.StoryMemory = mt
	}
	return nil
}

// State encodes the script-owned fields for persistence. Nil fields are omitted.
func (c *Context) State() (map[string]json.RawMessage, error) {
	state := make(map[string]json.RawMessage, 3)
	put := func(key string, v any) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		state[key] = raw
		return nil
	}
	if c.Inventory != nil {
		if err := put(session.StateInventory, c.Inventory); err != nil {
			return nil, err
		}
	}
	if c.QuestState != nil {
		if err := put(session.StateQuestState, c.QuestState); err != nil {
			return nil, err
		}
	}
	if c.StoryMemory != nil {
		if err := put(session.StateStoryMemory, c.StoryMemory); err != nil {
			return nil, err
		}
	}
	return state, nil
}

// Updates are the context fields a stage wants changed. Nil fields are left
// alone; a non-nil AutoActivatedCards replaces the current list and Extra is
// merged key by key.
type Updates struct {
	Inventory          *Inventory     `json:"inventory,omitempty"`
	QuestState         *QuestState    `json:"questState,omitempty"`
	StoryMemory        *MemoryTrack   `json:"storyMemory,omitempty"`
	MemorySummary      *string        `json:"memorySummary,omitempty"`
	AutoActivatedCards []int64        `json:"autoActivatedCards,omitempty"`
	Extra              map[string]any `json:"extra,omitempty"`
}

func (u *Updates) apply(c *Context) {
	if u.Inventory != nil {
		c.Inventory = u.Inventory.Clone()
	}
	if u.QuestState != nil {
		c.QuestState = u.QuestState.Clone()
	}
	if u.StoryMemory != nil {
		c.StoryMemory = u.StoryMemory.Clone()
	}
	if u.MemorySummary != nil {
		c.MemorySummary = *u.MemorySummary
	}
	if u.AutoActivatedCards != nil {
		c.AutoActivatedCards = slices.Clone(u.AutoActivatedCards)
	}
	if len(u.Extra) > 0 {
		if c.Extra == nil {
			c.Extra = make(map[string]any, len(u.Extra))
		}
		maps.Copy(c.Extra, u.Extra)
	}
}

// Event is something a stage observed during a turn
type Event struct {
	ID   string         `json:"id"`
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

func newEvent(typ string, data map[string]any) Event {
	return Event{ID: uuid.NewString(), Type: typ, Data: data}
}

// Notification levels
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarning = "warning"
)

// Notification is a user-facing message produced by a stage
type Notification struct {
	ID      string `json:"id"`
	Level   string `json:"type"`
	Message string `json:"message"`
}

func newNotification(level, format string, args ...any) Notification {
	return Notification{ID: uuid.NewString(), Level: level, Message: fmt.Sprintf(format, args...)}
}

// Output is what a stage returns
type Output struct {
	ContextUpdates    Updates        `json:"contextUpdates"`
	Events            []Event        `json:"events,omitempty"`
	CardsToActivate   []int64        `json:"cardsToActivate,omitempty"`
	CardsToDeactivate []int64        `json:"cardsToDeactivate,omitempty"`
	NewCards          []cards.Input  `json:"newCards,omitempty"`
	Notifications     []Notification `json:"notifications,omitempty"`
}

// Item is one tracked possession
type Item struct {
	Name     string `json:"name"`
	CardID   int64  `json:"cardId,omitempty"`
	Acquired int64  `json:"acquired"`
	Source   string `json:"source"`
}

// Inventory is the possession-tracking state
type Inventory struct {
	Items      []Item         `json:"items"`
	Currencies map[string]int `json:"currencies"`
}

// Clone returns a deep copy; nil stays nil
func (inv *Inventory) Clone() *Inventory {
	if inv == nil {
		return nil
	}
	return &Inventory{Items: slices.Clone(inv.Items), Currencies: maps.Clone(inv.Currencies)}
}

// ItemNames lists item names in acquisition order
func (inv *Inventory) ItemNames() []string {
	if inv == nil {
		return []string{}
	}
	names := make([]string, 0, len(inv.Items))
	for _, it := range inv.Items {
		names = append(names, it.Name)
	}
	return names
}

// Objective tracks how often an active card is mentioned
type Objective struct {
	CardID       int64  `json:"cardId"`
	CardName     string `json:"cardName"`
	MentionCount int    `json:"mentionCount"`
	FirstSeen    int64  `json:"firstSeen"`
	LastSeen     int64  `json:"lastSeen,omitempty"`
	Status       string `json:"status"`
}

// QuestState is the quest-tracking state
type QuestState struct {
	ActiveQuests    []string              `json:"activeQuests"`
	CompletedQuests []string              `json:"completedQuests"`
	Objectives      map[string]*Objective `json:"objectives"`
}

// Clone returns a deep copy; nil stays nil
func (q *QuestState) Clone() *QuestState {
	if q == nil {
		return nil
	}
	out := &QuestState{
		ActiveQuests:    slices.Clone(q.ActiveQuests),
		CompletedQuests: slices.Clone(q.CompletedQuests),
		Objectives:      make(map[string]*Objective, len(q.Objectives)),
	}
	for k, o := range q.Objectives {
		if o == nil {
			continue
		}
		cp := *o
		out.Objectives[k] = &cp
	}
	return out
}

// KeyEvent is a notable sentence lifted from a response
type KeyEvent struct {
	Event     string `json:"event"`
	Turn      int    `json:"turn"`
	Timestamp int64  `json:"timestamp"`
	Critical  bool   `json:"critical,omitempty"`
}

// CharacterState counts mentions of a capitalized name
type CharacterState struct {
	FirstMentioned int64 `json:"firstMentioned"`
	LastMentioned  int64 `json:"lastMentioned"`
	MentionCount   int   `json:"mentionCount"`
}

// MemoryTrack is the story-memory stage's long-running state
type MemoryTrack struct {
	KeyEvents       []KeyEvent                 `json:"keyEvents"`
	CharacterStates map[string]*CharacterState `json:"characterStates"`
}

// Clone returns a deep copy; nil stays nil
func (m *MemoryTrack) Clone() *MemoryTrack {
	if m == nil {
		return nil
	}
	out := &MemoryTrack{
		KeyEvents:       slices.Clone(m.KeyEvents),
		CharacterStates: make(map[string]*CharacterState, len(m.CharacterStates)),
	}
	for k, s := range m.CharacterStates {
		if s == nil {
			continue
		}
		cp := *s
		out.CharacterStates[k] = &cp
	}
	return out
}
