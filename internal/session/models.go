// Package session holds story sessions and their append-only turn history.
package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/qninhdt/storycards/internal/memory"
)

// DefaultName is used when a session is created without a name
const DefaultName = "New Story"

// Script-owned fields persisted between turns
const (
	StateInventory   = "inventory"
	StateQuestState  = "questState"
	StateStoryMemory = "storyMemory"
)

// Session is one story's running state
type Session struct {
	ID            int64                      `json:"id"`
	Name          string                     `json:"name"`
	ActiveCards   []int64                    `json:"active_cards"`
	StoryMemory   memory.Data                `json:"story_memory"`
	QuestProgress map[string]int             `json:"quest_progress"`
	ScriptState   map[string]json.RawMessage `json:"script_state"`
	CreatedAt     time.Time                  `json:"created_at"`
	UpdatedAt     time.Time                  `json:"updated_at"`
}

// Memory reconstructs the session's story memory
func (s *Session) Memory() *memory.StoryMemory {
	return memory.FromData(s.StoryMemory)
}

// IsActive reports whether cardID is in the session's context
func (s *Session) IsActive(cardID int64) bool {
	for _, id := range s.ActiveCards {
		if id == cardID {
			return true
		}
	}
	return false
}

// Normalize fills nil collections
func (s *Session) Normalize() {
	if s.ActiveCards == nil {
		s.ActiveCards = []int64{}
	}
	if s.QuestProgress == nil {
		s.QuestProgress = map[string]int{}
	}
	if s.ScriptState == nil {
		s.ScriptState = map[string]json.RawMessage{}
	}
	s.StoryMemory = memory.FromData(s.StoryMemory).Data()
}

// Patch is a partial session update; nil fields are left untouched.
// ScriptState entries are merged key by key.
type Patch struct {
	Name          *string                    `json:"name,omitempty"`
	ActiveCards   *[]int64                   `json:"active_cards,omitempty"`
	StoryMemory   *memory.Data               `json:"story_memory,omitempty"`
	QuestProgress *map[string]int            `json:"quest_progress,omitempty"`
	ScriptState   map[string]json.RawMessage `json:"script_state,omitempty"`
}

// Empty reports whether the patch changes nothing
func (p Patch) Empty() bool {
	return p.Name == nil && p.ActiveCards == nil && p.StoryMemory == nil &&
		p.QuestProgress == nil && len(p.ScriptState) == 0
}

// Apply writes the patch onto s
func (p Patch) Apply(s *Session) {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.ActiveCards != nil {
		s.ActiveCards = append([]int64{}, (*p.ActiveCards)...)
	}
	if p.StoryMemory != nil {
		s.StoryMemory = memory.FromData(*p.StoryMemory).Data()
	}
	if p.QuestProgress != nil {
		s.QuestProgress = make(map[string]int, len(*p.QuestProgress))
		for k, v := range *p.QuestProgress {
			s.QuestProgress[k] = v
		}
	}
	if len(p.ScriptState) > 0 {
		if s.ScriptState == nil {
			s.ScriptState = make(map[string]json.RawMessage, len(p.ScriptState))
		}
		for k, v := range p.ScriptState {
			s.ScriptState[k] = v
		}
	}
}

// Repository is the session persistence collaborator. GetByID returns an
// apperr NotFound error for unknown ids; GetAll lists most recently updated first.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Session, error)
	GetAll(ctx context.Context) ([]*Session, error)
	Create(ctx context.Context, name string) (*Session, error)
	Update(ctx context.Context, id int64, patch Patch) (*Session, error)
	Delete(ctx context.Context, id int64) error
}

// Turn is an immutable record of one player-input / LLM-response exchange
type Turn struct {
	ID           int64     `json:"id"`
	SessionID    int64     `json:"session_id"`
	TurnNumber   int       `json:"turn_number"`
	PlayerInput  string    `json:"player_input"`
	LLMResponse  string    `json:"llm_response"`
	SystemPrompt string    `json:"system_prompt"`
	TokenCount   int       `json:"token_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// TurnRepository is the append-only turn history collaborator.
// GetBySessionID orders by turn number ascending; GetLastTurnNumber is 0 for
// a session without turns.
type TurnRepository interface {
	Create(ctx context.Context, t *Turn) (*Turn, error)
	GetBySessionID(ctx context.Context, sessionID int64) ([]*Turn, error)
	GetLastTurnNumber(ctx context.Context, sessionID int64) (int, error)
	DeleteBySessionID(ctx context.Context, sessionID int64) error
}
