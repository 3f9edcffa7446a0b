package session

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/qninhdt/storycards/internal/apperr"
)

// MemoryRepository keeps sessions in process memory
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
	nextID   int64
}

// NewMemoryRepository creates an empty in-memory session repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[int64]*Session), nextID: 1}
}

// GetByID returns a copy of a session
func (r *MemoryRepository) GetByID(_ context.Context, id int64) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, apperr.NotFound("session", id)
	}
	return copySession(s), nil
}

// GetAll returns every session, most recently updated first
func (r *MemoryRepository) GetAll(_ context.Context) ([]*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, copySession(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Create stores a new empty session
func (r *MemoryRepository) Create(_ context.Context, name string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	s := &Session{ID: r.nextID, Name: name, CreatedAt: now, UpdatedAt: now}
	s.Normalize()
	r.nextID++
	r.sessions[s.ID] = s
	return copySession(s), nil
}

// Update applies a patch to a stored session
func (r *MemoryRepository) Update(_ context.Context, id int64, patch Patch) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, apperr.NotFound("session", id)
	}
	if patch.Empty() {
		return copySession(s), nil
	}
	patch.Apply(s)
	s.UpdatedAt = time.Now().UTC()
	return copySession(s), nil
}

// Delete removes a session
func (r *MemoryRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return apperr.NotFound("session", id)
	}
	delete(r.sessions, id)
	return nil
}

func copySession(s *Session) *Session {
	cp := *s
	cp.ActiveCards = append([]int64{}, s.ActiveCards...)
	cp.QuestProgress = make(map[string]int, len(s.QuestProgress))
	for k, v := range s.QuestProgress {
		cp.QuestProgress[k] = v
	}
	cp.ScriptState = make(map[string]json.RawMessage, len(s.ScriptState))
	for k, v := range s.ScriptState {
		cp.ScriptState[k] = append(json.RawMessage{}, v...)
	}
	cp.Normalize()
	return &cp
}

// MemoryTurnRepository keeps turn history in process memory
type MemoryTurnRepository struct {
	mu     sync.RWMutex
	turns  map[int64][]*Turn
	nextID int64
}

// NewMemoryTurnRepository creates an empty in-memory turn history
func NewMemoryTurnRepository() *MemoryTurnRepository {
	return &MemoryTurnRepository{turns: make(map[int64][]*Turn), nextID: 1}
}

// Create appends a turn record
func (r *MemoryTurnRepository) Create(_ context.Context, t *Turn) (*Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.turns[t.SessionID] {
		if existing.TurnNumber == t.TurnNumber {
			return nil, apperr.Validation("turn %d already recorded for session %d", t.TurnNumber, t.SessionID)
		}
	}
	stored := *t
	stored.ID = r.nextID
	r.nextID++
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	r.turns[t.SessionID] = append(r.turns[t.SessionID], &stored)
	out := stored
	return &out, nil
}

// GetBySessionID returns a session's turns ordered by turn number
func (r *MemoryTurnRepository) GetBySessionID(_ context.Context, sessionID int64) ([]*Turn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Turn, 0, len(r.turns[sessionID]))
	for _, t := range r.turns[sessionID] {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TurnNumber < out[j].TurnNumber })
	return out, nil
}

// GetLastTurnNumber returns the highest turn number, or 0
func (r *MemoryTurnRepository) GetLastTurnNumber(_ context.Context, sessionID int64) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	last := 0
	for _, t := range r.turns[sessionID] {
		last = max(last, t.TurnNumber)
	}
	return last, nil
}

// DeleteBySessionID drops a session's history
func (r *MemoryTurnRepository) DeleteBySessionID(_ context.Context, sessionID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.turns, sessionID)
	return nil
}
