package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/qninhdt/storycards/internal/apperr"
	"github.com/qninhdt/storycards/internal/memory"
	"github.com/qninhdt/storycards/internal/session"
)

const sessionColumns = `id, name, active_cards, story_memory, quest_progress, script_state, created_at, updated_at`

// SessionRepo stores story sessions
type SessionRepo struct {
	db *DB
}

// NewSessionRepo creates a session repository
func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{db: db}
}

var _ session.Repository = (*SessionRepo)(nil)

// GetByID returns one session
func (r *SessionRepo) GetByID(ctx context.Context, id int64) (*session.Session, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	return getSession(ctx, r.db.conn, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getSession(ctx context.Context, q queryRower, id int64) (*session.Session, error) {
	row := q.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("session", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %d: %w", id, err)
	}
	return s, nil
}

// GetAll returns every session, most recently updated first
func (r *SessionRepo) GetAll(ctx context.Context) ([]*session.Session, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	rows, err := r.db.conn.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions ORDER BY updated_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := []*session.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Create inserts an empty session
func (r *SessionRepo) Create(ctx context.Context, name string) (*session.Session, error) {
	s := &session.Session{Name: name}
	s.Normalize()
	cols, err := encodeSession(s)
	if err != nil {
		return nil, err
	}
	now := formatTime(r.db.now())

	r.db.mu.Lock()
	res, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO sessions (name, active_cards, story_memory, quest_progress, script_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, append(cols, now, now)...)
	r.db.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return r.GetByID(ctx, id)
}

// Update applies a patch in one transaction
func (r *SessionRepo) Update(ctx context.Context, id int64, patch session.Patch) (*session.Session, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	tx, err := r.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin session update: %w", err)
	}
	defer tx.Rollback()

	s, err := getSession(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if patch.Empty() {
		return s, nil
	}
	patch.Apply(s)
	cols, err := encodeSession(s)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET name = ?, active_cards = ?, story_memory = ?, quest_progress = ?, script_state = ?, updated_at = ?
		WHERE id = ?
	`, append(cols, formatTime(r.db.now()), id)...); err != nil {
		return nil, fmt.Errorf("update session %d: %w", id, err)
	}

	updated, err := getSession(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit session update: %w", err)
	}
	return updated, nil
}

// Delete removes a session; its turns cascade
func (r *SessionRepo) Delete(ctx context.Context, id int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	res, err := r.db.conn.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete session %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("session", id)
	}
	return nil
}

func encodeSession(s *session.Session) ([]any, error) {
	active, err := json.Marshal(s.ActiveCards)
	if err != nil {
		return nil, fmt.Errorf("encode active_cards: %w", err)
	}
	mem, err := json.Marshal(s.StoryMemory)
	if err != nil {
		return nil, fmt.Errorf("encode story_memory: %w", err)
	}
	quests, err := json.Marshal(s.QuestProgress)
	if err != nil {
		return nil, fmt.Errorf("encode quest_progress: %w", err)
	}
	state, err := json.Marshal(s.ScriptState)
	if err != nil {
		return nil, fmt.Errorf("encode script_state: %w", err)
	}
	return []any{s.Name, string(active), string(mem), string(quests), string(state)}, nil
}

func scanSession(sc scanner) (*session.Session, error) {
	var (
		s                          session.Session
		active, mem, quests, state string
		createdAt, updatedAt       string
	)
	if err := sc.Scan(&s.ID, &s.Name, &active, &mem, &quests, &state, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(active), &s.ActiveCards); err != nil {
		return nil, fmt.Errorf("decode active_cards of session %d: %w", s.ID, err)
	}
	parsed, err := memory.Parse([]byte(mem))
	if err != nil {
		return nil, fmt.Errorf("decode story_memory of session %d: %w", s.ID, err)
	}
	s.StoryMemory = parsed.Data()
	if err := json.Unmarshal([]byte(quests), &s.QuestProgress); err != nil {
		return nil, fmt.Errorf("decode quest_progress of session %d: %w", s.ID, err)
	}
	if err := json.Unmarshal([]byte(state), &s.ScriptState); err != nil {
		return nil, fmt.Errorf("decode script_state of session %d: %w", s.ID, err)
	}

	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	s.Normalize()
	return &s, nil
}
