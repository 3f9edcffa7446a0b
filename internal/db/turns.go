package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/qninhdt/storycards/internal/apperr"
	"github.com/qninhdt/storycards/internal/session"
)

// TurnRepo stores the append-only turn history
type TurnRepo struct {
	db *DB
}

// NewTurnRepo creates a turn repository
func NewTurnRepo(db *DB) *TurnRepo {
	return &TurnRepo{db: db}
}

var _ session.TurnRepository = (*TurnRepo)(nil)

// Create appends a turn. A turn number can be recorded once per session.
func (r *TurnRepo) Create(ctx context.Context, t *session.Turn) (*session.Turn, error) {
	stored := *t
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.db.now()
	}

	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	res, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO story_turns (session_id, turn_number, player_input, llm_response, system_prompt, token_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, stored.SessionID, stored.TurnNumber, stored.PlayerInput, stored.LLMResponse, stored.SystemPrompt,
		stored.TokenCount, formatTime(stored.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, apperr.Validation("turn %d already recorded for session %d", t.TurnNumber, t.SessionID)
		}
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return nil, apperr.NotFound("session", t.SessionID)
		}
		return nil, fmt.Errorf("insert turn: %w", err)
	}
	if stored.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("insert turn: %w", err)
	}
	stored.CreatedAt = stored.CreatedAt.UTC()
	return &stored, nil
}

// GetBySessionID returns a session's turns ordered by turn number
func (r *TurnRepo) GetBySessionID(ctx context.Context, sessionID int64) ([]*session.Turn, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT id, session_id, turn_number, player_input, llm_response, system_prompt, token_count, created_at
		FROM story_turns
		WHERE session_id = ?
		ORDER BY turn_number ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	out := []*session.Turn{}
	for rows.Next() {
		var (
			t         session.Turn
			createdAt string
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.TurnNumber, &t.PlayerInput, &t.LLMResponse,
			&t.SystemPrompt, &t.TokenCount, &createdAt); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("decode created_at: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// GetLastTurnNumber returns the highest turn number, or 0
func (r *TurnRepo) GetLastTurnNumber(ctx context.Context, sessionID int64) (int, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var last int
	err := r.db.conn.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(turn_number), 0) FROM story_turns WHERE session_id = ?", sessionID).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("last turn number: %w", err)
	}
	return last, nil
}

// DeleteBySessionID drops a session's history
func (r *TurnRepo) DeleteBySessionID(ctx context.Context, sessionID int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, err := r.db.conn.ExecContext(ctx, "DELETE FROM story_turns WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	return nil
}
