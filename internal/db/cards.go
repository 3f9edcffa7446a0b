package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/qninhdt/storycards/internal/apperr"
	"github.com/qninhdt/storycards/internal/cards"
)

const cardColumns = `id, name, type, rarity, source, prompt_text, compressed_prompt,
	knowledge_level, max_knowledge_level, progression_points, possession_state,
	parent_card_ids, linked_card_ids, tags, triggers, unlock_conditions,
	times_used, last_used, created_at, updated_at`

// CardRepo stores cards, relations as JSON columns
type CardRepo struct {
	db *DB
}

// NewCardRepo creates a card repository
func NewCardRepo(db *DB) *CardRepo {
	return &CardRepo{db: db}
}

var _ cards.Repository = (*CardRepo)(nil)

// GetByID returns one card
func (r *CardRepo) GetByID(ctx context.Context, id int64) (*cards.Card, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	row := r.db.conn.QueryRowContext(ctx, "SELECT "+cardColumns+" FROM cards WHERE id = ?", id)
	c, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("card", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get card %d: %w", id, err)
	}
	return c, nil
}

// GetAll returns every card, newest first
func (r *CardRepo) GetAll(ctx context.Context) ([]*cards.Card, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	rows, err := r.db.conn.QueryContext(ctx, "SELECT "+cardColumns+" FROM cards ORDER BY id DESC")
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()
	return scanCards(rows)
}

// GetByIDs returns the existing cards among ids, in the order requested
func (r *CardRepo) GetByIDs(ctx context.Context, ids []int64) ([]*cards.Card, error) {
	if len(ids) == 0 {
		return []*cards.Card{}, nil
	}
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.db.conn.QueryContext(ctx,
		"SELECT "+cardColumns+" FROM cards WHERE id IN ("+placeholders(len(ids))+")", args...)
	if err != nil {
		return nil, fmt.Errorf("get cards: %w", err)
	}
	defer rows.Close()

	found, err := scanCards(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*cards.Card, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}
	out := make([]*cards.Card, 0, len(found))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok && !seen[id] {
			out = append(out, c)
			seen[id] = true
		}
	}
	return out, nil
}

// Create inserts a card and returns it with its id
func (r *CardRepo) Create(ctx context.Context, c *cards.Card) (*cards.Card, error) {
	cols, err := encodeCard(c)
	if err != nil {
		return nil, err
	}
	now := r.db.now()
	created := now
	if !c.CreatedAt.IsZero() {
		created = c.CreatedAt
	}

	r.db.mu.Lock()
	res, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO cards (
			name, type, rarity, source, prompt_text, compressed_prompt,
			knowledge_level, max_knowledge_level, progression_points, possession_state,
			parent_card_ids, linked_card_ids, tags, triggers, unlock_conditions,
			times_used, last_used, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, append(cols, formatTime(created), formatTime(now))...)
	r.db.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("insert card: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert card: %w", err)
	}
	return r.GetByID(ctx, id)
}

// Update replaces every stored field except created_at
func (r *CardRepo) Update(ctx context.Context, c *cards.Card) (*cards.Card, error) {
	cols, err := encodeCard(c)
	if err != nil {
		return nil, err
	}

	r.db.mu.Lock()
	res, err := r.db.conn.ExecContext(ctx, `
		UPDATE cards SET
			name = ?, type = ?, rarity = ?, source = ?, prompt_text = ?, compressed_prompt = ?,
			knowledge_level = ?, max_knowledge_level = ?, progression_points = ?, possession_state = ?,
			parent_card_ids = ?, linked_card_ids = ?, tags = ?, triggers = ?, unlock_conditions = ?,
			times_used = ?, last_used = ?, updated_at = ?
		WHERE id = ?
	`, append(cols, formatTime(r.db.now()), c.ID)...)
	r.db.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("update card %d: %w", c.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperr.NotFound("card", c.ID)
	}
	return r.GetByID(ctx, c.ID)
}

// Delete removes a card
func (r *CardRepo) Delete(ctx context.Context, id int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	res, err := r.db.conn.ExecContext(ctx, "DELETE FROM cards WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete card %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("card", id)
	}
	return nil
}

// encodeCard returns the column values shared by insert and update, in
// cardColumns order without id and timestamps
func encodeCard(c *cards.Card) ([]any, error) {
	cp := c.Clone()
	cp.Normalize()

	parents, err := json.Marshal(cp.ParentCardIDs)
	if err != nil {
		return nil, fmt.Errorf("encode parent_card_ids: %w", err)
	}
	links, err := json.Marshal(cp.LinkedCardIDs)
	if err != nil {
		return nil, fmt.Errorf("encode linked_card_ids: %w", err)
	}
	tags, err := json.Marshal(cp.Tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}
	triggers, err := json.Marshal(cp.Triggers)
	if err != nil {
		return nil, fmt.Errorf("encode triggers: %w", err)
	}
	unlock, err := json.Marshal(cp.UnlockConditions)
	if err != nil {
		return nil, fmt.Errorf("encode unlock_conditions: %w", err)
	}
	var lastUsed any
	if cp.LastUsed != nil {
		lastUsed = formatTime(*cp.LastUsed)
	}

	return []any{
		cp.Name, string(cp.Type), string(cp.Rarity), string(cp.Source), cp.PromptText, cp.CompressedPrompt,
		cp.KnowledgeLevel, cp.MaxKnowledgeLevel, cp.ProgressionPoints, boolToInt(cp.PossessionState),
		string(parents), string(links), string(tags), string(triggers), string(unlock),
		cp.TimesUsed, lastUsed,
	}, nil
}

func scanCard(s scanner) (*cards.Card, error) {
	var (
		c                                      cards.Card
		typ, rarity, source                    string
		possession                             int
		parents, links, tags, triggers, unlock string
		lastUsed                               sql.NullString
		createdAt, updatedAt                   string
	)
	if err := s.Scan(
		&c.ID, &c.Name, &typ, &rarity, &source, &c.PromptText, &c.CompressedPrompt,
		&c.KnowledgeLevel, &c.MaxKnowledgeLevel, &c.ProgressionPoints, &possession,
		&parents, &links, &tags, &triggers, &unlock,
		&c.TimesUsed, &lastUsed, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	c.Type = cards.Type(typ)
	c.Rarity = cards.Rarity(rarity)
	c.Source = cards.Source(source)
	c.PossessionState = intToBool(possession)

	for _, col := range []struct {
		name string
		raw  string
		dst  any
	}{
		{"parent_card_ids", parents, &c.ParentCardIDs},
		{"linked_card_ids", links, &c.LinkedCardIDs},
		{"tags", tags, &c.Tags},
		{"triggers", triggers, &c.Triggers},
		{"unlock_conditions", unlock, &c.UnlockConditions},
	} {
		if col.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(col.raw), col.dst); err != nil {
			return nil, fmt.Errorf("decode %s of card %d: %w", col.name, c.ID, err)
		}
	}

	var err error
	if lastUsed.Valid {
		t, err := parseTime(lastUsed.String)
		if err != nil {
			return nil, fmt.Errorf("decode last_used: %w", err)
		}
		c.LastUsed = &t
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	c.Normalize()
	return &c, nil
}

func scanCards(rows *sql.Rows) ([]*cards.Card, error) {
	out := []*cards.Card{}
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
