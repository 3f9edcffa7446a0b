package cards

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qninhdt/storycards/internal/apperr"
)

const immutableMessage = "System cards cannot be edited. Clone the card to create an editable copy."

// Store owns card records and enforces the DAG invariants on top of a
// Repository. Mutations are serialized so a cycle check and the write that
// follows it cannot interleave with another mutation.
type Store struct {
	repo   Repository
	logger *zap.Logger
	mu     sync.Mutex
	now    func() time.Time

	checkCondition func(expr string) error
}

// NewStore creates a card store backed by repo
func NewStore(repo Repository, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetConditionChecker installs fn to reject malformed on_condition
// expressions whenever triggers are written
func (s *Store) SetConditionChecker(fn func(expr string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkCondition = fn
}

// Get returns a card by id
func (s *Store) Get(ctx context.Context, id int64) (*Card, error) {
	return s.repo.GetByID(ctx, id)
}

// All returns every card, newest first
func (s *Store) All(ctx context.Context) ([]*Card, error) {
	return s.repo.GetAll(ctx)
}

// GetMany returns the existing cards among ids, in the order requested
func (s *Store) GetMany(ctx context.Context, ids []int64) ([]*Card, error) {
	if len(ids) == 0 {
		return []*Card{}, nil
	}
	return s.repo.GetByIDs(ctx, ids)
}

// List returns the cards matching filter, newest first
func (s *Store) List(ctx context.Context, filter Filter) ([]*Card, error) {
	all, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Card, 0, len(all))
	for _, c := range all {
		if filter.Match(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

// AllTags returns every tag in use, sorted
func (s *Store) AllTags(ctx context.Context) ([]string, error) {
	all, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	tags := []string{}
	for _, c := range all {
		for _, t := range c.Tags {
			if !seen[t] {
				seen[t] = true
				tags = append(tags, t)
			}
		}
	}
	sort.Strings(tags)
	return tags, nil
}

// Index returns an arena snapshot of every card
func (s *Store) Index(ctx context.Context) (*Index, error) {
	all, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return NewIndex(all), nil
}

// Create validates in and stores a new card
func (s *Store) Create(ctx context.Context, in Input) (*Card, error) {
	level := 1
	if in.KnowledgeLevel != nil {
		level = *in.KnowledgeLevel
	}
	source := in.Source
	if source == "" {
		source = SourceUser
	}
	draft := &Card{
		Name:             in.Name,
		Type:             in.Type,
		Rarity:           in.Rarity,
		Source:           source,
		PromptText:       in.PromptText,
		CompressedPrompt: in.CompressedPrompt,
		KnowledgeLevel:   level,
		PossessionState:  in.PossessionState,
		ParentCardIDs:    in.ParentCardIDs,
		LinkedCardIDs:    in.LinkedCardIDs,
		Tags:             in.Tags,
		Triggers:         in.Triggers,
		UnlockConditions: in.UnlockConditions,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(ctx, draft)
}

// insert validates a draft and hands it to the repository; callers hold mu
func (s *Store) insert(ctx context.Context, draft *Card) (*Card, error) {
	draft.Name = strings.TrimSpace(draft.Name)
	if draft.Rarity == "" {
		draft.Rarity = RarityCommon
	}
	if err := validateCard(draft); err != nil {
		return nil, err
	}
	if err := s.checkConditions(draft.Triggers); err != nil {
		return nil, err
	}
	draft.MaxKnowledgeLevel = draft.Rarity.MaxKnowledgeLevel()
	if draft.KnowledgeLevel > draft.MaxKnowledgeLevel {
		return nil, apperr.Validation("knowledge_level must be between 0 and %d", draft.MaxKnowledgeLevel)
	}
	draft.ParentCardIDs = uniqueIDs(draft.ParentCardIDs)
	draft.LinkedCardIDs = uniqueIDs(draft.LinkedCardIDs)
	draft.Tags = uniqueTags(draft.Tags)
	draft.Triggers = slices.Clone(draft.Triggers)
	draft.UnlockConditions = cloneMap(draft.UnlockConditions)
	draft.Normalize()

	if len(draft.ParentCardIDs) > 0 {
		found, err := s.repo.GetByIDs(ctx, draft.ParentCardIDs)
		if err != nil {
			return nil, err
		}
		if len(found) != len(draft.ParentCardIDs) {
			return nil, apperr.Validation("parent_card_ids references an unknown card")
		}
	}

	created, err := s.repo.Create(ctx, draft)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("card created",
		zap.Int64("id", created.ID),
		zap.String("name", created.Name),
		zap.String("type", string(created.Type)),
		zap.String("source", string(created.Source)),
	)
	return created, nil
}

// Update applies patch to a card. Protected cards only accept usage
// statistics; parent changes are checked for cycles before anything is written.
// An explicit knowledge_level above the card's maximum is rejected as on
// Create; a rarity change alone clamps the stored level.
func (s *Store) Update(ctx context.Context, id int64, patch Patch) (*Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	card, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if card.Source.Protected() && !patch.UsageOnly() {
		return nil, apperr.Immutable(id, immutableMessage)
	}

	if patch.ParentCardIDs != nil {
		parents := uniqueIDs(*patch.ParentCardIDs)
		if err := s.checkParents(ctx, card, parents); err != nil {
			return nil, err
		}
		patch.ParentCardIDs = &parents
	}

	applyPatch(card, patch)
	card.Name = strings.TrimSpace(card.Name)
	if err := validateCard(card); err != nil {
		return nil, err
	}
	if patch.Triggers != nil {
		if err := s.checkConditions(card.Triggers); err != nil {
			return nil, err
		}
	}
	if card.KnowledgeLevel > card.MaxKnowledgeLevel {
		if patch.KnowledgeLevel != nil {
			return nil, apperr.Validation("knowledge_level must be between 0 and %d", card.MaxKnowledgeLevel)
		}
		// a rarity downgrade lowers the ceiling under the stored level
		card.KnowledgeLevel = card.MaxKnowledgeLevel
	}
	return s.repo.Update(ctx, card)
}

// Delete removes a user or auto-generated card and drops it from every other
// card's parents and links
func (s *Store) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	card, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !card.IsDeletable() {
		return apperr.Immutable(id, fmt.Sprintf("%s cards cannot be deleted", card.Source))
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	return s.detach(ctx, id)
}

// detach removes references to a deleted card. Callers hold mu.
func (s *Store) detach(ctx context.Context, id int64) error {
	all, err := s.repo.GetAll(ctx)
	if err != nil {
		return err
	}
	for _, c := range all {
		parents, p := removeID(c.ParentCardIDs, id)
		links, l := removeID(c.LinkedCardIDs, id)
		if !p && !l {
			continue
		}
		c.ParentCardIDs, c.LinkedCardIDs = parents, links
		if _, err := s.repo.Update(ctx, c); err != nil {
			return fmt.Errorf("detach card %d from %d: %w", id, c.ID, err)
		}
		s.logger.Debug("detached deleted card", zap.Int64("id", id), zap.Int64("from", c.ID))
	}
	return nil
}

// Clone copies a card into a new user-owned card. Overrides are applied on
// top of the copy; the source is always user.
func (s *Store) Clone(ctx context.Context, id int64, overrides Patch) (*Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	draft := &Card{
		Name:             original.Name + " (Copy)",
		Type:             original.Type,
		Rarity:           original.Rarity,
		PromptText:       original.PromptText,
		CompressedPrompt: original.CompressedPrompt,
		KnowledgeLevel:   1,
		PossessionState:  original.PossessionState,
		ParentCardIDs:    slices.Clone(original.ParentCardIDs),
		LinkedCardIDs:    slices.Clone(original.LinkedCardIDs),
		Tags:             slices.Clone(original.Tags),
		Triggers:         slices.Clone(original.Triggers),
		UnlockConditions: map[string]any{},
	}
	overrides.TimesUsed = nil
	overrides.LastUsed = nil
	applyPatch(draft, overrides)
	draft.Source = SourceUser
	if overrides.ParentCardIDs == nil {
		live, err := s.repo.GetByIDs(ctx, draft.ParentCardIDs)
		if err != nil {
			return nil, err
		}
		draft.ParentCardIDs = cardIDs(live)
	}

	return s.insert(ctx, draft)
}

// IncrementUsage bumps times_used and stamps last_used. Allowed on every card.
func (s *Store) IncrementUsage(ctx context.Context, id int64) (*Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	card, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	card.TimesUsed++
	card.LastUsed = &now
	return s.repo.Update(ctx, card)
}

// AddProgress adds progression points and recomputes the knowledge level
func (s *Store) AddProgress(ctx context.Context, id int64, points int) (*Card, error) {
	if points <= 0 {
		return nil, apperr.Validation("points must be positive")
	}
	return s.modify(ctx, id, func(c *Card) (bool, error) {
		c.ProgressionPoints += points
		c.KnowledgeLevel = min(c.ProgressionPoints/3, c.MaxKnowledgeLevel)
		return true, nil
	})
}

// WouldCreateCycle reports whether parentID may not become a parent of id
func (s *Store) WouldCreateCycle(ctx context.Context, id, parentID int64) (bool, error) {
	idx, err := s.Index(ctx)
	if err != nil {
		return false, err
	}
	return idx.WouldCreateCycle(id, parentID), nil
}

// AddParent adds parentID to the card's parents. Adding an existing parent is
// a no-op; an edge that would close a cycle fails with a Cycle error and
// leaves the graph untouched.
func (s *Store) AddParent(ctx context.Context, id, parentID int64) (*Card, error) {
	return s.modify(ctx, id, func(c *Card) (bool, error) {
		if slices.Contains(c.ParentCardIDs, parentID) {
			return false, nil
		}
		if err := s.checkParents(ctx, c, []int64{parentID}); err != nil {
			return false, err
		}
		c.ParentCardIDs = append(c.ParentCardIDs, parentID)
		return true, nil
	})
}

// RemoveParent removes parentID from the card's parents
func (s *Store) RemoveParent(ctx context.Context, id, parentID int64) (*Card, error) {
	return s.modify(ctx, id, func(c *Card) (bool, error) {
		next, changed := removeID(c.ParentCardIDs, parentID)
		c.ParentCardIDs = next
		return changed, nil
	})
}

// Parents returns the card's direct parents
func (s *Store) Parents(ctx context.Context, id int64) ([]*Card, error) {
	card, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.GetMany(ctx, card.ParentCardIDs)
}

// Children returns the cards that list id as a parent
func (s *Store) Children(ctx context.Context, id int64) ([]*Card, error) {
	idx, err := s.indexContaining(ctx, id)
	if err != nil {
		return nil, err
	}
	return idx.Children(id), nil
}

// Ancestors returns every ancestor of id within maxDepth levels, breadth first
func (s *Store) Ancestors(ctx context.Context, id int64, maxDepth int) ([]*Card, error) {
	idx, err := s.indexContaining(ctx, id)
	if err != nil {
		return nil, err
	}
	return orEmpty(idx.Ancestors(id, maxDepth)), nil
}

// Descendants returns every descendant of id within maxDepth levels, breadth first
func (s *Store) Descendants(ctx context.Context, id int64, maxDepth int) ([]*Card, error) {
	idx, err := s.indexContaining(ctx, id)
	if err != nil {
		return nil, err
	}
	return orEmpty(idx.Descendants(id, maxDepth)), nil
}

// AddTag adds a tag to the card
func (s *Store) AddTag(ctx context.Context, id int64, tag string) (*Card, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil, apperr.Validation("tag must not be empty")
	}
	return s.modify(ctx, id, func(c *Card) (bool, error) {
		if c.HasTag(tag) {
			return false, nil
		}
		c.Tags = append(c.Tags, tag)
		return true, nil
	})
}

// RemoveTag removes a tag from the card
func (s *Store) RemoveTag(ctx context.Context, id int64, tag string) (*Card, error) {
	return s.modify(ctx, id, func(c *Card) (bool, error) {
		i := slices.Index(c.Tags, tag)
		if i < 0 {
			return false, nil
		}
		c.Tags = slices.Delete(c.Tags, i, i+1)
		return true, nil
	})
}

// AddLink records linkID as related to the card
func (s *Store) AddLink(ctx context.Context, id, linkID int64) (*Card, error) {
	if id == linkID {
		return nil, apperr.Validation("a card cannot link to itself")
	}
	return s.modify(ctx, id, func(c *Card) (bool, error) {
		if slices.Contains(c.LinkedCardIDs, linkID) {
			return false, nil
		}
		if _, err := s.repo.GetByID(ctx, linkID); err != nil {
			return false, err
		}
		c.LinkedCardIDs = append(c.LinkedCardIDs, linkID)
		return true, nil
	})
}

// RemoveLink drops linkID from the card's related cards
func (s *Store) RemoveLink(ctx context.Context, id, linkID int64) (*Card, error) {
	return s.modify(ctx, id, func(c *Card) (bool, error) {
		next, changed := removeID(c.LinkedCardIDs, linkID)
		c.LinkedCardIDs = next
		return changed, nil
	})
}

// Linked returns the cards the card links to
func (s *Store) Linked(ctx context.Context, id int64) ([]*Card, error) {
	card, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.GetMany(ctx, card.LinkedCardIDs)
}

// AddTrigger appends a trigger to the card
func (s *Store) AddTrigger(ctx context.Context, id int64, t Trigger) (*Card, error) {
	if err := validateTrigger(t); err != nil {
		return nil, err
	}
	return s.modify(ctx, id, func(c *Card) (bool, error) {
		if err := s.checkConditions([]Trigger{t}); err != nil {
			return false, err
		}
		c.Triggers = append(c.Triggers, t)
		return true, nil
	})
}

// UpdateTrigger replaces the trigger at index. An out-of-range index returns
// the card unchanged.
func (s *Store) UpdateTrigger(ctx context.Context, id int64, index int, t Trigger) (*Card, error) {
	if err := validateTrigger(t); err != nil {
		return nil, err
	}
	return s.modify(ctx, id, func(c *Card) (bool, error) {
		if index < 0 || index >= len(c.Triggers) {
			return false, nil
		}
		if err := s.checkConditions([]Trigger{t}); err != nil {
			return false, err
		}
		c.Triggers[index] = t
		return true, nil
	})
}

// RemoveTrigger deletes the trigger at index. An out-of-range index returns
// the card unchanged.
func (s *Store) RemoveTrigger(ctx context.Context, id int64, index int) (*Card, error) {
	return s.modify(ctx, id, func(c *Card) (bool, error) {
		if index < 0 || index >= len(c.Triggers) {
			return false, nil
		}
		c.Triggers = slices.Delete(c.Triggers, index, index+1)
		return true, nil
	})
}

// modify loads a card, applies fn and writes it back when fn reports a
// change. Protected cards reject any change.
func (s *Store) modify(ctx context.Context, id int64, fn func(*Card) (bool, error)) (*Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	card, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	changed, err := fn(card)
	if err != nil {
		return nil, err
	}
	if !changed {
		return card, nil
	}
	if card.Source.Protected() {
		return nil, apperr.Immutable(id, immutableMessage)
	}
	return s.repo.Update(ctx, card)
}

// checkParents verifies that every new parent exists and none would close a cycle
func (s *Store) checkParents(ctx context.Context, card *Card, parents []int64) error {
	var added []int64
	for _, p := range parents {
		if !slices.Contains(card.ParentCardIDs, p) {
			added = append(added, p)
		}
	}
	if len(added) == 0 {
		return nil
	}

	idx, err := s.Index(ctx)
	if err != nil {
		return err
	}
	for _, p := range added {
		if _, ok := idx.Get(p); !ok {
			return apperr.NotFound("card", p)
		}
		if idx.WouldCreateCycle(card.ID, p) {
			s.logger.Info("rejected parent edge",
				zap.Int64("id", card.ID),
				zap.Int64("parent_id", p),
			)
			return apperr.Cycle(card.ID, p)
		}
	}
	return nil
}

// checkConditions runs the installed checker over on_condition triggers.
// Callers hold mu.
func (s *Store) checkConditions(triggers []Trigger) error {
	if s.checkCondition == nil {
		return nil
	}
	for _, t := range triggers {
		if t.Type != TriggerOnCondition {
			continue
		}
		if err := s.checkCondition(t.Condition); err != nil {
			return apperr.Validation("%v", err)
		}
	}
	return nil
}

func (s *Store) indexContaining(ctx context.Context, id int64) (*Index, error) {
	idx, err := s.Index(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := idx.Get(id); !ok {
		return nil, apperr.NotFound("card", id)
	}
	return idx, nil
}

func applyPatch(c *Card, p Patch) {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Type != nil {
		c.Type = *p.Type
	}
	if p.Rarity != nil {
		c.Rarity = *p.Rarity
		c.MaxKnowledgeLevel = c.Rarity.MaxKnowledgeLevel()
	}
	if p.PromptText != nil {
		c.PromptText = *p.PromptText
	}
	if p.CompressedPrompt != nil {
		c.CompressedPrompt = *p.CompressedPrompt
	}
	if p.KnowledgeLevel != nil {
		c.KnowledgeLevel = *p.KnowledgeLevel
	}
	if p.ProgressionPoints != nil {
		c.ProgressionPoints = *p.ProgressionPoints
	}
	if p.PossessionState != nil {
		c.PossessionState = *p.PossessionState
	}
	if p.ParentCardIDs != nil {
		c.ParentCardIDs = slices.Clone(*p.ParentCardIDs)
	}
	if p.LinkedCardIDs != nil {
		c.LinkedCardIDs = uniqueIDs(*p.LinkedCardIDs)
	}
	if p.Tags != nil {
		c.Tags = uniqueTags(*p.Tags)
	}
	if p.Triggers != nil {
		c.Triggers = slices.Clone(*p.Triggers)
	}
	if p.UnlockConditions != nil {
		c.UnlockConditions = cloneMap(*p.UnlockConditions)
	}
	if p.TimesUsed != nil {
		c.TimesUsed = *p.TimesUsed
	}
	if p.LastUsed != nil {
		t := *p.LastUsed
		c.LastUsed = &t
	}
}

func validateCard(c *Card) error {
	if c.Name == "" {
		return apperr.Validation("name is required")
	}
	if !c.Type.Valid() {
		return apperr.Validation("invalid card type %q", c.Type)
	}
	if !c.Rarity.Valid() {
		return apperr.Validation("invalid rarity %q", c.Rarity)
	}
	if !c.Source.Valid() {
		return apperr.Validation("invalid source %q", c.Source)
	}
	if c.KnowledgeLevel < 0 {
		return apperr.Validation("knowledge_level must not be negative")
	}
	for _, t := range c.Triggers {
		if err := validateTrigger(t); err != nil {
			return err
		}
	}
	for _, p := range c.ParentCardIDs {
		if p == c.ID && c.ID != 0 {
			return apperr.Cycle(c.ID, p)
		}
	}
	return nil
}

func validateTrigger(t Trigger) error {
	switch t.Type {
	case TriggerOnMention, TriggerOnQuestComplete, TriggerOnCondition:
	default:
		return apperr.Validation("invalid trigger type %q", t.Type)
	}
	switch t.Action {
	case "", ActionActivate, ActionDeactivate:
	default:
		return apperr.Validation("invalid trigger action %q", t.Action)
	}
	if strings.TrimSpace(t.Condition) == "" {
		return apperr.Validation("trigger condition is required")
	}
	return nil
}

func uniqueIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func uniqueTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

func removeID(ids []int64, id int64) ([]int64, bool) {
	i := slices.Index(ids, id)
	if i < 0 {
		return ids, false
	}
	return slices.Delete(ids, i, i+1), true
}

func cardIDs(cards []*Card) []int64 {
	ids := make([]int64, 0, len(cards))
	for _, c := range cards {
		ids = append(ids, c.ID)
	}
	return ids
}

func orEmpty(cards []*Card) []*Card {
	if cards == nil {
		return []*Card{}
	}
	return cards
}
