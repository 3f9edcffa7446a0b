package cards

import (
	"context"
	"sync"
	"time"

	"github.com/qninhdt/storycards/internal/apperr"
)

// Repository is the persistence collaborator for cards. GetByID returns an
// apperr NotFound error for unknown ids; GetAll lists newest first.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Card, error)
	GetAll(ctx context.Context) ([]*Card, error)
	GetByIDs(ctx context.Context, ids []int64) ([]*Card, error)
	Create(ctx context.Context, c *Card) (*Card, error)
	Update(ctx context.Context, c *Card) (*Card, error)
	Delete(ctx context.Context, id int64) error
}

// MemoryRepository keeps cards in process memory
type MemoryRepository struct {
	mu     sync.RWMutex
	cards  map[int64]*Card
	order  []int64
	nextID int64
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		cards:  make(map[int64]*Card),
		nextID: 1,
	}
}

// GetByID returns a copy of the card with the given id
func (r *MemoryRepository) GetByID(_ context.Context, id int64) (*Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.cards[id]
	if !ok {
		return nil, apperr.NotFound("card", id)
	}
	return c.Clone(), nil
}

// GetAll returns every card, newest first
func (r *MemoryRepository) GetAll(_ context.Context) ([]*Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Card, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		out = append(out, r.cards[r.order[i]].Clone())
	}
	return out, nil
}

// GetByIDs returns the cards that exist among ids, in the order requested
func (r *MemoryRepository) GetByIDs(_ context.Context, ids []int64) ([]*Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Card, 0, len(ids))
	for _, id := range ids {
		if c, ok := r.cards[id]; ok {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

// Create stores a new card and assigns its id
func (r *MemoryRepository) Create(_ context.Context, c *Card) (*Card, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := c.Clone()
	stored.ID = r.nextID
	r.nextID++
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	stored.Normalize()

	r.cards[stored.ID] = stored
	r.order = append(r.order, stored.ID)
	return stored.Clone(), nil
}

// Update replaces a stored card
func (r *MemoryRepository) Update(_ context.Context, c *Card) (*Card, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.cards[c.ID]
	if !ok {
		return nil, apperr.NotFound("card", c.ID)
	}
	stored := c.Clone()
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = time.Now().UTC()
	stored.Normalize()
	r.cards[c.ID] = stored
	return stored.Clone(), nil
}

// Delete removes a card
func (r *MemoryRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cards[id]; !ok {
		return apperr.NotFound("card", id)
	}
	delete(r.cards, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}
