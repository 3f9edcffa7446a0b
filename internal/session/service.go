package session

import (
	"context"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/qninhdt/storycards/internal/cards"
)

// CardGetter resolves card ids when activating cards
type CardGetter interface {
	Get(ctx context.Context, id int64) (*cards.Card, error)
}

// Service coordinates session mutations. Every write to a session goes
// through Lock so turns and activation edits on one session never interleave.
type Service struct {
	repo   Repository
	turns  TurnRepository
	cards  CardGetter
	logger *zap.Logger
	locks  *KeyedMutex
}

// NewService creates a session service
func NewService(repo Repository, turns TurnRepository, cardGetter CardGetter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:   repo,
		turns:  turns,
		cards:  cardGetter,
		logger: logger,
		locks:  NewKeyedMutex(),
	}
}

// Repository returns the underlying session repository
func (s *Service) Repository() Repository { return s.repo }

// Turns returns the underlying turn repository
func (s *Service) Turns() TurnRepository { return s.turns }

// Lock serializes work on one session and returns the unlock func
func (s *Service) Lock(id int64) func() {
	return s.locks.Lock(id)
}

// Create starts a new empty story
func (s *Service) Create(ctx context.Context, name string) (*Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}
	created, err := s.repo.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	s.logger.Info("session created", zap.Int64("session_id", created.ID), zap.String("name", created.Name))
	return created, nil
}

// Get returns a session
func (s *Service) Get(ctx context.Context, id int64) (*Session, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns all sessions, most recently updated first
func (s *Service) List(ctx context.Context) ([]*Session, error) {
	return s.repo.GetAll(ctx)
}

// Update applies a patch under the session lock
func (s *Service) Update(ctx context.Context, id int64, patch Patch) (*Session, error) {
	defer s.Lock(id)()
	return s.repo.Update(ctx, id, patch)
}

// Delete removes a session and its turn history
func (s *Service) Delete(ctx context.Context, id int64) error {
	defer s.Lock(id)()
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	return s.turns.DeleteBySessionID(ctx, id)
}

// ActivateCard adds a card to the session's context. Activating an active
// card is a no-op.
func (s *Service) ActivateCard(ctx context.Context, id, cardID int64) (*Session, error) {
	if _, err := s.cards.Get(ctx, cardID); err != nil {
		return nil, err
	}

	defer s.Lock(id)()
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.IsActive(cardID) {
		return sess, nil
	}
	active := append(sess.ActiveCards, cardID)
	return s.repo.Update(ctx, id, Patch{ActiveCards: &active})
}

// DeactivateCard removes a card from the session's context
func (s *Service) DeactivateCard(ctx context.Context, id, cardID int64) (*Session, error) {
	defer s.Lock(id)()
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	i := slices.Index(sess.ActiveCards, cardID)
	if i < 0 {
		return sess, nil
	}
	active := slices.Delete(sess.ActiveCards, i, i+1)
	return s.repo.Update(ctx, id, Patch{ActiveCards: &active})
}

// History returns a session's turns in order
func (s *Service) History(ctx context.Context, id int64) ([]*Turn, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.turns.GetBySessionID(ctx, id)
}

// KeyedMutex hands out one mutex per key and forgets it once nobody holds
// or waits for it
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an empty keyed mutex
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[int64]*keyedLock)}
}

// Lock acquires the mutex for key and returns its release func
func (k *KeyedMutex) Lock(key int64) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
