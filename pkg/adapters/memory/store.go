package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/aretw0/prdflow/pkg/ports"
)

// Store implements ports.ConversationStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]*domain.Conversation
	mu   sync.RWMutex
}

var _ ports.ConversationStore = (*Store)(nil)

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*domain.Conversation),
	}
}

// Save stores a copy of the conversation.
func (s *Store) Save(ctx context.Context, threadID string, c *domain.Conversation) error {
	copied := c.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[threadID] = copied
	return nil
}

// Load returns a copy so callers can't mutate stored state through the pointer.
func (s *Store) Load(ctx context.Context, threadID string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.data[threadID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return c.Clone(), nil
}

// Delete removes the conversation.
func (s *Store) Delete(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, threadID)
	return nil
}

// List returns stored thread IDs in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
