package ports

import (
	"context"

	"github.com/aretw0/prdflow/pkg/domain"
)

// ConversationStore defines the interface for persisting clarification threads.
// It lets several backend replicas serve the same thread.
type ConversationStore interface {
	// Save persists the conversation for a given thread ID.
	Save(ctx context.Context, threadID string, c *domain.Conversation) error

	// Load retrieves the conversation for a given thread ID.
	// Returns domain.ErrSessionNotFound if the thread does not exist.
	Load(ctx context.Context, threadID string) (*domain.Conversation, error)

	// Delete removes the conversation for a given thread ID.
	Delete(ctx context.Context, threadID string) error

	// List returns the IDs of stored threads.
	List(ctx context.Context) ([]string, error)
}
