package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConversation(id string) *domain.Conversation {
	return &domain.Conversation{
		ID:      id,
		Input:   "a todo app",
		Started: time.Now().UTC().Truncate(time.Second),
		Questions: []domain.QA{
			{Question: "Who is it for?"},
			{Question: "Which platforms?"},
		},
	}
}

// RunConversationStoreContract runs a suite of tests to verify that a
// ConversationStore implementation adheres to the defined interface contract.
func RunConversationStoreContract(t *testing.T, store ConversationStore) {
	ctx := context.Background()
	threadID := "contract-test-thread-" + time.Now().Format("20060102150405")

	t.Run("Save and Load", func(t *testing.T) {
		c := newConversation(threadID)
		c.Fill([]string{"teams"})
		c.Result = map[string]any{"product": map[string]any{"name": "Todo"}}

		err := store.Save(ctx, threadID, c)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, threadID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, c.ID, loaded.ID)
		assert.Equal(t, c.Input, loaded.Input)
		assert.Equal(t, c.Questions, loaded.Questions)
		assert.Equal(t, 1, loaded.Round)
		assert.False(t, loaded.Done)
		assert.True(t, c.Started.Equal(loaded.Started))
		assert.NotNil(t, loaded.Result["product"])
	})

	t.Run("Load returns a copy", func(t *testing.T) {
		loaded, err := store.Load(ctx, threadID)
		require.NoError(t, err)
		loaded.Questions[1].Answer = "mutated"
		loaded.Questions[1].Answered = true

		again, err := store.Load(ctx, threadID)
		require.NoError(t, err)
		assert.True(t, again.Questions[1].Pending())
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+threadID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.Save(ctx, threadID, newConversation(threadID))
		require.NoError(t, err)

		err = store.Delete(ctx, threadID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, threadID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Load after Delete should return ErrSessionNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1 := threadID + "-1"
		id2 := threadID + "-2"
		_ = store.Save(ctx, id1, newConversation(id1))
		_ = store.Save(ctx, id2, newConversation(id2))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
	})
}
