package ports

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/recall/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunCheckpointStoreContract runs a suite of tests to verify that a CheckpointStore
// implementation adheres to the defined interface contract.
func RunCheckpointStoreContract(t *testing.T, store CheckpointStore) {
	ctx := context.Background()
	owner := "contract-" + time.Now().Format("20060102150405.000000000")

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, domain.ConversationKey{OwnerID: owner, ThreadID: "missing"})
		assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)
	})

	t.Run("Create and Load", func(t *testing.T) {
		key := domain.ConversationKey{OwnerID: owner, ThreadID: "create"}
		state := domain.ConversationState{
			Messages: []domain.Message{
				domain.UserMessage("hello"),
				domain.AssistantMessage("", domain.ToolCall{ID: "c1", Name: "get_date_time", Arguments: []byte(`{}`)}),
				domain.ToolMessage(domain.ToolResult{CallID: "c1", Content: "2024-01-01 00:00:00"}),
			},
			RecallMemories: []string{"likes tea"},
		}

		saved, err := store.CompareAndSwap(ctx, key, 0, domain.Checkpoint{State: state, Turn: 1, Next: "agent"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), saved.Version)
		assert.Equal(t, key, saved.Key)

		loaded, err := store.Load(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(1), loaded.Version)
		assert.Equal(t, int64(1), loaded.Turn)
		assert.Equal(t, "agent", loaded.Next)
		assert.Equal(t, key, loaded.Key)
		require.Len(t, loaded.State.Messages, 3)
		assert.Equal(t, "hello", loaded.State.Messages[0].Content)
		require.Len(t, loaded.State.Messages[1].ToolCalls, 1)
		assert.Equal(t, "c1", loaded.State.Messages[1].ToolCalls[0].ID)
		assert.JSONEq(t, `{}`, string(loaded.State.Messages[1].ToolCalls[0].Arguments))
		assert.Equal(t, "c1", loaded.State.Messages[2].ToolCallID)
		assert.Equal(t, []string{"likes tea"}, loaded.State.RecallMemories)
	})

	t.Run("Stale Version Conflicts", func(t *testing.T) {
		key := domain.ConversationKey{OwnerID: owner, ThreadID: "stale"}
		_, err := store.CompareAndSwap(ctx, key, 0, domain.Checkpoint{})
		require.NoError(t, err)

		_, err = store.CompareAndSwap(ctx, key, 0, domain.Checkpoint{})
		assert.ErrorIs(t, err, domain.ErrVersionConflict, "creating an existing key must conflict")

		_, err = store.CompareAndSwap(ctx, key, 7, domain.Checkpoint{})
		assert.ErrorIs(t, err, domain.ErrVersionConflict, "future version must conflict")

		next, err := store.CompareAndSwap(ctx, key, 1, domain.Checkpoint{})
		require.NoError(t, err)
		assert.Equal(t, int64(2), next.Version)
	})

	t.Run("Concurrent Writers", func(t *testing.T) {
		key := domain.ConversationKey{OwnerID: owner, ThreadID: "race"}
		_, err := store.CompareAndSwap(ctx, key, 0, domain.Checkpoint{})
		require.NoError(t, err)

		const writers = 8
		var wg sync.WaitGroup
		results := make([]error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				state := domain.ConversationState{Messages: []domain.Message{domain.UserMessage(fmt.Sprintf("writer %d", i))}}
				_, results[i] = store.CompareAndSwap(ctx, key, 1, domain.Checkpoint{State: state})
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range results {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, domain.ErrVersionConflict)
		}
		assert.Equal(t, 1, wins, "exactly one writer must win")

		loaded, err := store.Load(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(2), loaded.Version)
	})

	t.Run("Keys Are Isolated", func(t *testing.T) {
		a := domain.ConversationKey{OwnerID: owner, ThreadID: "iso"}
		b := domain.ConversationKey{OwnerID: owner + "-other", ThreadID: "iso"}
		_, err := store.CompareAndSwap(ctx, a, 0, domain.Checkpoint{State: domain.ConversationState{
			Messages: []domain.Message{domain.UserMessage("only a")},
		}})
		require.NoError(t, err)

		_, err = store.Load(ctx, b)
		assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)
	})

	if lister, ok := store.(CheckpointLister); ok {
		t.Run("List and Delete", func(t *testing.T) {
			key := domain.ConversationKey{OwnerID: owner, ThreadID: "listed"}
			_, err := store.CompareAndSwap(ctx, key, 0, domain.Checkpoint{})
			require.NoError(t, err)

			keys, err := lister.List(ctx, owner)
			require.NoError(t, err)
			assert.Contains(t, keys, key)
			for _, k := range keys {
				assert.Equal(t, owner, k.OwnerID)
			}

			require.NoError(t, lister.Delete(ctx, key))
			_, err = store.Load(ctx, key)
			assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)

			assert.NoError(t, lister.Delete(ctx, key), "deleting twice is not an error")
		})
	}
}

// RunMemoryStoreContract verifies owner scoping and ranking of a MemoryStore.
func RunMemoryStoreContract(t *testing.T, store MemoryStore) {
	ctx := context.Background()
	suffix := time.Now().Format("150405.000000000")
	alice, bob := "alice-"+suffix, "bob-"+suffix

	t.Run("Empty Owner", func(t *testing.T) {
		got, err := store.Search(ctx, "nobody-"+suffix, "anything", 3)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("Owner Scoping", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(2)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, store.Save(ctx, alice, fmt.Sprintf("alice favorite color is blue %d", i)))
			}(i)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, store.Save(ctx, bob, fmt.Sprintf("bob favorite color is red %d", i)))
			}(i)
		}
		wg.Wait()

		got, err := store.Search(ctx, alice, "favorite color red", 10)
		require.NoError(t, err)
		require.NotEmpty(t, got)
		for _, m := range got {
			assert.Contains(t, m, "alice")
			assert.NotContains(t, m, "bob")
		}

		got, err = store.Search(ctx, bob, "favorite color blue", 10)
		require.NoError(t, err)
		require.NotEmpty(t, got)
		for _, m := range got {
			assert.Contains(t, m, "bob")
		}
	})

	t.Run("Limit and Relevance", func(t *testing.T) {
		owner := "ranked-" + suffix
		require.NoError(t, store.Save(ctx, owner, "The user works as a nurse"))
		require.NoError(t, store.Save(ctx, owner, "The user has a dog named Rex"))
		require.NoError(t, store.Save(ctx, owner, "The user's dog Rex likes the beach"))

		got, err := store.Search(ctx, owner, "what is the name of my dog", 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		for _, m := range got {
			assert.Contains(t, m, "Rex")
		}
	})
}
