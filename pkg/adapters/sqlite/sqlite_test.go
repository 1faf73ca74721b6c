package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/aretw0/recall/pkg/adapters/sqlite"
	"github.com/aretw0/recall/pkg/domain"
	"github.com/aretw0/recall/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store := sqlite.New(filepath.Join(t.TempDir(), "recall.db"))
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Init(context.Background()))
	return store
}

func TestSQLiteStore_Contract(t *testing.T) {
	ports.RunCheckpointStoreContract(t, newStore(t))
}

func TestSQLiteRecallStore_Contract(t *testing.T) {
	ports.RunMemoryStoreContract(t, newStore(t))
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recall.db")
	ctx := context.Background()
	key := domain.ConversationKey{OwnerID: "u1", ThreadID: "t1"}

	store := sqlite.New(path)
	require.NoError(t, store.Init(ctx))
	_, err := store.CompareAndSwap(ctx, key, 0, domain.Checkpoint{
		State: domain.ConversationState{Messages: []domain.Message{domain.UserMessage("hi")}},
		Turn:  1,
	})
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "u1", "User likes green tea"))
	require.NoError(t, store.Close())

	reopened := sqlite.New(path)
	defer reopened.Close()
	require.NoError(t, reopened.Init(ctx))

	cp, err := reopened.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cp.Version)
	assert.Equal(t, "hi", cp.State.Messages[0].Content)

	got, err := reopened.Search(ctx, "u1", "tea", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"User likes green tea"}, got)
}
