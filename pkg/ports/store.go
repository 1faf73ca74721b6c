package ports

import (
	"context"

	"github.com/aretw0/recall/pkg/domain"
)

// CheckpointStore persists the latest execution state per conversation key.
// This allows for durable execution: a conversation resumes exactly where it left off.
type CheckpointStore interface {
	// Load retrieves the checkpoint for a key.
	// Returns domain.ErrCheckpointNotFound if the key has never been written.
	Load(ctx context.Context, key domain.ConversationKey) (*domain.Checkpoint, error)

	// CompareAndSwap stores next iff the stored version equals expectedVersion
	// (0 meaning "no checkpoint yet"). The stored checkpoint gets Version = expectedVersion+1
	// and is returned. A stale expectedVersion yields domain.ErrVersionConflict.
	CompareAndSwap(ctx context.Context, key domain.ConversationKey, expectedVersion int64, next domain.Checkpoint) (*domain.Checkpoint, error)
}

// CheckpointLister is implemented by stores that support administration.
type CheckpointLister interface {
	// List returns the keys of every stored checkpoint of ownerID, or of all owners if empty.
	List(ctx context.Context, ownerID string) ([]domain.ConversationKey, error)

	// Delete removes the checkpoint of a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key domain.ConversationKey) error
}
