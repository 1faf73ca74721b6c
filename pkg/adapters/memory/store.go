package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/recall/pkg/domain"
)

// Store implements ports.CheckpointStore and ports.CheckpointLister in memory.
// Safe for concurrent use.
type Store struct {
	data map[domain.ConversationKey]domain.Checkpoint
	mu   sync.RWMutex
}

// NewStore creates a new in-memory checkpoint store.
func NewStore() *Store {
	return &Store{
		data: make(map[domain.ConversationKey]domain.Checkpoint),
	}
}

// Load retrieves the checkpoint from memory.
func (s *Store) Load(ctx context.Context, key domain.ConversationKey) (*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.data[key]
	if !ok {
		return nil, domain.ErrCheckpointNotFound
	}

	// Copy on read so callers can't mutate stored state through shared slices.
	ret := cp
	ret.State = cp.State.Clone()
	return &ret, nil
}

// CompareAndSwap stores next iff the stored version equals expectedVersion.
func (s *Store) CompareAndSwap(ctx context.Context, key domain.ConversationKey, expectedVersion int64, next domain.Checkpoint) (*domain.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data[key].Version != expectedVersion {
		return nil, domain.ErrVersionConflict
	}

	next.Key = key
	next.Version = expectedVersion + 1
	next.State = next.State.Clone()
	s.data[key] = next

	ret := next
	ret.State = next.State.Clone()
	return &ret, nil
}

// Delete removes the checkpoint.
func (s *Store) Delete(ctx context.Context, key domain.ConversationKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// List returns the stored keys of ownerID (all owners when empty), sorted.
func (s *Store) List(ctx context.Context, ownerID string) ([]domain.ConversationKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]domain.ConversationKey, 0, len(s.data))
	for k := range s.data {
		if ownerID == "" || k.OwnerID == ownerID {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys, nil
}
