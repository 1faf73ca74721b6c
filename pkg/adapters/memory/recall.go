package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/aretw0/recall/internal/relevance"
)

// RecallStore implements ports.MemoryStore in memory with lexical ranking.
// Memories are partitioned by owner; a search never crosses partitions.
type RecallStore struct {
	mu     sync.RWMutex
	owners map[string][]relevance.Document
	seq    int64
}

// NewRecallStore creates an empty memory store.
func NewRecallStore() *RecallStore {
	return &RecallStore{
		owners: make(map[string][]relevance.Document),
	}
}

// Save stores text for ownerID.
func (s *RecallStore) Save(ctx context.Context, ownerID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.owners[ownerID] = append(s.owners[ownerID], relevance.Document{Text: text, Seq: s.seq})
	return nil
}

// Search ranks the memories of ownerID against query.
func (s *RecallStore) Search(ctx context.Context, ownerID, query string, limit int) ([]string, error) {
	s.mu.RLock()
	docs := append([]relevance.Document{}, s.owners[ownerID]...)
	s.mu.RUnlock()

	return relevance.Rank(query, docs, limit), nil
}
