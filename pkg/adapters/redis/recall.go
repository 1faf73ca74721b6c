package redis

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aretw0/recall/internal/relevance"
	backend "github.com/redis/go-redis/v9"
)

// RecallStore implements ports.MemoryStore with one Redis list per owner.
// Ranking is lexical and happens client side over the most recent window of memories.
type RecallStore struct {
	client *backend.Client
	prefix string
	window int64
}

// RecallOption configures a RecallStore.
type RecallOption func(*RecallStore)

// WithRecallPrefix sets the key prefix.
func WithRecallPrefix(prefix string) RecallOption {
	return func(s *RecallStore) { s.prefix = prefix }
}

// WithSearchWindow bounds how many recent memories a search ranks (default 1000).
func WithSearchWindow(n int64) RecallOption {
	return func(s *RecallStore) {
		if n > 0 {
			s.window = n
		}
	}
}

// NewRecallStore creates a memory store on client.
func NewRecallStore(client *backend.Client, opts ...RecallOption) *RecallStore {
	s := &RecallStore{client: client, prefix: defaultPrefix, window: 1000}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RecallStore) key(ownerID string) string {
	return s.prefix + "memory:" + url.PathEscape(ownerID)
}

// Save appends text to the owner's list.
func (s *RecallStore) Save(ctx context.Context, ownerID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if err := s.client.RPush(ctx, s.key(ownerID), text).Err(); err != nil {
		return fmt.Errorf("failed to save memory: %w", err)
	}
	return nil
}

// Search ranks the owner's most recent memories against query.
func (s *RecallStore) Search(ctx context.Context, ownerID, query string, limit int) ([]string, error) {
	texts, err := s.client.LRange(ctx, s.key(ownerID), -s.window, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read memories: %w", err)
	}
	docs := make([]relevance.Document, len(texts))
	for i, t := range texts {
		docs[i] = relevance.Document{Text: t, Seq: int64(i)}
	}
	return relevance.Rank(query, docs, limit), nil
}
