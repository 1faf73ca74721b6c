package ports

import "context"

// MemoryStore is the long-term memory service.
// Search must only ever return memories saved under the same ownerID.
type MemoryStore interface {
	// Save stores text for later retrieval by the same owner.
	Save(ctx context.Context, ownerID, text string) error

	// Search returns at most limit memories of ownerID, most relevant first.
	Search(ctx context.Context, ownerID, query string, limit int) ([]string, error)
}
