package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/recall/pkg/domain"
	"github.com/aretw0/recall/pkg/ports"
	"github.com/aretw0/recall/pkg/registry"
)

const (
	SearchRecallMemoriesName = "search_recall_memories"
	SaveRecallMemoryName     = "save_recall_memory"
)

// ErrNoOwner is returned when a memory tool runs without a conversation key in its context.
var ErrNoOwner = errors.New("user id needs to be provided to use memory tools")

type searchInput struct {
	Query string `json:"query" jsonschema_description:"What to look for in the user's long-term memories"`
}

type saveInput struct {
	Memory string `json:"memory" jsonschema_description:"The fact about the user to remember, written as a short standalone sentence"`
}

func ownerFrom(ctx context.Context) (string, error) {
	key, ok := domain.ConversationKeyFrom(ctx)
	if !ok || key.OwnerID == "" {
		return "", ErrNoOwner
	}
	return key.OwnerID, nil
}

// SearchRecallMemories searches the caller's long-term memories. The result is a JSON
// array of at most limit memory strings.
func SearchRecallMemories(store ports.MemoryStore, limit int) registry.Tool {
	if limit <= 0 {
		limit = 3
	}
	return registry.NewFunc(SearchRecallMemoriesName,
		"Search for memories saved in earlier conversations with this user.",
		func(ctx context.Context, in searchInput) (string, error) {
			owner, err := ownerFrom(ctx)
			if err != nil {
				return "", err
			}
			if strings.TrimSpace(in.Query) == "" {
				return "", fmt.Errorf("query must not be empty")
			}
			memories, err := store.Search(ctx, owner, in.Query, limit)
			if err != nil {
				return "", fmt.Errorf("search memories: %w", err)
			}
			data, err := json.Marshal(memories)
			if err != nil {
				return "", err
			}
			return string(data), nil
		})
}

// SaveRecallMemory stores a memory for the caller and echoes it back.
func SaveRecallMemory(store ports.MemoryStore) registry.Tool {
	return registry.NewFunc(SaveRecallMemoryName,
		"Save a memory about the user so it can be recalled in later conversations.",
		func(ctx context.Context, in saveInput) (string, error) {
			owner, err := ownerFrom(ctx)
			if err != nil {
				return "", err
			}
			memory := strings.TrimSpace(in.Memory)
			if memory == "" {
				return "", fmt.Errorf("memory must not be empty")
			}
			if err := store.Save(ctx, owner, memory); err != nil {
				return "", fmt.Errorf("save memory: %w", err)
			}
			return memory, nil
		})
}
