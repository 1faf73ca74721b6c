package tools

import (
	"time"

	"github.com/aretw0/recall/pkg/ports"
	"github.com/aretw0/recall/pkg/registry"
)

// Options selects the default tool set.
type Options struct {
	// RecallLimit bounds search_recall_memories results.
	RecallLimit int
	// WebSearch, when set, adds web_search.
	WebSearch *WebSearch
	Now       func() time.Time
}

// Default returns the agent's tools in the order they are offered to the model.
func Default(memory ports.MemoryStore, opts Options) []registry.Tool {
	out := []registry.Tool{
		SaveRecallMemory(memory),
		SearchRecallMemories(memory, opts.RecallLimit),
	}
	if opts.WebSearch != nil {
		out = append(out, opts.WebSearch.Tool())
	}
	return append(out, GetDateTime(opts.Now))
}
