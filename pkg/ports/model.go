package ports

import (
	"context"
	"iter"

	"github.com/aretw0/recall/pkg/domain"
)

// CompletionRequest is the normalized input to a language model.
type CompletionRequest struct {
	// System is the system prompt, including the rendered recall block.
	System   string
	Messages []domain.Message
	Tools    []domain.ToolDefinition
}

// Chunk is one element of a streamed completion: either a text fragment or a
// fully assembled tool-call request.
type Chunk struct {
	Text     string
	ToolCall *domain.ToolCall
}

// LanguageModel produces completions as a lazy sequence of chunks.
// Implementations must stop producing and release the underlying subscription as soon as
// the consumer stops iterating or ctx is cancelled.
type LanguageModel interface {
	Complete(ctx context.Context, req CompletionRequest) iter.Seq2[Chunk, error]
}

// Collect drains a completion into a single assistant message.
func Collect(seq iter.Seq2[Chunk, error]) (domain.Message, error) {
	msg := domain.Message{Role: domain.RoleAssistant}
	for chunk, err := range seq {
		if err != nil {
			return domain.Message{}, err
		}
		msg.Content += chunk.Text
		if chunk.ToolCall != nil {
			msg.ToolCalls = append(msg.ToolCalls, *chunk.ToolCall)
		}
	}
	return msg, nil
}
