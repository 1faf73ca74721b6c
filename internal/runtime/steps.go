package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/recall/pkg/domain"
	"github.com/aretw0/recall/pkg/ports"
)

// loadMemories queries long-term memory with the tail of the transcript.
func (r *run) loadMemories(ctx context.Context) (domain.StateUpdate, error) {
	query := truncateTokens(bufferString(r.state.Messages), r.engine.recallBudget)
	memories, err := r.engine.memory.Search(ctx, r.key.OwnerID, query, r.engine.recallLimit)
	if err != nil {
		return domain.StateUpdate{}, fmt.Errorf("memory search failed: %w", err)
	}
	if len(memories) > r.engine.recallLimit {
		memories = memories[:r.engine.recallLimit]
	}
	r.logger.Debug("recall memories loaded", "count", len(memories))
	return domain.SetRecall(memories), nil
}

// generate calls the model and appends exactly one assistant message.
// Text fragments are forwarded to emit as they arrive.
func (r *run) generate(ctx context.Context, emit func(string) bool) (domain.StateUpdate, error) {
	req := ports.CompletionRequest{
		System:   renderSystemPrompt(r.engine.systemPrompt, r.state.RecallMemories, r.engine.now()),
		Messages: r.state.Clone().Messages,
		Tools:    r.engine.tools.Definitions(),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	msg := domain.Message{Role: domain.RoleAssistant}
	var text strings.Builder
	for chunk, err := range r.engine.model.Complete(ctx, req) {
		if err != nil {
			return domain.StateUpdate{}, fmt.Errorf("model completion failed: %w", err)
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			if emit != nil && !emit(chunk.Text) {
				return domain.StateUpdate{}, errStopped
			}
		}
		if chunk.ToolCall != nil {
			call := *chunk.ToolCall
			if call.ID == "" {
				call.ID = r.engine.newID()
			}
			msg.ToolCalls = append(msg.ToolCalls, call)
		}
	}
	// A cancelled context may end the sequence early without an error element.
	if err := ctx.Err(); err != nil {
		return domain.StateUpdate{}, err
	}

	msg.Content = text.String()
	return domain.Append(msg), nil
}

// bufferString renders the transcript one "Role: content" line per message.
func bufferString(msgs []domain.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		var prefix string
		switch m.Role {
		case domain.RoleUser:
			prefix = "Human"
		case domain.RoleAssistant:
			prefix = "AI"
		case domain.RoleTool:
			prefix = "Tool"
		default:
			prefix = string(m.Role)
		}
		lines = append(lines, prefix+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}
