package testutils

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/aretw0/recall/pkg/domain"
	"github.com/aretw0/recall/pkg/ports"
)

// Turn scripts one model completion.
type Turn struct {
	// Text is streamed fragment by fragment.
	Text []string
	// Calls are emitted after the text.
	Calls []domain.ToolCall
	// Err, when set, is yielded after the text instead of the calls.
	Err error
	// Wait blocks the completion after the first fragment until it is closed or ctx ends.
	Wait <-chan struct{}
}

// ScriptedModel is a ports.LanguageModel replaying scripted turns in order.
type ScriptedModel struct {
	mu       sync.Mutex
	turns    []Turn
	requests []ports.CompletionRequest

	// Fallback answers once the script is exhausted. Nil means an error is returned.
	Fallback func(req ports.CompletionRequest) Turn
}

// NewScriptedModel creates a model answering with turns, one per completion.
func NewScriptedModel(turns ...Turn) *ScriptedModel {
	return &ScriptedModel{turns: turns}
}

// Requests returns every request received so far.
func (m *ScriptedModel) Requests() []ports.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.CompletionRequest{}, m.requests...)
}

func (m *ScriptedModel) next(req ports.CompletionRequest) (Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.turns) > 0 {
		t := m.turns[0]
		m.turns = m.turns[1:]
		return t, nil
	}
	if m.Fallback != nil {
		return m.Fallback(req), nil
	}
	return Turn{}, fmt.Errorf("scripted model: no turn left for request %d", len(m.requests))
}

func (m *ScriptedModel) Complete(ctx context.Context, req ports.CompletionRequest) iter.Seq2[ports.Chunk, error] {
	return func(yield func(ports.Chunk, error) bool) {
		turn, err := m.next(req)
		if err != nil {
			yield(ports.Chunk{}, err)
			return
		}
		for i, frag := range turn.Text {
			if err := ctx.Err(); err != nil {
				yield(ports.Chunk{}, err)
				return
			}
			if !yield(ports.Chunk{Text: frag}, nil) {
				return
			}
			if i == 0 && turn.Wait != nil {
				select {
				case <-turn.Wait:
				case <-ctx.Done():
					yield(ports.Chunk{}, ctx.Err())
					return
				}
			}
		}
		if turn.Err != nil {
			yield(ports.Chunk{}, turn.Err)
			return
		}
		for _, call := range turn.Calls {
			if !yield(ports.Chunk{ToolCall: &call}, nil) {
				return
			}
		}
	}
}

// RecordingMemory is a ports.MemoryStore that returns fixed memories and records queries.
type RecordingMemory struct {
	mu       sync.Mutex
	Memories []string
	Err      error
	Queries  []string
	Saved    []string
}

func (m *RecordingMemory) Save(_ context.Context, ownerID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Saved = append(m.Saved, ownerID+":"+text)
	return m.Err
}

func (m *RecordingMemory) Search(_ context.Context, _ string, query string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Queries = append(m.Queries, query)
	if m.Err != nil {
		return nil, m.Err
	}
	out := append([]string{}, m.Memories...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
