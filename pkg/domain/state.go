package domain

import (
	"fmt"
	"time"
)

// ConversationState is the value the graph steps read and update.
type ConversationState struct {
	Messages       []Message `json:"messages"`
	RecallMemories []string  `json:"recall_memories"`
}

// StateUpdate is the partial update returned by a step.
// Only the fields a step changed are set.
type StateUpdate struct {
	// AppendMessages are appended to the transcript in order.
	AppendMessages []Message

	// RecallMemories replaces the recall memories when non-nil.
	RecallMemories *[]string
}

// SetRecall returns an update that replaces the recall memories.
func SetRecall(memories []string) StateUpdate {
	if memories == nil {
		memories = []string{}
	}
	return StateUpdate{RecallMemories: &memories}
}

// Append returns an update that appends messages to the transcript.
func Append(msgs ...Message) StateUpdate {
	return StateUpdate{AppendMessages: msgs}
}

// IsEmpty reports whether the update changes nothing.
func (u StateUpdate) IsEmpty() bool {
	return len(u.AppendMessages) == 0 && u.RecallMemories == nil
}

// Apply merges the update into a copy of the state. The receiver is not modified.
func (s ConversationState) Apply(u StateUpdate) ConversationState {
	next := s.Clone()
	for _, m := range u.AppendMessages {
		next.Messages = append(next.Messages, m.Clone())
	}
	if u.RecallMemories != nil {
		next.RecallMemories = append([]string{}, (*u.RecallMemories)...)
	}
	return next
}

// Clone returns a deep copy of the state.
func (s ConversationState) Clone() ConversationState {
	out := ConversationState{
		Messages:       make([]Message, len(s.Messages)),
		RecallMemories: append([]string{}, s.RecallMemories...),
	}
	for i, m := range s.Messages {
		out.Messages[i] = m.Clone()
	}
	return out
}

// LastMessage returns the final transcript entry, if any.
func (s ConversationState) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// ConversationKey identifies one checkpoint lineage.
type ConversationKey struct {
	OwnerID  string `json:"owner_id"`
	ThreadID string `json:"thread_id"`
}

// String renders the key as "owner/thread".
func (k ConversationKey) String() string {
	return k.OwnerID + "/" + k.ThreadID
}

// Validate rejects keys with empty components.
func (k ConversationKey) Validate() error {
	if k.OwnerID == "" {
		return fmt.Errorf("%w: owner id is required", ErrInvalidKey)
	}
	if k.ThreadID == "" {
		return fmt.Errorf("%w: thread id is required", ErrInvalidKey)
	}
	return nil
}

// Checkpoint is the persisted execution state of one conversation key.
type Checkpoint struct {
	Key   ConversationKey   `json:"key"`
	State ConversationState `json:"state"`

	// Version is the compare-and-swap counter. Only the highest version is authoritative.
	Version int64 `json:"version"`

	// Turn counts completed runs.
	Turn int64 `json:"turn"`

	// Next names the step to execute when a run was interrupted mid-turn.
	// Empty when the last turn completed.
	Next string `json:"next,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Pending reports whether the checkpoint was written in the middle of a turn.
func (c *Checkpoint) Pending() bool {
	return c != nil && c.Next != ""
}
