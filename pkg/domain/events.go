package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventStepEnter  EventType = "step_enter"
	EventStepLeave  EventType = "step_leave"
	EventToolCall   EventType = "tool_call"
	EventToolReturn EventType = "tool_return"
	EventCheckpoint EventType = "checkpoint"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time       `json:"timestamp"`
	Type      EventType       `json:"type"`
	Key       ConversationKey `json:"key"`
}

// StepEvent represents entry or exit from a step.
type StepEvent struct {
	EventBase
	Step     string        `json:"step"`
	Kind     string        `json:"kind"`
	Duration time.Duration `json:"duration,omitempty"` // set on leave
	Err      error         `json:"-"`
}

// ToolEvent represents a tool execution.
type ToolEvent struct {
	EventBase
	CallID   string        `json:"call_id"`
	ToolName string        `json:"tool_name"`
	IsError  bool          `json:"is_error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// CheckpointEvent represents a checkpoint write attempt.
type CheckpointEvent struct {
	EventBase
	Version  int64 `json:"version"`
	Conflict bool  `json:"conflict,omitempty"`
	Err      error `json:"-"`
}

// LifecycleHooks defines callbacks for engine observability.
// Every field is optional.
type LifecycleHooks struct {
	OnStepEnter  func(context.Context, *StepEvent)
	OnStepLeave  func(context.Context, *StepEvent)
	OnToolCall   func(context.Context, *ToolEvent)
	OnToolReturn func(context.Context, *ToolEvent)
	OnCheckpoint func(context.Context, *CheckpointEvent)
}

// Merge combines two hook sets; both callbacks run, h first.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnStepEnter:  chain(h.OnStepEnter, other.OnStepEnter),
		OnStepLeave:  chain(h.OnStepLeave, other.OnStepLeave),
		OnToolCall:   chain(h.OnToolCall, other.OnToolCall),
		OnToolReturn: chain(h.OnToolReturn, other.OnToolReturn),
		OnCheckpoint: chain(h.OnCheckpoint, other.OnCheckpoint),
	}
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
