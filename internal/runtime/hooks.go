package runtime

import (
	"context"
	"time"

	"github.com/aretw0/recall/pkg/domain"
	"github.com/aretw0/recall/pkg/graph"
)

func (e *Engine) base(t domain.EventType, key domain.ConversationKey) domain.EventBase {
	return domain.EventBase{Timestamp: e.now(), Type: t, Key: key}
}

func (e *Engine) emitStepEnter(ctx context.Context, key domain.ConversationKey, step graph.Step) {
	if e.hooks.OnStepEnter == nil {
		return
	}
	e.hooks.OnStepEnter(ctx, &domain.StepEvent{
		EventBase: e.base(domain.EventStepEnter, key),
		Step:      step.Name,
		Kind:      string(step.Kind),
	})
}

func (e *Engine) emitStepLeave(ctx context.Context, key domain.ConversationKey, step graph.Step, d time.Duration, err error) {
	if e.hooks.OnStepLeave == nil {
		return
	}
	e.hooks.OnStepLeave(ctx, &domain.StepEvent{
		EventBase: e.base(domain.EventStepLeave, key),
		Step:      step.Name,
		Kind:      string(step.Kind),
		Duration:  d,
		Err:       err,
	})
}

func (e *Engine) emitToolCall(ctx context.Context, key domain.ConversationKey, call domain.ToolCall) {
	if e.hooks.OnToolCall == nil {
		return
	}
	e.hooks.OnToolCall(ctx, &domain.ToolEvent{
		EventBase: e.base(domain.EventToolCall, key),
		CallID:    call.ID,
		ToolName:  call.Name,
	})
}

func (e *Engine) emitToolReturn(ctx context.Context, key domain.ConversationKey, call domain.ToolCall, isError bool, d time.Duration) {
	if e.hooks.OnToolReturn == nil {
		return
	}
	e.hooks.OnToolReturn(ctx, &domain.ToolEvent{
		EventBase: e.base(domain.EventToolReturn, key),
		CallID:    call.ID,
		ToolName:  call.Name,
		IsError:   isError,
		Duration:  d,
	})
}

func (e *Engine) emitCheckpoint(ctx context.Context, key domain.ConversationKey, version int64, conflict bool, err error) {
	if e.hooks.OnCheckpoint == nil {
		return
	}
	e.hooks.OnCheckpoint(ctx, &domain.CheckpointEvent{
		EventBase: e.base(domain.EventCheckpoint, key),
		Version:   version,
		Conflict:  conflict,
		Err:       err,
	})
}
