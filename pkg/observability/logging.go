package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/recall/pkg/domain"
)

// LoggingHooks returns lifecycle hooks writing one record per event.
// Step and tool events log at debug level; failed writes and conflicts at warn.
func LoggingHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStepEnter: func(ctx context.Context, e *domain.StepEvent) {
			logger.DebugContext(ctx, "step_enter", "key", e.Key.String(), "step", e.Step, "kind", e.Kind)
		},
		OnStepLeave: func(ctx context.Context, e *domain.StepEvent) {
			if e.Err != nil {
				logger.WarnContext(ctx, "step_leave", "key", e.Key.String(), "step", e.Step, "duration", e.Duration, "err", e.Err)
				return
			}
			logger.DebugContext(ctx, "step_leave", "key", e.Key.String(), "step", e.Step, "duration", e.Duration)
		},
		OnToolCall: func(ctx context.Context, e *domain.ToolEvent) {
			logger.DebugContext(ctx, "tool_call", "key", e.Key.String(), "tool_name", e.ToolName, "call_id", e.CallID)
		},
		OnToolReturn: func(ctx context.Context, e *domain.ToolEvent) {
			logger.DebugContext(ctx, "tool_return",
				"key", e.Key.String(),
				"tool_name", e.ToolName,
				"call_id", e.CallID,
				"is_error", e.IsError,
				"duration", e.Duration,
			)
		},
		OnCheckpoint: func(ctx context.Context, e *domain.CheckpointEvent) {
			if e.Err != nil {
				logger.WarnContext(ctx, "checkpoint", "key", e.Key.String(), "version", e.Version, "conflict", e.Conflict, "err", e.Err)
				return
			}
			logger.DebugContext(ctx, "checkpoint", "key", e.Key.String(), "version", e.Version)
		},
	}
}
