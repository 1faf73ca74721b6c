package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/recall/pkg/domain"
	"github.com/aretw0/recall/pkg/graph"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// errStopped aborts a run whose consumer stopped pulling fragments.
var errStopped = errors.New("stream consumer stopped")

// run is the state of one invocation. It is owned by a single goroutine.
type run struct {
	engine  *Engine
	key     domain.ConversationKey
	state   domain.ConversationState
	version int64
	turn    int64
	pending string
	rounds  int
	logger  *slog.Logger
}

func (r *run) execute(ctx context.Context, question string, emit func(string) bool) (domain.Message, error) {
	if r.pending != "" {
		r.logger.Info("resuming interrupted turn", "step", r.pending, "version", r.version)
		_, err := r.loop(ctx, r.pending, nil)
		var tle *domain.ToolLoopExceededError
		if err != nil && !errors.As(err, &tle) {
			return domain.Message{}, fmt.Errorf("failed to resume interrupted turn: %w", err)
		}
		r.rounds = 0
	}

	r.state = r.state.Apply(domain.Append(domain.UserMessage(question)))
	return r.loop(ctx, r.engine.graph.Start(), emit)
}

// loop runs steps from current until the graph ends, merging and persisting as it goes.
func (r *run) loop(ctx context.Context, current string, emit func(string) bool) (domain.Message, error) {
	g := r.engine.graph
	for current != graph.End {
		step, ok := g.Step(current)
		if !ok {
			return domain.Message{}, fmt.Errorf("checkpoint refers to unknown step %q", current)
		}

		if step.Kind == graph.KindTools {
			r.rounds++
			if r.rounds > r.engine.maxToolRounds {
				return r.exceedToolLoop(ctx)
			}
		}

		update, err := r.runStep(ctx, step, emit)
		if err != nil {
			return domain.Message{}, err
		}
		r.state = r.state.Apply(update)

		next, err := g.Resolve(current, r.state)
		if err != nil {
			return domain.Message{}, err
		}

		if next == graph.End {
			if err := r.persist(ctx, "", true); err != nil {
				return domain.Message{}, err
			}
		} else if r.engine.policy == CheckpointPerStep {
			if err := r.persist(ctx, next, false); err != nil {
				return domain.Message{}, err
			}
		}
		current = next
	}
	return r.lastAssistant(), nil
}

func (r *run) runStep(ctx context.Context, step graph.Step, emit func(string) bool) (update domain.StateUpdate, err error) {
	ctx, span := r.engine.tracer.Start(ctx, "recall.step "+step.Name, trace.WithAttributes(
		attribute.String("recall.step", step.Name),
		attribute.String("recall.step.kind", string(step.Kind)),
		attribute.String("recall.key", r.key.String()),
	))
	start := time.Now()
	r.engine.emitStepEnter(ctx, r.key, step)
	defer func() {
		if err != nil && !errors.Is(err, errStopped) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		r.engine.emitStepLeave(ctx, r.key, step, time.Since(start), err)
	}()

	r.logger.Debug("running step", "step", step.Name, "kind", step.Kind)

	switch step.Kind {
	case graph.KindMemoryLoad:
		return r.loadMemories(ctx)
	case graph.KindGenerate:
		return r.generate(ctx, emit)
	case graph.KindTools:
		return r.invokeTools(ctx)
	default:
		update, err := step.Fn(ctx, r.state.Clone())
		if err != nil {
			return domain.StateUpdate{}, fmt.Errorf("step %q failed: %w", step.Name, err)
		}
		return update, nil
	}
}

// persist writes the current state with compare-and-swap. The write runs on a context
// detached from caller cancellation so it either completes or fails cleanly.
func (r *run) persist(ctx context.Context, next string, completed bool) error {
	cp := domain.Checkpoint{
		Key:       r.key,
		State:     r.state,
		Turn:      r.turn,
		Next:      next,
		UpdatedAt: r.engine.now(),
	}
	if completed {
		cp.Turn++
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.engine.writeTimeout)
	defer cancel()

	saved, err := r.engine.store.CompareAndSwap(wctx, r.key, r.version, cp)
	conflict := errors.Is(err, domain.ErrVersionConflict)
	var version int64
	if saved != nil {
		version = saved.Version
	}
	r.engine.emitCheckpoint(ctx, r.key, version, conflict, err)

	if conflict {
		r.logger.Warn("concurrent modification detected", "expected_version", r.version)
		return &domain.ConcurrentModificationError{Key: r.key, ExpectedVersion: r.version}
	}
	if err != nil {
		return fmt.Errorf("failed to persist checkpoint for %s: %w", r.key, err)
	}

	r.version = saved.Version
	r.turn = saved.Turn
	r.logger.Debug("checkpoint written", "version", saved.Version, "next", next)
	return nil
}

// exceedToolLoop closes the pending tool calls with synthetic error results so the
// transcript stays well formed, ends the turn, and reports the bound.
func (r *run) exceedToolLoop(ctx context.Context) (domain.Message, error) {
	limit := r.engine.maxToolRounds
	r.logger.Warn("tool loop limit reached", "limit", limit)

	if last, ok := r.state.LastMessage(); ok && last.HasToolCalls() {
		msgs := make([]domain.Message, 0, len(last.ToolCalls))
		for _, call := range last.ToolCalls {
			msgs = append(msgs, domain.ToolMessage(domain.ToolResult{
				CallID: call.ID,
				Error:  fmt.Sprintf("tool loop limit of %d rounds reached; %s was not executed", limit, call.Name),
			}))
		}
		r.state = r.state.Apply(domain.Append(msgs...))
	}

	best := r.lastAssistant()
	if err := r.persist(ctx, "", true); err != nil {
		return best, err
	}
	return best, &domain.ToolLoopExceededError{Rounds: r.rounds, Limit: limit}
}

func (r *run) lastAssistant() domain.Message {
	for i := len(r.state.Messages) - 1; i >= 0; i-- {
		if r.state.Messages[i].Role == domain.RoleAssistant {
			return r.state.Messages[i].Clone()
		}
	}
	return domain.Message{Role: domain.RoleAssistant}
}
