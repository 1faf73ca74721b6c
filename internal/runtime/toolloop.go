package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/recall/pkg/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// invokeTools executes every tool call of the last assistant message concurrently and
// appends one tool message per call, in request order.
func (r *run) invokeTools(ctx context.Context) (domain.StateUpdate, error) {
	last, ok := r.state.LastMessage()
	if !ok || !last.HasToolCalls() {
		return domain.StateUpdate{}, nil
	}

	calls := last.ToolCalls
	results := make([]domain.ToolResult, len(calls))

	tctx := domain.WithConversationKey(ctx, r.key)
	var g errgroup.Group
	if r.engine.maxParallelTools > 0 {
		g.SetLimit(r.engine.maxParallelTools)
	}
	for i, call := range calls {
		g.Go(func() error {
			results[i] = r.invokeTool(tctx, call)
			return nil
		})
	}
	_ = g.Wait()

	// An interrupted round appends nothing.
	if err := ctx.Err(); err != nil {
		return domain.StateUpdate{}, err
	}

	msgs := make([]domain.Message, len(results))
	for i, res := range results {
		msgs[i] = domain.ToolMessage(res)
	}
	return domain.Append(msgs...), nil
}

// invokeTool never fails: unknown tools, tool errors and panics become error results.
func (r *run) invokeTool(ctx context.Context, call domain.ToolCall) (res domain.ToolResult) {
	ctx, span := r.engine.tracer.Start(ctx, "recall.tool "+call.Name, trace.WithAttributes(
		attribute.String("recall.tool", call.Name),
		attribute.String("recall.tool.call_id", call.ID),
	))
	start := time.Now()
	r.engine.emitToolCall(ctx, r.key, call)

	res.CallID = call.ID
	defer func() {
		if p := recover(); p != nil {
			res = domain.ToolResult{CallID: call.ID, Error: fmt.Sprintf("tool %s panicked: %v", call.Name, p)}
		}
		if res.IsError() {
			span.SetStatus(codes.Error, res.Error)
			r.logger.Warn("tool call failed", "tool", call.Name, "call_id", call.ID, "error", res.Error)
		}
		span.End()
		r.engine.emitToolReturn(ctx, r.key, call, res.IsError(), time.Since(start))
	}()

	out, err := r.engine.tools.Invoke(ctx, call.Name, call.Arguments)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Content = out
	return res
}
