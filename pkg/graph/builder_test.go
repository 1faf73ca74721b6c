package graph_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/recall/pkg/domain"
	"github.com/aretw0/recall/pkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(_ context.Context, _ domain.ConversationState) (domain.StateUpdate, error) {
	return domain.StateUpdate{}, nil
}

func defaultGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.New().
		MemoryLoad("load_memories").
		Generate("agent").
		Tools("tools").
		Start("load_memories").
		Edge("load_memories", "agent").
		Conditional("agent", graph.RouteTools, map[string]string{graph.LabelTools: "tools"}).
		Edge("tools", "agent").
		Compile()
	require.NoError(t, err)
	return g
}

func TestCompile_DefaultShape(t *testing.T) {
	g := defaultGraph(t)

	assert.Equal(t, "load_memories", g.Start())
	require.Len(t, g.Steps(), 3)
	assert.Equal(t, graph.KindGenerate, g.Steps()[1].Kind)
	assert.Equal(t, []string{"agent"}, g.Successors("load_memories"))
	assert.Equal(t, []string{"tools"}, g.Successors("agent"))

	transitions := g.Transitions()
	require.Len(t, transitions, 3)
	assert.Equal(t, graph.Transition{From: "agent", To: "tools", Label: "tools", Conditional: true}, transitions[1])
}

func TestCompile_CollectsEveryViolation(t *testing.T) {
	_, err := graph.New().
		Step("a", noop).
		Step("b", noop).
		Step("orphan", noop).
		Start("a").
		Edge("a", "b").
		Edge("orphan", "a").
		Conditional("b", graph.RouteTools, map[string]string{"x": "missing"}).
		Compile()
	require.Error(t, err)

	var gve *domain.GraphValidationError
	require.True(t, errors.As(err, &gve))
	assert.Len(t, gve.Violations, 2, "violations: %v", gve.Violations)
	assert.Contains(t, gve.Violations[0], `"missing"`)
	assert.Contains(t, gve.Violations[1], `"orphan"`)
}

func TestCompile_Violations(t *testing.T) {
	tests := []struct {
		name    string
		build   func() *graph.Builder
		message string
	}{
		{
			name:    "missing start",
			build:   func() *graph.Builder { return graph.New().Step("a", noop).Edge("a", graph.End) },
			message: "start step is not set",
		},
		{
			name:    "undeclared start",
			build:   func() *graph.Builder { return graph.New().Step("a", noop).Start("b").Edge("a", graph.End) },
			message: `start step "b" is not declared`,
		},
		{
			name:    "dead end",
			build:   func() *graph.Builder { return graph.New().Step("a", noop).Step("b", noop).Start("a").Edge("a", "b") },
			message: `step "b" is reachable but has no outgoing edge`,
		},
		{
			name: "duplicate step",
			build: func() *graph.Builder {
				return graph.New().Step("a", noop).Step("a", noop).Start("a").Edge("a", graph.End)
			},
			message: `step "a" declared more than once`,
		},
		{
			name: "two outgoing edges",
			build: func() *graph.Builder {
				return graph.New().Step("a", noop).Start("a").Edge("a", graph.End).Edge("a", graph.End)
			},
			message: `step "a" has more than one outgoing edge`,
		},
		{
			name: "undeclared fallback",
			build: func() *graph.Builder {
				return graph.New().Step("a", noop).Start("a").
					Conditional("a", graph.RouteTools, nil, graph.WithFallback("nowhere"))
			},
			message: `falls back to undeclared step "nowhere"`,
		},
		{
			name:    "reserved name",
			build:   func() *graph.Builder { return graph.New().Step(graph.End, noop) },
			message: "is reserved",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().Compile()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestCompile_TerminalStepNeedsNoEdge(t *testing.T) {
	g, err := graph.New().
		Step("a", noop).
		Step("done", noop).
		Terminal("done").
		Start("a").
		Edge("a", "done").
		Compile()
	require.NoError(t, err)

	next, err := g.Resolve("done", domain.ConversationState{})
	require.NoError(t, err)
	assert.Equal(t, graph.End, next)
}

func TestResolve(t *testing.T) {
	g := defaultGraph(t)

	withCalls := domain.ConversationState{Messages: []domain.Message{
		domain.UserMessage("hi"),
		domain.AssistantMessage("", domain.ToolCall{ID: "c1", Name: "get_date_time"}),
	}}
	next, err := g.Resolve("agent", withCalls)
	require.NoError(t, err)
	assert.Equal(t, "tools", next)

	plain := domain.ConversationState{Messages: []domain.Message{domain.UserMessage("hi"), domain.AssistantMessage("hello")}}
	next, err = g.Resolve("agent", plain)
	require.NoError(t, err)
	assert.Equal(t, graph.End, next)

	next, err = g.Resolve("tools", plain)
	require.NoError(t, err)
	assert.Equal(t, "agent", next)
}

func TestResolve_UnknownLabel(t *testing.T) {
	pick := func(label string) graph.Router {
		return func(domain.ConversationState) graph.Route { return graph.Continue(label) }
	}

	g, err := graph.New().
		Step("a", noop).
		Step("b", noop).
		Start("a").
		Conditional("a", pick("nope"), map[string]string{"yes": "b"}).
		Edge("b", graph.End).
		Compile()
	require.NoError(t, err)

	_, err = g.Resolve("a", domain.ConversationState{})
	var re *domain.RoutingError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "a", re.Step)
	assert.Equal(t, "nope", re.Label)
	assert.False(t, domain.IsRetryable(err))

	g, err = graph.New().
		Step("a", noop).
		Step("b", noop).
		Start("a").
		Conditional("a", pick("nope"), map[string]string{"yes": graph.End}, graph.WithFallback("b")).
		Edge("b", graph.End).
		Compile()
	require.NoError(t, err)

	next, err := g.Resolve("a", domain.ConversationState{})
	require.NoError(t, err)
	assert.Equal(t, "b", next)
}

func TestRoute(t *testing.T) {
	label, ok := graph.Continue("tools").Label()
	assert.True(t, ok)
	assert.Equal(t, "tools", label)
	assert.False(t, graph.Continue("tools").Terminates())

	_, ok = graph.Terminate().Label()
	assert.False(t, ok)
	assert.True(t, graph.Terminate().Terminates())
	assert.Equal(t, "terminate", graph.Terminate().String())
}
