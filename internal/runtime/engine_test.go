package runtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/aretw0/recall/internal/runtime"
	"github.com/aretw0/recall/internal/testutils"
	"github.com/aretw0/recall/pkg/adapters/memory"
	"github.com/aretw0/recall/pkg/domain"
	"github.com/aretw0/recall/pkg/graph"
	"github.com/aretw0/recall/pkg/ports"
	"github.com/aretw0/recall/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var key = domain.ConversationKey{OwnerID: "u1", ThreadID: "t1"}

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

type fixture struct {
	model  *testutils.ScriptedModel
	memory *testutils.RecordingMemory
	tools  *registry.Registry
	store  *memory.Store
	engine *runtime.Engine
}

func newFixture(t *testing.T, model *testutils.ScriptedModel, tools []registry.Tool, opts ...runtime.EngineOption) *fixture {
	t.Helper()
	reg, err := registry.NewRegistry(tools...)
	require.NoError(t, err)

	f := &fixture{
		model:  model,
		memory: &testutils.RecordingMemory{},
		tools:  reg,
		store:  memory.NewStore(),
	}
	f.engine, err = runtime.NewEngine(defaultGraph(t), f.model, f.memory, f.tools, f.store, opts...)
	require.NoError(t, err)
	return f
}

func collect(t *testing.T, e *runtime.Engine, key domain.ConversationKey, question string) ([]string, error) {
	t.Helper()
	var fragments []string
	for frag, err := range e.Stream(context.Background(), key, question) {
		if err != nil {
			return fragments, err
		}
		fragments = append(fragments, frag)
	}
	return fragments, nil
}

func textTool(name string, fn func(ctx context.Context) (string, error)) registry.Tool {
	return registry.Tool{
		Name: name,
		Handler: func(ctx context.Context, _ json.RawMessage) (string, error) {
			return fn(ctx)
		},
	}
}

func TestEngine_StreamsFragmentsInOrder(t *testing.T) {
	f := newFixture(t, testutils.NewScriptedModel(testutils.Turn{Text: []string{"Hel", "lo", "!"}}), nil)

	fragments, err := collect(t, f.engine, key, "hi")
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo", "!"}, fragments)

	cp, err := f.store.Load(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cp.Version, "one write per step boundary")
	assert.Equal(t, int64(1), cp.Turn)
	assert.Empty(t, cp.Next)
	require.Len(t, cp.State.Messages, 2)
	assert.Equal(t, domain.UserMessage("hi"), cp.State.Messages[0])
	assert.Equal(t, "Hello!", cp.State.Messages[1].Content)
}

func TestEngine_SequentialRunsAccumulate(t *testing.T) {
	f := newFixture(t, testutils.NewScriptedModel(
		testutils.Turn{Text: []string{"first"}},
		testutils.Turn{Text: []string{"second"}},
	), nil, runtime.WithCheckpointPolicy(runtime.CheckpointPerTurn))

	_, err := f.engine.Run(context.Background(), key, "one")
	require.NoError(t, err)
	msg, err := f.engine.Run(context.Background(), key, "two")
	require.NoError(t, err)
	assert.Equal(t, "second", msg.Content)

	cp, err := f.store.Load(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cp.Version)
	assert.Equal(t, int64(2), cp.Turn)

	var contents []string
	for _, m := range cp.State.Messages {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"one", "first", "two", "second"}, contents)

	// The second request saw the whole first turn exactly once.
	reqs := f.model.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[1].Messages, 3)
}

func TestEngine_ToolResultsKeepRequestOrder(t *testing.T) {
	fastDone := make(chan struct{})
	slow := textTool("slow", func(ctx context.Context) (string, error) {
		<-fastDone
		return "slow result", nil
	})
	fast := textTool("fast", func(ctx context.Context) (string, error) {
		defer close(fastDone)
		return "fast result", nil
	})

	model := testutils.NewScriptedModel(
		testutils.Turn{Calls: []domain.ToolCall{
			{ID: "c1", Name: "slow", Arguments: json.RawMessage(`{}`)},
			{ID: "c2", Name: "fast", Arguments: json.RawMessage(`{}`)},
		}},
		testutils.Turn{Text: []string{"done"}},
	)
	f := newFixture(t, model, []registry.Tool{slow, fast})

	msg, err := f.engine.Run(context.Background(), key, "go")
	require.NoError(t, err)
	assert.Equal(t, "done", msg.Content)

	cp, err := f.store.Load(context.Background(), key)
	require.NoError(t, err)
	msgs := cp.State.Messages
	require.Len(t, msgs, 5)
	assert.Equal(t, domain.RoleTool, msgs[2].Role)
	assert.Equal(t, "c1", msgs[2].ToolCallID)
	assert.Equal(t, "slow result", msgs[2].Content)
	assert.Equal(t, "c2", msgs[3].ToolCallID)
	assert.Equal(t, "fast result", msgs[3].Content)

	// load, agent, tools, agent
	assert.Equal(t, int64(4), cp.Version)
}

func TestEngine_ToolFailuresBecomeResults(t *testing.T) {
	boom := textTool("boom", func(context.Context) (string, error) {
		panic("kaboom")
	})
	failing := textTool("failing", func(context.Context) (string, error) {
		return "", errors.New("upstream unavailable")
	})

	model := testutils.NewScriptedModel(
		testutils.Turn{Calls: []domain.ToolCall{
			{ID: "c1", Name: "boom"},
			{ID: "c2", Name: "failing"},
			{ID: "c3", Name: "missing"},
		}},
		testutils.Turn{Text: []string{"sorry"}},
	)
	f := newFixture(t, model, []registry.Tool{boom, failing})

	_, err := f.engine.Run(context.Background(), key, "go")
	require.NoError(t, err)

	cp, err := f.store.Load(context.Background(), key)
	require.NoError(t, err)
	msgs := cp.State.Messages
	require.Len(t, msgs, 6)
	assert.Contains(t, msgs[2].Content, "kaboom")
	assert.Contains(t, msgs[3].Content, "upstream unavailable")
	assert.Contains(t, msgs[4].Content, "tool not found")
	for _, m := range msgs[2:5] {
		assert.Contains(t, m.Content, "Error:")
	}
}

func TestEngine_ToolLoopBound(t *testing.T) {
	model := testutils.NewScriptedModel()
	model.Fallback = func(_ ports.CompletionRequest) testutils.Turn {
		return testutils.Turn{Text: []string{"again"}, Calls: []domain.ToolCall{{ID: "", Name: "noop"}}}
	}
	noop := textTool("noop", func(context.Context) (string, error) { return "ok", nil })

	f := newFixture(t, model, []registry.Tool{noop}, runtime.WithMaxToolRounds(2))

	msg, err := f.engine.Run(context.Background(), key, "loop")
	var tle *domain.ToolLoopExceededError
	require.True(t, errors.As(err, &tle), "got %v", err)
	assert.Equal(t, 2, tle.Limit)
	assert.False(t, domain.IsRetryable(err))
	assert.Equal(t, "again", msg.Content)

	cp, err := f.store.Load(context.Background(), key)
	require.NoError(t, err)
	assert.Empty(t, cp.Next)
	assert.Equal(t, int64(1), cp.Turn)

	last, _ := cp.State.LastMessage()
	assert.Equal(t, domain.RoleTool, last.Role)
	assert.Contains(t, last.Content, "tool loop limit")
	assert.NotEmpty(t, last.ToolCallID, "generated call IDs pair results with calls")

	// 1 user + 3 generations + 3 tool messages
	assert.Len(t, cp.State.Messages, 7)
	assert.Len(t, model.Requests(), 3)
}

func TestEngine_ConsumerStopAbortsAndResumes(t *testing.T) {
	model := testutils.NewScriptedModel(
		testutils.Turn{Text: []string{"partial", " never seen"}},
		testutils.Turn{Text: []string{"recovered answer"}},
		testutils.Turn{Text: []string{"new answer"}},
	)
	f := newFixture(t, model, nil)

	for frag, err := range f.engine.Stream(context.Background(), key, "q1") {
		require.NoError(t, err)
		assert.Equal(t, "partial", frag)
		break
	}

	cp, err := f.store.Load(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "agent", cp.Next, "turn interrupted before generation completed")
	require.Len(t, cp.State.Messages, 1, "interrupted generation appends nothing")

	fragments, err := collect(t, f.engine, key, "q2")
	require.NoError(t, err)
	assert.Equal(t, []string{"new answer"}, fragments)

	cp, err = f.store.Load(context.Background(), key)
	require.NoError(t, err)
	var contents []string
	for _, m := range cp.State.Messages {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"q1", "recovered answer", "q2", "new answer"}, contents)
	assert.Equal(t, int64(2), cp.Turn)
}

func TestEngine_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wait := make(chan struct{})
	model := testutils.NewScriptedModel(testutils.Turn{Text: []string{"a", "b"}, Wait: wait})
	f := newFixture(t, model, nil)

	var gotErr error
	for frag, err := range f.engine.Stream(ctx, key, "q") {
		if err != nil {
			gotErr = err
			break
		}
		assert.Equal(t, "a", frag)
		cancel()
	}
	require.Error(t, gotErr)
	assert.True(t, errors.Is(gotErr, context.Canceled))

	cp, err := f.store.Load(context.Background(), key)
	require.NoError(t, err)
	assert.Len(t, cp.State.Messages, 1)
}

type racingStore struct {
	*memory.Store
	once sync.Once
}

func (s *racingStore) CompareAndSwap(ctx context.Context, k domain.ConversationKey, expected int64, next domain.Checkpoint) (*domain.Checkpoint, error) {
	s.once.Do(func() {
		_, _ = s.Store.CompareAndSwap(ctx, k, expected, domain.Checkpoint{State: domain.ConversationState{}})
	})
	return s.Store.CompareAndSwap(ctx, k, expected, next)
}

func TestEngine_ConcurrentModification(t *testing.T) {
	reg, err := registry.NewRegistry()
	require.NoError(t, err)
	store := &racingStore{Store: memory.NewStore()}

	var conflicts int
	hooks := domain.LifecycleHooks{
		OnCheckpoint: func(_ context.Context, e *domain.CheckpointEvent) {
			if e.Conflict {
				conflicts++
			}
		},
	}
	engine, err := runtime.NewEngine(defaultGraph(t),
		testutils.NewScriptedModel(testutils.Turn{Text: []string{"x"}}),
		&testutils.RecordingMemory{}, reg, store,
		runtime.WithLifecycleHooks(hooks))
	require.NoError(t, err)

	_, err = engine.Run(context.Background(), key, "hi")
	var cme *domain.ConcurrentModificationError
	require.True(t, errors.As(err, &cme), "got %v", err)
	assert.Equal(t, int64(0), cme.ExpectedVersion)
	assert.True(t, domain.IsRetryable(err))
	assert.True(t, errors.Is(err, domain.ErrVersionConflict))
	assert.Equal(t, 1, conflicts)
}

func TestEngine_MemoryLoadAndPrompt(t *testing.T) {
	model := testutils.NewScriptedModel(testutils.Turn{Text: []string{"Blue."}})
	f := newFixture(t, model, nil)
	f.memory.Memories = []string{"User's favorite color is blue", "User likes tea", "User has a dog", "extra"}

	_, err := f.engine.Run(context.Background(), key, "What's my favorite color?")
	require.NoError(t, err)

	require.Len(t, f.memory.Queries, 1)
	assert.Equal(t, "Human: What's my favorite color?", f.memory.Queries[0])

	req := model.Requests()[0]
	assert.Contains(t, req.System, "<recall_memory>\nUser's favorite color is blue\nUser likes tea\nUser has a dog\n</recall_memory>")
	assert.NotContains(t, req.System, "extra")

	cp, err := f.store.Load(context.Background(), key)
	require.NoError(t, err)
	assert.Len(t, cp.State.RecallMemories, 3)
}

func TestEngine_MemoryFailureAbortsRun(t *testing.T) {
	f := newFixture(t, testutils.NewScriptedModel(), nil)
	f.memory.Err = errors.New("connection refused")

	_, err := f.engine.Run(context.Background(), key, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	_, err = f.store.Load(context.Background(), key)
	assert.True(t, errors.Is(err, domain.ErrCheckpointNotFound))
}

func TestEngine_RoutingError(t *testing.T) {
	reg, err := registry.NewRegistry()
	require.NoError(t, err)

	g, err := graph.New().
		Generate("agent").
		Step("other", func(context.Context, domain.ConversationState) (domain.StateUpdate, error) {
			return domain.StateUpdate{}, nil
		}).
		Start("agent").
		Conditional("agent", func(domain.ConversationState) graph.Route {
			return graph.Continue("unknown")
		}, map[string]string{"known": "other"}).
		Edge("other", graph.End).
		Compile()
	require.NoError(t, err)

	engine, err := runtime.NewEngine(g, testutils.NewScriptedModel(testutils.Turn{Text: []string{"x"}}),
		&testutils.RecordingMemory{}, reg, memory.NewStore())
	require.NoError(t, err)

	_, err = engine.Run(context.Background(), key, "hi")
	var re *domain.RoutingError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "unknown", re.Label)
}

func TestEngine_PlainStepsAndHooks(t *testing.T) {
	reg, err := registry.NewRegistry()
	require.NoError(t, err)

	g, err := graph.New().
		Step("greet", func(_ context.Context, s domain.ConversationState) (domain.StateUpdate, error) {
			return domain.Append(domain.AssistantMessage("hello " + s.Messages[0].Content)), nil
		}).
		Terminal("greet").
		Start("greet").
		Compile()
	require.NoError(t, err)

	var entered []string
	hooks := domain.LifecycleHooks{
		OnStepEnter: func(_ context.Context, e *domain.StepEvent) { entered = append(entered, e.Step) },
	}
	engine, err := runtime.NewEngine(g, testutils.NewScriptedModel(), &testutils.RecordingMemory{}, reg,
		memory.NewStore(), runtime.WithLifecycleHooks(hooks))
	require.NoError(t, err)

	msg, err := engine.Run(context.Background(), key, "bob")
	require.NoError(t, err)
	assert.Equal(t, "hello bob", msg.Content)
	assert.Equal(t, []string{"greet"}, entered)
}

func TestEngine_InvalidKey(t *testing.T) {
	f := newFixture(t, testutils.NewScriptedModel(), nil)
	_, err := collect(t, f.engine, domain.ConversationKey{OwnerID: "u1"}, "hi")
	assert.True(t, errors.Is(err, domain.ErrInvalidKey))
}

func TestParseCheckpointPolicy(t *testing.T) {
	p, err := runtime.ParseCheckpointPolicy("per_turn")
	require.NoError(t, err)
	assert.Equal(t, runtime.CheckpointPerTurn, p)

	p, err = runtime.ParseCheckpointPolicy("")
	require.NoError(t, err)
	assert.Equal(t, runtime.CheckpointPerStep, p)

	_, err = runtime.ParseCheckpointPolicy("sometimes")
	assert.Error(t, err)
}
