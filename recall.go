package recall

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/aretw0/recall/internal/runtime"
	"github.com/aretw0/recall/pkg/adapters/memory"
	"github.com/aretw0/recall/pkg/domain"
	"github.com/aretw0/recall/pkg/graph"
	"github.com/aretw0/recall/pkg/ports"
	"github.com/aretw0/recall/pkg/registry"
	"github.com/aretw0/recall/pkg/tools"
	"go.opentelemetry.io/otel/trace"
)

// Version is the release of this module.
const Version = "0.3.0"

// Step names of the default graph.
const (
	StepLoadMemories = "load_memories"
	StepAgent        = "agent"
	StepTools        = "tools"
)

// CheckpointPolicy controls how often a run writes its checkpoint.
type CheckpointPolicy = runtime.CheckpointPolicy

const (
	CheckpointPerStep = runtime.CheckpointPerStep
	CheckpointPerTurn = runtime.CheckpointPerTurn
)

// DefaultGraph returns the memory-load → generate → tools loop:
//
//	START → load_memories → agent
//	agent → tools (when the reply requests tools) | END
//	tools → agent
func DefaultGraph() *graph.Graph {
	g, err := graph.New().
		MemoryLoad(StepLoadMemories).
		Generate(StepAgent).
		Tools(StepTools).
		Start(StepLoadMemories).
		Edge(StepLoadMemories, StepAgent).
		Conditional(StepAgent, graph.RouteTools, map[string]string{graph.LabelTools: StepTools}).
		Edge(StepTools, StepAgent).
		Compile()
	if err != nil {
		panic(fmt.Sprintf("recall: default graph is invalid: %v", err))
	}
	return g
}

// Agent is the high-level entry point of the library.
// It wraps the internal runtime and is safe for concurrent use.
type Agent struct {
	runtime *runtime.Engine
	store   ports.CheckpointStore
	tools   *registry.Registry

	graph       *graph.Graph
	logger      *slog.Logger
	webSearch   *tools.WebSearch
	extraTools  []registry.Tool
	noDefaults  bool
	recallLimit int
	now         func() time.Time
	runtimeOpts []runtime.EngineOption
}

// Option defines a functional option for configuring the Agent.
type Option func(*Agent)

// WithGraph replaces the default graph.
func WithGraph(g *graph.Graph) Option {
	return func(a *Agent) { a.graph = g }
}

// WithCheckpointStore sets where conversation state is persisted. Defaults to memory.
func WithCheckpointStore(s ports.CheckpointStore) Option {
	return func(a *Agent) { a.store = s }
}

// WithTools registers additional tools.
func WithTools(t ...registry.Tool) Option {
	return func(a *Agent) { a.extraTools = append(a.extraTools, t...) }
}

// WithoutDefaultTools disables the memory and clock tools.
func WithoutDefaultTools() Option {
	return func(a *Agent) { a.noDefaults = true }
}

// WithWebSearch enables the web_search tool.
func WithWebSearch(ws *tools.WebSearch) Option {
	return func(a *Agent) { a.webSearch = ws }
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		a.logger = logger
		a.runtimeOpts = append(a.runtimeOpts, runtime.WithLogger(logger))
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(a *Agent) { a.runtimeOpts = append(a.runtimeOpts, runtime.WithLifecycleHooks(hooks)) }
}

// WithTracer sets the tracer used for step and tool spans.
func WithTracer(t trace.Tracer) Option {
	return func(a *Agent) { a.runtimeOpts = append(a.runtimeOpts, runtime.WithTracer(t)) }
}

// WithCheckpointPolicy selects when checkpoints are written. Defaults to CheckpointPerStep,
// which writes after every step, so a turn without tool calls advances Version by 2 (memory load and
// generation). Use CheckpointPerTurn for one write per turn, where Version equals the
// number of completed turns.
func WithCheckpointPolicy(p CheckpointPolicy) Option {
	return func(a *Agent) { a.runtimeOpts = append(a.runtimeOpts, runtime.WithCheckpointPolicy(p)) }
}

// WithMaxToolRounds bounds tool rounds per run. Defaults to 8.
func WithMaxToolRounds(n int) Option {
	return func(a *Agent) { a.runtimeOpts = append(a.runtimeOpts, runtime.WithMaxToolRounds(n)) }
}

// WithMaxParallelTools bounds concurrent tool invocations. Zero means unbounded.
func WithMaxParallelTools(n int) Option {
	return func(a *Agent) { a.runtimeOpts = append(a.runtimeOpts, runtime.WithMaxParallelTools(n)) }
}

// WithRecallLimit sets how many memories are recalled per turn. Defaults to 3.
func WithRecallLimit(n int) Option {
	return func(a *Agent) {
		a.recallLimit = n
		a.runtimeOpts = append(a.runtimeOpts, runtime.WithRecallLimit(n))
	}
}

// WithRecallTokenBudget sets how many trailing transcript tokens form the recall query.
func WithRecallTokenBudget(n int) Option {
	return func(a *Agent) { a.runtimeOpts = append(a.runtimeOpts, runtime.WithRecallTokenBudget(n)) }
}

// WithSystemPrompt replaces the default system prompt. The placeholders
// {recall_memories} and {current_time} are substituted per request.
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) { a.runtimeOpts = append(a.runtimeOpts, runtime.WithSystemPrompt(prompt)) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		a.now = now
		a.runtimeOpts = append(a.runtimeOpts, runtime.WithClock(now))
	}
}

// New builds an Agent around a language model and a long-term memory store.
func New(model ports.LanguageModel, mem ports.MemoryStore, opts ...Option) (*Agent, error) {
	a := &Agent{}
	for _, opt := range opts {
		opt(a)
	}
	if a.graph == nil {
		a.graph = DefaultGraph()
	}
	if a.store == nil {
		a.store = memory.NewStore()
	}

	var toolset []registry.Tool
	if !a.noDefaults && mem != nil {
		toolset = tools.Default(mem, tools.Options{
			RecallLimit: a.recallLimit,
			WebSearch:   a.webSearch,
			Now:         a.now,
		})
	} else if a.webSearch != nil {
		toolset = append(toolset, a.webSearch.Tool())
	}
	toolset = append(toolset, a.extraTools...)

	reg, err := registry.NewRegistry(toolset...)
	if err != nil {
		return nil, fmt.Errorf("failed to build tool registry: %w", err)
	}
	a.tools = reg

	a.runtime, err = runtime.NewEngine(a.graph, model, mem, reg, a.store, a.runtimeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize engine: %w", err)
	}
	return a, nil
}

// Stream runs one turn of the conversation identified by key and yields the reply
// text fragments as the model produces them. A failure is yielded as the last element.
func (a *Agent) Stream(ctx context.Context, key domain.ConversationKey, question string) iter.Seq2[string, error] {
	return a.runtime.Stream(ctx, key, question)
}

// Run executes one turn and returns the final assistant message.
func (a *Agent) Run(ctx context.Context, key domain.ConversationKey, question string) (domain.Message, error) {
	return a.runtime.Run(ctx, key, question)
}

// Thread returns the persisted checkpoint of key, or an empty one at version 0.
func (a *Agent) Thread(ctx context.Context, key domain.ConversationKey) (*domain.Checkpoint, error) {
	return a.runtime.Load(ctx, key)
}

// Graph returns the compiled graph the agent executes.
func (a *Agent) Graph() *graph.Graph {
	return a.graph
}

// Tools returns the definitions of every registered tool.
func (a *Agent) Tools() []domain.ToolDefinition {
	return a.tools.Definitions()
}

// Store returns the checkpoint store.
func (a *Agent) Store() ports.CheckpointStore {
	return a.store
}
