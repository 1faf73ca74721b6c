package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/aretw0/recall/internal/logging"
	"github.com/aretw0/recall/pkg/domain"
	"github.com/aretw0/recall/pkg/graph"
	"github.com/aretw0/recall/pkg/ports"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// CheckpointPolicy controls how often a run writes its checkpoint.
type CheckpointPolicy int

const (
	// CheckpointPerStep writes after every step boundary. An interrupted turn resumes
	// from the step recorded in Checkpoint.Next.
	CheckpointPerStep CheckpointPolicy = iota
	// CheckpointPerTurn writes once, when the run completes.
	CheckpointPerTurn
)

func (p CheckpointPolicy) String() string {
	if p == CheckpointPerTurn {
		return "per_turn"
	}
	return "per_step"
}

// ParseCheckpointPolicy accepts "per_step" (or "") and "per_turn".
func ParseCheckpointPolicy(s string) (CheckpointPolicy, error) {
	switch s {
	case "", "per_step", "step":
		return CheckpointPerStep, nil
	case "per_turn", "turn":
		return CheckpointPerTurn, nil
	}
	return CheckpointPerStep, fmt.Errorf("unknown checkpoint policy %q", s)
}

const (
	DefaultMaxToolRounds     = 8
	DefaultRecallTokenBudget = 2048
	DefaultRecallLimit       = 3
	defaultWriteTimeout      = 10 * time.Second
)

// ToolInvoker is the subset of the tool registry the engine needs.
type ToolInvoker interface {
	Definitions() []domain.ToolDefinition
	Invoke(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// Engine executes a compiled graph against the model, memory, tool and checkpoint ports.
// It holds no per-conversation state and is safe for concurrent use.
type Engine struct {
	graph  *graph.Graph
	model  ports.LanguageModel
	memory ports.MemoryStore
	tools  ToolInvoker
	store  ports.CheckpointStore

	logger           *slog.Logger
	hooks            domain.LifecycleHooks
	tracer           trace.Tracer
	policy           CheckpointPolicy
	systemPrompt     string
	maxToolRounds    int
	maxParallelTools int
	recallBudget     int
	recallLimit      int
	writeTimeout     time.Duration
	now              func() time.Time
	newID            func() string
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) EngineOption {
	return func(e *Engine) {
		e.hooks = e.hooks.Merge(hooks)
	}
}

// WithTracer sets the tracer used for step and tool spans.
func WithTracer(tracer trace.Tracer) EngineOption {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithCheckpointPolicy selects when checkpoints are written.
func WithCheckpointPolicy(p CheckpointPolicy) EngineOption {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithMaxToolRounds bounds the number of tool rounds per run.
func WithMaxToolRounds(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxToolRounds = n
		}
	}
}

// WithMaxParallelTools bounds concurrent tool invocations within a round. Zero means unbounded.
func WithMaxParallelTools(n int) EngineOption {
	return func(e *Engine) {
		e.maxParallelTools = n
	}
}

// WithRecallTokenBudget sets how many trailing transcript tokens form the memory query.
func WithRecallTokenBudget(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.recallBudget = n
		}
	}
}

// WithRecallLimit sets how many memories the memory-load step retrieves.
func WithRecallLimit(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.recallLimit = n
		}
	}
}

// WithSystemPrompt replaces the default system prompt.
func WithSystemPrompt(prompt string) EngineOption {
	return func(e *Engine) {
		if prompt != "" {
			e.systemPrompt = prompt
		}
	}
}

// WithWriteTimeout bounds a single checkpoint write.
func WithWriteTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.writeTimeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides how missing tool call IDs are generated.
func WithIDGenerator(newID func() string) EngineOption {
	return func(e *Engine) {
		if newID != nil {
			e.newID = newID
		}
	}
}

// NewEngine creates a new engine with dependencies.
func NewEngine(g *graph.Graph, model ports.LanguageModel, memory ports.MemoryStore, tools ToolInvoker, store ports.CheckpointStore, opts ...EngineOption) (*Engine, error) {
	switch {
	case g == nil:
		return nil, errors.New("graph is required")
	case model == nil:
		return nil, errors.New("language model is required")
	case memory == nil:
		return nil, errors.New("memory store is required")
	case tools == nil:
		return nil, errors.New("tool registry is required")
	case store == nil:
		return nil, errors.New("checkpoint store is required")
	}

	e := &Engine{
		graph:         g,
		model:         model,
		memory:        memory,
		tools:         tools,
		store:         store,
		logger:        logging.NewNop(),
		tracer:        noop.NewTracerProvider().Tracer("recall"),
		systemPrompt:  DefaultSystemPrompt,
		maxToolRounds: DefaultMaxToolRounds,
		recallBudget:  DefaultRecallTokenBudget,
		recallLimit:   DefaultRecallLimit,
		writeTimeout:  defaultWriteTimeout,
		now:           time.Now,
		newID:         func() string { return "call_" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Graph returns the compiled graph the engine executes.
func (e *Engine) Graph() *graph.Graph {
	return e.graph
}

// Stream runs one turn for key and yields the generated text fragments in order.
// A failure is yielded once, as the last element. Breaking out of the loop cancels
// the in-flight model call; the interrupted step appends nothing.
func (e *Engine) Stream(ctx context.Context, key domain.ConversationKey, question string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		r, err := e.begin(ctx, key)
		if err != nil {
			yield("", err)
			return
		}

		stopped := false
		emit := func(fragment string) bool {
			if stopped {
				return false
			}
			if !yield(fragment, nil) {
				stopped = true
			}
			return !stopped
		}

		if _, err := r.execute(ctx, question, emit); err != nil && !stopped {
			yield("", err)
		}
	}
}

// Run executes one turn for key and returns the final assistant message.
// A *domain.ToolLoopExceededError is returned together with the best-effort message.
func (e *Engine) Run(ctx context.Context, key domain.ConversationKey, question string) (domain.Message, error) {
	r, err := e.begin(ctx, key)
	if err != nil {
		return domain.Message{}, err
	}
	return r.execute(ctx, question, nil)
}

// Load returns the checkpoint of key, or an empty one at version 0.
func (e *Engine) Load(ctx context.Context, key domain.ConversationKey) (*domain.Checkpoint, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	cp, err := e.store.Load(ctx, key)
	if errors.Is(err, domain.ErrCheckpointNotFound) {
		return &domain.Checkpoint{Key: key}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint for %s: %w", key, err)
	}
	return cp, nil
}

func (e *Engine) begin(ctx context.Context, key domain.ConversationKey) (*run, error) {
	cp, err := e.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	return &run{
		engine:  e,
		key:     key,
		state:   cp.State.Clone(),
		version: cp.Version,
		turn:    cp.Turn,
		pending: cp.Next,
		logger:  e.logger.With("key", key.String()),
	}, nil
}
