package graph

import (
	"context"
	"fmt"

	"github.com/aretw0/recall/pkg/domain"
)

// Kind distinguishes the steps the engine executes itself from plain functions.
type Kind string

const (
	KindFunc       Kind = "func"
	KindMemoryLoad Kind = "memory_load"
	KindGenerate   Kind = "generate"
	KindTools      Kind = "tools"
)

// StepFunc is the body of a plain step. It receives a copy of the current state
// and returns the fields it changed.
type StepFunc func(ctx context.Context, state domain.ConversationState) (domain.StateUpdate, error)

// Step is a declared graph step.
type Step struct {
	Name     string
	Kind     Kind
	Fn       StepFunc
	Terminal bool
}

// ConditionalOption configures a conditional edge.
type ConditionalOption func(*edge)

// WithFallback routes unknown labels to target instead of failing the run.
func WithFallback(target string) ConditionalOption {
	return func(e *edge) {
		e.fallback = target
	}
}

type edge struct {
	to       string
	router   Router
	targets  map[string]string
	fallback string
}

func (e edge) conditional() bool {
	return e.router != nil || e.targets != nil
}

// Builder accumulates steps and edges. Mistakes are reported together by Compile.
type Builder struct {
	steps     map[string]*Step
	order     []string
	edges     map[string]edge
	edgeOrder []string
	start     string
	problems  []string
}

// New creates a new graph builder.
func New() *Builder {
	return &Builder{
		steps: make(map[string]*Step),
		edges: make(map[string]edge),
	}
}

func (b *Builder) add(name string, kind Kind, fn StepFunc) *Builder {
	switch {
	case name == "":
		b.problems = append(b.problems, "step name must not be empty")
		return b
	case name == End:
		b.problems = append(b.problems, fmt.Sprintf("step name %q is reserved", End))
		return b
	}
	if _, ok := b.steps[name]; ok {
		b.problems = append(b.problems, fmt.Sprintf("step %q declared more than once", name))
		return b
	}
	b.steps[name] = &Step{Name: name, Kind: kind, Fn: fn}
	b.order = append(b.order, name)
	return b
}

// Step declares a plain step.
func (b *Builder) Step(name string, fn StepFunc) *Builder {
	if fn == nil {
		b.problems = append(b.problems, fmt.Sprintf("step %q has no function", name))
	}
	return b.add(name, KindFunc, fn)
}

// MemoryLoad declares the step that retrieves recall memories for the transcript.
func (b *Builder) MemoryLoad(name string) *Builder {
	return b.add(name, KindMemoryLoad, nil)
}

// Generate declares the step that calls the language model.
func (b *Builder) Generate(name string) *Builder {
	return b.add(name, KindGenerate, nil)
}

// Tools declares the step that executes the pending tool calls.
func (b *Builder) Tools(name string) *Builder {
	return b.add(name, KindTools, nil)
}

// Terminal marks a declared step as terminal: the run ends after it.
func (b *Builder) Terminal(name string) *Builder {
	s, ok := b.steps[name]
	if !ok {
		b.problems = append(b.problems, fmt.Sprintf("terminal step %q is not declared", name))
		return b
	}
	s.Terminal = true
	return b
}

// Start sets the entry step.
func (b *Builder) Start(name string) *Builder {
	b.start = name
	return b
}

// Edge adds an unconditional edge. to may be End.
func (b *Builder) Edge(from, to string) *Builder {
	return b.setEdge(from, edge{to: to})
}

// Conditional adds an edge whose target is chosen by router at run time.
func (b *Builder) Conditional(from string, router Router, targets map[string]string, opts ...ConditionalOption) *Builder {
	e := edge{router: router, targets: make(map[string]string, len(targets))}
	for label, to := range targets {
		e.targets[label] = to
	}
	for _, opt := range opts {
		opt(&e)
	}
	return b.setEdge(from, e)
}

func (b *Builder) setEdge(from string, e edge) *Builder {
	if _, ok := b.edges[from]; ok {
		b.problems = append(b.problems, fmt.Sprintf("step %q has more than one outgoing edge", from))
		return b
	}
	b.edges[from] = e
	b.edgeOrder = append(b.edgeOrder, from)
	return b
}

// Compile validates the declaration and returns the immutable graph.
// Every violation is reported in a single *domain.GraphValidationError.
func (b *Builder) Compile() (*Graph, error) {
	violations := append([]string{}, b.problems...)
	violations = append(violations, b.validate()...)
	if len(violations) > 0 {
		return nil, &domain.GraphValidationError{Violations: violations}
	}

	g := &Graph{
		start: b.start,
		steps: make(map[string]Step, len(b.steps)),
		order: append([]string{}, b.order...),
		edges: make(map[string]edge, len(b.edges)),
	}
	for name, s := range b.steps {
		g.steps[name] = *s
	}
	for from, e := range b.edges {
		g.edges[from] = e
	}
	return g, nil
}
