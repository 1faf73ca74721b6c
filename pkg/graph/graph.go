package graph

import (
	"slices"

	"github.com/aretw0/recall/pkg/domain"
)

// Graph is a compiled, immutable graph. It is safe for concurrent use.
type Graph struct {
	start string
	steps map[string]Step
	order []string
	edges map[string]edge
}

// Transition describes one outgoing edge, for rendering and inspection.
type Transition struct {
	From        string
	To          string
	Label       string
	Conditional bool
	Fallback    bool
}

// Start returns the entry step name.
func (g *Graph) Start() string {
	return g.start
}

// Step returns a declared step by name.
func (g *Graph) Step(name string) (Step, bool) {
	s, ok := g.steps[name]
	return s, ok
}

// Steps returns every step in declaration order.
func (g *Graph) Steps() []Step {
	out := make([]Step, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.steps[name])
	}
	return out
}

// Successors returns the possible next steps of from, End included.
func (g *Graph) Successors(from string) []string {
	e, ok := g.edges[from]
	if !ok {
		return nil
	}
	return e.successors()
}

// Transitions lists every edge in step declaration order.
func (g *Graph) Transitions() []Transition {
	var out []Transition
	for _, from := range g.order {
		e, ok := g.edges[from]
		if !ok {
			continue
		}
		if !e.conditional() {
			out = append(out, Transition{From: from, To: e.to})
			continue
		}
		labels := make([]string, 0, len(e.targets))
		for label := range e.targets {
			labels = append(labels, label)
		}
		slices.Sort(labels)
		for _, label := range labels {
			out = append(out, Transition{From: from, To: e.targets[label], Label: label, Conditional: true})
		}
		if e.fallback != "" {
			out = append(out, Transition{From: from, To: e.fallback, Conditional: true, Fallback: true})
		}
	}
	return out
}

// Resolve returns the step that follows from given the state produced by from.
// Terminal steps and Terminate routes resolve to End.
func (g *Graph) Resolve(from string, state domain.ConversationState) (string, error) {
	if s, ok := g.steps[from]; ok && s.Terminal {
		return End, nil
	}
	e, ok := g.edges[from]
	if !ok {
		// Compile guarantees reachable steps without edges are terminal.
		return End, nil
	}
	if !e.conditional() {
		return e.to, nil
	}

	route := e.router(state)
	label, ok := route.Label()
	if !ok {
		return End, nil
	}
	if to, ok := e.targets[label]; ok {
		return to, nil
	}
	if e.fallback != "" {
		return e.fallback, nil
	}
	return "", &domain.RoutingError{Step: from, Label: label}
}
