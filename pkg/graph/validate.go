package graph

import (
	"fmt"
	"slices"
)

func (b *Builder) declared(name string) bool {
	_, ok := b.steps[name]
	return ok
}

func (b *Builder) validate() []string {
	var out []string

	// (a) endpoints
	for _, from := range b.edgeOrder {
		e := b.edges[from]
		if !b.declared(from) {
			out = append(out, fmt.Sprintf("edge from undeclared step %q", from))
		}
		if !e.conditional() {
			if e.to != End && !b.declared(e.to) {
				out = append(out, fmt.Sprintf("edge %q -> %q targets an undeclared step", from, e.to))
			}
			continue
		}
		if e.router == nil {
			out = append(out, fmt.Sprintf("conditional edge from %q has no router", from))
		}
		labels := make([]string, 0, len(e.targets))
		for label := range e.targets {
			labels = append(labels, label)
		}
		slices.Sort(labels)
		for _, label := range labels {
			if to := e.targets[label]; to != End && !b.declared(to) {
				out = append(out, fmt.Sprintf("conditional edge %q -[%s]-> %q targets an undeclared step", from, label, to))
			}
		}
		if e.fallback != "" && e.fallback != End && !b.declared(e.fallback) {
			out = append(out, fmt.Sprintf("conditional edge from %q falls back to undeclared step %q", from, e.fallback))
		}
	}

	// (b) start
	if b.start == "" {
		out = append(out, "start step is not set")
		return out
	}
	if !b.declared(b.start) {
		out = append(out, fmt.Sprintf("start step %q is not declared", b.start))
		return out
	}

	reachable := b.reachableFrom(b.start)
	for _, from := range b.edgeOrder {
		if !b.declared(from) || reachable[from] {
			continue
		}
		if slices.Contains(b.successors(from), b.start) {
			out = append(out, fmt.Sprintf("step %q precedes start step %q but is not reachable from it", from, b.start))
		}
	}

	// (c) dead ends
	for _, name := range b.order {
		if !reachable[name] {
			continue
		}
		if _, ok := b.edges[name]; !ok && !b.steps[name].Terminal {
			out = append(out, fmt.Sprintf("step %q is reachable but has no outgoing edge and is not terminal", name))
		}
	}
	return out
}

func (b *Builder) successors(from string) []string {
	e, ok := b.edges[from]
	if !ok {
		return nil
	}
	return e.successors()
}

func (b *Builder) reachableFrom(start string) map[string]bool {
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range b.successors(cur) {
			if next == End || seen[next] || !b.declared(next) {
				continue
			}
			seen[next] = true
			queue = append(queue, next)
		}
	}
	return seen
}

func (e edge) successors() []string {
	if !e.conditional() {
		return []string{e.to}
	}
	out := make([]string, 0, len(e.targets)+1)
	for _, to := range e.targets {
		if !slices.Contains(out, to) {
			out = append(out, to)
		}
	}
	if e.fallback != "" && !slices.Contains(out, e.fallback) {
		out = append(out, e.fallback)
	}
	slices.Sort(out)
	return out
}
