// Package graph provides the builder and compiler for conversation graphs.
//
// A graph is a small set of named steps joined by unconditional or conditional edges.
// It is declared in code, validated once by Compile, and then shared read-only by every run:
//
//	g, err := graph.New().
//		MemoryLoad("load_memories").
//		Generate("agent").
//		Tools("tools").
//		Start("load_memories").
//		Edge("load_memories", "agent").
//		Conditional("agent", graph.RouteTools, map[string]string{graph.LabelTools: "tools"}).
//		Edge("tools", "agent").
//		Compile()
package graph
