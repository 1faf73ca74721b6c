package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/recall/pkg/graph"
)

const (
	startID = "__start__"
	endID   = "__end__"
)

// GraphOverlay contains per-thread data to visualize on the graph.
type GraphOverlay struct {
	VisitedSteps []string
	CurrentStep  string
}

// GenerateMermaid produces a Mermaid flowchart of a compiled graph.
// It applies semantic styling:
// - START/END: ((Circle))
// - Memory load: [(Database)]
// - Generate: {{Hexagon}}
// - Tools: [[Subroutine]]
// - Default: [Rectangle]
// Conditional steps get a dotted edge to END for the Terminate route.
// It also applies overlay styles (Visited/Current) if provided.
func GenerateMermaid(g *graph.Graph, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")
	sb.WriteString(fmt.Sprintf("    %s((\"START\"))\n", startID))

	usesEnd := false
	conditional := make(map[string]bool)
	for _, t := range g.Transitions() {
		if t.Conditional {
			conditional[t.From] = true
		}
		if t.To == graph.End {
			usesEnd = true
		}
	}

	for _, step := range g.Steps() {
		safeID := sanitizeMermaidID(step.Name)

		opener, closer := "[", "]"
		switch step.Kind {
		case graph.KindMemoryLoad:
			opener, closer = "[(", ")]"
		case graph.KindGenerate:
			opener, closer = "{{", "}}"
		case graph.KindTools:
			opener, closer = "[[", "]]"
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", safeID, opener, step.Name, closer))
		if step.Terminal || conditional[step.Name] {
			usesEnd = true
		}
	}
	if usesEnd {
		sb.WriteString(fmt.Sprintf("    %s((\"END\"))\n", endID))
	}

	sb.WriteString(fmt.Sprintf("    %s --> %s\n", startID, sanitizeMermaidID(g.Start())))
	for _, t := range g.Transitions() {
		from, to := sanitizeMermaidID(t.From), target(t.To)
		switch {
		case t.Fallback:
			sb.WriteString(fmt.Sprintf("    %s -. \"fallback\" .-> %s\n", from, to))
		case t.Conditional:
			// Escape double quotes in label for Mermaid
			label := strings.ReplaceAll(t.Label, "\"", "'")
			sb.WriteString(fmt.Sprintf("    %s -- \"%s\" --> %s\n", from, label, to))
		default:
			sb.WriteString(fmt.Sprintf("    %s --> %s\n", from, to))
		}
	}
	for _, step := range g.Steps() {
		switch {
		case step.Terminal:
			sb.WriteString(fmt.Sprintf("    %s --> %s\n", sanitizeMermaidID(step.Name), endID))
		case conditional[step.Name]:
			sb.WriteString(fmt.Sprintf("    %s -. \"end\" .-> %s\n", sanitizeMermaidID(step.Name), endID))
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		visitedSet := make(map[string]bool)
		for _, name := range overlay.VisitedSteps {
			if _, ok := g.Step(name); !ok {
				continue
			}
			safeID := sanitizeMermaidID(name)
			if !visitedSet[safeID] {
				visitedSet[safeID] = true
				sb.WriteString(fmt.Sprintf("    class %s visited;\n", safeID))
			}
		}

		if overlay.CurrentStep != "" {
			sb.WriteString(fmt.Sprintf("    class %s current;\n", sanitizeMermaidID(overlay.CurrentStep)))
		}
	}

	return sb.String()
}

func target(name string) string {
	if name == graph.End {
		return endID
	}
	return sanitizeMermaidID(name)
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
