package graph

import "github.com/aretw0/recall/pkg/domain"

// End is the terminal marker. An edge to End finishes the run.
const End = "__end__"

// LabelTools is the label RouteTools selects when tools must run.
const LabelTools = "tools"

// Route is the decision of a Router: continue along a labelled edge, or terminate.
type Route struct {
	label     string
	terminate bool
}

// Continue selects the conditional target registered under label.
func Continue(label string) Route {
	return Route{label: label}
}

// Terminate ends the run.
func Terminate() Route {
	return Route{terminate: true}
}

// Label returns the selected label. ok is false for Terminate.
func (r Route) Label() (label string, ok bool) {
	return r.label, !r.terminate
}

// Terminates reports whether the route ends the run.
func (r Route) Terminates() bool {
	return r.terminate
}

func (r Route) String() string {
	if r.terminate {
		return "terminate"
	}
	return "continue(" + r.label + ")"
}

// Router inspects the state after a step and picks the next edge.
// Routers must be pure functions of the state.
type Router func(state domain.ConversationState) Route

// RouteTools continues to LabelTools when the last message is an assistant message
// requesting at least one tool call, and terminates otherwise.
func RouteTools(state domain.ConversationState) Route {
	last, ok := state.LastMessage()
	if ok && last.Role == domain.RoleAssistant && last.HasToolCalls() {
		return Continue(LabelTools)
	}
	return Terminate()
}
