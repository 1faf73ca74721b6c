package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCheckpointNotFound is returned when no checkpoint exists for a conversation key.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// ErrVersionConflict is returned by a checkpoint store when the expected version is stale.
var ErrVersionConflict = errors.New("checkpoint version conflict")

// ErrInvalidKey is returned when a conversation key is incomplete.
var ErrInvalidKey = errors.New("invalid conversation key")

// ErrInvalidInput is returned when a question is rejected before a run starts.
var ErrInvalidInput = errors.New("invalid input")

// ErrToolNotFound is returned when a tool call names an unregistered tool.
var ErrToolNotFound = errors.New("tool not found")

// GraphValidationError lists every violation found while compiling a graph.
type GraphValidationError struct {
	Violations []string
}

func (e *GraphValidationError) Error() string {
	if len(e.Violations) == 1 {
		return "invalid graph: " + e.Violations[0]
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "invalid graph: %d violations:\n", len(e.Violations))
	for i, v := range e.Violations {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, v)
	}
	return sb.String()
}

// RoutingError is returned when a conditional edge selects a label with no target
// and no fallback is configured.
type RoutingError struct {
	Step  string
	Label string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("no route from step %q for label %q and no fallback configured", e.Step, e.Label)
}

// ToolLoopExceededError is returned when a run requests more tool rounds than allowed.
// The run ends gracefully; the transcript persisted so far is kept.
type ToolLoopExceededError struct {
	Rounds int
	Limit  int
}

func (e *ToolLoopExceededError) Error() string {
	return fmt.Sprintf("tool loop exceeded: %d rounds requested, limit is %d", e.Rounds, e.Limit)
}

// ConcurrentModificationError is returned when another run advanced the same key first.
// Retrying the request is safe.
type ConcurrentModificationError struct {
	Key             ConversationKey
	ExpectedVersion int64
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("conversation %s was modified concurrently (expected version %d)", e.Key, e.ExpectedVersion)
}

func (e *ConcurrentModificationError) Unwrap() error {
	return ErrVersionConflict
}

// PortError is returned when an external port keeps failing after its retry budget.
type PortError struct {
	Port     string
	Attempts int
	Err      error
}

func (e *PortError) Error() string {
	return fmt.Sprintf("%s port failed after %d attempts: %v", e.Port, e.Attempts, e.Err)
}

func (e *PortError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the failed request may be safely retried by the caller.
// Structural failures (invalid graph, routing, loop bound) are not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var cme *ConcurrentModificationError
	if errors.As(err, &cme) || errors.Is(err, ErrVersionConflict) {
		return true
	}
	var pe *PortError
	return errors.As(err, &pe)
}
