package domain

import (
	"encoding/json"
	"fmt"
)

// ToolCall is a structured request from the model to invoke a named tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult is the outcome of one ToolCall.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// IsError reports whether the invocation failed.
func (r ToolResult) IsError() bool {
	return r.Error != ""
}

// Text renders the result as transcript content. Failures become an error description.
func (r ToolResult) Text() string {
	if r.IsError() {
		return fmt.Sprintf("Error: %s", r.Error)
	}
	return r.Content
}

// ToolDefinition describes a tool to the language model.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Parameters  map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}
