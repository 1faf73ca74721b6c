package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/aretw0/recall"
	"github.com/aretw0/recall/internal/testutils"
	"github.com/aretw0/recall/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, turns ...testutils.Turn) *Server {
	t.Helper()
	agent, err := recall.New(testutils.NewScriptedModel(turns...), &testutils.RecordingMemory{},
		recall.WithoutDefaultTools(),
	)
	require.NoError(t, err)
	return NewServer(agent, WithGraph(agent.Graph()))
}

// call sends one JSON-RPC request and returns the decoded "result" member.
func call(t *testing.T, s *Server, method string, params any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)

	resp := s.MCPServer().HandleMessage(context.Background(), raw)
	out, err := json.Marshal(resp)
	require.NoError(t, err)

	var envelope struct {
		Result map[string]any `json:"result"`
		Error  any            `json:"error"`
	}
	require.NoError(t, json.Unmarshal(out, &envelope))
	require.Nil(t, envelope.Error, string(out))
	return envelope.Result
}

func firstText(t *testing.T, result map[string]any) string {
	t.Helper()
	content, ok := result["content"].([]any)
	require.True(t, ok, "result has no content: %v", result)
	require.NotEmpty(t, content)
	text, _ := content[0].(map[string]any)["text"].(string)
	return text
}

func TestChatTool_RunsTurn(t *testing.T) {
	s := newTestServer(t, testutils.Turn{Text: []string{"Hi ", "there"}})

	result := call(t, s, "tools/call", map[string]any{
		"name":      "chat",
		"arguments": map[string]any{"user_id": "u1", "thread_id": "t1", "question": "hello"},
	})
	assert.NotEqual(t, true, result["isError"])
	assert.Equal(t, "Hi there", firstText(t, result))

	thread := call(t, s, "tools/call", map[string]any{
		"name":      "get_thread",
		"arguments": map[string]any{"user_id": "u1", "thread_id": "t1"},
	})
	structured, ok := thread["structuredContent"].(map[string]any)
	require.True(t, ok, "missing structured content: %v", thread)
	assert.Equal(t, float64(1), structured["turn"])
	messages, ok := structured["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, messages, 2)
}

func TestChatTool_Failures(t *testing.T) {
	failure := &domain.PortError{Port: "model", Attempts: 3, Err: errors.New("down")}
	s := newTestServer(t, testutils.Turn{Err: failure})

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"blank question", map[string]any{"user_id": "u1", "thread_id": "t1", "question": " "}, "question is required"},
		{"invalid key", map[string]any{"user_id": "u1", "question": "hi"}, "invalid conversation key"},
		{"port failure", map[string]any{"user_id": "u1", "thread_id": "t1", "question": "hi"}, "(retryable)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := call(t, s, "tools/call", map[string]any{"name": "chat", "arguments": tt.args})
			assert.Equal(t, true, result["isError"])
			assert.Contains(t, firstText(t, result), tt.want)
		})
	}
}

func TestListTools(t *testing.T) {
	s := newTestServer(t)

	result := call(t, s, "tools/list", map[string]any{})
	tools, ok := result["tools"].([]any)
	require.True(t, ok)

	var names []string
	for _, tool := range tools {
		names = append(names, fmt.Sprint(tool.(map[string]any)["name"]))
	}
	assert.ElementsMatch(t, []string{"chat", "get_thread"}, names)
}

func TestGraphResource(t *testing.T) {
	s := newTestServer(t)

	result := call(t, s, "resources/read", map[string]any{"uri": graphURI})
	contents, ok := result["contents"].([]any)
	require.True(t, ok)
	require.Len(t, contents, 1)
	assert.Contains(t, contents[0].(map[string]any)["text"], "graph TD")
}
