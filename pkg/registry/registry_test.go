package registry_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aretw0/recall/pkg/domain"
	"github.com/aretw0/recall/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoInput struct {
	Text  string `json:"text" jsonschema_description:"The text to echo"`
	Times int    `json:"times,omitempty"`
}

func echoTool() registry.Tool {
	return registry.NewFunc("echo", "Echo text", func(_ context.Context, in echoInput) (string, error) {
		out := ""
		for i := 0; i < max(in.Times, 1); i++ {
			out += in.Text
		}
		return out, nil
	})
}

func TestRegistry_Invoke(t *testing.T) {
	r, err := registry.NewRegistry(echoTool())
	require.NoError(t, err)

	out, err := r.Invoke(context.Background(), "echo", json.RawMessage(`{"text":"ab","times":"2"}`))
	require.NoError(t, err)
	assert.Equal(t, "abab", out)

	_, err = r.Invoke(context.Background(), "missing", nil)
	assert.True(t, errors.Is(err, domain.ErrToolNotFound))

	_, err = r.Invoke(context.Background(), "echo", json.RawMessage(`"not an object"`))
	assert.ErrorContains(t, err, "arguments must be a JSON object")
}

func TestRegistry_DefinitionsKeepRegistrationOrder(t *testing.T) {
	r, err := registry.NewRegistry()
	require.NoError(t, err)

	handler := func(context.Context, json.RawMessage) (string, error) { return "", nil }
	require.NoError(t, r.Register(registry.Tool{Name: "b", Handler: handler}))
	require.NoError(t, r.Register(registry.Tool{Name: "a", Handler: handler}))
	require.NoError(t, r.Register(registry.Tool{Name: "b", Description: "again", Handler: handler}))

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "b", defs[0].Name)
	assert.Equal(t, "again", defs[0].Description)
	assert.Equal(t, "object", defs[1].Parameters["type"])
	assert.Equal(t, []string{"b", "a"}, r.Names())

	assert.Error(t, r.Register(registry.Tool{Name: "nohandler"}))
	assert.Error(t, r.Register(registry.Tool{Handler: handler}))
}

func TestSchemaFor(t *testing.T) {
	schema := registry.SchemaFor[echoInput]()

	assert.Equal(t, "object", schema["type"])
	assert.NotContains(t, schema, "$schema")
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	text, ok := props["text"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "string", text["type"])
	assert.Equal(t, "The text to echo", text["description"])
	assert.Equal(t, []any{"text"}, schema["required"])

	empty := registry.SchemaFor[struct{}]()
	assert.Equal(t, map[string]any{}, empty["properties"])
}
