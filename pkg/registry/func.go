package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
)

// NewFunc builds a Tool from a typed function. The parameter schema is reflected from T
// and the model's arguments are decoded into T before fn runs.
func NewFunc[T any](name, description string, fn func(ctx context.Context, in T) (string, error)) Tool {
	return Tool{
		Name:        name,
		Description: description,
		Parameters:  SchemaFor[T](),
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			in, err := DecodeArgs[T](args)
			if err != nil {
				return "", err
			}
			return fn(ctx, in)
		},
	}
}

// SchemaFor reflects the JSON Schema of T as a plain map, inlined and without
// $schema/$id keys, ready to be sent to a model provider.
func SchemaFor[T any]() map[string]any {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := r.Reflect(v)

	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("registry: reflect schema for %T: %v", v, err))
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("registry: reflect schema for %T: %v", v, err))
	}
	delete(out, "$schema")
	delete(out, "$id")
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]any{}
	}
	return out
}

// DecodeArgs decodes a JSON arguments object into T. Models sometimes send numbers as
// strings and vice versa, so decoding is weakly typed.
func DecodeArgs[T any](args json.RawMessage) (T, error) {
	var out T
	if len(bytes.TrimSpace(args)) == 0 {
		return out, nil
	}

	var raw map[string]any
	if err := json.Unmarshal(args, &raw); err != nil {
		return out, fmt.Errorf("arguments must be a JSON object: %w", err)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(raw); err != nil {
		return out, fmt.Errorf("invalid arguments: %w", err)
	}
	return out, nil
}
