// Package anthropic implements ports.LanguageModel on the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aretw0/recall/pkg/domain"
	"github.com/aretw0/recall/pkg/ports"
)

// Options configure the model adapter.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int64
	// APIKey overrides ANTHROPIC_API_KEY.
	APIKey  string
	BaseURL string
}

// Model streams message completions.
type Model struct {
	client *anthropic.Client
	opts   Options
}

var _ ports.LanguageModel = (*Model)(nil)

// New creates a model with a client built from opts (and the ANTHROPIC_* environment).
func New(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	var reqOpts []option.RequestOption
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := anthropic.NewClient(reqOpts...)
	return &Model{client: &client, opts: opts}
}

// NewFromClient wraps an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:       string(anthropic.ModelClaude3_5HaikuLatest),
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// Name returns the configured model name.
func (m *Model) Name() string { return m.opts.Model }

type toolBlock struct {
	id, name string
	input    strings.Builder
}

// Complete streams text deltas as they arrive; tool_use blocks are yielded in block
// order once the message is complete.
func (m *Model) Complete(ctx context.Context, req ports.CompletionRequest) iter.Seq2[ports.Chunk, error] {
	return func(yield func(ports.Chunk, error) bool) {
		stream := m.client.Messages.NewStreaming(ctx, m.buildParams(req))
		defer stream.Close()

		blocks := map[int64]*toolBlock{}
		for stream.Next() {
			switch ev := stream.Current().AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if ev.ContentBlock.Type == "tool_use" {
					blocks[ev.Index] = &toolBlock{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
				}
			case anthropic.ContentBlockDeltaEvent:
				switch d := ev.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if d.Text != "" && !yield(ports.Chunk{Text: d.Text}, nil) {
						return
					}
				case anthropic.InputJSONDelta:
					if b, ok := blocks[ev.Index]; ok {
						b.input.WriteString(d.PartialJSON)
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield(ports.Chunk{}, fmt.Errorf("anthropic: %w", err))
			return
		}

		indexes := make([]int64, 0, len(blocks))
		for idx := range blocks {
			indexes = append(indexes, idx)
		}
		sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
		for _, idx := range indexes {
			b := blocks[idx]
			args := b.input.String()
			if strings.TrimSpace(args) == "" {
				args = "{}"
			}
			call := &domain.ToolCall{ID: b.id, Name: b.name, Arguments: json.RawMessage(args)}
			if !yield(ports.Chunk{ToolCall: call}, nil) {
				return
			}
		}
	}
}

func (m *Model) buildParams(req ports.CompletionRequest) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(m.opts.Model),
		Messages:    buildMessages(req.Messages),
		MaxTokens:   m.opts.MaxTokens,
		Temperature: anthropic.Float(m.opts.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}
	return params
}

// buildMessages converts the transcript. Consecutive tool messages are grouped into a
// single user message of tool_result blocks, which is what the API expects after a
// tool_use turn.
func buildMessages(msgs []domain.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	var results []anthropic.ContentBlockParamUnion
	flush := func() {
		if len(results) > 0 {
			out = append(out, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, msg := range msgs {
		switch msg.Role {
		case domain.RoleTool:
			isErr := strings.HasPrefix(msg.Content, "Error: ")
			results = append(results, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, isErr))
		case domain.RoleUser:
			flush()
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case domain.RoleAssistant:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, c := range msg.ToolCalls {
				var input any = map[string]any{}
				if len(c.Arguments) > 0 {
					if err := json.Unmarshal(c.Arguments, &input); err != nil {
						input = map[string]any{}
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(c.ID, input, c.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		}
	}
	flush()
	return out
}

func buildTools(defs []domain.ToolDefinition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		schema := anthropic.ToolInputSchemaParam{}
		if props, ok := d.Parameters["properties"]; ok {
			schema.Properties = props
		}
		switch req := d.Parameters["required"].(type) {
		case []string:
			schema.Required = req
		case []any:
			for _, r := range req {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
		tool := anthropic.ToolUnionParamOfTool(schema, d.Name)
		if d.Description != "" {
			tool.OfTool.Description = anthropic.String(d.Description)
		}
		tools = append(tools, tool)
	}
	return tools
}
