// Package openai implements ports.LanguageModel on the OpenAI Chat Completions API.
// OpenAI-compatible servers (Ollama, Groq) are reached by pointing BaseURL at them.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"sort"

	"github.com/aretw0/recall/pkg/domain"
	"github.com/aretw0/recall/pkg/ports"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// aggCall accumulates the streamed deltas of one tool call.
type aggCall struct{ id, name, args string }

// Options configure the model adapter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64

	// BaseURL overrides the API endpoint, e.g. http://localhost:11434/v1/ for Ollama.
	BaseURL string
	// APIKey overrides OPENAI_API_KEY.
	APIKey string
}

// Model streams chat completions.
type Model struct {
	client *openai.Client
	opts   Options
}

var _ ports.LanguageModel = (*Model)(nil)

// New creates a model with a client built from opts (and the OPENAI_* environment).
func New(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	var reqOpts []option.RequestOption
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	client := openai.NewClient(reqOpts...)
	return &Model{client: &client, opts: opts}
}

// NewFromClient wraps an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
}

// Name returns the configured model name.
func (m *Model) Name() string { return m.opts.Model }

// Complete streams text deltas as they arrive. Tool calls are assembled from their
// deltas and yielded, in index order, once the stream ends.
func (m *Model) Complete(ctx context.Context, req ports.CompletionRequest) iter.Seq2[ports.Chunk, error] {
	return func(yield func(ports.Chunk, error) bool) {
		stream := m.client.Chat.Completions.NewStreaming(ctx, m.buildParams(req))
		defer stream.Close()

		calls := map[int64]*aggCall{}
		for stream.Next() {
			ck := stream.Current()
			for _, ch := range ck.Choices {
				if ch.Delta.Content != "" {
					if !yield(ports.Chunk{Text: ch.Delta.Content}, nil) {
						return
					}
				}
				for _, tc := range ch.Delta.ToolCalls {
					agg, ok := calls[tc.Index]
					if !ok {
						agg = &aggCall{}
						calls[tc.Index] = agg
					}
					if tc.ID != "" {
						agg.id = tc.ID
					}
					if tc.Function.Name != "" {
						agg.name = tc.Function.Name
					}
					agg.args += tc.Function.Arguments
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield(ports.Chunk{}, fmt.Errorf("openai: %w", err))
			return
		}

		indexes := make([]int64, 0, len(calls))
		for idx := range calls {
			indexes = append(indexes, idx)
		}
		sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
		for _, idx := range indexes {
			agg := calls[idx]
			args := agg.args
			if args == "" {
				args = "{}"
			}
			call := &domain.ToolCall{ID: agg.id, Name: agg.name, Arguments: json.RawMessage(args)}
			if !yield(ports.Chunk{ToolCall: call}, nil) {
				return
			}
		}
	}
}

func (m *Model) buildParams(req ports.CompletionRequest) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req),
		Model:               openai.ChatModel(m.opts.Model),
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}
	return params
}

func buildMessages(req ports.CompletionRequest) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.SystemMessage(req.System))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case domain.RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case domain.RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		case domain.RoleAssistant:
			if !msg.HasToolCalls() {
				out = append(out, openai.AssistantMessage(msg.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls))
			for _, c := range msg.ToolCalls {
				args := string(c.Arguments)
				if args == "" {
					args = "{}"
				}
				calls = append(calls, openai.ChatCompletionMessageToolCallParam{
					ID:   c.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      c.Name,
						Arguments: args,
					},
				})
			}
			assistant := &openai.ChatCompletionAssistantMessageParam{Role: "assistant", ToolCalls: calls}
			if msg.Content != "" {
				assistant.Content.OfString = openai.String(msg.Content)
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		}
	}
	return out
}

func buildTools(defs []domain.ToolDefinition) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, d := range defs {
		tools = append(tools, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  openai.FunctionParameters(d.Parameters),
			},
		})
	}
	return tools
}
