package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient adapts the Anthropic Messages API to the Client contract.
type AnthropicClient struct {
	sdk  anthropic.Client
	pool *Pool
}

// NewAnthropicClient builds a client authenticated with apiKey.
func NewAnthropicClient(apiKey string, pool *Pool) *AnthropicClient {
	return &AnthropicClient{
		sdk:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		pool: pool,
	}
}

func toAnthropicMessages(msgs []Message) (system string, out []anthropic.MessageParam) {
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		case RoleTool:
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		}
	}
	return system, out
}

func toAnthropicTools(defs []ToolDefinition) []anthropic.ToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		schema := anthropic.ToolInputSchemaParam{}
		if d.ParametersSchema != "" {
			var props map[string]interface{}
			if err := json.Unmarshal([]byte(d.ParametersSchema), &props); err == nil {
				schema.Properties = props
			}
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        d.Name,
				Description: anthropic.String(d.Description),
				InputSchema: schema,
			},
		})
	}
	return out
}

// Chat performs a non-streaming completion against Anthropic's Messages API.
func (c *AnthropicClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if c.pool != nil {
		rel, err := c.pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("llm: acquiring pool slot: %w", err)
		}
		defer rel()
	}

	system, messages := toAnthropicMessages(req.Messages)
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(ResolveModel(req.Model)),
		MaxTokens: maxTokens,
		Messages:  messages,
		Tools:     toAnthropicTools(req.Tools),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		if c.pool != nil {
			c.pool.RecordError()
		}
		return nil, fmt.Errorf("llm: anthropic request failed: %w", err)
	}

	resp := &ChatResponse{
		Model:        string(msg.Model),
		FinishReason: anthropicStopReason(msg.StopReason),
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += variant.Text
		case anthropic.ToolUseBlock:
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: string(variant.Input),
			})
		}
	}
	return resp, nil
}

func anthropicStopReason(reason anthropic.StopReason) FinishReason {
	switch reason {
	case anthropic.StopReasonToolUse:
		return FinishToolCalls
	case anthropic.StopReasonMaxTokens:
		return FinishLength
	default:
		return FinishStop
	}
}

// Stream performs a streaming completion, translating Anthropic's SSE event
// stream into the shared Chunk contract.
func (c *AnthropicClient) Stream(ctx context.Context, req ChatRequest) (<-chan Chunk, error) {
	var rel release
	if c.pool != nil {
		r, err := c.pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("llm: acquiring pool slot: %w", err)
		}
		rel = r
	}

	system, messages := toAnthropicMessages(req.Messages)
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(ResolveModel(req.Model)),
		MaxTokens: maxTokens,
		Messages:  messages,
		Tools:     toAnthropicTools(req.Tools),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	stream := c.sdk.Messages.NewStreaming(ctx, params)

	out := make(chan Chunk, 8)
	go func() {
		defer close(out)
		if rel != nil {
			defer rel()
		}

		var usage Usage
		for stream.Next() {
			event := stream.Current()
			switch delta := event.AsAny().(type) {
			case anthropic.MessageStartEvent:
				usage.InputTokens = int(delta.Message.Usage.InputTokens)
			case anthropic.ContentBlockDeltaEvent:
				switch d := delta.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					out <- &TextChunk{Content: d.Text}
				case anthropic.InputJSONDelta:
					out <- &ToolCallChunk{Arguments: d.PartialJSON}
				}
			case anthropic.MessageDeltaEvent:
				usage.OutputTokens = int(delta.Usage.OutputTokens)
			}
		}
		if err := stream.Err(); err != nil {
			out <- &ErrorChunk{Message: err.Error(), Retryable: true}
			if c.pool != nil {
				c.pool.RecordError()
			}
			return
		}
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
		out <- &UsageChunk{Usage: usage}
	}()

	return out, nil
}
