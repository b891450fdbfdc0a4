package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
)

// BedrockClient adapts the Bedrock Runtime Converse API to the Client
// contract, used for models hosted behind AWS Bedrock (e.g. Claude-on-Bedrock,
// Llama, Titan).
type BedrockClient struct {
	sdk  *bedrockruntime.Client
	pool *Pool
}

// NewBedrockClient builds a client from the default AWS config chain (env
// vars, shared config, instance role).
func NewBedrockClient(ctx context.Context, region string, pool *Pool) (*BedrockClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("llm: loading AWS config: %w", err)
	}
	return &BedrockClient{
		sdk:  bedrockruntime.NewFromConfig(cfg),
		pool: pool,
	}, nil
}

func toBedrockMessages(msgs []Message) (system []types.SystemContentBlock, out []types.Message) {
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			system = append(system, &types.SystemContentBlockMemberText{Value: m.Content})
		case RoleUser:
			out = append(out, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
			})
		case RoleAssistant:
			out = append(out, types.Message{
				Role:    types.ConversationRoleAssistant,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
			})
		case RoleTool:
			out = append(out, types.Message{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberToolResult{
					Value: types.ToolResultBlock{
						ToolUseId: aws.String(m.ToolCallID),
						Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: m.Content}},
					},
				}},
			})
		}
	}
	return system, out
}

func toBedrockToolConfig(defs []ToolDefinition) *types.ToolConfiguration {
	if len(defs) == 0 {
		return nil
	}
	var tools []types.Tool
	for _, d := range defs {
		var schemaDoc document.Interface
		if d.ParametersSchema != "" {
			var raw map[string]interface{}
			if err := json.Unmarshal([]byte(d.ParametersSchema), &raw); err == nil {
				schemaDoc = document.NewLazyDocument(raw)
			}
		}
		tools = append(tools, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(d.Name),
				Description: aws.String(d.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: schemaDoc},
			},
		})
	}
	return &types.ToolConfiguration{Tools: tools}
}

// Chat performs a non-streaming completion via Bedrock's Converse API.
func (c *BedrockClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if c.pool != nil {
		rel, err := c.pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("llm: acquiring pool slot: %w", err)
		}
		defer rel()
	}

	system, messages := toBedrockMessages(req.Messages)
	maxTokens := int32(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	out, err := c.sdk.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:  aws.String(ResolveModel(req.Model)),
		System:   system,
		Messages: messages,
		ToolConfig: toBedrockToolConfig(req.Tools),
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(maxTokens),
			Temperature: aws.Float32(req.Temperature),
		},
	})
	if err != nil {
		if c.pool != nil {
			c.pool.RecordError()
		}
		return nil, fmt.Errorf("llm: bedrock converse failed: %w", err)
	}

	resp := &ChatResponse{
		Model:        ResolveModel(req.Model),
		FinishReason: bedrockStopReason(out.StopReason),
	}
	if out.Usage != nil {
		resp.Usage = Usage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
			TotalTokens:  int(aws.ToInt32(out.Usage.TotalTokens)),
		}
	}

	if member, ok := out.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range member.Value.Content {
			switch b := block.(type) {
			case *types.ContentBlockMemberText:
				resp.Content += b.Value
			case *types.ContentBlockMemberToolUse:
				argsJSON, _ := json.Marshal(b.Value.Input)
				resp.ToolCalls = append(resp.ToolCalls, ToolCall{
					ID:        aws.ToString(b.Value.ToolUseId),
					Name:      aws.ToString(b.Value.Name),
					Arguments: string(argsJSON),
				})
			}
		}
	}
	return resp, nil
}

func bedrockStopReason(reason types.StopReason) FinishReason {
	switch reason {
	case types.StopReasonToolUse:
		return FinishToolCalls
	case types.StopReasonMaxTokens:
		return FinishLength
	default:
		return FinishStop
	}
}

// Stream performs a streaming completion via Bedrock's ConverseStream API.
func (c *BedrockClient) Stream(ctx context.Context, req ChatRequest) (<-chan Chunk, error) {
	var rel release
	if c.pool != nil {
		r, err := c.pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("llm: acquiring pool slot: %w", err)
		}
		rel = r
	}

	system, messages := toBedrockMessages(req.Messages)
	maxTokens := int32(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	streamOut, err := c.sdk.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:    aws.String(ResolveModel(req.Model)),
		System:     system,
		Messages:   messages,
		ToolConfig: toBedrockToolConfig(req.Tools),
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(maxTokens),
			Temperature: aws.Float32(req.Temperature),
		},
	})
	if err != nil {
		if rel != nil {
			rel()
		}
		if c.pool != nil {
			c.pool.RecordError()
		}
		return nil, fmt.Errorf("llm: bedrock converse-stream failed: %w", err)
	}

	out := make(chan Chunk, 8)
	go func() {
		defer close(out)
		if rel != nil {
			defer rel()
		}

		var usage Usage
		stream := streamOut.GetStream()
		defer stream.Close()

		for event := range stream.Events() {
			switch e := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch d := e.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					out <- &TextChunk{Content: d.Value}
				case *types.ContentBlockDeltaMemberToolUse:
					out <- &ToolCallChunk{Arguments: aws.ToString(d.Value.Input)}
				}
			case *types.ConverseStreamOutputMemberMetadata:
				if e.Value.Usage != nil {
					usage = Usage{
						InputTokens:  int(aws.ToInt32(e.Value.Usage.InputTokens)),
						OutputTokens: int(aws.ToInt32(e.Value.Usage.OutputTokens)),
						TotalTokens:  int(aws.ToInt32(e.Value.Usage.TotalTokens)),
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- &ErrorChunk{Message: err.Error(), Retryable: true}
			if c.pool != nil {
				c.pool.RecordError()
			}
			return
		}
		out <- &UsageChunk{Usage: usage}
	}()

	return out, nil
}
