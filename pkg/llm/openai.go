package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAICompatibleClient talks to any OpenAI-compatible /v1/chat/completions
// endpoint (self-hosted vLLM, Ollama, LiteLLM proxies, ...).
type OpenAICompatibleClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	pool       *Pool
}

// NewOpenAICompatibleClient builds a client against baseURL (e.g.
// "http://vllm:8000"), authenticating with apiKey if non-empty.
func NewOpenAICompatibleClient(baseURL, apiKey string, pool *Pool, timeout time.Duration) *OpenAICompatibleClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenAICompatibleClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		pool:       pool,
	}
}

type oaiMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []oaiToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type oaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

type oaiRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	Tools       []oaiTool    `json:"tools,omitempty"`
	Temperature float32      `json:"temperature,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Stream      bool         `json:"stream"`
}

type oaiResponse struct {
	Choices []struct {
		Message struct {
			Content   string        `json:"content"`
			ToolCalls []oaiToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Model string `json:"model"`
}

type oaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string        `json:"content"`
			ToolCalls []oaiToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func toOAIMessages(msgs []Message) []oaiMessage {
	out := make([]oaiMessage, 0, len(msgs))
	for _, m := range msgs {
		om := oaiMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID, Name: m.ToolName}
		for _, tc := range m.ToolCalls {
			otc := oaiToolCall{ID: tc.ID, Type: "function"}
			otc.Function.Name = tc.Name
			otc.Function.Arguments = tc.Arguments
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		out = append(out, om)
	}
	return out
}

func toOAITools(defs []ToolDefinition) []oaiTool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]oaiTool, 0, len(defs))
	for _, d := range defs {
		t := oaiTool{Type: "function"}
		t.Function.Name = d.Name
		t.Function.Description = d.Description
		if d.ParametersSchema != "" {
			t.Function.Parameters = json.RawMessage(d.ParametersSchema)
		}
		out = append(out, t)
	}
	return out
}

func fromOAIToolCalls(calls []oaiToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, ToolCall{ID: c.ID, Name: c.Function.Name, Arguments: c.Function.Arguments})
	}
	return out
}

// Chat performs a non-streaming chat completion.
func (c *OpenAICompatibleClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if c.pool != nil {
		rel, err := c.pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("llm: acquiring pool slot: %w", err)
		}
		defer rel()
	}

	body := oaiRequest{
		Model:       ResolveModel(req.Model),
		Messages:    toOAIMessages(req.Messages),
		Tools:       toOAITools(req.Tools),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      false,
	}

	var parsed oaiResponse
	if err := c.post(ctx, body, &parsed); err != nil {
		if c.pool != nil {
			c.pool.RecordError()
		}
		return nil, err
	}
	if len(parsed.Choices) == 0 {
		if c.pool != nil {
			c.pool.RecordError()
		}
		return nil, fmt.Errorf("llm: empty choices in response")
	}

	choice := parsed.Choices[0]
	return &ChatResponse{
		Content:      choice.Message.Content,
		ToolCalls:    fromOAIToolCalls(choice.Message.ToolCalls),
		FinishReason: FinishReason(choice.FinishReason),
		Model:        parsed.Model,
		Usage: Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
			TotalTokens:  parsed.Usage.TotalTokens,
		},
	}, nil
}

func (c *OpenAICompatibleClient) post(ctx context.Context, body oaiRequest, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("llm: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("llm: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("llm: reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("llm: backend returned status %d: %s", resp.StatusCode, truncate(string(data), 500))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("llm: decoding response: %w", err)
	}
	return nil
}

// Stream performs a streaming chat completion over server-sent events,
// emitting one TextChunk per content delta, ToolCallChunks as tool call
// deltas accumulate, and a terminal UsageChunk (or ErrorChunk on failure).
func (c *OpenAICompatibleClient) Stream(ctx context.Context, req ChatRequest) (<-chan Chunk, error) {
	var rel release
	if c.pool != nil {
		r, err := c.pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("llm: acquiring pool slot: %w", err)
		}
		rel = r
	}

	body := oaiRequest{
		Model:       ResolveModel(req.Model),
		Messages:    toOAIMessages(req.Messages),
		Tools:       toOAITools(req.Tools),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		if rel != nil {
			rel()
		}
		return nil, fmt.Errorf("llm: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		if rel != nil {
			rel()
		}
		return nil, fmt.Errorf("llm: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if rel != nil {
			rel()
		}
		if c.pool != nil {
			c.pool.RecordError()
		}
		return nil, fmt.Errorf("llm: streaming request failed: %w", err)
	}

	out := make(chan Chunk, 8)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		if rel != nil {
			defer rel()
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)

		var usage Usage
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				break
			}

			var chunk oaiStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if chunk.Usage != nil {
				usage = Usage{
					InputTokens:  chunk.Usage.PromptTokens,
					OutputTokens: chunk.Usage.CompletionTokens,
					TotalTokens:  chunk.Usage.TotalTokens,
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if delta.Content != "" {
				out <- &TextChunk{Content: delta.Content}
			}
			for _, tc := range delta.ToolCalls {
				out <- &ToolCallChunk{CallID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
			}
		}
		if err := scanner.Err(); err != nil {
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

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
