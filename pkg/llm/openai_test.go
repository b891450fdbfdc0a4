package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAICompatibleClient_Chat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req oaiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-sonnet-4-5-20250929", req.Model)

		resp := oaiResponse{Model: req.Model}
		resp.Choices = []struct {
			Message struct {
				Content   string        `json:"content"`
				ToolCalls []oaiToolCall `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		}{{FinishReason: "stop"}}
		resp.Choices[0].Message.Content = "hello there"
		resp.Usage.PromptTokens = 10
		resp.Usage.CompletionTokens = 5
		resp.Usage.TotalTokens = 15

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	client := NewOpenAICompatibleClient(server.URL, "", NewPool(2, time.Second), 5*time.Second)
	resp, err := client.Chat(context.Background(), ChatRequest{
		Model:    "sonnet",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, FinishStop, resp.FinishReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestOpenAICompatibleClient_ChatNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": "boom"}`))
	}))
	defer server.Close()

	client := NewOpenAICompatibleClient(server.URL, "", nil, 5*time.Second)
	_, err := client.Chat(context.Background(), ChatRequest{Model: "x", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	assert.Error(t, err)
}

func TestOpenAICompatibleClient_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)

		writeChunk := func(content string, finish *string) {
			chunk := map[string]interface{}{
				"choices": []map[string]interface{}{{
					"delta":         map[string]interface{}{"content": content},
					"finish_reason": finish,
				}},
			}
			data, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
		writeChunk("hel", nil)
		writeChunk("lo", nil)
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	client := NewOpenAICompatibleClient(server.URL, "", NewPool(2, time.Second), 5*time.Second)
	chunks, err := client.Stream(context.Background(), ChatRequest{Model: "x", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)

	var text string
	var sawUsage bool
	for c := range chunks {
		switch v := c.(type) {
		case *TextChunk:
			text += v.Content
		case *UsageChunk:
			sawUsage = true
		}
	}
	assert.Equal(t, "hello", text)
	assert.True(t, sawUsage)
}

func TestFromOAIToolCalls_EmptyReturnsNil(t *testing.T) {
	assert.Nil(t, fromOAIToolCalls(nil))
}

func TestToOAIMessages_PreservesToolCallID(t *testing.T) {
	msgs := toOAIMessages([]Message{{Role: RoleTool, Content: "result", ToolCallID: "call_1", ToolName: "read_file"}})
	require.Len(t, msgs, 1)
	assert.Equal(t, "call_1", msgs[0].ToolCallID)
	assert.Equal(t, "read_file", msgs[0].Name)
}

// ensure bufio-based SSE scanning handles a response with no trailing
// newline robustly (regression guard for the scanner buffer size).
func TestOpenAICompatibleClient_StreamHandlesLargeLine(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		big := make([]byte, 2000)
		for i := range big {
			big[i] = 'a'
		}
		chunk := map[string]interface{}{
			"choices": []map[string]interface{}{{"delta": map[string]interface{}{"content": string(big)}}},
		}
		data, _ := json.Marshal(chunk)
		bw := bufio.NewWriter(w)
		fmt.Fprintf(bw, "data: %s\n\n", data)
		fmt.Fprint(bw, "data: [DONE]\n\n")
		bw.Flush()
	}))
	defer server.Close()

	client := NewOpenAICompatibleClient(server.URL, "", nil, 5*time.Second)
	chunks, err := client.Stream(context.Background(), ChatRequest{Model: "x"})
	require.NoError(t, err)

	var total int
	for c := range chunks {
		if tc, ok := c.(*TextChunk); ok {
			total += len(tc.Content)
		}
	}
	assert.Equal(t, 2000, total)
}
