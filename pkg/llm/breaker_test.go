package llm

import (
	"context"
	"errors"
	"testing"
)

type fakeClient struct {
	err  error
	resp *ChatResponse
}

func (f *fakeClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeClient) Stream(ctx context.Context, req ChatRequest) (<-chan Chunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan Chunk, 1)
	ch <- &TextChunk{Content: "hi"}
	close(ch)
	return ch, nil
}

func TestBreakerClientPassesThroughSuccess(t *testing.T) {
	inner := &fakeClient{resp: &ChatResponse{Content: "hello"}}
	bc := NewBreakerClient("test-provider-ok", inner, nil)

	resp, err := bc.Chat(context.Background(), ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestBreakerClientWrapsUnderlyingError(t *testing.T) {
	inner := &fakeClient{err: errors.New("backend unavailable")}
	bc := NewBreakerClient("test-provider-err", inner, nil)

	_, err := bc.Chat(context.Background(), ChatRequest{Model: "m"})
	if err == nil {
		t.Fatalf("expected error to propagate")
	}
}

func TestBreakerTripsAfterRepeatedFailures(t *testing.T) {
	inner := &fakeClient{err: errors.New("backend unavailable")}
	bc := NewBreakerClient("test-provider-trip", inner, nil)

	for i := 0; i < 5; i++ {
		_, _ = bc.Chat(context.Background(), ChatRequest{Model: "m"})
	}

	// The breaker's ReadyToTrip requires >=5 requests with a >=60% failure
	// ratio; after five straight failures it should be open and reject
	// without calling the inner client.
	if bc.cb.State().String() != "open" {
		t.Fatalf("expected breaker to be open after repeated failures, got %s", bc.cb.State())
	}
}

func TestBreakerClientStreamPassesThrough(t *testing.T) {
	inner := &fakeClient{}
	bc := NewBreakerClient("test-provider-stream", inner, nil)

	ch, err := bc.Stream(context.Background(), ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	chunk := <-ch
	tc, ok := chunk.(*TextChunk)
	if !ok || tc.Content != "hi" {
		t.Fatalf("unexpected chunk: %+v", chunk)
	}
}
