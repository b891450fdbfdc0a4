package reporter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestCompleteSendsExpectedEventShape(t *testing.T) {
	var mu sync.Mutex
	var received Event

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if err := json.NewDecoder(req.Body).Decode(&received); err != nil {
			t.Errorf("decode failed: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New(Config{MinionID: "minion-a", IssueNumber: 42, CallbackURL: srv.URL + "/callback"})
	r.Complete(context.Background(), 100, "https://example.com/pr/100", "minion/issue-42", "LGTM")

	mu.Lock()
	defer mu.Unlock()
	if received.MinionID != "minion-a" || received.Event != "complete" || received.Issue != 42 {
		t.Fatalf("unexpected event: %+v", received)
	}
	data, ok := received.Data.(map[string]interface{})
	if !ok || data["pr_number"].(float64) != 100 || data["branch"] != "minion/issue-42" {
		t.Fatalf("unexpected event data: %+v", received.Data)
	}
}

func TestDeliveryFailureDoesNotBlockOrPanic(t *testing.T) {
	r := New(Config{MinionID: "minion-a", IssueNumber: 1, CallbackURL: "http://127.0.0.1:1"})
	done := make(chan struct{})
	go func() {
		r.Error(context.Background(), "timeout", "details")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Error() blocked on unreachable callback URL")
	}
}

func TestHeartbeatLoopStartsAndStops(t *testing.T) {
	var count int
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		count++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New(Config{MinionID: "minion-a", IssueNumber: 1, CallbackURL: srv.URL, HeartbeatInterval: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	time.Sleep(90 * time.Millisecond)
	cancel()
	r.Stop()

	mu.Lock()
	defer mu.Unlock()
	if count == 0 {
		t.Fatalf("expected at least one heartbeat to be sent")
	}
}

func TestPollAnswerReturnsAnswerWhenAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("question_id") != "q1" {
			t.Errorf("expected question_id=q1, got %s", req.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(answerResponse{Answered: true, Answer: "use int64"})
	}))
	defer srv.Close()

	r := New(Config{MinionID: "minion-a", IssueNumber: 1, CallbackURL: srv.URL + "/callback"})
	answer, ok := r.PollAnswer(context.Background(), "q1", time.Second, 10*time.Millisecond)
	if !ok || answer != "use int64" {
		t.Fatalf("expected answer to be returned, got %q ok=%v", answer, ok)
	}
}

func TestPollAnswerTimesOutWhenUnanswered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(answerResponse{Answered: false})
	}))
	defer srv.Close()

	r := New(Config{MinionID: "minion-a", IssueNumber: 1, CallbackURL: srv.URL})
	_, ok := r.PollAnswer(context.Background(), "q1", 60*time.Millisecond, 15*time.Millisecond)
	if ok {
		t.Fatalf("expected poll to time out without an answer")
	}
}

func TestAnswerURLReplacesTrailingSegment(t *testing.T) {
	got := answerURL("https://overlord.example.com/callback", "minion-a")
	want := "https://overlord.example.com/answer/minion-a"
	if got != want {
		t.Fatalf("answerURL = %q, want %q", got, want)
	}
}
