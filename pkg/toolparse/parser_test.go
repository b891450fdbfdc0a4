package toolparse

import (
	"encoding/json"
	"testing"
)

func TestExtract_StrictJSONObject(t *testing.T) {
	text := `Sure, let me check that.
{"name": "read_file", "arguments": {"path": "main.go"}, "id": "call_1"}`

	calls := Extract(text)
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if calls[0].Name != "read_file" {
		t.Errorf("Name = %q, want read_file", calls[0].Name)
	}
	if calls[0].ID != "call_1" {
		t.Errorf("ID = %q, want call_1", calls[0].ID)
	}

	var args map[string]string
	if err := json.Unmarshal([]byte(calls[0].Arguments), &args); err != nil {
		t.Fatalf("arguments not valid JSON: %v", err)
	}
	if args["path"] != "main.go" {
		t.Errorf("path = %q, want main.go", args["path"])
	}
}

func TestExtract_ArrayFlattensMultipleCalls(t *testing.T) {
	text := `[{"name": "list_directory", "arguments": {"path": "."}},
	{"name": "task_complete", "arguments": {"summary": "done"}}]`

	calls := Extract(text)
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	if calls[0].Name != "list_directory" || calls[1].Name != "task_complete" {
		t.Errorf("unexpected names: %q, %q", calls[0].Name, calls[1].Name)
	}
}

func TestExtract_BareCommandInfersRunShellCommand(t *testing.T) {
	text := `{"command": "go test ./..."}`

	calls := Extract(text)
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if calls[0].Name != "run_shell_command" {
		t.Errorf("Name = %q, want run_shell_command", calls[0].Name)
	}

	var args map[string]string
	if err := json.Unmarshal([]byte(calls[0].Arguments), &args); err != nil {
		t.Fatalf("arguments not valid JSON: %v", err)
	}
	if args["command"] != "go test ./..." {
		t.Errorf("command = %q, want %q", args["command"], "go test ./...")
	}
}

func TestExtract_UnescapedNewlineInStringRetried(t *testing.T) {
	// A raw newline inside a string literal makes this invalid strict JSON;
	// the escape-retry tier should recover it.
	text := "{\"name\": \"run_command\", \"arguments\": {\"command\": \"echo one\ntwo\"}}"

	calls := Extract(text)
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1 (escape-retry should recover), got %d", len(calls), len(calls))
	}
	if calls[0].Name != "run_command" {
		t.Errorf("Name = %q, want run_command", calls[0].Name)
	}
}

func TestExtract_PermissiveSingleQuotedFallback(t *testing.T) {
	text := `{'name': 'search_files', 'arguments': {'pattern': 'TODO'}}`

	calls := Extract(text)
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if calls[0].Name != "search_files" {
		t.Errorf("Name = %q, want search_files", calls[0].Name)
	}
}

func TestExtract_CandidateWithoutNameOrCommandSkipped(t *testing.T) {
	text := `{"status": "thinking", "reason": "not a tool call"}`

	calls := Extract(text)
	if len(calls) != 0 {
		t.Fatalf("got %d calls, want 0", len(calls))
	}
}

func TestExtract_AllTiersFailSkippedSilently(t *testing.T) {
	text := `{this is not json at all, nor recoverable}`

	calls := Extract(text)
	if len(calls) != 0 {
		t.Fatalf("got %d calls, want 0 for unrecoverable candidate", len(calls))
	}
}

func TestExtract_SpecialTokensStrippedBeforeScanning(t *testing.T) {
	text := `<|assistant|>{"name": "task_complete", "arguments": {"summary": "ok"}}<|end|>`

	calls := Extract(text)
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if calls[0].Name != "task_complete" {
		t.Errorf("Name = %q, want task_complete", calls[0].Name)
	}
}

func TestExtract_StringifiedArgumentsRecursivelyParsed(t *testing.T) {
	text := `{"name": "edit_file", "arguments": "{\"path\": \"a.go\", \"old_text\": \"foo\", \"new_text\": \"bar\"}"}`

	calls := Extract(text)
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}

	var args map[string]string
	if err := json.Unmarshal([]byte(calls[0].Arguments), &args); err != nil {
		t.Fatalf("arguments not valid JSON after recursive parse: %v", err)
	}
	if args["path"] != "a.go" {
		t.Errorf("path = %q, want a.go", args["path"])
	}
}

func TestExtract_NoCandidatesInPlainProse(t *testing.T) {
	text := "I think the fix is straightforward and involves no JSON at all."

	calls := Extract(text)
	if len(calls) != 0 {
		t.Fatalf("got %d calls, want 0", len(calls))
	}
}

func TestExtract_MultipleTopLevelCandidatesInProse(t *testing.T) {
	text := `Here's my plan: {"name": "read_file", "arguments": {"path": "a.go"}}
and then {"name": "read_file", "arguments": {"path": "b.go"}}`

	calls := Extract(text)
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
}
