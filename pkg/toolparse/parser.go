// Package toolparse extracts tool-call records from free-form LLM text, for
// models that do not emit structured tool calls natively. It has no I/O and
// no hidden state: every call is a pure function of its input.
package toolparse

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ToolCall is a normalized tool invocation extracted from model output.
type ToolCall struct {
	// ID is unique per turn; synthesized if the source candidate had none.
	ID string
	// Name is the tool to invoke.
	Name string
	// Arguments is the tool's argument object, re-serialized as a JSON string
	// so the agent loop can decode it with a single json.Unmarshal.
	Arguments string
	// Thought is opaque reasoning text carried alongside the call, recorded
	// in telemetry but never sent back to the model.
	Thought string
}

var specialTokenPattern = regexp.MustCompile(`<\|[^|]*\|>`)

// Extract scans text for balanced top-level JSON objects/arrays and returns
// every candidate that normalizes into one or more tool calls. Candidates
// that fail every parse tier are skipped silently.
func Extract(text string) []ToolCall {
	cleaned := specialTokenPattern.ReplaceAllString(text, "")

	var calls []ToolCall
	for _, candidate := range scanBalancedJSON(cleaned) {
		value, ok := parseCandidate(candidate)
		if !ok {
			continue
		}
		calls = append(calls, normalize(value)...)
	}
	return calls
}

// scanBalancedJSON walks text tracking brace/bracket depth outside of string
// literals, returning every top-level `{...}` or `[...]` substring found.
func scanBalancedJSON(text string) []string {
	var candidates []string

	var depth int
	var start int
	var inString bool
	var escaped bool

	for i, r := range text {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}

		switch r {
		case '"':
			inString = true
		case '{', '[':
			if depth == 0 {
				start = i
			}
			depth++
		case '}', ']':
			if depth > 0 {
				depth--
				if depth == 0 {
					candidates = append(candidates, text[start:i+1])
				}
			}
		}
	}

	return candidates
}

// parseCandidate tries strict JSON, then a string-literal-escape retry, then
// a permissive literal parser tolerant of single-quoted keys/values.
func parseCandidate(candidate string) (interface{}, bool) {
	var value interface{}
	if err := json.Unmarshal([]byte(candidate), &value); err == nil {
		return value, true
	}

	escaped := escapeRawControlCharsInStrings(candidate)
	if err := json.Unmarshal([]byte(escaped), &value); err == nil {
		return value, true
	}

	if value, ok := parsePermissive(candidate); ok {
		return value, true
	}

	return nil, false
}

// escapeRawControlCharsInStrings escapes literal newlines and tabs that
// appear inside string literals (common in LLM output that embeds
// multi-line shell commands without proper JSON escaping), leaving
// structural whitespace untouched.
func escapeRawControlCharsInStrings(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	var inString, escaped bool
	for _, r := range s {
		if inString {
			switch {
			case escaped:
				b.WriteRune(r)
				escaped = false
				continue
			case r == '\\':
				b.WriteRune(r)
				escaped = true
				continue
			case r == '"':
				inString = false
			case r == '\n':
				b.WriteString(`\n`)
				continue
			case r == '\t':
				b.WriteString(`\t`)
				continue
			case r == '\r':
				b.WriteString(`\r`)
				continue
			}
			b.WriteRune(r)
			continue
		}

		if r == '"' {
			inString = true
		}
		b.WriteRune(r)
	}

	return b.String()
}

var (
	permissiveKeyPattern = regexp.MustCompile(`'([^'\\]*(?:\\.[^'\\]*)*)'\s*:`)
	permissiveValPattern = regexp.MustCompile(`:\s*'([^'\\]*(?:\\.[^'\\]*)*)'`)
)

// parsePermissive rewrites single-quoted keys/values into double-quoted JSON
// and retries. This is a best-effort literal transform, not a full parser;
// it only helps the common "the model emitted Python-ish dict syntax" case.
func parsePermissive(candidate string) (interface{}, bool) {
	rewritten := permissiveKeyPattern.ReplaceAllString(candidate, `"$1":`)
	rewritten = permissiveValPattern.ReplaceAllString(rewritten, `: "$1"`)

	var value interface{}
	if err := json.Unmarshal([]byte(rewritten), &value); err != nil {
		return nil, false
	}
	return value, true
}

// normalize converts an accepted candidate (object or array of objects) into
// zero or more ToolCalls. Arrays flatten; a bare object yields at most one
// call. Non-object/array values, and objects lacking both `name` and
// `command`, are dropped.
func normalize(value interface{}) []ToolCall {
	switch v := value.(type) {
	case []interface{}:
		var calls []ToolCall
		for _, item := range v {
			obj, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if call, ok := normalizeObject(obj); ok {
				calls = append(calls, call)
			}
		}
		return calls
	case map[string]interface{}:
		if call, ok := normalizeObject(v); ok {
			return []ToolCall{call}
		}
	}
	return nil
}

func normalizeObject(obj map[string]interface{}) (ToolCall, bool) {
	name, hasName := stringField(obj, "name")
	command, hasCommand := stringField(obj, "command")

	if !hasName && !hasCommand {
		return ToolCall{}, false
	}

	call := ToolCall{
		ID:      stringFieldOr(obj, "id", ""),
		Thought: stringFieldOr(obj, "thought", ""),
	}

	argsValue, hasArgs := obj["arguments"]

	switch {
	case hasName:
		call.Name = name
		if hasArgs {
			call.Arguments = argumentsToJSON(argsValue)
		} else {
			call.Arguments = objectMinusKnownFields(obj, "name", "id", "thought")
		}
	case hasCommand:
		// Only a bare `command` at the root with no structured `arguments`:
		// infer the shell-runner tool.
		call.Name = "run_shell_command"
		if hasArgs {
			call.Arguments = argumentsToJSON(argsValue)
		} else {
			args := map[string]interface{}{"command": command}
			data, _ := json.Marshal(args)
			call.Arguments = string(data)
		}
	}

	return call, true
}

// argumentsToJSON re-serializes the `arguments` field as a JSON string.
// Stringified JSON nested inside `arguments` is recursively parsed first so
// the result is always a clean JSON object string, never double-encoded.
func argumentsToJSON(v interface{}) string {
	if s, ok := v.(string); ok {
		var nested interface{}
		if err := json.Unmarshal([]byte(s), &nested); err == nil {
			data, err := json.Marshal(nested)
			if err == nil {
				return string(data)
			}
		}
		data, _ := json.Marshal(s)
		return string(data)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// objectMinusKnownFields serializes obj with the metadata fields stripped,
// used when a candidate carries its tool arguments as top-level siblings of
// `name` rather than nested under `arguments`.
func objectMinusKnownFields(obj map[string]interface{}, drop ...string) string {
	remaining := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		remaining[k] = v
	}
	for _, k := range drop {
		delete(remaining, k)
	}
	data, err := json.Marshal(remaining)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func stringField(obj map[string]interface{}, key string) (string, bool) {
	v, ok := obj[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func stringFieldOr(obj map[string]interface{}, key, fallback string) string {
	if s, ok := stringField(obj, key); ok {
		return s
	}
	return fallback
}
