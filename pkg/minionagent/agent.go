// Package minionagent implements the Minion Agent: a
// turn-bounded state machine that interleaves LLM calls, tool-call
// extraction/dispatch, and failure memory, until a terminal tool fires or a
// budget is exhausted. Follows a call-LLM/parse/dispatch/append/loop
// shape for one fixed strategy, plus a bounded concurrent-dispatch pattern
// for the optional dispatch_subtask tool.
package minionagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nebulus-ai/overlord/pkg/failure"
	"github.com/nebulus-ai/overlord/pkg/llm"
	"github.com/nebulus-ai/overlord/pkg/sandbox"
	"github.com/nebulus-ai/overlord/pkg/toolparse"
)

// Status is the terminal (or blocking) outcome of one Run/Resume call.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusBlocked   Status = "BLOCKED"
	StatusTurnLimit Status = "TURN_LIMIT"
	StatusError     Status = "ERROR"
)

// Result is returned by Run and Resume.
type Result struct {
	Status       Status
	Summary      string
	FilesChanged []string
	BlockerType  sandbox.BlockerType
	Question     string
	ErrorMessage string
	TurnsUsed    int
}

// FailureContextProvider is the subset of failure.Store/failure.Persister
// the agent consults to inject confidence-penalty warnings into the
// conversation. Both concrete types satisfy it via the embedded *Store.
type FailureContextProvider interface {
	BuildFailureContext(toolNames ...string) failure.FailureContext
}

// Config bounds one Agent run.
type Config struct {
	TurnLimit      int
	ErrorThreshold int

	// SubagentsEnabled gates the optional dispatch_subtask tool
	//; MaxConcurrentSubagents bounds its fan-out.
	SubagentsEnabled       bool
	MaxConcurrentSubagents int
}

// DefaultConfig returns the stock turn and error limits.
func DefaultConfig() Config {
	return Config{TurnLimit: 50, ErrorThreshold: 3, MaxConcurrentSubagents: 2}
}

// SubagentDispatcher runs one bounded sub-investigation and returns its
// textual result, folded back into the parent conversation as a tool
// result. Implementations typically spawn a nested Agent
// against the same sandbox with a narrower prompt.
type SubagentDispatcher interface {
	Dispatch(ctx context.Context, prompt string) (string, error)
}

// Agent drives one Minion's conversation against a fixed tool vocabulary.
// Conversation history is the Agent's own state; Run starts the loop and
// Resume continues it after an external InjectMessage.
type Agent struct {
	llmClient llm.Client
	model     string
	sandbox   *sandbox.Sandbox
	failures  FailureContextProvider
	subagents SubagentDispatcher
	logger    *slog.Logger
	cfg       Config
	tools     []llm.ToolDefinition

	mu                sync.Mutex
	messages          []llm.Message
	turnsUsed         int
	consecutiveErrors int
}

// New builds an Agent with systemPrompt as the fixed system message.
func New(llmClient llm.Client, model string, sb *sandbox.Sandbox, failures FailureContextProvider, subagents SubagentDispatcher, cfg Config, systemPrompt string) *Agent {
	if cfg.TurnLimit <= 0 {
		cfg.TurnLimit = 50
	}
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = 3
	}
	return &Agent{
		llmClient: llmClient,
		model:     model,
		sandbox:   sb,
		failures:  failures,
		subagents: subagents,
		logger:    slog.Default().With("component", "minionagent"),
		cfg:       cfg,
		tools:     buildToolDefinitions(cfg.SubagentsEnabled),
		messages:  []llm.Message{{Role: llm.RoleSystem, Content: systemPrompt}},
	}
}

// InjectMessage appends a synthetic user message to the conversation, used
// by the enclosing Minion runtime to resume the loop after a human answer
// arrives for a pending question. Safe to call between Run and
// Resume; the loop itself is single-threaded so no call happens
// concurrently with Run/Resume.
func (a *Agent) InjectMessage(content string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, llm.Message{Role: llm.RoleUser, Content: content})
}

// Messages returns a defensive copy of the conversation so far, for
// telemetry/debugging.
func (a *Agent) Messages() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]llm.Message, len(a.messages))
	copy(out, a.messages)
	return out
}

// Run starts the agent loop from scratch.
func (a *Agent) Run(ctx context.Context) (*Result, error) {
	if warnings := a.failureWarnings(); warnings != "" {
		a.InjectMessage("Known failure patterns from this session, factor them into your plan:\n" + warnings)
	}
	return a.loop(ctx)
}

// Resume continues the loop without resetting the turn counter, after an
// InjectMessage call has appended the operator's answer (or a best-judgment
// fallback) to the conversation.
func (a *Agent) Resume(ctx context.Context) (*Result, error) {
	return a.loop(ctx)
}

func (a *Agent) failureWarnings() string {
	if a.failures == nil {
		return ""
	}
	return a.failures.BuildFailureContext().FormatWarnings()
}

// loop drives turns until a terminal tool fires, the turn limit is
// exhausted, or consecutive tool errors exceed the threshold.
func (a *Agent) loop(ctx context.Context) (*Result, error) {
	for {
		a.mu.Lock()
		turnsUsed := a.turnsUsed
		a.mu.Unlock()

		if turnsUsed >= a.cfg.TurnLimit {
			return &Result{Status: StatusTurnLimit, TurnsUsed: turnsUsed}, nil
		}

		resp, err := a.llmClient.Chat(ctx, llm.ChatRequest{
			Model:    a.model,
			Messages: a.currentMessages(),
			Tools:    a.tools,
		})

		a.mu.Lock()
		a.turnsUsed++
		turnsUsed = a.turnsUsed
		a.mu.Unlock()

		if err != nil {
			a.logger.Warn("llm call failed", "turn", turnsUsed, "error", err)
			a.appendAssistant("", nil)
			a.appendUser(fmt.Sprintf("The model request failed: %v. Try a different approach or call task_blocked if you cannot proceed.", err))
			a.bumpError()

			a.mu.Lock()
			exceeded := a.consecutiveErrors >= a.cfg.ErrorThreshold
			a.mu.Unlock()
			if exceeded {
				return &Result{Status: StatusError, ErrorMessage: "consecutive tool failures exceeded error_threshold", TurnsUsed: turnsUsed}, nil
			}
			continue
		}

		calls := resp.ToolCalls
		if len(calls) == 0 {
			calls = fallbackParse(resp.Content)
		}

		if len(calls) == 0 {
			a.appendAssistant(resp.Content, nil)
			a.appendUser("continue or call task_complete")
			continue
		}

		a.appendAssistant(resp.Content, calls)

		terminal, result := a.dispatchCalls(ctx, calls)
		if terminal {
			result.TurnsUsed = turnsUsed
			return result, nil
		}

		a.mu.Lock()
		exceeded := a.consecutiveErrors >= a.cfg.ErrorThreshold
		a.mu.Unlock()
		if exceeded {
			return &Result{Status: StatusError, ErrorMessage: "consecutive tool failures exceeded error_threshold", TurnsUsed: turnsUsed}, nil
		}
	}
}

func (a *Agent) currentMessages() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]llm.Message, len(a.messages))
	copy(out, a.messages)
	return out
}

func (a *Agent) appendAssistant(content string, calls []llm.ToolCall) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, llm.Message{Role: llm.RoleAssistant, Content: content, ToolCalls: calls})
}

func (a *Agent) appendUser(content string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, llm.Message{Role: llm.RoleUser, Content: content})
}

func (a *Agent) appendToolResult(callID, toolName, content string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, llm.Message{Role: llm.RoleTool, Content: content, ToolCallID: callID, ToolName: toolName})
}

// fallbackParse converts toolparse.ToolCall records into llm.ToolCall,
// used when the model doesn't emit native structured tool calls.
func fallbackParse(content string) []llm.ToolCall {
	parsed := toolparse.Extract(content)
	if len(parsed) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, len(parsed))
	for i, p := range parsed {
		id := p.ID
		if id == "" {
			id = fmt.Sprintf("fallback-%d", i)
		}
		out[i] = llm.ToolCall{ID: id, Name: p.Name, Arguments: p.Arguments}
	}
	return out
}

// dispatchCalls executes each tool call in order. The first task_complete
// or task_blocked call terminates the turn immediately; remaining calls in
// the same batch (if any) are not executed; a turn has at most one
// terminal tool.
func (a *Agent) dispatchCalls(ctx context.Context, calls []llm.ToolCall) (bool, *Result) {
	for _, call := range calls {
		args := map[string]interface{}{}
		if call.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
				a.appendToolResult(call.ID, call.Name, fmt.Sprintf(`{"success":false,"error":"invalid JSON arguments: %v"}`, err))
				a.bumpError()
				continue
			}
		}

		switch call.Name {
		case "task_complete":
			summary, _ := args["summary"].(string)
			files := stringSlice(args["files_changed"])
			return true, &Result{Status: StatusCompleted, Summary: summary, FilesChanged: files}

		case "task_blocked":
			reason, _ := args["reason"].(string)
			blockerType, _ := args["blocker_type"].(string)
			question, _ := args["question"].(string)
			return true, &Result{
				Status:      StatusBlocked,
				Summary:     reason,
				BlockerType: sandbox.BlockerType(blockerType),
				Question:    question,
			}

		case "dispatch_subtask":
			a.dispatchSubtask(ctx, call, args)

		default:
			a.dispatchSandboxTool(ctx, call, args)
		}
	}
	return false, nil
}

func (a *Agent) bumpError() {
	a.mu.Lock()
	a.consecutiveErrors++
	a.mu.Unlock()
}

func (a *Agent) resetErrors() {
	a.mu.Lock()
	a.consecutiveErrors = 0
	a.mu.Unlock()
}

func stringSlice(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (a *Agent) dispatchSubtask(ctx context.Context, call llm.ToolCall, args map[string]interface{}) {
	if !a.cfg.SubagentsEnabled || a.subagents == nil {
		a.appendToolResult(call.ID, call.Name, `{"success":false,"error":"sub-agent dispatch is disabled"}`)
		a.bumpError()
		return
	}
	prompt, _ := args["prompt"].(string)
	out, err := a.subagents.Dispatch(ctx, prompt)
	if err != nil {
		a.appendToolResult(call.ID, call.Name, fmt.Sprintf(`{"success":false,"error":%q}`, err.Error()))
		a.bumpError()
		return
	}
	a.appendToolResult(call.ID, call.Name, encodeResult(sandbox.Result{Success: true, Output: out}))
	a.resetErrors()
}

func (a *Agent) dispatchSandboxTool(ctx context.Context, call llm.ToolCall, args map[string]interface{}) {
	res := a.runSandboxTool(ctx, call.Name, args)
	a.appendToolResult(call.ID, call.Name, encodeResult(res))
	if res.Success {
		a.resetErrors()
	} else {
		a.bumpError()
	}
}

func encodeResult(res sandbox.Result) string {
	data, err := json.Marshal(res)
	if err != nil {
		return `{"success":false,"error":"failed to encode tool result"}`
	}
	return string(data)
}

func (a *Agent) runSandboxTool(ctx context.Context, name string, args map[string]interface{}) sandbox.Result {
	switch name {
	case "read_file":
		path, _ := args["path"].(string)
		start, end := intArg(args, "start_line"), intArg(args, "end_line")
		return a.sandbox.ReadFile(path, start, end)
	case "write_file":
		path, _ := args["path"].(string)
		content, _ := args["content"].(string)
		return a.sandbox.WriteFile(path, content)
	case "edit_file":
		path, _ := args["path"].(string)
		oldText, _ := args["old_text"].(string)
		newText, _ := args["new_text"].(string)
		return a.sandbox.EditFile(path, oldText, newText)
	case "list_directory":
		path, _ := args["path"].(string)
		recursive, _ := args["recursive"].(bool)
		return a.sandbox.ListDirectory(path, recursive)
	case "search_files":
		pattern, _ := args["pattern"].(string)
		path, _ := args["path"].(string)
		fileGlob, _ := args["file_glob"].(string)
		return a.sandbox.SearchFiles(pattern, path, fileGlob)
	case "glob_files":
		pattern, _ := args["pattern"].(string)
		return a.sandbox.GlobFiles(pattern)
	case "run_command", "run_shell_command":
		command, _ := args["command"].(string)
		timeout := time.Duration(intArg(args, "timeout")) * time.Second
		return a.sandbox.RunCommand(ctx, command, timeout)
	case "list_skills":
		return a.sandbox.ListSkills()
	case "use_skill":
		skillName, _ := args["name"].(string)
		return a.sandbox.UseSkill(skillName)
	default:
		return sandbox.Result{Success: false, Error: fmt.Sprintf("unknown tool %q", name)}
	}
}

func intArg(args map[string]interface{}, key string) int {
	v, ok := args[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}
