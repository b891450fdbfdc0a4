// Package sandbox executes a Minion's tool vocabulary against a fixed
// workspace root, consulting a scope.Policy for every write.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/nebulus-ai/overlord/pkg/failure"
	"github.com/nebulus-ai/overlord/pkg/masking"
	"github.com/nebulus-ai/overlord/pkg/scope"
)

const (
	maxReadFileBytes     = 5 * 1024 * 1024
	maxListEntries        = 500
	maxSearchResults       = 100
	maxGlobResults          = 200
	maxCommandOutputBytes = 100 * 1024
	defaultCommandTimeout = 60 * time.Second
)

var excludedDirNames = map[string]bool{
	"__pycache__":  true,
	"node_modules": true,
}

// Result is the uniform shape every tool call returns.
type Result struct {
	Success bool
	Output  string
	Error   string
}

// BlockerType enumerates why an agent declared itself blocked.
type BlockerType string

const (
	BlockerMissingInfo         BlockerType = "missing_info"
	BlockerTooComplex          BlockerType = "too_complex"
	BlockerUnclearRequirements BlockerType = "unclear_requirements"
	BlockerExternalDependency  BlockerType = "external_dependency"
)

// SkillLoader resolves named skills (e.g. project-specific playbooks) on
// demand. Implementations are pluggable; Sandbox only depends on the
// interface.
type SkillLoader interface {
	ListSkills() []string
	UseSkill(name string) (string, error)
}

// Sandbox executes tool calls against workspaceRoot, an absolute path.
type Sandbox struct {
	workspaceRoot string
	policy        *scope.Policy
	failures      failure.Recorder
	masker        *masking.Service
	skills        SkillLoader
	sessionID     string
}

// New builds a Sandbox rooted at workspaceRoot. failures may be a
// *failure.Store or a *failure.Persister (or nil to disable recording).
func New(workspaceRoot string, policy *scope.Policy, failures failure.Recorder, masker *masking.Service, skills SkillLoader, sessionID string) *Sandbox {
	if policy == nil {
		policy = scope.Unrestricted()
	}
	return &Sandbox{
		workspaceRoot: workspaceRoot,
		policy:        policy,
		failures:      failures,
		masker:        masker,
		skills:        skills,
		sessionID:     sessionID,
	}
}

// resolve joins relPath onto the workspace root and rejects any result that
// escapes it, following ".." components.
func (s *Sandbox) resolve(relPath string) (string, error) {
	joined := filepath.Join(s.workspaceRoot, relPath)
	cleaned := filepath.Clean(joined)

	rootWithSep := filepath.Clean(s.workspaceRoot) + string(os.PathSeparator)
	if cleaned != filepath.Clean(s.workspaceRoot) && !strings.HasPrefix(cleaned, rootWithSep) {
		return "", fmt.Errorf("path %q escapes the workspace root", relPath)
	}
	return cleaned, nil
}

func (s *Sandbox) fail(toolName, errType, msg string, args map[string]interface{}) Result {
	if s.failures != nil {
		s.failures.RecordFailure(s.sessionID, toolName, msg, args)
	}
	return Result{Success: false, Error: msg}
}

// ReadFile reads path, optionally sliced by a 1-indexed [startLine,
// endLine] range.
func (s *Sandbox) ReadFile(path string, startLine, endLine int) Result {
	full, err := s.resolve(path)
	if err != nil {
		return s.fail("read_file", "permission_denied", err.Error(), map[string]interface{}{"path": path})
	}

	info, err := os.Stat(full)
	if err != nil {
		return s.fail("read_file", "file_not_found", fmt.Sprintf("file not found: %s", path), map[string]interface{}{"path": path})
	}
	if info.IsDir() {
		return s.fail("read_file", "file_not_found", fmt.Sprintf("%s is a directory, not a file", path), map[string]interface{}{"path": path})
	}
	if info.Size() > maxReadFileBytes {
		return s.fail("read_file", "file_not_found", fmt.Sprintf("%s exceeds the 5MB read limit", path), map[string]interface{}{"path": path})
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return s.fail("read_file", "permission_denied", err.Error(), map[string]interface{}{"path": path})
	}

	content := string(data)
	if startLine > 0 || endLine > 0 {
		lines := strings.Split(content, "\n")
		start := startLine
		if start < 1 {
			start = 1
		}
		end := endLine
		if end < 1 || end > len(lines) {
			end = len(lines)
		}
		if start > len(lines) {
			return Result{Success: true, Output: ""}
		}
		content = strings.Join(lines[start-1:end], "\n")
	}

	return Result{Success: true, Output: content}
}

// WriteFile writes content to path after a scope check, creating parent
// directories as needed.
func (s *Sandbox) WriteFile(path, content string) Result {
	if !s.policy.IsWriteAllowed(path) {
		return s.fail("write_file", "permission_denied", s.policy.ViolationMessage(path), map[string]interface{}{"path": path})
	}

	full, err := s.resolve(path)
	if err != nil {
		return s.fail("write_file", "permission_denied", err.Error(), map[string]interface{}{"path": path})
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return s.fail("write_file", "permission_denied", err.Error(), map[string]interface{}{"path": path})
	}

	tmp := full + ".tmp-overlord-write"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return s.fail("write_file", "permission_denied", err.Error(), map[string]interface{}{"path": path})
	}
	if err := os.Rename(tmp, full); err != nil {
		return s.fail("write_file", "permission_denied", err.Error(), map[string]interface{}{"path": path})
	}

	return Result{Success: true, Output: fmt.Sprintf("wrote %d bytes to %s", len(content), path)}
}

// EditFile replaces the first occurrence of oldText with newText in path.
func (s *Sandbox) EditFile(path, oldText, newText string) Result {
	if !s.policy.IsWriteAllowed(path) {
		return s.fail("edit_file", "permission_denied", s.policy.ViolationMessage(path), map[string]interface{}{"path": path})
	}

	full, err := s.resolve(path)
	if err != nil {
		return s.fail("edit_file", "permission_denied", err.Error(), map[string]interface{}{"path": path})
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return s.fail("edit_file", "file_not_found", fmt.Sprintf("file not found: %s", path), map[string]interface{}{"path": path})
	}

	content := string(data)
	idx := strings.Index(content, oldText)
	if idx == -1 {
		return s.fail("edit_file", "invalid_json", "old_text not found in file", map[string]interface{}{"path": path})
	}

	updated := content[:idx] + newText + content[idx+len(oldText):]
	if err := os.WriteFile(full, []byte(updated), 0o644); err != nil {
		return s.fail("edit_file", "permission_denied", err.Error(), map[string]interface{}{"path": path})
	}

	return Result{Success: true, Output: fmt.Sprintf("edited %s", path)}
}

// ListDirectory lists entries under path, optionally recursive.
func (s *Sandbox) ListDirectory(path string, recursive bool) Result {
	full, err := s.resolve(path)
	if err != nil {
		return s.fail("list_directory", "permission_denied", err.Error(), map[string]interface{}{"path": path})
	}

	var entries []string
	walkFn := func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if p == full {
			return nil
		}
		name := filepath.Base(p)
		if strings.HasPrefix(name, ".") || excludedDirNames[name] {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, _ := filepath.Rel(full, p)
		if info.IsDir() {
			entries = append(entries, rel+"/")
			if !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		entries = append(entries, rel)
		return nil
	}

	if err := filepath.Walk(full, walkFn); err != nil {
		return s.fail("list_directory", "file_not_found", err.Error(), map[string]interface{}{"path": path})
	}

	sort.Strings(entries)
	truncated := false
	if len(entries) > maxListEntries {
		entries = entries[:maxListEntries]
		truncated = true
	}

	out := strings.Join(entries, "\n")
	if truncated {
		out += fmt.Sprintf("\n... (truncated at %d entries)", maxListEntries)
	}
	return Result{Success: true, Output: out}
}

// SearchFiles performs a case-insensitive regex search across the
// workspace (or rootRelative, if given), optionally restricted to
// fileGlob.
func (s *Sandbox) SearchFiles(pattern, rootRelative, fileGlob string) Result {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return s.fail("search_files", "invalid_json", fmt.Sprintf("invalid pattern: %v", err), nil)
	}

	searchRoot, err := s.resolve(rootRelative)
	if err != nil {
		return s.fail("search_files", "permission_denied", err.Error(), map[string]interface{}{"path": rootRelative})
	}

	var matches []string
	truncated := false

	err = filepath.Walk(searchRoot, func(p string, info os.FileInfo, err error) error {
		if err != nil || truncated {
			return nil
		}
		name := filepath.Base(p)
		if strings.HasPrefix(name, ".") || excludedDirNames[name] {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if info.Size() > maxReadFileBytes {
			return nil
		}
		if fileGlob != "" {
			if ok, _ := filepath.Match(fileGlob, name); !ok {
				return nil
			}
		}

		data, readErr := os.ReadFile(p)
		if readErr != nil || looksBinary(data) {
			return nil
		}

		rel, _ := filepath.Rel(s.workspaceRoot, p)
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				matches = append(matches, fmt.Sprintf("%s:%d: %s", rel, i+1, strings.TrimSpace(line)))
				if len(matches) >= maxSearchResults {
					truncated = true
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	if err != nil && err != filepath.SkipAll {
		return s.fail("search_files", "file_not_found", err.Error(), nil)
	}

	out := strings.Join(matches, "\n")
	if truncated {
		out += fmt.Sprintf("\n... (truncated at %d results)", maxSearchResults)
	}
	return Result{Success: true, Output: out}
}

func looksBinary(data []byte) bool {
	if len(data) > 8000 {
		data = data[:8000]
	}
	return bytes.ContainsRune(data, 0)
}

// GlobFiles returns workspace-relative paths matching a glob pattern.
func (s *Sandbox) GlobFiles(pattern string) Result {
	full, err := s.resolve(pattern)
	if err != nil {
		return s.fail("glob_files", "permission_denied", err.Error(), map[string]interface{}{"path": pattern})
	}
	matches, err := filepath.Glob(full)
	if err != nil {
		return s.fail("glob_files", "invalid_json", err.Error(), nil)
	}

	sort.Strings(matches)
	truncated := false
	if len(matches) > maxGlobResults {
		matches = matches[:maxGlobResults]
		truncated = true
	}

	rel := make([]string, 0, len(matches))
	for _, m := range matches {
		r, err := filepath.Rel(s.workspaceRoot, m)
		if err != nil {
			continue
		}
		rel = append(rel, r)
	}

	out := strings.Join(rel, "\n")
	if truncated {
		out += fmt.Sprintf("\n... (truncated at %d entries)", maxGlobResults)
	}
	return Result{Success: true, Output: out}
}

// RunCommand executes command under the workspace root as its working
// directory, bounded by timeout (defaulting to 60s).
func (s *Sandbox) RunCommand(ctx context.Context, command string, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = s.workspaceRoot

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	combined := stdout.String() + stderr.String()
	if s.masker != nil {
		combined = s.masker.Mask(combined)
	}
	if len(combined) > maxCommandOutputBytes {
		combined = combined[:maxCommandOutputBytes] + "\n... (truncated)"
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return s.fail("run_command", "timeout", fmt.Sprintf("command timed out after %s", timeout), map[string]interface{}{"command": command})
	}
	if err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return s.fail("run_command", "command_failed", fmt.Sprintf("exit code %d: %s", exitCode, truncateTail(combined, 2000)), map[string]interface{}{"command": command})
	}

	return Result{Success: true, Output: combined}
}

func truncateTail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// TaskOutcome is the terminal result surfaced by task_complete/task_blocked.
type TaskOutcome struct {
	Completed    bool
	Summary      string
	FilesChanged []string
	Blocked      bool
	Reason       string
	BlockerType  BlockerType
	Question     string
}

// TaskComplete signals successful completion.
func TaskComplete(summary string, filesChanged []string) TaskOutcome {
	return TaskOutcome{Completed: true, Summary: summary, FilesChanged: filesChanged}
}

// TaskBlocked signals the agent cannot proceed without help.
func TaskBlocked(reason string, blockerType BlockerType, question string) TaskOutcome {
	return TaskOutcome{Blocked: true, Reason: reason, BlockerType: blockerType, Question: question}
}

// ListSkills lists the names of available skills.
func (s *Sandbox) ListSkills() Result {
	if s.skills == nil {
		return Result{Success: true, Output: ""}
	}
	return Result{Success: true, Output: strings.Join(s.skills.ListSkills(), "\n")}
}

// UseSkill loads a named skill's content.
func (s *Sandbox) UseSkill(name string) Result {
	if s.skills == nil {
		return s.fail("use_skill", "unknown", "no skill loader configured", map[string]interface{}{"name": name})
	}
	content, err := s.skills.UseSkill(name)
	if err != nil {
		return s.fail("use_skill", "unknown", err.Error(), map[string]interface{}{"name": name})
	}
	return Result{Success: true, Output: content}
}
