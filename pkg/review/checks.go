package review

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nebulus-ai/overlord/pkg/config"
)

const maxLintIssueLocations = 10

// securityPattern pairs a regex against a human-readable description of
// what it flags.
type securityPattern struct {
	description string
	regex       *regexp.Regexp
}

var securityPatterns = []securityPattern{
	{"use of eval()", regexp.MustCompile(`\beval\s*\(`)},
	{"use of exec()", regexp.MustCompile(`\bexec\s*\(`)},
	{"subprocess with shell=True", regexp.MustCompile(`shell\s*=\s*True`)},
	{"use of os.system()", regexp.MustCompile(`os\.system\s*\(`)},
	{"unsafe deserialization via pickle.loads", regexp.MustCompile(`pickle\.loads?\s*\(`)},
	{"hardcoded password literal", regexp.MustCompile(`(?i)password\s*=\s*["'][^"']+["']`)},
	{"hardcoded api key literal", regexp.MustCompile(`(?i)api[_-]?key\s*=\s*["'][^"']+["']`)},
	{"hardcoded secret literal", regexp.MustCompile(`(?i)secret\s*=\s*["'][^"']+["']`)},
	{"embedded private key", regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`)},
}

// RunChecks executes the five deterministic checks against repoPath for
// changedFiles, returning their aggregate ChecksReport.
func RunChecks(ctx context.Context, cfg *config.ChecksConfig, repoPath string, changedFiles []string) ChecksReport {
	sourceFiles := filterSourceFiles(changedFiles)
	return ChecksReport{Results: []CheckResult{
		runTestsCheck(ctx, cfg, repoPath),
		runLintCheck(ctx, cfg, repoPath, sourceFiles),
		runSecurityCheck(repoPath, sourceFiles),
		runComplexityCheck(ctx, cfg, repoPath),
		runFileSizeCheck(cfg, repoPath, sourceFiles),
	}}
}

func filterSourceFiles(files []string) []string {
	var out []string
	for _, f := range files {
		switch filepath.Ext(f) {
		case ".go", ".py", ".js", ".ts", ".java", ".rb", ".rs", ".c", ".cpp", ".h":
			out = append(out, f)
		}
	}
	return out
}

func binaryAvailable(command string) bool {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false
	}
	_, err := exec.LookPath(fields[0])
	return err == nil
}

func runCommand(ctx context.Context, dir, command string, timeout time.Duration) (string, int, error) {
	fields := strings.Fields(command)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	cmd.Dir = dir
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return buf.String(), -1, ctx.Err()
	}
	if err == nil {
		return buf.String(), 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return buf.String(), exitErr.ExitCode(), nil
	}
	return buf.String(), -1, err
}

func tail(output string, lines int) string {
	parts := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(parts) <= lines {
		return output
	}
	return strings.Join(parts[len(parts)-lines:], "\n")
}

// runTestsCheck passes on exit 0 with an "N passed" count, skips on exit 5
// (no tests collected) or a missing tool, and fails on any other non-zero
// exit or a wall timeout, with the output tail as details.
func runTestsCheck(ctx context.Context, cfg *config.ChecksConfig, repoPath string) CheckResult {
	if !binaryAvailable(cfg.TestCommand) {
		return CheckResult{Name: "tests", Status: CheckSkipped, Message: "test runner not available"}
	}

	output, code, err := runCommand(ctx, repoPath, cfg.TestCommand, cfg.Timeout)
	if err == context.DeadlineExceeded {
		return CheckResult{Name: "tests", Status: CheckFailed, Message: "timed out", Details: tail(output, 50)}
	}
	if err != nil {
		return CheckResult{Name: "tests", Status: CheckFailed, Message: err.Error()}
	}

	switch {
	case code == 0:
		n := countPassed(output)
		return CheckResult{Name: "tests", Status: CheckPassed, Message: fmt.Sprintf("%d passed", n)}
	case code == 5:
		return CheckResult{Name: "tests", Status: CheckSkipped, Message: "no tests collected"}
	default:
		return CheckResult{Name: "tests", Status: CheckFailed, Message: fmt.Sprintf("exit code %d", code), Details: tail(output, 50)}
	}
}

var passedCountPattern = regexp.MustCompile(`(\d+)\s+passed`)

func countPassed(output string) int {
	m := passedCountPattern.FindStringSubmatch(output)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// runLintCheck warns on a non-zero exit with issue lines, reporting up to
// 10 locations; a missing tool skips.
func runLintCheck(ctx context.Context, cfg *config.ChecksConfig, repoPath string, sourceFiles []string) CheckResult {
	if len(sourceFiles) == 0 {
		return CheckResult{Name: "linting", Status: CheckSkipped, Message: "no changed source files"}
	}
	if !binaryAvailable(cfg.LintCommand) {
		return CheckResult{Name: "linting", Status: CheckSkipped, Message: "linter not available"}
	}

	output, code, err := runCommand(ctx, repoPath, cfg.LintCommand, cfg.Timeout)
	if err != nil {
		return CheckResult{Name: "linting", Status: CheckSkipped, Message: err.Error()}
	}
	if code == 0 {
		return CheckResult{Name: "linting", Status: CheckPassed, Message: "no issues"}
	}

	lines := strings.Split(strings.TrimSpace(output), "\n")
	issues := make([]FileIssue, 0, maxLintIssueLocations)
	for _, line := range lines {
		if len(issues) >= maxLintIssueLocations {
			break
		}
		if line == "" {
			continue
		}
		issues = append(issues, FileIssue{Message: line})
	}
	return CheckResult{
		Name:       "linting",
		Status:     CheckWarning,
		Message:    fmt.Sprintf("%d issue(s) reported", len(lines)),
		FileIssues: issues,
	}
}

// runSecurityCheck scans sourceFiles against the fixed pattern table:
// hits produce WARNING, none PASSED.
func runSecurityCheck(repoPath string, sourceFiles []string) CheckResult {
	var issues []FileIssue
	for _, rel := range sourceFiles {
		data, err := os.ReadFile(filepath.Join(repoPath, rel))
		if err != nil {
			continue
		}
		for lineNum, line := range strings.Split(string(data), "\n") {
			for _, p := range securityPatterns {
				if p.regex.MatchString(line) {
					issues = append(issues, FileIssue{Path: rel, Line: lineNum + 1, Message: p.description})
				}
			}
		}
	}

	if len(issues) == 0 {
		return CheckResult{Name: "security", Status: CheckPassed, Message: "no flagged patterns"}
	}
	return CheckResult{
		Name:       "security",
		Status:     CheckWarning,
		Message:    fmt.Sprintf("%d flagged pattern(s)", len(issues)),
		FileIssues: issues,
	}
}

// runComplexityCheck maps an average letter grade to a status: A/B pass,
// C warns as moderate, D and worse warn as high; a missing tool skips.
func runComplexityCheck(ctx context.Context, cfg *config.ChecksConfig, repoPath string) CheckResult {
	if !binaryAvailable(cfg.ComplexityCommand) {
		return CheckResult{Name: "complexity", Status: CheckSkipped, Message: "complexity analyzer not available"}
	}

	output, _, err := runCommand(ctx, repoPath, cfg.ComplexityCommand, cfg.Timeout)
	if err != nil {
		return CheckResult{Name: "complexity", Status: CheckSkipped, Message: err.Error()}
	}

	grade := extractGrade(output)
	switch grade {
	case "A", "B":
		return CheckResult{Name: "complexity", Status: CheckPassed, Message: fmt.Sprintf("average grade %s", grade)}
	case "C":
		return CheckResult{Name: "complexity", Status: CheckWarning, Message: "moderate complexity (grade C)"}
	case "D", "E", "F":
		return CheckResult{Name: "complexity", Status: CheckWarning, Message: fmt.Sprintf("high complexity (grade %s)", grade)}
	default:
		return CheckResult{Name: "complexity", Status: CheckSkipped, Message: "could not parse analyzer output"}
	}
}

var gradePattern = regexp.MustCompile(`\bAverage.*?\b([A-F])\b`)

func extractGrade(output string) string {
	m := gradePattern.FindStringSubmatch(output)
	if m == nil {
		return ""
	}
	return m[1]
}

// runFileSizeCheck flags sourceFiles over the configured byte/line
// thresholds as WARNING with the offending metric.
func runFileSizeCheck(cfg *config.ChecksConfig, repoPath string, sourceFiles []string) CheckResult {
	var issues []FileIssue
	for _, rel := range sourceFiles {
		full := filepath.Join(repoPath, rel)
		info, err := os.Stat(full)
		if err != nil {
			continue
		}
		if info.Size() > cfg.MaxFileSizeBytes {
			issues = append(issues, FileIssue{Path: rel, Message: fmt.Sprintf("%d bytes exceeds limit", info.Size())})
			continue
		}
		data, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		lineCount := bytes.Count(data, []byte("\n")) + 1
		if lineCount > cfg.MaxFileLines {
			issues = append(issues, FileIssue{Path: rel, Message: fmt.Sprintf("%d lines exceeds limit", lineCount)})
		}
	}

	if len(issues) == 0 {
		return CheckResult{Name: "file_sizes", Status: CheckPassed, Message: "no oversized files"}
	}
	return CheckResult{
		Name:       "file_sizes",
		Status:     CheckWarning,
		Message:    fmt.Sprintf("%d oversized file(s)", len(issues)),
		FileIssues: issues,
	}
}
