package failure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyOrderedTable(t *testing.T) {
	cases := map[string]ErrorType{
		"no such file or directory":              ErrorFileNotFound,
		"ModuleNotFoundError: No module named x": ErrorMissingModule,
		"invalid json: unexpected token":         ErrorInvalidJSON,
		"SyntaxError: invalid syntax":            ErrorSyntaxError,
		"permission denied":                      ErrorPermissionDenied,
		"command timed out after 60s":            ErrorTimeout,
		"exit code 1: command failed":            ErrorCommandFailed,
		"something entirely unrecognized":        ErrorUnknown,
	}
	for msg, want := range cases {
		assert.Equal(t, want, Classify(msg), "message: %s", msg)
	}
}

func TestRecordFailureSanitizesArguments(t *testing.T) {
	s := NewStore()
	rec := s.RecordFailure("sess-1", "write_file", "permission denied", map[string]interface{}{
		"path":     "src/main.go",
		"api_key":  "super-secret",
		"password": "hunter2",
	})
	assert.Equal(t, map[string]interface{}{"path": "src/main.go"}, rec.Arguments)
	assert.Equal(t, ErrorPermissionDenied, rec.ErrorType)
}

func TestRecordFailureTruncatesLongMessages(t *testing.T) {
	s := NewStore()
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	rec := s.RecordFailure("sess-1", "run_command", string(long), nil)
	assert.Len(t, rec.ErrorMessage, maxErrorMessageLength)
}

func TestMarkResolvedUpdatesMostRecentUnresolved(t *testing.T) {
	s := NewStore()
	s.RecordFailure("sess-1", "read_file", "file not found", nil)
	s.RecordFailure("sess-1", "read_file", "file not found", nil)

	s.MarkResolved("read_file", ErrorFileNotFound)

	ctx := s.BuildFailureContext("read_file")
	require.Len(t, ctx.Patterns, 1)
	assert.Equal(t, 2, ctx.Patterns[0].OccurrenceCount)
	assert.Equal(t, 1, ctx.Patterns[0].ResolvedCount)
}

func TestConfidencePenaltyPerPatternCappedAt020(t *testing.T) {
	s := NewStore()
	for i := 0; i < 10; i++ {
		s.RecordFailure("sess-1", "run_command", "exit code 1: command failed", nil)
	}
	ctx := s.BuildFailureContext()
	require.Len(t, ctx.Patterns, 1)
	assert.LessOrEqual(t, ctx.Patterns[0].ConfidencePenalty, 0.20)
}

func TestTotalPenaltyCappedAt025(t *testing.T) {
	s := NewStore()
	tools := []string{"write_file", "read_file", "run_command", "search_files", "edit_file"}
	for _, tool := range tools {
		for i := 0; i < 10; i++ {
			s.RecordFailure("sess-1", tool, "exit code 1: command failed", nil)
		}
	}
	ctx := s.BuildFailureContext()
	assert.LessOrEqual(t, ctx.TotalPenalty, maxTotalPenalty+1e-9)
}

func TestBuildFailureContextWarnsAtThreeOccurrences(t *testing.T) {
	s := NewStore()
	s.RecordFailure("sess-1", "glob_files", "file not found", nil)
	s.RecordFailure("sess-1", "glob_files", "file not found", nil)

	ctx := s.BuildFailureContext()
	assert.Empty(t, ctx.Warnings, "two occurrences should not yet warn")

	s.RecordFailure("sess-1", "glob_files", "file not found", nil)
	ctx = s.BuildFailureContext()
	assert.Len(t, ctx.Warnings, 1)
}

func TestBuildFailureContextFiltersByToolName(t *testing.T) {
	s := NewStore()
	s.RecordFailure("sess-1", "write_file", "permission denied", nil)
	s.RecordFailure("sess-1", "read_file", "file not found", nil)

	ctx := s.BuildFailureContext("write_file")
	require.Len(t, ctx.Patterns, 1)
	assert.Equal(t, "write_file", ctx.Patterns[0].ToolName)
}
