// Package failure implements the Failure Memory: a classified
// history of tool failures, aggregated into patterns that feed a confidence
// penalty back into the Minion Agent's cognition layer.
package failure

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrorType classifies a failure message.
type ErrorType string

const (
	ErrorFileNotFound    ErrorType = "file_not_found"
	ErrorMissingModule   ErrorType = "missing_module"
	ErrorInvalidJSON     ErrorType = "invalid_json"
	ErrorSyntaxError     ErrorType = "syntax_error"
	ErrorPermissionDenied ErrorType = "permission_denied"
	ErrorTimeout         ErrorType = "timeout"
	ErrorCommandFailed   ErrorType = "command_failed"
	ErrorUnknown         ErrorType = "unknown"
)

// classificationRule is one entry in the ordered classification table; the
// first matching rule wins.
type classificationRule struct {
	errorType ErrorType
	pattern   *regexp.Regexp
}

var classificationTable = []classificationRule{
	{ErrorFileNotFound, regexp.MustCompile(`(?i)no such file|file not found|cannot find|does not exist`)},
	{ErrorMissingModule, regexp.MustCompile(`(?i)no module named|module not found|cannot find module|package .* not found`)},
	{ErrorInvalidJSON, regexp.MustCompile(`(?i)invalid json|json.*decode|unexpected token|json: cannot unmarshal`)},
	{ErrorSyntaxError, regexp.MustCompile(`(?i)syntax ?error|unexpected indent|invalid syntax`)},
	{ErrorPermissionDenied, regexp.MustCompile(`(?i)permission denied|outside your assigned scope|outside the workspace`)},
	{ErrorTimeout, regexp.MustCompile(`(?i)timed out|timeout`)},
	{ErrorCommandFailed, regexp.MustCompile(`(?i)exit code|command failed|non-zero exit`)},
}

// Classify maps a raw error message to an ErrorType via the ordered
// classification table, falling back to ErrorUnknown.
func Classify(message string) ErrorType {
	for _, rule := range classificationTable {
		if rule.pattern.MatchString(message) {
			return rule.errorType
		}
	}
	return ErrorUnknown
}

const maxErrorMessageLength = 500

// sanitizeWhitelist names the only argument keys retained in a failure
// record; everything else is dropped to keep stored failures free of
// incidental secrets.
var sanitizeWhitelist = map[string]bool{
	"path": true, "command": true, "query": true,
	"name": true, "filename": true, "directory": true,
}

func sanitizeArguments(args map[string]interface{}) map[string]interface{} {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]interface{})
	for k, v := range args {
		if sanitizeWhitelist[k] {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func truncateMessage(msg string) string {
	if len(msg) <= maxErrorMessageLength {
		return msg
	}
	return msg[:maxErrorMessageLength]
}

// Recorder is the interface the tool sandbox depends on; both *Store
// and *Persister satisfy it, so production code can opt into Postgres
// mirroring without changing the sandbox's dependency type.
type Recorder interface {
	RecordFailure(sessionID, toolName, errorMessage string, arguments map[string]interface{}) *Record
}

// Record is one classified tool failure.
type Record struct {
	ID           string
	SessionID    string
	Timestamp    time.Time
	ToolName     string
	ErrorType    ErrorType
	ErrorMessage string
	Arguments    map[string]interface{}
	Resolved     bool
}

// Pattern aggregates repeated failures of one (tool_name, error_type) pair.
type Pattern struct {
	ToolName         string
	ErrorType        ErrorType
	OccurrenceCount  int
	ResolvedCount    int
	ConfidencePenalty float64
}

// confidencePenalty implements
// min(0.20, min(count*0.03, 0.15) * (1 - resolution_rate*0.5)).
func confidencePenalty(occurrenceCount, resolvedCount int) float64 {
	if occurrenceCount == 0 {
		return 0
	}
	resolutionRate := float64(resolvedCount) / float64(occurrenceCount)
	base := occurrenceCount * 3
	capped := base
	if capped > 15 {
		capped = 15
	}
	penalty := (float64(capped) / 100) * (1 - resolutionRate*0.5)
	if penalty > 0.20 {
		penalty = 0.20
	}
	return penalty
}

// maxTotalPenalty bounds the sum of pattern penalties across one
// FailureContext.
const maxTotalPenalty = 0.25

// minWarningOccurrences is the occurrence_count threshold at which
// build_failure_context emits a human-readable warning for a pattern.
const minWarningOccurrences = 3

// FailureContext is the aggregated view consulted by the agent's cognition
// layer before analyzing a new request.
type FailureContext struct {
	Patterns     []Pattern
	Warnings     []string
	TotalPenalty float64
}

// Store is the in-process, mutex-serialized Failure Memory. A single Store
// is shared by every tool call in a Minion session; concurrent readers are
// safe, writes are serialized.
type Store struct {
	mu      sync.Mutex
	records []*Record
}

// NewStore creates an empty Failure Memory.
func NewStore() *Store {
	return &Store{}
}

// RecordFailure classifies message, sanitizes arguments to the safe
// whitelist, truncates the message, and appends a new failure record.
func (s *Store) RecordFailure(sessionID, toolName, errorMessage string, arguments map[string]interface{}) *Record {
	rec := &Record{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		Timestamp:    time.Now(),
		ToolName:     toolName,
		ErrorType:    Classify(errorMessage),
		ErrorMessage: truncateMessage(errorMessage),
		Arguments:    sanitizeArguments(arguments),
	}

	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()

	return rec
}

// MarkResolved marks the most recent unresolved record matching
// (toolName, errorType) as resolved. It is a no-op if none match.
func (s *Store) MarkResolved(toolName string, errorType ErrorType) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.records) - 1; i >= 0; i-- {
		rec := s.records[i]
		if rec.ToolName == toolName && rec.ErrorType == errorType && !rec.Resolved {
			rec.Resolved = true
			return
		}
	}
}

// BuildFailureContext aggregates stored records into patterns, optionally
// filtered to toolNames, and derives confidence penalties + warnings. The
// sum of pattern penalties is capped at 0.25: penalties are
// scaled down proportionally if the raw sum exceeds the cap.
func (s *Store) BuildFailureContext(toolNames ...string) FailureContext {
	s.mu.Lock()
	records := make([]*Record, len(s.records))
	copy(records, s.records)
	s.mu.Unlock()

	filter := make(map[string]bool, len(toolNames))
	for _, n := range toolNames {
		filter[n] = true
	}

	type key struct {
		tool string
		typ  ErrorType
	}
	agg := make(map[key]*Pattern)
	var order []key

	for _, rec := range records {
		if len(filter) > 0 && !filter[rec.ToolName] {
			continue
		}
		k := key{rec.ToolName, rec.ErrorType}
		p, ok := agg[k]
		if !ok {
			p = &Pattern{ToolName: rec.ToolName, ErrorType: rec.ErrorType}
			agg[k] = p
			order = append(order, k)
		}
		p.OccurrenceCount++
		if rec.Resolved {
			p.ResolvedCount++
		}
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].tool != order[j].tool {
			return order[i].tool < order[j].tool
		}
		return order[i].typ < order[j].typ
	})

	var patterns []Pattern
	var warnings []string
	var rawTotal float64

	for _, k := range order {
		p := agg[k]
		p.ConfidencePenalty = confidencePenalty(p.OccurrenceCount, p.ResolvedCount)
		rawTotal += p.ConfidencePenalty
		patterns = append(patterns, *p)

		if p.OccurrenceCount >= minWarningOccurrences {
			warnings = append(warnings, fmt.Sprintf(
				"tool %q has failed %d times with %s errors (%d resolved); proceed with reduced confidence",
				p.ToolName, p.OccurrenceCount, p.ErrorType, p.ResolvedCount))
		}
	}

	total := rawTotal
	if total > maxTotalPenalty {
		scale := maxTotalPenalty / rawTotal
		for i := range patterns {
			patterns[i].ConfidencePenalty *= scale
		}
		total = maxTotalPenalty
	}

	return FailureContext{Patterns: patterns, Warnings: warnings, TotalPenalty: total}
}

// FormatWarnings renders a FailureContext's warnings as a single block of
// text suitable for injection into the agent's conversation.
func (fc FailureContext) FormatWarnings() string {
	if len(fc.Warnings) == 0 {
		return ""
	}
	return strings.Join(fc.Warnings, "\n")
}
