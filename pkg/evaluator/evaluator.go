// Package evaluator implements the Evaluator / Revision Router: a pure
// mapping from a ChecksReport + ReviewResult to an EvaluationResult, plus
// the bounded revision-request emission the scheduler consumes on a
// NEEDS_REVISION verdict.
package evaluator

import (
	"strings"

	"github.com/nebulus-ai/overlord/pkg/review"
)

// Score is one axis's verdict.
type Score string

const (
	ScorePass          Score = "pass"
	ScoreNeedsRevision Score = "needs_revision"
	ScoreFail          Score = "fail"
)

// Overall is the combined verdict derived from the three axes: any fail
// axis makes the whole evaluation FAIL, otherwise any needs_revision axis
// makes it NEEDS_REVISION, otherwise PASS.
type Overall string

const (
	OverallPass          Overall = "PASS"
	OverallNeedsRevision Overall = "NEEDS_REVISION"
	OverallFail          Overall = "FAIL"
)

// Result is one evaluation of a PR's current state.
type Result struct {
	PRNumber       int
	Repo           string
	RevisionNumber int

	TestScore   Score
	LintScore   Score
	ReviewScore Score
	Overall     Overall

	TestFeedback   string
	LintFeedback   string
	ReviewFeedback string
}

// RevisionRequest asks the scheduler to spawn a new Minion against the same
// issue/branch with combined feedback injected into its initial system
// message.
type RevisionRequest struct {
	Repo             string
	PRNumber         int
	IssueNumber      int
	Branch           string
	CombinedFeedback string
	RevisionNumber   int
}

// Evaluate maps checks and the LLM review result into an EvaluationResult
//. pipelineErr, when non-empty, is the WorkflowResult.Error a
// Review Pipeline stage failure set; an unrecoverable pipeline failure
// fails the test axis outright rather than silently scoring PASS on
// checks that never ran.
func Evaluate(repo string, prNumber, revisionNumber int, checks review.ChecksReport, llmResult review.ReviewResult, pipelineErr string) Result {
	res := Result{
		Repo:           repo,
		PRNumber:       prNumber,
		RevisionNumber: revisionNumber,
		TestScore:      ScorePass,
		LintScore:      ScorePass,
		ReviewScore:    ScorePass,
	}

	if pipelineErr != "" {
		res.TestScore = ScoreFail
		res.TestFeedback = "review pipeline error: " + pipelineErr
	}

	if tc, ok := checks.ByName("tests"); ok && tc.Status == review.CheckFailed {
		res.TestScore = ScoreNeedsRevision
		res.TestFeedback = firstNonEmpty(tc.Details, tc.Message)
	}
	if lc, ok := checks.ByName("linting"); ok && lc.Status == review.CheckFailed {
		res.LintScore = ScoreNeedsRevision
		res.LintFeedback = firstNonEmpty(lc.Details, lc.Message)
	}
	if llmResult.Decision == review.DecisionRequestChanges {
		res.ReviewScore = ScoreNeedsRevision
		res.ReviewFeedback = strings.Join(llmResult.Issues, "; ")
	}

	res.Overall = deriveOverall(res.TestScore, res.LintScore, res.ReviewScore)
	return res
}

func deriveOverall(scores ...Score) Overall {
	needsRevision := false
	for _, s := range scores {
		switch s {
		case ScoreFail:
			return OverallFail
		case ScoreNeedsRevision:
			needsRevision = true
		}
	}
	if needsRevision {
		return OverallNeedsRevision
	}
	return OverallPass
}

// NextRevision returns a RevisionRequest when result warrants one: overall
// is NEEDS_REVISION and result.RevisionNumber is still below maxRevisions.
// A revision at revision_number == maxRevisions is suppressed and the PR is
// left for human attention.
func NextRevision(result Result, issueNumber int, branch string, maxRevisions int) (RevisionRequest, bool) {
	if result.Overall != OverallNeedsRevision {
		return RevisionRequest{}, false
	}
	if result.RevisionNumber >= maxRevisions {
		return RevisionRequest{}, false
	}
	return RevisionRequest{
		Repo:             result.Repo,
		PRNumber:         result.PRNumber,
		IssueNumber:      issueNumber,
		Branch:           branch,
		CombinedFeedback: combinedFeedback(result),
		RevisionNumber:   result.RevisionNumber + 1,
	}, true
}

func combinedFeedback(r Result) string {
	var parts []string
	if r.TestFeedback != "" {
		parts = append(parts, "tests: "+r.TestFeedback)
	}
	if r.LintFeedback != "" {
		parts = append(parts, "lint: "+r.LintFeedback)
	}
	if r.ReviewFeedback != "" {
		parts = append(parts, "review: "+r.ReviewFeedback)
	}
	return strings.Join(parts, "\n")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
