package evaluator

import (
	"testing"

	"github.com/nebulus-ai/overlord/pkg/review"
	"github.com/stretchr/testify/assert"
)

func checksWith(name string, status review.CheckStatus) review.ChecksReport {
	return review.ChecksReport{Results: []review.CheckResult{{Name: name, Status: status}}}
}

func TestEvaluateAllPassing(t *testing.T) {
	checks := review.ChecksReport{Results: []review.CheckResult{
		{Name: "tests", Status: review.CheckPassed},
		{Name: "linting", Status: review.CheckPassed},
	}}
	llm := review.ReviewResult{Decision: review.DecisionApprove}

	res := Evaluate("org/repo", 100, 0, checks, llm, "")

	assert.Equal(t, ScorePass, res.TestScore)
	assert.Equal(t, ScorePass, res.LintScore)
	assert.Equal(t, ScorePass, res.ReviewScore)
	assert.Equal(t, OverallPass, res.Overall)
}

func TestEvaluateFailedTestsNeedsRevision(t *testing.T) {
	checks := checksWith("tests", review.CheckFailed)
	checks.Results[0].Message = "3 tests failed"
	llm := review.ReviewResult{Decision: review.DecisionApprove}

	res := Evaluate("org/repo", 100, 0, checks, llm, "")

	assert.Equal(t, ScoreNeedsRevision, res.TestScore)
	assert.Equal(t, OverallNeedsRevision, res.Overall)
	assert.Contains(t, res.TestFeedback, "3 tests failed")
}

func TestEvaluateFailedLintNeedsRevision(t *testing.T) {
	checks := checksWith("linting", review.CheckFailed)
	llm := review.ReviewResult{Decision: review.DecisionApprove}

	res := Evaluate("org/repo", 100, 0, checks, llm, "")

	assert.Equal(t, ScoreNeedsRevision, res.LintScore)
	assert.Equal(t, OverallNeedsRevision, res.Overall)
}

func TestEvaluateRequestChangesNeedsRevision(t *testing.T) {
	llm := review.ReviewResult{Decision: review.DecisionRequestChanges, Issues: []string{"missing test", "nil deref"}}

	res := Evaluate("org/repo", 100, 0, review.ChecksReport{}, llm, "")

	assert.Equal(t, ScoreNeedsRevision, res.ReviewScore)
	assert.Equal(t, OverallNeedsRevision, res.Overall)
	assert.Contains(t, res.ReviewFeedback, "missing test")
	assert.Contains(t, res.ReviewFeedback, "nil deref")
}

func TestEvaluatePipelineErrorFailsOutright(t *testing.T) {
	llm := review.ReviewResult{Decision: review.DecisionApprove}

	res := Evaluate("org/repo", 100, 0, review.ChecksReport{}, llm, "fetch PR: 404")

	assert.Equal(t, ScoreFail, res.TestScore)
	assert.Equal(t, OverallFail, res.Overall)
}

func TestEvaluateFailDominatesNeedsRevision(t *testing.T) {
	checks := checksWith("linting", review.CheckFailed)
	llm := review.ReviewResult{Decision: review.DecisionApprove}

	res := Evaluate("org/repo", 100, 0, checks, llm, "fetch PR files: timeout")

	assert.Equal(t, OverallFail, res.Overall)
}

func TestNextRevisionEmittedBelowMax(t *testing.T) {
	res := Result{Repo: "org/repo", PRNumber: 100, RevisionNumber: 0, Overall: OverallNeedsRevision, TestFeedback: "3 tests failed"}

	req, ok := NextRevision(res, 42, "minion/issue-42", 2)

	assert.True(t, ok)
	assert.Equal(t, 1, req.RevisionNumber)
	assert.Equal(t, "org/repo", req.Repo)
	assert.Equal(t, 42, req.IssueNumber)
	assert.Contains(t, req.CombinedFeedback, "tests: 3 tests failed")
}

func TestNextRevisionSuppressedAtMax(t *testing.T) {
	res := Result{Overall: OverallNeedsRevision, RevisionNumber: 2}

	_, ok := NextRevision(res, 42, "minion/issue-42", 2)

	assert.False(t, ok)
}

func TestNextRevisionNotEmittedWhenPassing(t *testing.T) {
	res := Result{Overall: OverallPass, RevisionNumber: 0}

	_, ok := NextRevision(res, 42, "minion/issue-42", 2)

	assert.False(t, ok)
}

func TestNextRevisionNotEmittedWhenFail(t *testing.T) {
	res := Result{Overall: OverallFail, RevisionNumber: 0}

	_, ok := NextRevision(res, 42, "minion/issue-42", 2)

	assert.False(t, ok)
}
