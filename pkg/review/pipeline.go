package review

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nebulus-ai/overlord/pkg/config"
	"github.com/nebulus-ai/overlord/pkg/gitrepo"
	"github.com/nebulus-ai/overlord/pkg/llm"
	"github.com/nebulus-ai/overlord/pkg/masking"
)

// Pipeline orchestrates review_pr: fetch, deterministic
// checks, LLM review, posted summary, and auto-merge, in that fixed order.
// Any stage failing sets WorkflowResult.Error and returns the partial
// result gathered so far — the pipeline never re-raises.
type Pipeline struct {
	host      *gitrepo.HostClient
	llmClient llm.Client
	model     string
	masker    *masking.Service
	cfg       *config.ReviewConfig
	checksCfg *config.ChecksConfig
	logger    *slog.Logger
}

// New builds a Pipeline. masker may be nil (no-op passthrough).
func New(host *gitrepo.HostClient, llmClient llm.Client, model string, masker *masking.Service, cfg *config.ReviewConfig, checksCfg *config.ChecksConfig) *Pipeline {
	if cfg == nil {
		cfg = config.DefaultReviewConfig()
	}
	if checksCfg == nil {
		checksCfg = config.DefaultChecksConfig()
	}
	return &Pipeline{
		host:      host,
		llmClient: llmClient,
		model:     model,
		masker:    masker,
		cfg:       cfg,
		checksCfg: checksCfg,
		logger:    slog.Default().With("component", "review-pipeline"),
	}
}

// ReviewOptions tunes one ReviewPR call.
type ReviewOptions struct {
	// Post, when true, posts the rendered summary as a PR comment.
	Post bool
	// AutoMerge, when true and the pipeline's global config also allows
	// it, merges the PR if the LLM result qualifies.
	AutoMerge bool
	// RepoPath is the local checkout deterministic checks run against. A
	// blank RepoPath skips the checks stage entirely (all SKIPPED).
	RepoPath string
	// ChangedFiles limits the deterministic checks' per-file scans
	// (security patterns, file sizes). When empty, review_pr derives it
	// from the PR's file list.
	ChangedFiles []string
}

// ReviewPR runs the full pipeline for one pull request:
//  1. fetch PR details and file diffs
//  2. run deterministic checks (skipped entirely without a RepoPath)
//  3. run the LLM review
//  4. optionally post the rendered summary
//  5. optionally auto-merge
func (p *Pipeline) ReviewPR(ctx context.Context, owner, name string, number int, opts ReviewOptions) WorkflowResult {
	var result WorkflowResult

	pr, err := p.host.GetPR(ctx, owner, name, number)
	if err != nil {
		result.Error = fmt.Sprintf("fetch PR: %v", err)
		return result
	}

	files, err := p.host.GetPRFiles(ctx, owner, name, number)
	if err != nil {
		result.Error = fmt.Sprintf("fetch PR files: %v", err)
		return result
	}

	details := &PRDetails{
		Number:     pr.Number,
		Title:      pr.Title,
		Body:       pr.Body,
		BaseBranch: pr.BaseBranch,
		HeadBranch: pr.HeadBranch,
		Draft:      pr.Draft,
		URL:        pr.URL,
	}
	for _, f := range files {
		details.Files = append(details.Files, FileDiffSummary{Path: f.Path, Status: f.Status, Patch: f.Patch})
	}
	result.PRDetails = details

	changed := opts.ChangedFiles
	if len(changed) == 0 {
		for _, f := range files {
			changed = append(changed, f.Path)
		}
	}

	checks := RunChecks(ctx, p.checksCfg, opts.RepoPath, changed)
	if opts.RepoPath == "" {
		checks = skippedReport()
	}
	result.ChecksReport = &checks

	llmResult, err := runLLMReview(ctx, p.llmClient, p.model, p.masker, details, checks, p.cfg.MaxDiffLines)
	if err != nil {
		result.Error = fmt.Sprintf("llm review: %v", err)
		return result
	}
	result.LLMResult = &llmResult

	if opts.Post {
		body := FormatSummaryMarkdown(checks, llmResult)
		event := reviewEvent(llmResult.Decision)
		if err := p.host.PostReview(ctx, owner, name, number, body, event); err != nil {
			result.Error = fmt.Sprintf("post review: %v", err)
			return result
		}
		result.ReviewPosted = true
	}

	if opts.AutoMerge && p.cfg.AutoMergeEnabled && llmResult.AutoMergeEligible(p.cfg.ConfidenceThreshold) {
		method := gitrepo.MergeMethod(p.cfg.MergeMethod)
		if err := p.host.MergePR(ctx, owner, name, number, method); err != nil {
			result.Error = fmt.Sprintf("auto-merge: %v", err)
			return result
		}
		result.Merged = true
	}

	return result
}

func skippedReport() ChecksReport {
	names := []string{"tests", "linting", "security", "complexity", "file_sizes"}
	results := make([]CheckResult, 0, len(names))
	for _, n := range names {
		results = append(results, CheckResult{Name: n, Status: CheckSkipped, Message: "no local checkout available"})
	}
	return ChecksReport{Results: results}
}

// reviewEvent maps a ReviewDecision to the code-host review event string
// PostReview expects ("APPROVE", "REQUEST_CHANGES", "COMMENT").
func reviewEvent(decision ReviewDecision) string {
	switch decision {
	case DecisionApprove:
		return "APPROVE"
	case DecisionRequestChanges:
		return "REQUEST_CHANGES"
	default:
		return "COMMENT"
	}
}
