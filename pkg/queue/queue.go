// Package queue implements the Issue Queue Scanner: polling
// watched repositories for labeled work, prioritizing candidates, the
// label-transition helpers a completed/failed Minion run drives, and the
// rate-limit budget accounting that gates every sweep. Repo identifiers
// are normalized through pkg/gitrepo.NormalizeRepoIdentifier before any
// comparison.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/go-github/v68/github"

	"github.com/nebulus-ai/overlord/pkg/config"
	"github.com/nebulus-ai/overlord/pkg/gitrepo"
)

// QueuedIssue is one prioritized candidate returned by ScanQueue.
type QueuedIssue struct {
	Repo      string
	Number    int
	Title     string
	Body      string
	Priority  int
	CreatedAt time.Time
}

// Scanner polls watched repositories for labeled issues and exposes the
// label-transition and rate-limit-budget helpers the Overlord Scheduler
// consults before every sweep.
type Scanner struct {
	gh     *github.Client
	cfg    *config.SchedulerConfig
	logger *slog.Logger

	mu        sync.Mutex
	labels    config.LabelsConfig
	lastRate  github.Rate
	haveRate  bool

	limiter *slidingWindowLimiter
}

// New builds a Scanner. watchedRepoCount feeds can_perform_sweep's budget
// formula; localLimit/localWindow bound the Overlord's own outbound
// request rate independent of the host's reported budget.
func New(gh *github.Client, labels config.LabelsConfig, cfg *config.SchedulerConfig, localLimit int, localWindow time.Duration) *Scanner {
	return &Scanner{
		gh:      gh,
		labels:  labels,
		cfg:     cfg,
		logger:  slog.Default().With("component", "queue"),
		limiter: newSlidingWindowLimiter(localLimit, localWindow, nil),
	}
}

// ScanQueue iterates watchedRepos, fetches open issues carrying the
// work label, excludes those also carrying the in-progress label or that
// are pull requests, assigns priority from the high-priority label, and
// returns the result sorted by (-priority, created_at).
func (s *Scanner) ScanQueue(ctx context.Context, watchedRepos []string) ([]QueuedIssue, error) {
	if !s.CanPerformSweep(len(watchedRepos)) {
		return nil, fmt.Errorf("queue: scan queue: rate-limit budget insufficient")
	}

	var out []QueuedIssue
	for _, repo := range watchedRepos {
		owner, name, err := gitrepo.SplitOwnerRepo(repo)
		if err != nil {
			s.logger.Warn("skipping malformed watched repo", "repo", repo, "error", err)
			continue
		}

		issues, err := s.listOpenWorkIssues(ctx, owner, name)
		if err != nil {
			return nil, fmt.Errorf("queue: scan queue: %s: %w", repo, err)
		}
		out = append(out, issues...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Scanner) listOpenWorkIssues(ctx context.Context, owner, name string) ([]QueuedIssue, error) {
	normalizedRepo := gitrepo.NormalizeRepoIdentifier(owner + "/" + name)

	var out []QueuedIssue
	opts := &github.IssueListByRepoOptions{
		State:       "open",
		Labels:      []string{s.getLabels().Work},
		ListOptions: github.ListOptions{PerPage: 100},
	}

	for {
		if !s.limiter.allow() {
			return nil, fmt.Errorf("local outbound rate limit exceeded")
		}

		issues, resp, err := s.gh.Issues.ListByRepo(ctx, owner, name, opts)
		if err != nil {
			return nil, fmt.Errorf("list issues: %w", err)
		}
		s.recordRate(resp)

		for _, iss := range issues {
			if iss.IsPullRequest() {
				continue
			}
			if hasLabel(iss.Labels, s.getLabels().InProgress) {
				continue
			}
			priority := 0
			if hasLabel(iss.Labels, s.getLabels().HighPriority) {
				priority = 1
			}
			out = append(out, QueuedIssue{
				Repo:      normalizedRepo,
				Number:    iss.GetNumber(),
				Title:     iss.GetTitle(),
				Body:      iss.GetBody(),
				Priority:  priority,
				CreatedAt: iss.GetCreatedAt().Time,
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func hasLabel(labels []*github.Label, name string) bool {
	if name == "" {
		return false
	}
	for _, l := range labels {
		if l.GetName() == name {
			return true
		}
	}
	return false
}

// getLabels returns the label set under the mutex a config.Watcher reload
// also uses, so an in-flight scan never observes a half-updated LabelsConfig.
func (s *Scanner) getLabels() config.LabelsConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.labels
}

// UpdateLabels swaps the label set a reloaded config supplies, taking
// effect on the next scan.
func (s *Scanner) UpdateLabels(labels config.LabelsConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labels = labels
}

func (s *Scanner) recordRate(resp *github.Response) {
	if resp == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRate = resp.Rate
	s.haveRate = true
}

// MarkInProgress swaps the work label for the in-progress label.
func (s *Scanner) MarkInProgress(ctx context.Context, owner, name string, number int) error {
	if !s.limiter.allow() {
		return fmt.Errorf("queue: mark in progress %s/%s#%d: local rate limit exceeded", owner, name, number)
	}
	labels := []string{s.getLabels().InProgress}
	_, _, err := s.gh.Issues.ReplaceLabelsForIssue(ctx, owner, name, number, labels)
	if err != nil {
		return fmt.Errorf("queue: mark in progress %s/%s#%d: %w", owner, name, number, err)
	}
	return nil
}

// MarkInReview swaps to the in-review label and comments with the PR link.
func (s *Scanner) MarkInReview(ctx context.Context, owner, name string, number, prNumber int) error {
	if !s.limiter.allow() {
		return fmt.Errorf("queue: mark in review %s/%s#%d: local rate limit exceeded", owner, name, number)
	}
	_, _, err := s.gh.Issues.ReplaceLabelsForIssue(ctx, owner, name, number, []string{s.getLabels().InReview})
	if err != nil {
		return fmt.Errorf("queue: mark in review %s/%s#%d: %w", owner, name, number, err)
	}
	body := fmt.Sprintf("Opened pull request #%d for review.", prNumber)
	_, _, err = s.gh.Issues.CreateComment(ctx, owner, name, number, &github.IssueComment{Body: github.Ptr(body)})
	if err != nil {
		return fmt.Errorf("queue: mark in review %s/%s#%d: comment: %w", owner, name, number, err)
	}
	return nil
}

// MarkFailed swaps to the needs-attention label and comments with the
// error so an operator knows why work stalled.
func (s *Scanner) MarkFailed(ctx context.Context, owner, name string, number int, errMsg string) error {
	if !s.limiter.allow() {
		return fmt.Errorf("queue: mark failed %s/%s#%d: local rate limit exceeded", owner, name, number)
	}
	_, _, err := s.gh.Issues.ReplaceLabelsForIssue(ctx, owner, name, number, []string{s.getLabels().NeedsAttention})
	if err != nil {
		return fmt.Errorf("queue: mark failed %s/%s#%d: %w", owner, name, number, err)
	}
	body := fmt.Sprintf("Automated work on this issue failed: %s", errMsg)
	_, _, err = s.gh.Issues.CreateComment(ctx, owner, name, number, &github.IssueComment{Body: github.Ptr(body)})
	if err != nil {
		return fmt.Errorf("queue: mark failed %s/%s#%d: comment: %w", owner, name, number, err)
	}
	return nil
}

// CanPerformSweep reports whether the host's remaining rate-limit budget
// covers a sweep across watchedRepoCount repos:
// remaining >= safety_threshold + per_repo_cost * watchedRepoCount.
func (s *Scanner) CanPerformSweep(watchedRepoCount int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveRate {
		return true
	}
	required := s.cfg.SafetyThreshold + s.cfg.PerRepoCost*watchedRepoCount
	return s.lastRate.Remaining >= required
}

// IsRateLimited reports whether the host's remaining budget has been
// exhausted entirely.
func (s *Scanner) IsRateLimited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.haveRate && s.lastRate.Remaining <= 0
}

// RateLimitSnapshot is the current known host rate-limit budget.
type RateLimitSnapshot struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
	Known     bool
}

// GetRateLimit returns the most recently observed host rate-limit budget.
func (s *Scanner) GetRateLimit() RateLimitSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveRate {
		return RateLimitSnapshot{}
	}
	return RateLimitSnapshot{
		Limit:     s.lastRate.Limit,
		Remaining: s.lastRate.Remaining,
		ResetAt:   s.lastRate.Reset.Time,
		Known:     true,
	}
}

// WaitForRateLimit blocks until the host's rate limit resets or maxWait
// elapses, whichever comes first, returning false if it timed out.
func (s *Scanner) WaitForRateLimit(ctx context.Context, maxWait time.Duration) bool {
	snap := s.GetRateLimit()
	if !snap.Known || snap.Remaining > 0 {
		return true
	}
	wait := time.Until(snap.ResetAt)
	if wait <= 0 {
		return true
	}
	if wait > maxWait {
		wait = maxWait
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(wait):
		return time.Now().After(snap.ResetAt)
	}
}
