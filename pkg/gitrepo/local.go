package gitrepo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/config"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/plumbing/transport/http"
)

// LocalRepo wraps a cloned working tree: go-git for porcelain operations
// (clone, branch, stage, commit, fetch), the git binary for rebase (go-git
// has no first-class rebase-with-conflict-detection API).
type LocalRepo struct {
	path   string
	token  string
	repo   *git.Repository
	logger *slog.Logger
}

// Clone clones owner/name over HTTPS with token embedded, into path.
func Clone(ctx context.Context, owner, name, token, path string) (*LocalRepo, error) {
	url := embedToken(owner, name, token)
	repo, err := git.PlainCloneContext(ctx, path, &git.CloneOptions{
		URL:  url,
		Auth: &http.BasicAuth{Username: "x-access-token", Password: token},
	})
	if err != nil {
		return nil, fmt.Errorf("gitrepo: clone %s/%s: %w", owner, name, err)
	}
	return &LocalRepo{path: path, token: token, repo: repo, logger: slog.Default().With("component", "gitrepo", "repo", fmt.Sprintf("%s/%s", owner, name))}, nil
}

// Path returns the working tree root.
func (r *LocalRepo) Path() string { return r.path }

// CreateBranch creates branch name off the current HEAD and checks it out.
func (r *LocalRepo) CreateBranch(name string) error {
	head, err := r.repo.Head()
	if err != nil {
		return fmt.Errorf("gitrepo: create branch %s: resolve HEAD: %w", name, err)
	}
	ref := plumbing.NewBranchReferenceName(name)
	if err := r.repo.Storer.SetReference(plumbing.NewHashReference(ref, head.Hash())); err != nil {
		return fmt.Errorf("gitrepo: create branch %s: %w", name, err)
	}
	return r.Checkout(name)
}

// Checkout switches the working tree to branch.
func (r *LocalRepo) Checkout(branch string) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("gitrepo: checkout %s: worktree: %w", branch, err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(branch)}); err != nil {
		return fmt.Errorf("gitrepo: checkout %s: %w", branch, err)
	}
	return nil
}

// StageAll stages every modified, added, and deleted file.
func (r *LocalRepo) StageAll() error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("gitrepo: stage all: worktree: %w", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return fmt.Errorf("gitrepo: stage all: %w", err)
	}
	return nil
}

// Commit commits staged changes with message, authored by author
// (falling back to a fixed Minion identity when empty).
func (r *LocalRepo) Commit(message, author string) (string, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("gitrepo: commit: worktree: %w", err)
	}
	name, email := "overlord-minion", "minion@overlord.local"
	if author != "" {
		name = author
	}
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: name, Email: email, When: time.Now()},
	})
	if err != nil {
		return "", fmt.Errorf("gitrepo: commit: %w", err)
	}
	return hash.String(), nil
}

// Push pushes branch to remote.
func (r *LocalRepo) Push(ctx context.Context, remote, branch string) error {
	refspec := config.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	err := r.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: remote,
		RefSpecs:   []config.RefSpec{refspec},
		Auth:       &http.BasicAuth{Username: "x-access-token", Password: r.token},
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return fmt.Errorf("gitrepo: push %s: %w", branch, err)
	}
	return nil
}

const defaultMaxPushRetries = 3

// PushWithRetry pushes branch, and on a non-fast-forward rejection fetches
// remote/base and rebases onto it before retrying, up to maxRetries times.
// A conflicting rebase is aborted rather than left half-applied.
func (r *LocalRepo) PushWithRetry(ctx context.Context, remote, branch, base string, maxRetries int) error {
	if maxRetries <= 0 {
		maxRetries = defaultMaxPushRetries
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := r.Push(ctx, remote, branch); err == nil {
			return nil
		} else if !isNonFastForward(err) {
			return err
		} else {
			lastErr = err
		}

		if attempt == maxRetries {
			break
		}

		fetchRes := runGit(ctx, r.path, defaultSubprocessTimeout, "fetch", remote, base)
		if !fetchRes.Success {
			return fmt.Errorf("gitrepo: push_with_retry: fetch %s/%s: %s", remote, base, fetchRes.Error)
		}

		rebaseRes := runGit(ctx, r.path, defaultSubprocessTimeout, "rebase", fmt.Sprintf("%s/%s", remote, base))
		if !rebaseRes.Success {
			_ = runGit(ctx, r.path, defaultSubprocessTimeout, "rebase", "--abort")
			return fmt.Errorf("gitrepo: push_with_retry: rebase onto %s/%s conflicted, aborted: %s", remote, base, rebaseRes.Output)
		}

		r.logger.Info("rebased and retrying push", "branch", branch, "attempt", attempt+1)
	}
	return fmt.Errorf("gitrepo: push_with_retry: exhausted %d retries: %w", maxRetries, lastErr)
}

func isNonFastForward(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "non-fast-forward") || strings.Contains(msg, "fetch first") || strings.Contains(msg, "rejected")
}

// GetChangedFiles returns the paths that differ between HEAD and the
// working tree/index (staged and unstaged).
func (r *LocalRepo) GetChangedFiles() ([]string, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("gitrepo: changed files: worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("gitrepo: changed files: status: %w", err)
	}
	var files []string
	for path := range status {
		files = append(files, path)
	}
	return files, nil
}
