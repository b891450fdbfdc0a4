// Package gitrepo implements the Git & Repo-Host Client: local
// git plumbing over go-git/v6 plus code-host operations over go-github, the
// two surfaces a Minion uses to turn an assigned issue into a pull
// request.
package gitrepo

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Result is the uniform shape every subprocess-backed operation returns
//.
type Result struct {
	Success    bool
	Output     string
	Error      string
	ReturnCode int
}

const defaultSubprocessTimeout = 60 * time.Second

// runGit executes `git <args...>` in dir with a bounded timeout, used by
// the operations go-git's porcelain API doesn't cover well (rebase with
// conflict-abort semantics in particular).
func runGit(ctx context.Context, dir string, timeout time.Duration, args ...string) Result {
	if timeout <= 0 {
		timeout = defaultSubprocessTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := stdout.String() + stderr.String()
	if len(out) > 100*1024 {
		out = out[:100*1024] + "\n... (truncated)"
	}

	if err == nil {
		return Result{Success: true, Output: out, ReturnCode: 0}
	}
	code := -1
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	}
	return Result{Success: false, Output: out, Error: err.Error(), ReturnCode: code}
}

// NormalizeRepoIdentifier strips scheme/host/.git/trailing-slash noise from
// a repository reference so "https://github.com/Org/Repo.git",
// "git@github.com:Org/Repo", and "org/repo" all compare equal.
func NormalizeRepoIdentifier(repo string) string {
	normalized := strings.ToLower(strings.TrimSpace(repo))
	normalized = strings.TrimSuffix(normalized, "/")
	normalized = strings.TrimSuffix(normalized, ".git")
	normalized = strings.TrimSuffix(normalized, "/")
	normalized = strings.TrimPrefix(normalized, "https://github.com/")
	normalized = strings.TrimPrefix(normalized, "http://github.com/")
	normalized = strings.TrimPrefix(normalized, "github.com/")
	normalized = strings.TrimPrefix(normalized, "git@github.com:")
	return normalized
}

// SplitOwnerRepo splits a normalized "owner/repo" identifier.
func SplitOwnerRepo(repo string) (owner, name string, err error) {
	normalized := NormalizeRepoIdentifier(repo)
	parts := strings.SplitN(normalized, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("gitrepo: %q is not a valid owner/repo identifier", repo)
	}
	return parts[0], parts[1], nil
}

// embedToken builds an HTTPS clone URL with the access token embedded as
// userinfo, the form every code host's machine-user clone flow expects.
func embedToken(owner, name, token string) string {
	return fmt.Sprintf("https://x-access-token:%s@github.com/%s/%s.git", token, owner, name)
}
