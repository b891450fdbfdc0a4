// Command minion is the Minion process: a short-lived
// worker spawned by the Overlord with its entire configuration in its
// process environment. It clones its assigned issue's repository, runs the
// Agent loop against a sandboxed workspace, and reports lifecycle events
// back to the Overlord until it reaches a terminal status. Structured as a
// one-shot composition root reading its entire configuration from the
// process environment, rather than a long-lived HTTP service's startup.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nebulus-ai/overlord/pkg/failure"
	"github.com/nebulus-ai/overlord/pkg/gitrepo"
	"github.com/nebulus-ai/overlord/pkg/llm"
	"github.com/nebulus-ai/overlord/pkg/masking"
	"github.com/nebulus-ai/overlord/pkg/minionagent"
	"github.com/nebulus-ai/overlord/pkg/reporter"
	"github.com/nebulus-ai/overlord/pkg/sandbox"
	"github.com/nebulus-ai/overlord/pkg/scope"
	"github.com/nebulus-ai/overlord/pkg/skills"
)

const systemPrompt = `You are a software engineering agent working inside a cloned git repository.
Use the provided tools to read and modify files, run commands, and search the codebase.
Call task_complete once the issue is resolved, or task_blocked if you cannot proceed without more information.`

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := loadEnv()
	if err != nil {
		log.Printf("minion: invalid configuration: %v", err)
		return 1
	}

	logger := slog.Default().With("component", "minion", "minion_id", env.MinionID)

	timeoutCtx, cancel := context.WithTimeout(ctx, env.Timeout)
	defer cancel()

	rep := reporter.New(reporter.Config{
		MinionID:    env.MinionID,
		IssueNumber: env.Issue,
		CallbackURL: env.CallbackURL,
	})
	rep.Start(timeoutCtx)
	defer rep.Stop()

	status, result, runErr := doWork(timeoutCtx, env, logger, rep)

	switch {
	case timeoutCtx.Err() != nil && ctx.Err() == nil:
		rep.Error(context.Background(), "timeout", "minion exceeded its wall-clock budget")
		return 1
	case ctx.Err() != nil:
		logger.Warn("shutting down on signal")
		return 130
	case runErr != nil:
		rep.Error(context.Background(), "error", runErr.Error())
		return 1
	}

	switch status {
	case minionagent.StatusCompleted:
		logger.Info("task complete", "files_changed", result.FilesChanged)
		return 0
	case minionagent.StatusTurnLimit:
		rep.Error(context.Background(), "turn_limit", "agent exhausted its turn budget without completing")
		return 1
	default:
		rep.Error(context.Background(), "error", result.ErrorMessage)
		return 1
	}
}

// doWork clones the target repository, runs the Minion Agent loop
// (blocking on operator answers via Reporter.PollAnswer/Agent.InjectMessage
// whenever the agent calls task_blocked), and on success pushes a branch
// and opens a pull request.
func doWork(ctx context.Context, env *minionEnv, logger *slog.Logger, rep *reporter.Reporter) (minionagent.Status, *minionagent.Result, error) {
	owner, name, err := gitrepo.SplitOwnerRepo(env.Repo)
	if err != nil {
		return "", nil, fmt.Errorf("parsing GITHUB_REPO: %w", err)
	}

	workspaceRoot := filepath.Join(os.TempDir(), "minion-"+env.MinionID)
	logger.Info("cloning repository", "owner", owner, "name", name, "workspace", workspaceRoot)
	repo, err := gitrepo.Clone(ctx, owner, name, env.GitHubToken, workspaceRoot)
	if err != nil {
		return "", nil, fmt.Errorf("cloning repository: %w", err)
	}

	branch := fmt.Sprintf("minion/issue-%d", env.Issue)
	if err := repo.CreateBranch(branch); err != nil {
		return "", nil, fmt.Errorf("creating branch: %w", err)
	}
	if err := repo.Checkout(branch); err != nil {
		return "", nil, fmt.Errorf("checking out branch: %w", err)
	}

	maskSvc := masking.NewService(nil)
	failureStore := failure.NewStore()
	skillLoader := skills.NewFSLoader(filepath.Join(workspaceRoot, ".overlord", "skills"))

	sb := sandbox.New(workspaceRoot, env.Scope, failureStore, maskSvc, skillLoader, env.MinionID)

	llmClient, err := buildLLMClient(env)
	if err != nil {
		return "", nil, fmt.Errorf("building LLM client: %w", err)
	}

	agent := minionagent.New(llmClient, env.Model, sb, failureStore, nil, minionagent.DefaultConfig(), systemPrompt)

	rep.Progress(ctx, "starting work", nil)
	result, err := agent.Run(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("agent run: %w", err)
	}

	for result.Status == minionagent.StatusBlocked {
		questionID := fmt.Sprintf("%s-%d", env.MinionID, time.Now().UnixNano())
		rep.Question(ctx, result.Question, string(result.BlockerType), questionID)

		answer, ok := rep.PollAnswer(ctx, questionID, env.Timeout, 15*time.Second)
		if !ok {
			return "", result, fmt.Errorf("no operator answer received for question %s", questionID)
		}

		agent.InjectMessage(answer)
		result, err = agent.Resume(ctx)
		if err != nil {
			return "", nil, fmt.Errorf("agent resume: %w", err)
		}
	}

	if result.Status != minionagent.StatusCompleted {
		return result.Status, result, nil
	}

	if err := repo.StageAll(); err != nil {
		return "", nil, fmt.Errorf("staging changes: %w", err)
	}
	if _, err := repo.Commit(result.Summary, "Minion <minion@nebulus.ai>"); err != nil {
		return "", nil, fmt.Errorf("committing changes: %w", err)
	}
	if err := repo.PushWithRetry(ctx, "origin", branch, "main", 3); err != nil {
		return "", nil, fmt.Errorf("pushing branch: %w", err)
	}

	host := gitrepo.NewHostClient(env.GitHubToken)
	pr, err := host.CreatePR(ctx, owner, name,
		fmt.Sprintf("Resolve #%d: %s", env.Issue, result.Summary),
		result.Summary, "main", branch, false)
	if err != nil {
		return "", nil, fmt.Errorf("creating pull request: %w", err)
	}

	rep.Complete(ctx, pr.Number, pr.URL, branch, "")
	return result.Status, result, nil
}

func buildLLMClient(env *minionEnv) (llm.Client, error) {
	pool := llm.NewPool(1, 60*time.Second)
	timeout := env.NebulusTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return llm.NewOpenAICompatibleClient(env.NebulusBaseURL, os.Getenv("NEBULUS_API_KEY"), pool, timeout), nil
}

// minionEnv is the Minion's entire configuration, read once from its
// process environment.
type minionEnv struct {
	MinionID       string
	Repo           string
	Issue          int
	GitHubToken    string
	CallbackURL    string
	NebulusBaseURL string
	Model          string
	NebulusTimeout time.Duration
	Streaming      bool
	Timeout        time.Duration
	Scope          *scope.Policy
}

func loadEnv() (*minionEnv, error) {
	e := &minionEnv{}

	required := map[string]*string{
		"MINION_ID":             &e.MinionID,
		"GITHUB_REPO":           &e.Repo,
		"GITHUB_TOKEN":          &e.GitHubToken,
		"OVERLORD_CALLBACK_URL": &e.CallbackURL,
	}
	var missing []string
	for key, dst := range required {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
			continue
		}
		*dst = v
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	issueStr := os.Getenv("GITHUB_ISSUE")
	issue, err := strconv.Atoi(issueStr)
	if err != nil {
		return nil, fmt.Errorf("GITHUB_ISSUE must be an integer, got %q", issueStr)
	}
	e.Issue = issue

	e.NebulusBaseURL = os.Getenv("NEBULUS_BASE_URL")
	e.Model = os.Getenv("NEBULUS_MODEL")
	if e.Model != "" {
		e.Model = llm.ResolveModel(e.Model)
	}

	if v := os.Getenv("NEBULUS_TIMEOUT"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("NEBULUS_TIMEOUT must be an integer number of seconds, got %q", v)
		}
		e.NebulusTimeout = time.Duration(secs) * time.Second
	}
	e.Streaming = strings.EqualFold(os.Getenv("NEBULUS_STREAMING"), "true")

	e.Timeout = 1800 * time.Second
	if v := os.Getenv("MINION_TIMEOUT"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("MINION_TIMEOUT must be an integer number of seconds, got %q", v)
		}
		e.Timeout = time.Duration(secs) * time.Second
	}

	e.Scope = scope.FromMinionScopeEnv([]byte(os.Getenv("MINION_SCOPE")))

	return e, nil
}
