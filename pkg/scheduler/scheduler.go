package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nebulus-ai/overlord/pkg/audit"
	"github.com/nebulus-ai/overlord/pkg/config"
	"github.com/nebulus-ai/overlord/pkg/containers"
	"github.com/nebulus-ai/overlord/pkg/evaluator"
	"github.com/nebulus-ai/overlord/pkg/gitrepo"
	"github.com/nebulus-ai/overlord/pkg/notify"
	"github.com/nebulus-ai/overlord/pkg/queue"
	"github.com/nebulus-ai/overlord/pkg/review"
	"github.com/nebulus-ai/overlord/pkg/store"
)

const (
	eventQueueSize      = 256
	offloadConcurrency  = 8
	watchdogMissedBeats = 2
)

// Deps bundles every collaborator the Scheduler dispatches work to. All
// fields except Store and Audit may be nil; the Scheduler degrades the
// corresponding behavior (no review, no notifications, no answer buffer)
// rather than failing.
type Deps struct {
	Store      *store.Store
	Audit      *audit.Store
	Queue      *queue.Scanner
	Containers *containers.Manager
	Review     *review.Pipeline
	Notify     *notify.Service
	Answers    *AnswerBuffer
}

// pendingQuestion tracks one outstanding question a Minion is blocked on,
// for the operator-facing `status` command.
type pendingQuestion struct {
	QuestionID  string
	BlockerType string
	Text        string
}

// Scheduler is the Overlord's single-consumer event loop:
// three event sources (operator commands, Minion callbacks, timer ticks)
// multiplex into one ordered queue; exactly one goroutine drains it.
// Spawning, killing, and review runs are offloaded to a bounded worker
// pool whose results re-enter the queue as events rather than mutating
// state directly.
type Scheduler struct {
	cfg             *config.Config
	deps            Deps
	callbackBaseURL string
	logger          *slog.Logger

	events  chan Event
	offload *errgroup.Group

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu               sync.Mutex
	paused           bool
	pendingQuestions map[string]pendingQuestion
}

// New builds a Scheduler. callbackBaseURL is embedded into every spawned
// Minion's OVERLORD_CALLBACK_URL. Run must be called to start
// draining events.
func New(cfg *config.Config, deps Deps, callbackBaseURL string) *Scheduler {
	offload := &errgroup.Group{}
	offload.SetLimit(offloadConcurrency)
	return &Scheduler{
		cfg:              cfg,
		deps:             deps,
		callbackBaseURL:  callbackBaseURL,
		logger:           slog.Default().With("component", "scheduler"),
		events:           make(chan Event, eventQueueSize),
		offload:          offload,
		stopCh:           make(chan struct{}),
		pendingQuestions: make(map[string]pendingQuestion),
	}
}

// Submit enqueues an event for the single consumer to drain. Safe to call
// from any goroutine (HTTP handlers, timer goroutines).
func (s *Scheduler) Submit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.stopCh:
	}
}

// Run drains the event queue until ctx is cancelled or Stop is called. It
// also starts the watchdog and sweep timer goroutines; they only ever
// Submit events, never mutate state directly.
func (s *Scheduler) Run(ctx context.Context) {
	s.wg.Add(2)
	go s.tickLoop(ctx, s.cfg.Scheduler.HeartbeatInterval, func() { s.Submit(WatchdogTickEvent{}) })
	go s.tickLoop(ctx, s.cfg.Scheduler.PollInterval, func() { s.Submit(SweepTickEvent{}) })

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-s.stopCh:
			s.wg.Wait()
			return
		case ev := <-s.events:
			s.dispatch(ctx, ev)
		}
	}
}

func (s *Scheduler) tickLoop(ctx context.Context, interval time.Duration, fire func()) {
	defer s.wg.Done()
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			fire()
		}
	}
}

// Stop signals Run to exit. Run returns once its current event finishes
// and the tick goroutines observe the signal.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Scheduler) dispatch(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case WorkEvent:
		s.handleWork(ctx, e)
	case CallbackEvent:
		s.handleCallback(ctx, e)
	case OperatorCommandEvent:
		s.handleOperatorCommand(ctx, e)
	case WatchdogTickEvent:
		s.handleWatchdog(ctx)
		s.handleOrphanSweep(ctx)
	case SweepTickEvent:
		s.handleSweep(ctx)
	case spawnResultEvent:
		s.handleSpawnResult(ctx, e)
	case reviewResultEvent:
		s.handleReviewResult(ctx, e)
	case ConfigReloadedEvent:
		s.handleConfigReloaded(e)
	default:
		s.logger.Warn("unrecognized event", "kind", ev.kind())
	}
}

// --- work dispatch ---

func (s *Scheduler) handleWork(ctx context.Context, e WorkEvent) {
	taskID := fmt.Sprintf("%s#%d", e.Repo, e.IssueNumber)
	s.deps.Audit.Append(ctx, "task_received", taskID, map[string]interface{}{
		"repo": e.Repo, "issue_number": e.IssueNumber, "revision_number": e.RevisionNumber,
	}, "work event received")

	if s.isPaused() {
		s.logger.Info("scheduler paused, deferring work event", "task_id", taskID)
		return
	}

	if existing, err := s.deps.Store.GetMinionByIssue(ctx, e.Repo, e.IssueNumber); err == nil && existing != nil {
		s.logger.Info("work already in progress, ignoring duplicate dispatch", "task_id", taskID, "minion_id", existing.MinionID)
		return
	}

	active, err := s.deps.Store.GetActiveMinions(ctx)
	if err != nil {
		s.logger.Error("list active minions", "error", err)
		return
	}
	if len(active) >= s.cfg.Scheduler.MaxConcurrentMinions {
		s.logger.Info("at capacity, deferring work event", "task_id", taskID, "active", len(active))
		return
	}

	minionID := "minion-" + uuid.NewString()[:8]
	if err := s.deps.Store.AddMinion(ctx, &store.Minion{
		MinionID:       minionID,
		Repo:           e.Repo,
		IssueNumber:    e.IssueNumber,
		Status:         store.StatusStarting,
		RevisionNumber: e.RevisionNumber,
	}); err != nil {
		s.logger.Error("record starting minion", "minion_id", minionID, "error", err)
		return
	}

	if s.deps.Containers == nil {
		s.logger.Warn("no container manager configured, leaving minion in starting state", "minion_id", minionID)
		return
	}

	req := containers.SpawnRequest{
		Repo:             e.Repo,
		IssueNumber:      e.IssueNumber,
		MinionID:         minionID,
		GitHubToken:      s.githubToken(),
		CallbackURL:      s.callbackBaseURL,
		LLMProviderEnv:   s.llmProviderEnv(),
		RevisionNumber:   e.RevisionNumber,
		RevisionFeedback: e.RevisionFeedback,
	}

	repo, issue := e.Repo, e.IssueNumber
	s.offload.Go(func() error {
		_, err := s.deps.Containers.SpawnMinion(context.Background(), req)
		s.Submit(spawnResultEvent{minionID: minionID, repo: repo, issueNumber: issue, err: err})
		return nil
	})
}

func (s *Scheduler) handleSpawnResult(ctx context.Context, e spawnResultEvent) {
	taskID := fmt.Sprintf("%s#%d", e.repo, e.issueNumber)
	if e.err != nil {
		s.logger.Error("spawn minion failed", "minion_id", e.minionID, "error", e.err)
		if err := s.deps.Store.RemoveMinion(ctx, e.minionID); err != nil {
			s.logger.Warn("remove failed-spawn minion record", "minion_id", e.minionID, "error", err)
		}
		s.deps.Audit.Append(ctx, "task_abandoned", taskID, map[string]interface{}{
			"minion_id": e.minionID, "error": e.err.Error(),
		}, "container spawn failed")
		return
	}

	status := store.StatusWorking
	containerID := e.minionID
	if err := s.deps.Store.UpdateMinion(ctx, e.minionID, store.MinionUpdate{Status: &status, ContainerID: &containerID}); err != nil {
		s.logger.Error("update minion after spawn", "minion_id", e.minionID, "error", err)
	}
	s.deps.Audit.Append(ctx, "task_dispatched", taskID, map[string]interface{}{
		"minion_id": e.minionID,
	}, "minion container spawned")

	if owner, name, err := gitrepo.SplitOwnerRepo(e.repo); err == nil && s.deps.Queue != nil {
		if err := s.deps.Queue.MarkInProgress(ctx, owner, name, e.issueNumber); err != nil {
			s.logger.Warn("mark issue in-progress", "repo", e.repo, "issue", e.issueNumber, "error", err)
		}
	}
}

// --- Minion callbacks ---

func (s *Scheduler) handleCallback(ctx context.Context, e CallbackEvent) {
	m, err := s.deps.Store.GetMinion(ctx, e.MinionID)
	if err != nil {
		s.logger.Warn("callback for unknown minion", "minion_id", e.MinionID, "event", e.Event, "error", err)
		return
	}
	taskID := fmt.Sprintf("%s#%d", m.Repo, m.IssueNumber)

	switch e.Event {
	case "heartbeat", "progress":
		status := store.StatusWorking
		if err := s.deps.Store.UpdateMinion(ctx, e.MinionID, store.MinionUpdate{
			Status:        &status,
			LastHeartbeat: timePtr(time.Now()),
		}); err != nil {
			s.logger.Warn("update minion heartbeat", "minion_id", e.MinionID, "error", err)
		}

	case "question":
		status := store.StatusAwaitingAnswer
		if err := s.deps.Store.UpdateMinion(ctx, e.MinionID, store.MinionUpdate{
			Status:        &status,
			LastHeartbeat: timePtr(time.Now()),
		}); err != nil {
			s.logger.Warn("update minion to awaiting_answer", "minion_id", e.MinionID, "error", err)
		}
		questionID, _ := e.Data["question_id"].(string)
		blockerType, _ := e.Data["blocker_type"].(string)
		s.mu.Lock()
		s.pendingQuestions[e.MinionID] = pendingQuestion{QuestionID: questionID, BlockerType: blockerType, Text: e.Message}
		s.mu.Unlock()
		s.deps.Audit.Append(ctx, "worker_result", taskID, map[string]interface{}{
			"minion_id": e.MinionID, "event": "question", "blocker_type": blockerType, "question_id": questionID,
		}, "minion blocked on operator question")

	case "complete":
		s.handleMinionComplete(ctx, m, e)

	case "error":
		s.handleMinionError(ctx, m, e)

	default:
		s.logger.Warn("unrecognized callback event", "event", e.Event, "minion_id", e.MinionID)
	}
}

func (s *Scheduler) handleMinionComplete(ctx context.Context, m *store.Minion, e CallbackEvent) {
	taskID := fmt.Sprintf("%s#%d", m.Repo, m.IssueNumber)

	var prNumber *int
	if raw, ok := e.Data["pr_number"]; ok {
		if n, ok := toInt(raw); ok {
			prNumber = &n
		}
	}
	branch, _ := e.Data["branch"].(string)

	s.deps.Audit.Append(ctx, "worker_result", taskID, map[string]interface{}{
		"minion_id": m.MinionID, "event": "complete", "pr_number": prNumber, "branch": branch,
	}, "minion reported completion")

	if prNumber == nil || s.deps.Review == nil {
		s.finishMinion(ctx, m, store.StatusCompleted, prNumber, taskID, "task_complete", "no PR to review")
		return
	}

	owner, name, err := gitrepo.SplitOwnerRepo(m.Repo)
	if err != nil {
		s.logger.Error("malformed repo recording completion", "repo", m.Repo, "error", err)
		s.finishMinion(ctx, m, store.StatusCompleted, prNumber, taskID, "task_complete", "malformed repo, review skipped")
		return
	}

	pr := *prNumber
	minionID, issueNumber, revision, repo := m.MinionID, m.IssueNumber, m.RevisionNumber, m.Repo
	s.offload.Go(func() error {
		result := s.deps.Review.ReviewPR(context.Background(), owner, name, pr, review.ReviewOptions{
			Post:      true,
			AutoMerge: true,
		})
		s.Submit(reviewResultEvent{
			minionID: minionID, repo: repo, prNumber: pr, issueNumber: issueNumber,
			branch: branch, revisionNumber: revision, result: result,
		})
		return nil
	})
}

func (s *Scheduler) handleMinionError(ctx context.Context, m *store.Minion, e CallbackEvent) {
	taskID := fmt.Sprintf("%s#%d", m.Repo, m.IssueNumber)
	errType, _ := e.Data["error_type"].(string)
	details, _ := e.Data["details"].(string)
	if details == "" {
		details = e.Message
	}

	// Canonical timeout error_type: both the Minion-side
	// wall-clock breach and the Overlord watchdog use "timeout".
	terminal := store.StatusFailed
	if errType == "timeout" {
		terminal = store.StatusTimedOut
	}

	errMsg := details
	if err := s.deps.Store.RecordCompletion(ctx, m.MinionID, terminal, nil, &errMsg); err != nil {
		s.logger.Error("record completion on error", "minion_id", m.MinionID, "error", err)
	}
	s.deps.Audit.Append(ctx, "task_abandoned", taskID, map[string]interface{}{
		"minion_id": m.MinionID, "error_type": errType, "details": details,
	}, "minion reported terminal error")

	s.markIssueFailed(ctx, m.Repo, m.IssueNumber, details)
	s.notifyTerminal(ctx, terminal, m.Repo, m.IssueNumber, m.MinionID, details)
}

func (s *Scheduler) finishMinion(ctx context.Context, m *store.Minion, status store.Status, prNumber *int, taskID, auditEvent, reasoning string) {
	if err := s.deps.Store.RecordCompletion(ctx, m.MinionID, status, prNumber, nil); err != nil {
		s.logger.Error("record completion", "minion_id", m.MinionID, "error", err)
	}
	s.deps.Audit.Append(ctx, auditEvent, taskID, map[string]interface{}{
		"minion_id": m.MinionID, "status": status,
	}, reasoning)

	if status == store.StatusCompleted && auditEvent == "task_complete" && s.deps.Queue != nil {
		if owner, name, err := gitrepo.SplitOwnerRepo(m.Repo); err == nil && prNumber != nil {
			if err := s.deps.Queue.MarkInReview(ctx, owner, name, m.IssueNumber, *prNumber); err != nil {
				s.logger.Warn("mark issue in-review", "repo", m.Repo, "issue", m.IssueNumber, "error", err)
			}
		}
	}
}

// --- review + evaluation ---

func (s *Scheduler) handleReviewResult(ctx context.Context, e reviewResultEvent) {
	taskID := fmt.Sprintf("%s#%d", e.repo, e.prNumber)

	var checks review.ChecksReport
	if e.result.ChecksReport != nil {
		checks = *e.result.ChecksReport
	}
	var llmResult review.ReviewResult
	if e.result.LLMResult != nil {
		llmResult = *e.result.LLMResult
	}

	eval := evaluator.Evaluate(e.repo, e.prNumber, e.revisionNumber, checks, llmResult, e.result.Error)

	if err := s.deps.Store.RecordEvaluation(ctx, &store.Evaluation{
		Repo: e.repo, PRNumber: e.prNumber, RevisionNumber: e.revisionNumber,
		TestScore: string(eval.TestScore), LintScore: string(eval.LintScore), ReviewScore: string(eval.ReviewScore),
		Overall: string(eval.Overall), Feedback: feedbackText(eval),
	}); err != nil {
		s.logger.Error("record evaluation", "repo", e.repo, "pr_number", e.prNumber, "error", err)
	}

	s.deps.Audit.Append(ctx, "evaluation_complete", taskID, map[string]interface{}{
		"pr_number": e.prNumber, "overall": eval.Overall, "test_score": eval.TestScore,
		"lint_score": eval.LintScore, "review_score": eval.ReviewScore,
	}, "evaluator scored review pipeline output")

	if e.minionID == "" {
		return // operator-triggered `review` command; no Minion lifecycle to advance
	}

	m, err := s.deps.Store.GetMinion(ctx, e.minionID)
	if err != nil {
		s.logger.Warn("review result for minion no longer active", "minion_id", e.minionID, "error", err)
		return
	}

	if req, ok := evaluator.NextRevision(eval, e.issueNumber, e.branch, s.cfg.Review.MaxRevisions); ok {
		prNum := e.prNumber
		s.finishMinion(ctx, m, store.StatusCompleted, &prNum, taskID, "worker_result", "evaluation needs revision, re-dispatching")
		s.deps.Audit.Append(ctx, "revision_requested", taskID, map[string]interface{}{
			"pr_number": req.PRNumber, "revision_number": req.RevisionNumber,
		}, "emitting revision request")
		s.Submit(WorkEvent{
			Repo: req.Repo, IssueNumber: req.IssueNumber, RevisionNumber: req.RevisionNumber,
			RevisionFeedback: req.CombinedFeedback,
		})
		return
	}

	prNum := e.prNumber
	s.finishMinion(ctx, m, store.StatusCompleted, &prNum, taskID, "task_complete", "review complete, no revision needed")
}

func feedbackText(e evaluator.Result) string {
	var parts []string
	if e.TestFeedback != "" {
		parts = append(parts, "tests: "+e.TestFeedback)
	}
	if e.LintFeedback != "" {
		parts = append(parts, "lint: "+e.LintFeedback)
	}
	if e.ReviewFeedback != "" {
		parts = append(parts, "review: "+e.ReviewFeedback)
	}
	return strings.Join(parts, "\n")
}

// --- watchdog + orphan sweep ---

func (s *Scheduler) handleWatchdog(ctx context.Context) {
	active, err := s.deps.Store.GetActiveMinions(ctx)
	if err != nil {
		s.logger.Error("watchdog: list active minions", "error", err)
		return
	}

	timeout := watchdogMissedBeats * s.cfg.Scheduler.HeartbeatInterval
	now := time.Now()

	for _, m := range active {
		if m.Status == store.StatusAwaitingAnswer {
			continue // blocked on an operator, not stalled
		}
		if now.Sub(m.LastHeartbeat) > timeout {
			s.timeoutMinion(ctx, m, "watchdog: no heartbeat within timeout")
		}
	}
}

// handleOrphanSweep reclaims Minions whose container the Container Manager
// reports as gone despite an active_minions row: catches
// the case where the Overlord process itself restarted and lost any
// in-memory watchdog timers — the persisted last_heartbeat plus the live
// container list are the source of truth, not goroutine-local state.
func (s *Scheduler) handleOrphanSweep(ctx context.Context) {
	if s.deps.Containers == nil {
		return
	}
	active, err := s.deps.Store.GetActiveMinions(ctx)
	if err != nil {
		s.logger.Error("orphan sweep: list active minions", "error", err)
		return
	}

	running, err := s.deps.Containers.ListMinions(ctx)
	if err != nil {
		s.logger.Error("orphan sweep: list containers", "error", err)
		return
	}
	present := make(map[string]bool, len(running))
	for _, c := range running {
		present[c.MinionID] = true
	}

	orphanTimeout := s.cfg.Scheduler.OrphanThreshold()
	now := time.Now()
	for _, m := range active {
		if now.Sub(m.LastHeartbeat) <= orphanTimeout || present[m.MinionID] {
			continue
		}
		s.timeoutMinion(ctx, m, "orphan sweep: no heartbeat and container gone")
	}
}

func (s *Scheduler) timeoutMinion(ctx context.Context, m *store.Minion, reason string) {
	taskID := fmt.Sprintf("%s#%d", m.Repo, m.IssueNumber)
	minionID := m.MinionID

	if s.deps.Containers != nil {
		s.offload.Go(func() error {
			if _, err := s.deps.Containers.KillMinion(context.Background(), minionID); err != nil {
				s.logger.Warn("watchdog: kill minion container", "minion_id", minionID, "error", err)
			}
			return nil
		})
	}

	errMsg := "timeout"
	if err := s.deps.Store.RecordCompletion(ctx, minionID, store.StatusTimedOut, nil, &errMsg); err != nil {
		s.logger.Error("watchdog: record timed_out", "minion_id", minionID, "error", err)
	}
	s.deps.Audit.Append(ctx, "task_abandoned", taskID, map[string]interface{}{
		"minion_id": minionID, "error_type": "timeout", "reason": reason,
	}, reason)

	s.markIssueFailed(ctx, m.Repo, m.IssueNumber, "minion timed out")
	s.notifyTerminal(ctx, store.StatusTimedOut, m.Repo, m.IssueNumber, minionID, reason)
}

func (s *Scheduler) markIssueFailed(ctx context.Context, repo string, issueNumber int, detail string) {
	if s.deps.Queue == nil {
		return
	}
	owner, name, err := gitrepo.SplitOwnerRepo(repo)
	if err != nil {
		return
	}
	if err := s.deps.Queue.MarkFailed(ctx, owner, name, issueNumber, detail); err != nil {
		s.logger.Warn("mark issue failed", "repo", repo, "issue", issueNumber, "error", err)
	}
}

func (s *Scheduler) notifyTerminal(ctx context.Context, status store.Status, repo string, issueNumber int, minionID, detail string) {
	if s.deps.Notify == nil {
		return
	}
	kind := notify.EventNeedsAttention
	if status == store.StatusTimedOut {
		kind = notify.EventTimedOut
	}
	s.deps.Notify.NotifyEvent(ctx, notify.EventInput{
		Kind: kind, Repo: repo, IssueNumber: issueNumber, MinionID: minionID, Detail: detail,
	})
}

// --- queue sweep ---

// handleConfigReloaded applies a config.Watcher-detected change to the
// watched-repo list and label set. It runs inside the single-consumer event
// loop, so mutating s.cfg's fields here is as safe as every other handler's
// direct reads of them.
func (s *Scheduler) handleConfigReloaded(e ConfigReloadedEvent) {
	s.logger.Info("config reloaded", "watched_repos", len(e.WatchedRepos))
	s.cfg.WatchedRepos = e.WatchedRepos
	s.cfg.Labels = e.Labels
	if s.deps.Queue != nil {
		s.deps.Queue.UpdateLabels(e.Labels)
	}
}

func (s *Scheduler) handleSweep(ctx context.Context) {
	if s.isPaused() || s.deps.Queue == nil {
		return
	}
	if !s.deps.Queue.CanPerformSweep(len(s.cfg.WatchedRepos)) {
		s.logger.Debug("sweep skipped: rate-limit budget insufficient")
		return
	}

	active, err := s.deps.Store.GetActiveMinions(ctx)
	if err != nil {
		s.logger.Error("sweep: list active minions", "error", err)
		return
	}
	if len(active) >= s.cfg.Scheduler.MaxConcurrentMinions {
		return
	}

	candidates, err := s.deps.Queue.ScanQueue(ctx, s.cfg.WatchedRepos)
	if err != nil {
		s.logger.Error("sweep: scan queue", "error", err)
		return
	}
	if len(candidates) == 0 {
		return
	}

	top := candidates[0]
	s.Submit(WorkEvent{Repo: top.Repo, IssueNumber: top.Number, Title: top.Title, Body: top.Body})
}

// --- operator commands ---

func (s *Scheduler) handleOperatorCommand(ctx context.Context, e OperatorCommandEvent) {
	var reply string
	switch e.Command.Kind {
	case CmdStatus:
		reply = s.statusText(ctx)
	case CmdWork:
		repo := e.Command.Repo
		if repo == "" {
			repo = s.defaultRepo()
		}
		s.Submit(WorkEvent{Repo: repo, IssueNumber: e.Command.Number})
		reply = fmt.Sprintf("dispatching %s#%d", repo, e.Command.Number)
	case CmdStop:
		reply = s.stopMinion(ctx, e.Command)
	case CmdQueue:
		reply = s.queueText(ctx)
	case CmdPause:
		s.setPaused(true)
		reply = "scheduler paused: no new work will be dispatched"
	case CmdResume:
		s.setPaused(false)
		reply = "scheduler resumed"
	case CmdHistory:
		reply = s.historyText(ctx)
	case CmdReview:
		reply = s.triggerReview(e.Command)
	case CmdHelp:
		reply = HelpText
	default:
		reply = "unrecognized command; try `help`"
	}

	s.deps.Audit.Append(ctx, "task_received", "operator", map[string]interface{}{
		"command": e.Command.Kind,
	}, "operator command")

	select {
	case e.Reply <- reply:
	default:
	}
}

func (s *Scheduler) statusText(ctx context.Context) string {
	active, err := s.deps.Store.GetActiveMinions(ctx)
	if err != nil {
		return fmt.Sprintf("failed to read status: %v", err)
	}
	if len(active) == 0 {
		return "no minions currently active"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d minion(s) active:\n", len(active))
	for _, m := range active {
		fmt.Fprintf(&b, "- %s: %s#%d status=%s\n", m.MinionID, m.Repo, m.IssueNumber, m.Status)
	}
	return b.String()
}

func (s *Scheduler) queueText(ctx context.Context) string {
	if s.deps.Queue == nil {
		return "queue scanner not configured"
	}
	candidates, err := s.deps.Queue.ScanQueue(ctx, s.cfg.WatchedRepos)
	if err != nil {
		return fmt.Sprintf("failed to scan queue: %v", err)
	}
	if len(candidates) == 0 {
		return "queue is empty"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d candidate(s) queued:\n", len(candidates))
	for _, c := range candidates {
		fmt.Fprintf(&b, "- %s#%d %s\n", c.Repo, c.Number, c.Title)
	}
	return b.String()
}

func (s *Scheduler) historyText(ctx context.Context) string {
	history, err := s.deps.Store.GetWorkHistory(ctx, "", 10)
	if err != nil {
		return fmt.Sprintf("failed to read history: %v", err)
	}
	if len(history) == 0 {
		return "no completed work yet"
	}
	var b strings.Builder
	for _, m := range history {
		fmt.Fprintf(&b, "- %s#%d status=%s completed_at=%s\n", m.Repo, m.IssueNumber, m.Status, completedAtText(m))
	}
	return b.String()
}

func completedAtText(m *store.Minion) string {
	if m.CompletedAt == nil {
		return "unknown"
	}
	return m.CompletedAt.Format(time.RFC3339)
}

func (s *Scheduler) stopMinion(ctx context.Context, cmd Command) string {
	var target *store.Minion

	if cmd.Target != "" {
		m, err := s.deps.Store.GetMinion(ctx, cmd.Target)
		if err != nil {
			return fmt.Sprintf("stop failed: %v", err)
		}
		target = m
	} else {
		active, err := s.deps.Store.GetActiveMinions(ctx)
		if err != nil {
			return fmt.Sprintf("stop failed: %v", err)
		}
		for _, m := range active {
			if m.IssueNumber == cmd.Number {
				target = m
				break
			}
		}
		if target == nil {
			return fmt.Sprintf("no active minion found for issue #%d", cmd.Number)
		}
	}

	minionID, repo, issueNumber := target.MinionID, target.Repo, target.IssueNumber
	if s.deps.Containers != nil {
		s.offload.Go(func() error {
			if _, err := s.deps.Containers.KillMinion(context.Background(), minionID); err != nil {
				s.logger.Warn("stop: kill minion container", "minion_id", minionID, "error", err)
			}
			return nil
		})
	}

	errMsg := "stopped by operator"
	if err := s.deps.Store.RecordCompletion(ctx, minionID, store.StatusFailed, nil, &errMsg); err != nil {
		return fmt.Sprintf("stop failed: %v", err)
	}
	s.deps.Audit.Append(ctx, "task_abandoned", fmt.Sprintf("%s#%d", repo, issueNumber), map[string]interface{}{
		"minion_id": minionID, "reason": "operator stop",
	}, "operator issued stop command")
	return fmt.Sprintf("stopped %s", minionID)
}

func (s *Scheduler) triggerReview(cmd Command) string {
	if s.deps.Review == nil {
		return "review pipeline not configured"
	}
	repo := cmd.Repo
	if repo == "" {
		repo = s.defaultRepo()
	}
	owner, name, err := gitrepo.SplitOwnerRepo(repo)
	if err != nil {
		return fmt.Sprintf("malformed repo: %v", err)
	}

	number := cmd.Number
	s.offload.Go(func() error {
		result := s.deps.Review.ReviewPR(context.Background(), owner, name, number, review.ReviewOptions{Post: true})
		s.Submit(reviewResultEvent{repo: repo, prNumber: number, result: result})
		return nil
	})
	return fmt.Sprintf("review of %s#%d queued", repo, number)
}

// --- small helpers ---

func (s *Scheduler) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Scheduler) setPaused(p bool) {
	s.mu.Lock()
	s.paused = p
	s.mu.Unlock()
}

func (s *Scheduler) defaultRepo() string {
	if len(s.cfg.WatchedRepos) == 0 {
		return ""
	}
	return s.cfg.WatchedRepos[0]
}

func (s *Scheduler) githubToken() string {
	env := "GITHUB_TOKEN"
	if s.cfg.GitHub != nil && s.cfg.GitHub.TokenEnv != "" {
		env = s.cfg.GitHub.TokenEnv
	}
	return os.Getenv(env)
}

func (s *Scheduler) llmProviderEnv() map[string]string {
	if s.cfg.Defaults == nil || s.cfg.Defaults.DefaultLLMProvider == "" {
		return nil
	}
	name := s.cfg.Defaults.DefaultLLMProvider
	provider, err := s.cfg.GetLLMProvider(name)
	if err != nil {
		s.logger.Warn("default LLM provider not found", "provider", name, "error", err)
		return nil
	}

	env := map[string]string{
		"LLM_PROVIDER":  name,
		"NEBULUS_MODEL": provider.Model,
	}
	if provider.BaseURL != "" {
		env["NEBULUS_BASE_URL"] = provider.BaseURL
	}
	if provider.RequestTimeout > 0 {
		env["NEBULUS_TIMEOUT"] = strconv.Itoa(int(provider.RequestTimeout / time.Second))
	}
	if provider.Streaming {
		env["NEBULUS_STREAMING"] = "true"
	}
	if provider.APIKeyEnv != "" {
		if key := os.Getenv(provider.APIKeyEnv); key != "" {
			env[provider.APIKeyEnv] = key
		}
	}
	if provider.RegionEnv != "" {
		if region := os.Getenv(provider.RegionEnv); region != "" {
			env[provider.RegionEnv] = region
		}
	}
	return env
}

func timePtr(t time.Time) *time.Time { return &t }

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}
