// Package scheduler implements the Overlord scheduler: the
// single-consumer event loop that multiplexes operator commands, Minion
// callback POSTs, and timer ticks into one ordered queue. It is the only
// writer of state-store transitions and audit entries; spawn, kill, and
// review work is offloaded to a bounded golang.org/x/sync/errgroup
// pool whose results re-enter the queue as events.
package scheduler

import (
	"github.com/nebulus-ai/overlord/pkg/config"
	"github.com/nebulus-ai/overlord/pkg/review"
)

// Event is anything the scheduler's single consumer can drain from its
// queue: operator commands, Minion callback POSTs, timer
// ticks, and the results worker-pool offloads post back.
type Event interface {
	kind() string
}

// WorkEvent asks the scheduler to dispatch a Minion against (Repo,
// IssueNumber): a fresh dispatch when RevisionNumber is 0, or a revision
// re-spawn carrying feedback from a prior NEEDS_REVISION evaluation
//.
type WorkEvent struct {
	Repo             string
	IssueNumber      int
	Title            string
	Body             string
	RevisionNumber   int
	RevisionFeedback string
}

func (WorkEvent) kind() string { return "work" }

// CallbackEvent carries one Minion callback POST.
type CallbackEvent struct {
	MinionID string
	Event    string // heartbeat|progress|complete|error|question
	Issue    int
	Message  string
	Data     map[string]interface{}
}

func (CallbackEvent) kind() string { return "callback" }

// OperatorCommandEvent carries one parsed operator command; Reply receives
// the rendered response text.
type OperatorCommandEvent struct {
	Command Command
	Reply   chan string
}

func (OperatorCommandEvent) kind() string { return "operator_command" }

// WatchdogTickEvent fires periodically: every active
// Minion whose now-last_heartbeat exceeds the configured timeout is
// transitioned to timed_out and its container killed. It also drives the
// orphan-recovery sweep.
type WatchdogTickEvent struct{}

func (WatchdogTickEvent) kind() string { return "watchdog_tick" }

// SweepTickEvent fires periodically: pulls the top
// candidate off scan_queue() and enqueues it as a synthetic WorkEvent, if
// the rate-limit budget and spare concurrency both allow it.
type SweepTickEvent struct{}

func (SweepTickEvent) kind() string { return "sweep_tick" }

// spawnResultEvent re-enters the queue once a worker-pool-offloaded
// SpawnMinion call returns; workers never mutate scheduler state
// directly.
type spawnResultEvent struct {
	minionID    string
	repo        string
	issueNumber int
	err         error
}

func (spawnResultEvent) kind() string { return "spawn_result" }

// reviewResultEvent re-enters the queue once an offloaded review_pr run
// returns, carrying everything the Evaluator needs. minionID is empty for
// an operator-triggered `review` command, which has no Minion lifecycle to
// advance.
type reviewResultEvent struct {
	minionID       string
	repo           string
	prNumber       int
	issueNumber    int
	branch         string
	revisionNumber int
	result         review.WorkflowResult
}

func (reviewResultEvent) kind() string { return "review_result" }

// ConfigReloadedEvent carries a freshly reloaded watched-repo/label config
// in from a pkg/config.Watcher file-change notification. It
// re-enters the event queue like any worker-pool result rather than
// mutating scheduler state from the watcher's own goroutine, so the
// single-consumer invariant still holds for every field it
// touches.
type ConfigReloadedEvent struct {
	WatchedRepos []string
	Labels       config.LabelsConfig
}

func (ConfigReloadedEvent) kind() string { return "config_reloaded" }
