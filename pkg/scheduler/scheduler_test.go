package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebulus-ai/overlord/pkg/audit"
	"github.com/nebulus-ai/overlord/pkg/config"
	"github.com/nebulus-ai/overlord/pkg/store"
	"github.com/nebulus-ai/overlord/test/util"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	db := util.SetupTestDatabase(t)
	cfg := &config.Config{
		WatchedRepos: []string{"org/repo"},
		Scheduler:    config.DefaultSchedulerConfig(),
		Review:       config.DefaultReviewConfig(),
	}
	deps := Deps{
		Store: store.New(db),
		Audit: audit.NewStore(db, nil),
	}
	return New(cfg, deps, "http://overlord.local")
}

func TestHandleWorkRespectsPause(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()
	s.setPaused(true)

	s.handleWork(ctx, WorkEvent{Repo: "org/repo", IssueNumber: 1})

	active, err := s.deps.Store.GetActiveMinions(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestHandleWorkDedupesActiveIssue(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()

	require.NoError(t, s.deps.Store.AddMinion(ctx, &store.Minion{
		MinionID: "minion-existing", Repo: "org/repo", IssueNumber: 5,
	}))

	s.handleWork(ctx, WorkEvent{Repo: "org/repo", IssueNumber: 5})

	active, err := s.deps.Store.GetActiveMinions(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestHandleWorkAtCapacity(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()
	s.cfg.Scheduler.MaxConcurrentMinions = 0

	s.handleWork(ctx, WorkEvent{Repo: "org/repo", IssueNumber: 9})

	active, err := s.deps.Store.GetActiveMinions(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestHandleWorkAddsStartingMinionWithoutContainers(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()

	s.handleWork(ctx, WorkEvent{Repo: "org/repo", IssueNumber: 11})

	active, err := s.deps.Store.GetActiveMinions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, store.StatusStarting, active[0].Status)
	assert.Equal(t, 11, active[0].IssueNumber)
}

func TestHandleCallbackHeartbeatUpdatesLastHeartbeat(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()
	require.NoError(t, s.deps.Store.AddMinion(ctx, &store.Minion{
		MinionID: "minion-hb", Repo: "org/repo", IssueNumber: 2,
	}))
	before, err := s.deps.Store.GetMinion(ctx, "minion-hb")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	s.handleCallback(ctx, CallbackEvent{MinionID: "minion-hb", Event: "heartbeat"})

	after, err := s.deps.Store.GetMinion(ctx, "minion-hb")
	require.NoError(t, err)
	assert.Equal(t, store.StatusWorking, after.Status)
	assert.True(t, after.LastHeartbeat.After(before.LastHeartbeat))
}

func TestHandleCallbackQuestionTracksPending(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()
	require.NoError(t, s.deps.Store.AddMinion(ctx, &store.Minion{
		MinionID: "minion-q", Repo: "org/repo", IssueNumber: 3,
	}))

	s.handleCallback(ctx, CallbackEvent{
		MinionID: "minion-q", Event: "question", Message: "which branch?",
		Data: map[string]interface{}{"question_id": "q-1", "blocker_type": "clarification"},
	})

	m, err := s.deps.Store.GetMinion(ctx, "minion-q")
	require.NoError(t, err)
	assert.Equal(t, store.StatusAwaitingAnswer, m.Status)

	s.mu.Lock()
	pending, ok := s.pendingQuestions["minion-q"]
	s.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, "q-1", pending.QuestionID)
	assert.Equal(t, "clarification", pending.BlockerType)
}

func TestHandleMinionErrorTimeoutSetsTimedOutStatus(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()
	require.NoError(t, s.deps.Store.AddMinion(ctx, &store.Minion{
		MinionID: "minion-err", Repo: "org/repo", IssueNumber: 4,
	}))
	m, err := s.deps.Store.GetMinion(ctx, "minion-err")
	require.NoError(t, err)

	s.handleMinionError(ctx, m, CallbackEvent{
		MinionID: "minion-err", Event: "error",
		Data: map[string]interface{}{"error_type": "timeout", "details": "wall clock exceeded"},
	})

	history, err := s.deps.Store.GetWorkHistory(ctx, "org/repo", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, store.StatusTimedOut, history[0].Status)
}

func TestHandleReviewResultOperatorTriggeredSkipsMinionLookup(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()

	assert.NotPanics(t, func() {
		s.handleReviewResult(ctx, reviewResultEvent{
			minionID: "",
			repo:     "org/repo",
			prNumber: 77,
		})
	})
}

func TestPauseResumeToggle(t *testing.T) {
	s := newTestScheduler(t)
	assert.False(t, s.isPaused())
	s.setPaused(true)
	assert.True(t, s.isPaused())
	s.setPaused(false)
	assert.False(t, s.isPaused())
}

func TestDefaultRepo(t *testing.T) {
	s := newTestScheduler(t)
	assert.Equal(t, "org/repo", s.defaultRepo())
	s.cfg.WatchedRepos = nil
	assert.Empty(t, s.defaultRepo())
}

func TestHandleConfigReloadedUpdatesWatchedReposAndLabels(t *testing.T) {
	s := newTestScheduler(t)
	newLabels := config.LabelsConfig{Work: "ready-to-work-v2"}

	s.handleConfigReloaded(ConfigReloadedEvent{
		WatchedRepos: []string{"org/repo", "org/other"},
		Labels:       newLabels,
	})

	assert.Equal(t, []string{"org/repo", "org/other"}, s.cfg.WatchedRepos)
	assert.Equal(t, newLabels, s.cfg.Labels)
}

func TestDispatchRoutesConfigReloadedEvent(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()

	assert.NotPanics(t, func() {
		s.dispatch(ctx, ConfigReloadedEvent{WatchedRepos: []string{"org/repo"}})
	})
}

func TestLLMProviderEnvIncludesTimeoutAndStreaming(t *testing.T) {
	cfg := &config.Config{
		Defaults: &config.Defaults{DefaultLLMProvider: "primary"},
		LLMProviderRegistry: config.NewLLMProviderRegistry(map[string]*config.LLMProviderConfig{
			"primary": {
				Type:           config.LLMProviderTypeOpenAICompatible,
				Model:          "sonnet",
				BaseURL:        "http://llm.local",
				RequestTimeout: 45 * time.Second,
				Streaming:      true,
			},
		}),
	}
	s := New(cfg, Deps{}, "http://overlord.local")

	env := s.llmProviderEnv()
	assert.Equal(t, "primary", env["LLM_PROVIDER"])
	assert.Equal(t, "sonnet", env["NEBULUS_MODEL"])
	assert.Equal(t, "http://llm.local", env["NEBULUS_BASE_URL"])
	assert.Equal(t, "45", env["NEBULUS_TIMEOUT"])
	assert.Equal(t, "true", env["NEBULUS_STREAMING"])
}

func TestLLMProviderEnvOmitsTimeoutAndStreamingWhenUnset(t *testing.T) {
	cfg := &config.Config{
		Defaults: &config.Defaults{DefaultLLMProvider: "primary"},
		LLMProviderRegistry: config.NewLLMProviderRegistry(map[string]*config.LLMProviderConfig{
			"primary": {Type: config.LLMProviderTypeOpenAICompatible, Model: "sonnet"},
		}),
	}
	s := New(cfg, Deps{}, "http://overlord.local")

	env := s.llmProviderEnv()
	_, hasTimeout := env["NEBULUS_TIMEOUT"]
	_, hasStreaming := env["NEBULUS_STREAMING"]
	assert.False(t, hasTimeout)
	assert.False(t, hasStreaming)
}

func TestToInt(t *testing.T) {
	n, ok := toInt(float64(42))
	assert.True(t, ok)
	assert.Equal(t, 42, n)

	n, ok = toInt("nope")
	assert.False(t, ok)
	assert.Zero(t, n)
}
