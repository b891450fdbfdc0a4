package containers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStubManager(t *testing.T) *Manager {
	t.Helper()
	return New(Config{ImageName: "overlord/minion:latest", WorkspaceBaseDir: t.TempDir(), Stub: true}, nil)
}

func TestSpawnMinionGeneratesIDAndRecordsEnv(t *testing.T) {
	m := newStubManager(t)

	id, err := m.SpawnMinion(context.Background(), SpawnRequest{
		Repo:        "org/repo",
		IssueNumber: 42,
		GitHubToken: "tok",
		CallbackURL: "http://overlord.local/callback",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	list, err := m.ListMinions(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].MinionID)
	assert.Equal(t, "running", list[0].State)
}

func TestSpawnMinionRejectsMissingRequiredFields(t *testing.T) {
	m := newStubManager(t)
	_, err := m.SpawnMinion(context.Background(), SpawnRequest{IssueNumber: 1})
	assert.Error(t, err)
}

func TestKillMinionTransitionsState(t *testing.T) {
	m := newStubManager(t)
	id, err := m.SpawnMinion(context.Background(), SpawnRequest{
		Repo: "org/repo", IssueNumber: 1, GitHubToken: "tok", CallbackURL: "http://x/callback",
	})
	require.NoError(t, err)

	ok, err := m.KillMinion(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)

	list, err := m.ListMinions(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "exited", list[0].State)
}

func TestKillMinionUnknownReturnsFalse(t *testing.T) {
	m := newStubManager(t)
	ok, err := m.KillMinion(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCleanupDeadContainersRemovesKilledOnly(t *testing.T) {
	m := newStubManager(t)
	id1, _ := m.SpawnMinion(context.Background(), SpawnRequest{Repo: "org/repo", IssueNumber: 1, GitHubToken: "t", CallbackURL: "http://x"})
	id2, _ := m.SpawnMinion(context.Background(), SpawnRequest{Repo: "org/repo", IssueNumber: 2, GitHubToken: "t", CallbackURL: "http://x"})
	_, _ = m.KillMinion(context.Background(), id1)

	n, err := m.CleanupDeadContainers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := m.ListMinions(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id2, list[0].MinionID)
}

func TestBuildEnvIncludesRequiredKeys(t *testing.T) {
	env := buildEnv(SpawnRequest{
		MinionID:    "minion-x",
		Repo:        "org/repo",
		IssueNumber: 7,
		GitHubToken: "tok",
		CallbackURL: "http://overlord/callback",
		ScopeJSON:   []byte(`["src/**"]`),
	})
	assert.Contains(t, env, "MINION_ID=minion-x")
	assert.Contains(t, env, "GITHUB_REPO=org/repo")
	assert.Contains(t, env, "GITHUB_ISSUE=7")
	assert.Contains(t, env, "GITHUB_TOKEN=tok")
	assert.Contains(t, env, "OVERLORD_CALLBACK_URL=http://overlord/callback")
	assert.Contains(t, env, `MINION_SCOPE=["src/**"]`)
}
