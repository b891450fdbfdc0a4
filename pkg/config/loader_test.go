package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeOverlordYAMLFile(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "overlord.yaml"), []byte(body), 0o644))
}

func TestInitializeAppliesDefaultsWhenSectionsOmitted(t *testing.T) {
	dir := t.TempDir()
	writeOverlordYAMLFile(t, dir, "watched_repos:\n  - org/repo\n")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"org/repo"}, cfg.WatchedRepos)
	assert.Equal(t, DefaultSchedulerConfig(), cfg.Scheduler)
	assert.Equal(t, DefaultLabelsConfig(), cfg.Labels)
}

func TestInitializeMergesPartialOverridesOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	writeOverlordYAMLFile(t, dir, `
watched_repos:
  - org/repo
labels:
  work: custom-ready
  needs_attention: custom-needs-attention
scheduler:
  max_concurrent_minions: 9
checks:
  test_command: "make test"
retention:
  work_history_retention_days: 30
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "custom-ready", cfg.Labels.Work)
	assert.Equal(t, "custom-needs-attention", cfg.Labels.NeedsAttention)
	assert.Equal(t, DefaultLabelsConfig().InProgress, cfg.Labels.InProgress, "fields absent from the override stay at their default")

	assert.Equal(t, 9, cfg.Scheduler.MaxConcurrentMinions)
	assert.Equal(t, DefaultSchedulerConfig().TurnLimit, cfg.Scheduler.TurnLimit)
	assert.Equal(t, DefaultSchedulerConfig().HeartbeatInterval, cfg.Scheduler.HeartbeatInterval)

	assert.Equal(t, "make test", cfg.Checks.TestCommand)
	assert.Equal(t, DefaultChecksConfig().LintCommand, cfg.Checks.LintCommand)

	assert.Equal(t, 30, cfg.Retention.WorkHistoryRetentionDays)
	assert.Equal(t, DefaultRetentionConfig().CleanupInterval, cfg.Retention.CleanupInterval)
}

func TestInitializeRejectsInvalidMergedConfig(t *testing.T) {
	dir := t.TempDir()
	writeOverlordYAMLFile(t, dir, `
watched_repos:
  - org/repo
scheduler:
  answer_poll_interval: 600000000000
  answer_timeout: 300000000000
`)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
}

func TestInitializeOverridesSchedulerDuration(t *testing.T) {
	dir := t.TempDir()
	writeOverlordYAMLFile(t, dir, `
watched_repos:
  - org/repo
scheduler:
  poll_interval: 120000000000
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.PollInterval)
}
