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

func writeOverlordYAML(t *testing.T, dir string, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "overlord.yaml"), []byte(body), 0o644))
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	writeOverlordYAML(t, dir, "watched_repos:\n  - org/repo\n")

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(dir, func(cfg *Config) { reloaded <- cfg })
	require.NoError(t, err)
	t.Cleanup(w.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx)

	writeOverlordYAML(t, dir, "watched_repos:\n  - org/repo\n  - org/other\n")

	select {
	case cfg := <-reloaded:
		assert.Equal(t, []string{"org/repo", "org/other"}, cfg.WatchedRepos)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcherSkipsUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	writeOverlordYAML(t, dir, "watched_repos:\n  - org/repo\n")

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(dir, func(cfg *Config) { reloaded <- cfg })
	require.NoError(t, err)
	t.Cleanup(w.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FOO=bar\n"), 0o644))

	select {
	case <-reloaded:
		t.Fatal("unrelated file write must not trigger a reload")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherKeepsPreviousConfigOnInvalidReload(t *testing.T) {
	dir := t.TempDir()
	writeOverlordYAML(t, dir, "watched_repos:\n  - org/repo\n")

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(dir, func(cfg *Config) { reloaded <- cfg })
	require.NoError(t, err)
	t.Cleanup(w.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx)

	writeOverlordYAML(t, dir, "watched_repos:\n  - org/repo\nreview:\n  merge_method: bogus\n")

	select {
	case <-reloaded:
		t.Fatal("invalid configuration must not invoke onReload")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherStopEndsRun(t *testing.T) {
	dir := t.TempDir()
	writeOverlordYAML(t, dir, "watched_repos:\n  - org/repo\n")

	w, err := NewWatcher(dir, func(*Config) {})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	w.Stop()
	assert.NotPanics(t, func() { w.Stop() })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
