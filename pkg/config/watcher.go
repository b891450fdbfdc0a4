package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches overlord.yaml for writes and reloads configuration
// without requiring a process restart: an fsnotify.Watcher drained by a
// single goroutine, filtered to the one filename that matters, reloading
// on Write events.
type Watcher struct {
	configDir string
	fsWatcher *fsnotify.Watcher
	logger    *slog.Logger
	onReload  func(*Config)
	stopCh    chan struct{}
}

// NewWatcher builds a Watcher over configDir. onReload is invoked with the
// freshly validated configuration every time overlord.yaml changes; a
// reload that fails to load or validate is logged and skipped, leaving the
// previously loaded configuration in effect.
func NewWatcher(configDir string, onReload func(*Config)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(configDir); err != nil {
		fsWatcher.Close()
		return nil, err
	}
	return &Watcher{
		configDir: configDir,
		fsWatcher: fsWatcher,
		logger:    slog.Default().With("component", "config_watcher"),
		onReload:  onReload,
		stopCh:    make(chan struct{}),
	}, nil
}

// Run drains filesystem events until ctx is cancelled or Stop is called.
// Only writes to overlord.yaml trigger a reload; every other watched-
// directory event (editor swap files, .env changes, etc.) is ignored.
func (w *Watcher) Run(ctx context.Context) {
	target := filepath.Join(w.configDir, "overlord.yaml")
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, target, event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, target string, event fsnotify.Event) {
	if event.Name != target {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	w.logger.Info("overlord.yaml changed, reloading configuration")
	cfg, err := Initialize(ctx, w.configDir)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous configuration", "error", err)
		return
	}
	w.onReload(cfg)
}

// Stop closes the underlying fsnotify watcher and ends Run.
func (w *Watcher) Stop() {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	w.fsWatcher.Close()
}
