package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watchDebounce coalesces file-change bursts into a single re-source.
const watchDebounce = 50 * time.Millisecond

// Watcher re-sources plugins when their declared watch paths change
// (dev watch mode). Change bursts are debounced: a plugin re-sources
// only after its paths have been quiet for the debounce window.
type Watcher struct {
	pipeline *Pipeline
	watcher  *fsnotify.Watcher
	logger   *zap.Logger

	// path -> plugins watching it
	paths map[string][]*Plugin

	mu            sync.Mutex
	dirty         map[string]*Plugin
	debounceTimer *time.Timer

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewWatcher builds a watcher over every plugin that declares watch paths.
// Returns nil when no plugin watches anything.
func NewWatcher(pipeline *Pipeline, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	paths := make(map[string][]*Plugin)
	for _, plugin := range pipeline.Plugins() {
		for _, path := range plugin.WatchPaths {
			paths[path] = append(paths[path], plugin)
		}
	}
	if len(paths) == 0 {
		return nil, nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	for path := range paths {
		if err := fsw.Add(path); err != nil {
			logger.Warn("cannot watch path", zap.String("path", path), zap.Error(err))
		}
	}

	return &Watcher{
		pipeline: pipeline,
		watcher:  fsw,
		logger:   logger.With(zap.String("component", "source-watcher")),
		paths:    paths,
		dirty:    make(map[string]*Plugin),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins watching in the background.
func (w *Watcher) Start(ctx context.Context) {
	go w.watchLoop(ctx)
	w.logger.Info("watch mode active", zap.Int("paths", len(w.paths)))
}

// Stop stops watching and cancels any pending debounce.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.watcher.Close()
		w.mu.Lock()
		if w.debounceTimer != nil {
			w.debounceTimer.Stop()
		}
		w.mu.Unlock()
	})
}

func (w *Watcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.markDirty(ctx, event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) markDirty(ctx context.Context, changed string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for path, plugins := range w.paths {
		if path == changed || isUnder(changed, path) {
			for _, plugin := range plugins {
				w.dirty[plugin.Name] = plugin
			}
		}
	}
	if len(w.dirty) == 0 {
		return
	}

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(watchDebounce, func() {
		w.resourceDirty(ctx)
	})
}

func (w *Watcher) resourceDirty(ctx context.Context) {
	w.mu.Lock()
	pending := w.dirty
	w.dirty = make(map[string]*Plugin)
	w.mu.Unlock()

	for _, plugin := range pending {
		select {
		case <-w.stopCh:
			return
		default:
		}
		w.logger.Info("re-sourcing after file change", zap.String("plugin", plugin.Name))
		if err := w.pipeline.RunPlugin(ctx, plugin); err != nil {
			w.logger.Error("re-source failed",
				zap.String("plugin", plugin.Name), zap.Error(err))
		}
	}
}

func isUnder(child, dir string) bool {
	return len(child) > len(dir) && child[:len(dir)] == dir && child[len(dir)] == '/'
}
