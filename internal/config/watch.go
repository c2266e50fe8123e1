package config

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Config whenever any of its source files change,
// grounded on the teacher's templates.Registry.StartWatching /
// watchLoop (internal/templates/registry.go): one fsnotify.Watcher,
// events debounced through a single timer before triggering a reload,
// errors passed to onChange rather than fatal.
type Watcher struct {
	paths    Paths
	debounce time.Duration
	onChange func(*Config, error)

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWatcher builds a Watcher over paths. onChange fires after every
// debounced reload, with either the freshly loaded Config or the error
// Load returned. A zero debounce defaults to 250ms.
func NewWatcher(paths Paths, debounce time.Duration, onChange func(*Config, error)) *Watcher {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	return &Watcher{paths: paths, debounce: debounce, onChange: onChange}
}

// Start begins watching. Calling Start twice is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watcher != nil {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	for _, p := range []string{w.paths.WorkspaceSettings, w.paths.AgentConfig, w.paths.MorphConfig} {
		if p == "" {
			continue
		}
		_ = fsw.Add(p) // best-effort: a file that does not exist yet fails to be added and is not watched.
	}
	w.watcher = fsw
	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(watchCtx, fsw)
	return nil
}

// Close stops watching and releases the underlying fsnotify handle.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	fsw := w.watcher
	w.watcher = nil
	w.mu.Unlock()

	var err error
	if fsw != nil {
		err = fsw.Close()
	}
	w.wg.Wait()
	return err
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer w.wg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() {
			cfg, err := Load(w.paths)
			if w.onChange != nil {
				w.onChange(cfg, err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if w.onChange != nil {
				w.onChange(nil, err)
			}
		}
	}
}
