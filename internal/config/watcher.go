package config

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeCallback is invoked with the freshly loaded configuration after the
// watched file changes on disk.
type ChangeCallback func(cfg Config)

// Watcher re-reads the node configuration file when it changes, so settings
// like the log level can be adjusted without a restart.
type Watcher struct {
	path      string
	log       *zap.Logger
	fsWatcher *fsnotify.Watcher

	mu        sync.Mutex
	callbacks []ChangeCallback

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher starts watching the directory containing the config file.
// Editors and config-management tools replace files instead of writing them
// in place, so the watch is on the parent directory.
func NewWatcher(path string, log *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{path: path, log: log, fsWatcher: fsw}, nil
}

// OnChange registers a callback for config reloads.
func (w *Watcher) OnChange(cb ChangeCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Start begins dispatching reload events until the context is canceled or
// Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.fsWatcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(w.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				w.reload()
			case err, ok := <-w.fsWatcher.Errors:
				if !ok {
					return
				}
				w.log.Warn("config watcher error", zap.Error(err))
			}
		}
	}()
}

// Stop halts the watcher and releases the underlying file-system watch.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.fsWatcher.Close()
	w.wg.Wait()
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Warn("config reload failed", zap.Error(err), zap.String("path", w.path))
		return
	}

	w.mu.Lock()
	callbacks := append([]ChangeCallback(nil), w.callbacks...)
	w.mu.Unlock()

	w.log.Info("config reloaded", zap.String("path", w.path))
	for _, cb := range callbacks {
		cb(cfg)
	}
}
