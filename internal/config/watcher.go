package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FlagsHandler receives re-loaded provider flags after a config change.
type FlagsHandler func(ProviderFlags)

// Watcher hot-reloads provider enable flags when the config file
// changes on disk. Only the provider flags are swapped at runtime; loop
// knobs and timeouts stay fixed for the life of the process.
type Watcher struct {
	path    string
	logger  *zap.Logger
	watcher *fsnotify.Watcher

	mu       sync.RWMutex
	flags    ProviderFlags
	handlers []FlagsHandler

	// debounce window for editors that fire multiple write events
	debounce time.Duration
	stopped  chan struct{}
}

// NewWatcher builds a watcher over the config file at path with the
// given initial flags.
func NewWatcher(path string, initial ProviderFlags, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}
	return &Watcher{
		path:     path,
		logger:   logger,
		watcher:  fw,
		flags:    initial,
		debounce: 250 * time.Millisecond,
		stopped:  make(chan struct{}),
	}, nil
}

// OnChange registers a handler invoked after each successful reload.
func (w *Watcher) OnChange(h FlagsHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Flags returns the current provider flags.
func (w *Watcher) Flags() ProviderFlags {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.flags
}

// Start runs the watch loop until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.loop(ctx)
}

// Stop terminates the watch loop and releases the fsnotify watcher.
func (w *Watcher) Stop() {
	select {
	case <-w.stopped:
	default:
		close(w.stopped)
	}
	_ = w.watcher.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	var timer *time.Timer
	reload := func() {
		cfg, err := Load(w.path)
		if err != nil {
			w.logger.Warn("Config reload failed, keeping previous flags",
				zap.String("path", w.path), zap.Error(err))
			return
		}
		w.mu.Lock()
		w.flags = cfg.Providers
		handlers := make([]FlagsHandler, len(w.handlers))
		copy(handlers, w.handlers)
		w.mu.Unlock()
		w.logger.Info("Provider flags reloaded", zap.String("path", w.path))
		for _, h := range handlers {
			h(cfg.Providers)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopped:
			return
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != filepath.Clean(w.path) {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}
