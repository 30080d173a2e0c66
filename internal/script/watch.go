package script

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce collapses the burst of events an editor produces on save.
const DefaultDebounce = 300 * time.Millisecond

// Watcher reports changes to a set of files. It watches their directories
// so that editors replacing a file by rename are seen too.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	logger      *zap.Logger
	files       map[string]bool
	dirs        map[string]bool
	debounceMap map[string]time.Time
	debounceDur time.Duration

	stats WatcherStats
}

// WatcherStats counts watcher activity.
type WatcherStats struct {
	Events        int
	Changes       int
	Errors        int
	LastEventPath string
	LastEventTime time.Time
}

// NewWatcher creates a watcher. A zero debounce means DefaultDebounce.
func NewWatcher(logger *zap.Logger, debounce time.Duration) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	return &Watcher{
		watcher:     fw,
		logger:      logger,
		files:       make(map[string]bool),
		dirs:        make(map[string]bool),
		debounceMap: make(map[string]time.Time),
		debounceDur: debounce,
	}, nil
}

// Add starts watching paths.
func (w *Watcher) Add(paths ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		w.files[abs] = true
		dir := filepath.Dir(abs)
		if w.dirs[dir] {
			continue
		}
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		w.dirs[dir] = true
		w.logger.Debug("watching directory", zap.String("dir", dir))
	}
	return nil
}

// Run delivers settled changes to onChange until ctx is done or the
// watcher is closed. onChange runs on the Run goroutine, so a slow
// callback delays later notifications but never overlaps itself.
func (w *Watcher) Run(ctx context.Context, onChange func(path string)) error {
	ticker := time.NewTicker(w.debounceDur / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", zap.Error(err))
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-ticker.C:
			for _, path := range w.settled() {
				w.logger.Info("script source changed", zap.String("path", path))
				onChange(path)
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}
	path, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.files[path] {
		return
	}
	w.stats.Events++
	w.stats.LastEventPath = path
	w.stats.LastEventTime = time.Now()
	w.debounceMap[path] = time.Now()
}

// settled returns the paths whose last event is older than the debounce
// window.
func (w *Watcher) settled() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	var out []string
	for path, at := range w.debounceMap {
		if now.Sub(at) >= w.debounceDur {
			out = append(out, path)
			delete(w.debounceMap, path)
		}
	}
	w.stats.Changes += len(out)
	return out
}

// Stats returns the current watcher statistics.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Close stops watching. A running Run returns.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
