package workspace

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceDelay = 300 * time.Millisecond

// Watcher rebuilds the aggregated context when files change on disk
// without going through Write or Delete.
type Watcher struct {
	ws    *Workspace
	delay time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher returns a watcher for ws.
func NewWatcher(ws *Workspace) *Watcher {
	return &Watcher{ws: ws, delay: debounceDelay}
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("workspace watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.ws.Root()); err != nil {
		return fmt.Errorf("watch %s: %w", w.ws.Root(), err)
	}
	w.ws.logger.Info("workspace watcher started", "path", w.ws.Root())

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if shouldRebuild(event) {
				w.schedule()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.ws.logger.Warn("workspace watcher error", "error", err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, w.ws.Rebuild)
}

func shouldRebuild(event fsnotify.Event) bool {
	if isScratch(filepath.Base(event.Name)) {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}
