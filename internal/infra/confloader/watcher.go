package confloader

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is the quiet period before a file change is reported.
const DefaultSettle = 200 * time.Millisecond

// Watcher reports changes to one configuration file.
type Watcher struct {
	path   string
	settle time.Duration
	logger *slog.Logger
}

// NewWatcher watches path. logger may be nil.
func NewWatcher(path string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{path: path, settle: DefaultSettle, logger: logger}
}

// SetSettle changes the quiet period. Must be called before Run.
func (w *Watcher) SetSettle(d time.Duration) {
	w.settle = d
}

// Run calls onChange after the file is written or replaced, coalescing
// bursts of events, until ctx is done. The parent directory is watched
// so that rename-based saves are seen.
func (w *Watcher) Run(ctx context.Context, onChange func(path string)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("confloader: create watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("confloader: watch %s: %w", dir, err)
	}
	base := filepath.Base(w.path)
	w.logger.Debug("watching configuration file", "path", w.path)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if pending && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.settle)
			pending = true
		case <-timer.C:
			pending = false
			w.logger.Info("configuration file changed", "path", w.path)
			onChange(w.path)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("configuration watcher error", "error", err)
		}
	}
}
