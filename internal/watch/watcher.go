// Package watch re-triggers extraction when the files that define it change:
// the host binary, the schema and the heap snapshot.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dbsmedya/goextract/internal/logger"
)

// DefaultDebounce is the quiet period used when none is configured.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reports changes to a fixed set of files. Parent directories are
// watched instead of the files themselves so that files replaced by rename
// keep being tracked.
type Watcher struct {
	watcher  *fsnotify.Watcher
	files    map[string]bool
	debounce time.Duration
	logger   *logger.Logger

	mu      sync.Mutex
	pending map[string]bool
	timer   *time.Timer

	stopOnce sync.Once
}

// New watches paths. Empty entries are ignored; at least one path is required.
func New(paths []string, debounce time.Duration, log *logger.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = logger.NewNop()
	}
	files := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files to watch")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	return &Watcher{
		watcher:  fw,
		files:    files,
		debounce: debounce,
		logger:   log,
		pending:  make(map[string]bool),
	}, nil
}

// Files returns the watched files in sorted order.
func (w *Watcher) Files() []string {
	out := make([]string, 0, len(w.files))
	for f := range w.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Run delivers batches of changed files to fn until ctx ends. Changes are
// coalesced until no event arrived for the debounce period. fn runs on the
// Run goroutine, so batches never overlap; changes seen while fn runs form
// the next batch.
func (w *Watcher) Run(ctx context.Context, fn func(ctx context.Context, changed []string)) error {
	fire := make(chan struct{}, 1)
	defer w.stopTimer()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debugw("File changed", "file", event.Name, "op", event.Op.String())
			w.mu.Lock()
			w.pending[filepath.Clean(event.Name)] = true
			w.mu.Unlock()
			w.resetTimer(fire)

		case <-fire:
			if changed := w.drain(); len(changed) > 0 {
				fn(ctx, changed)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warnw("File watcher error", "error", err)
		}
	}
}

// Close stops watching. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		w.stopTimer()
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	return w.files[abs]
}

func (w *Watcher) drain() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.pending))
	for f := range w.pending {
		out = append(out, f)
	}
	sort.Strings(out)
	w.pending = make(map[string]bool)
	return out
}

func (w *Watcher) resetTimer(fire chan struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case fire <- struct{}{}:
		default:
		}
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
