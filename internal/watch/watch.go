// Package watch reports working-directory changes with debouncing.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"gg/internal/ignore"
)

// Watcher watches a directory tree and calls OnChange with the set of
// changed paths once events have been quiet for the debounce interval.
type Watcher struct {
	root     string
	debounce time.Duration
	ignore   *ignore.Matcher
	onChange func(paths []string)
	logger   *slog.Logger

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	started bool
	closed  bool
}

// New creates a watcher over root and every non-ignored directory below it.
func New(root string, debounce time.Duration, m *ignore.Matcher, onChange func(paths []string), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = ignore.Compile(ignore.Defaults)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	w := &Watcher{
		root:     filepath.Clean(root),
		debounce: debounce,
		ignore:   m,
		onChange: onChange,
		logger:   logger,
		fsw:      fsw,
	}
	if err := w.addTree(w.root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// addTree watches dir and its non-ignored subdirectories.
func (w *Watcher) addTree(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path != dir && os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if rel, ok := w.rel(path); ok && rel != "." && w.ignore.Match(rel, true) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) rel(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// Run delivers debounced change sets until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("watcher is closed")
	}
	if w.started {
		w.mu.Unlock()
		return fmt.Errorf("watcher already started")
	}
	w.started = true
	w.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	changed := make(chan string, 64)

	g.Go(func() error {
		defer close(changed)
		for {
			select {
			case <-ctx.Done():
				return nil
			case event, ok := <-w.fsw.Events:
				if !ok {
					return nil
				}
				rel, ok := w.handleEvent(event)
				if !ok {
					continue
				}
				select {
				case changed <- rel:
				case <-ctx.Done():
					return nil
				}
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return nil
				}
				w.logger.Warn("watcher error", slog.String("err", err.Error()))
			}
		}
	})

	g.Go(func() error {
		pending := make(map[string]bool)
		timer := time.NewTimer(w.debounce)
		if !timer.Stop() {
			<-timer.C
		}
		defer timer.Stop()

		for {
			select {
			case rel, ok := <-changed:
				if !ok {
					return nil
				}
				pending[rel] = true
				timer.Reset(w.debounce)
			case <-timer.C:
				if len(pending) == 0 {
					continue
				}
				paths := make([]string, 0, len(pending))
				for p := range pending {
					paths = append(paths, p)
				}
				sort.Strings(paths)
				pending = make(map[string]bool)
				w.onChange(paths)
			}
		}
	})

	err := g.Wait()
	w.Close()
	return err
}

// handleEvent returns the relative path an event concerns, or false when
// the event is ignored. Newly created directories are added to the watch.
func (w *Watcher) handleEvent(event fsnotify.Event) (string, bool) {
	if event.Op == fsnotify.Chmod {
		return "", false
	}
	rel, ok := w.rel(event.Name)
	if !ok || rel == "." || rel == ".." || len(rel) > 2 && rel[:3] == "../" {
		return "", false
	}

	isDir := false
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			isDir = true
		}
	}
	if w.ignore.Match(rel, isDir) {
		return "", false
	}
	if isDir {
		if err := w.addTree(event.Name); err != nil {
			w.logger.Warn("watching new directory", slog.String("path", rel), slog.String("err", err.Error()))
		}
	}
	return rel, true
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.fsw.Close()
}
