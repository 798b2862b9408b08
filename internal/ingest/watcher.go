package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/wesm/tilevault/internal/store"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher follows filesystem changes below a data source root and feeds
// them through a Scanner. Events are coalesced per path and applied after
// the tree has been quiet for the debounce duration.
type Watcher struct {
	scanner  *Scanner
	src      *store.DataSource
	debounce time.Duration
	log      *slog.Logger

	// Test hooks: ready runs once the tree is watched, applied after each
	// batch with the paths it covered.
	ready   func()
	applied func(paths []string)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounceDuration sets how long the tree must be quiet before
// pending changes are applied.
func WithDebounceDuration(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatcherLogger sets the watcher's logger.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = l }
}

// NewWatcher creates a watcher for src that applies changes with scanner.
func NewWatcher(scanner *Scanner, src *store.DataSource, opts ...WatcherOption) *Watcher {
	w := &Watcher{scanner: scanner, src: src, debounce: defaultDebounce, log: scanner.log}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is cancelled. Directories created while running
// are added to the watch set.
func (w *Watcher) Run(ctx context.Context) error {
	root, err := filepath.Abs(w.src.RootPath)
	if err != nil {
		return fmt.Errorf("abs path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := addTree(fw, root); err != nil {
		return err
	}
	w.log.Info("watching data source", "source", w.src.Name, "root", root)
	if w.ready != nil {
		w.ready()
	}

	pending := make(map[string]bool)
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if hidden(root, ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Lstat(ev.Name); err == nil && info.IsDir() {
					if err := addTree(fw, ev.Name); err != nil {
						w.log.Warn("watch new directory failed", "path", ev.Name, "error", err)
					}
				}
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			pending[ev.Name] = true
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", "source", w.src.Name, "error", err)

		case <-timer.C:
			w.apply(ctx, pending)
			pending = make(map[string]bool)
		}
	}
}

// apply scans pending paths in order and completes the last folder.
func (w *Watcher) apply(ctx context.Context, pending map[string]bool) {
	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if err := w.scanner.ScanPath(ctx, w.src, p); err != nil {
			w.log.Warn("apply change failed", "path", p, "error", err)
		}
	}
	w.scanner.sink.CompleteCurrentLocation(ctx)
	w.log.Debug("applied changes", "source", w.src.Name, "paths", len(paths))
	if w.applied != nil {
		w.applied(paths)
	}
}

// addTree watches dir and every non-hidden directory below it.
func addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := fw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

func hidden(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return true
		}
	}
	return false
}
