package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/sitepress/internal/logfields"
)

// Watcher feeds file-system events under a root directory into a Batcher,
// classifying each event as add/change or remove and storing paths relative
// to the root. New subdirectories are watched as they appear.
type Watcher struct {
	root    string
	fsw     *fsnotify.Watcher
	batcher *Batcher
}

// NewWatcher watches root recursively and classifies events into batcher.
func NewWatcher(root string, batcher *Batcher) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve watch root: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	w := &Watcher{root: abs, fsw: fsw, batcher: batcher}
	if err := w.addDirsRecursive(abs); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Close releases the underlying watcher.
func (w *Watcher) Close() error { return w.fsw.Close() }

// Run dispatches events until ctx is canceled or the watcher closes.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("watcher error", logfields.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if shouldIgnore(ev.Name) {
		return
	}
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}
	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		if fi, statErr := os.Stat(ev.Name); statErr == nil && fi.IsDir() {
			_ = w.addDirsRecursive(ev.Name)
			return
		}
		slog.Debug("File change detected", logfields.Path(rel), slog.String("op", ev.Op.String()))
		w.batcher.Add(rel)
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		slog.Debug("File removal detected", logfields.Path(rel), slog.String("op", ev.Op.String()))
		w.batcher.Remove(rel)
	}
}

func (w *Watcher) addDirsRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(filepath.Base(path), ".") && path != root {
				return filepath.SkipDir
			}
			if err := w.fsw.Add(path); err != nil {
				slog.Warn("watch add failed", logfields.Path(path), logfields.Error(err))
			}
		}
		return nil
	})
}

// shouldIgnore returns true for paths that should not trigger rebuilds:
// hidden files, editor temp/swap files, OS junk.
func shouldIgnore(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}
	if strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp") ||
		strings.HasSuffix(base, ".swx") ||
		(strings.HasPrefix(base, "#") && strings.HasSuffix(base, "#")) {
		return true
	}
	return base == "Thumbs.db"
}
