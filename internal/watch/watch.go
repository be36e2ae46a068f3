// Package watch reports changes to the COBOL sources under a directory tree.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/phobologic/cobolmap/internal/classify"
	"github.com/phobologic/cobolmap/internal/discover"
)

// DefaultDebounce is the quiet period used when Watcher.Debounce is zero.
const DefaultDebounce = 250 * time.Millisecond

// Watcher watches Root recursively. Directories skipped by discovery are not
// watched; directories created later are picked up.
type Watcher struct {
	Root     string
	Debounce time.Duration
	Filter   discover.Options
	Logger   *slog.Logger
}

// Run blocks until ctx is done, calling onChange with the sorted,
// slash-separated relative paths of COBOL files touched during each quiet
// period. onChange runs on the watch goroutine.
func (w *Watcher) Run(ctx context.Context, onChange func(changed []string)) error {
	logger := w.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	root, err := filepath.Abs(w.Root)
	if err != nil {
		return fmt.Errorf("resolving root: %w", err)
	}
	root = filepath.Clean(root)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fsw.Close()

	if err := addRecursive(fsw, root, root); err != nil {
		return fmt.Errorf("watching %s: %w", root, err)
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	pending := make(map[string]struct{})

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			name := filepath.Clean(event.Name)

			if event.Has(fsnotify.Create) {
				if info, statErr := os.Stat(name); statErr == nil && info.IsDir() {
					if err := addRecursive(fsw, root, name); err != nil {
						logger.Warn("watching new directory", "path", name, "error", err)
					}
					continue
				}
			}

			rel, ok := w.relevant(root, name)
			if !ok {
				continue
			}
			logger.Debug("change", "path", rel, "op", event.Op.String())
			pending[rel] = struct{}{}
			timer.Reset(debounce)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			sort.Strings(changed)
			clear(pending)
			onChange(changed)

		case watchErr, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch: %w", watchErr)
		}
	}
}

// relevant returns the relative path of a COBOL source admitted by the
// filter.
func (w *Watcher) relevant(root, name string) (string, bool) {
	if _, ok := classify.KindForExtension(filepath.Ext(name)); !ok {
		return "", false
	}
	rel, err := filepath.Rel(root, name)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	return rel, w.Filter.Match(rel)
}

func addRecursive(fsw *fsnotify.Watcher, root, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && discover.SkipDir(d.Name()) {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}
