// Package watch re-runs a callback when files under a summarized tree change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/skelly-dev/sumtree/internal/ignore"
)

// DefaultDebounce groups bursts of events such as save followed by format.
const DefaultDebounce = 500 * time.Millisecond

// Options tunes a Daemon.
type Options struct {
	Debounce time.Duration
	// Ignore lists root-relative paths whose events never trigger a run,
	// typically the cache file and the output directory.
	Ignore []string
	Logger *slog.Logger
}

// Daemon watches every non-skipped directory below root.
type Daemon struct {
	root     string
	filter   *ignore.Filter
	watcher  *fsnotify.Watcher
	debounce time.Duration
	ignored  []string
	log      *slog.Logger
}

// New creates a Daemon. Call Close when done.
func New(root string, filter *ignore.Filter, opts Options) (*Daemon, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid root path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	ignored := make([]string, 0, len(opts.Ignore))
	for _, p := range opts.Ignore {
		ignored = append(ignored, strings.TrimSuffix(filepath.ToSlash(filepath.Clean(p)), "/"))
	}
	return &Daemon{
		root:     absRoot,
		filter:   filter,
		watcher:  watcher,
		debounce: opts.Debounce,
		ignored:  ignored,
		log:      log.With("component", "watch"),
	}, nil
}

// Close stops the underlying watcher.
func (d *Daemon) Close() error {
	return d.watcher.Close()
}

// Run blocks until ctx is done, calling onChange with the sorted
// root-relative paths that changed in each quiet period. A failing onChange
// is logged and watching continues.
func (d *Daemon) Run(ctx context.Context, onChange func(ctx context.Context, changed []string) error) error {
	if err := d.addDirs(d.root); err != nil {
		return fmt.Errorf("failed to add watch dirs: %w", err)
	}

	pending := make(map[string]bool)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-d.watcher.Events:
			if !ok {
				return nil
			}
			rel, relevant := d.relevant(event)
			if !relevant {
				continue
			}
			pending[rel] = true
			timer.Reset(d.debounce)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return nil
			}
			d.log.Warn("watcher error", "error", err)

		case <-timer.C:
			changed := make([]string, 0, len(pending))
			for rel := range pending {
				changed = append(changed, rel)
			}
			slices.Sort(changed)
			clear(pending)

			d.log.Info("change detected", "paths", len(changed))
			if err := onChange(ctx, changed); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				d.log.Error("re-run failed", "error", err)
			}
		}
	}
}

func (d *Daemon) relevant(event fsnotify.Event) (string, bool) {
	if event.Op == fsnotify.Chmod {
		return "", false
	}
	rel, err := filepath.Rel(d.root, event.Name)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if d.isIgnored(rel) {
		return "", false
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if d.filter.ShouldSkipDir(rel) {
				return "", false
			}
			if err := d.addDirs(event.Name); err != nil {
				d.log.Warn("failed to watch new directory", "path", rel, "error", err)
			}
			return rel, true
		}
	}
	// Removed directories cannot be told apart from removed files here.
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		return rel, !d.filter.ShouldSkipFile(rel) || !d.filter.ShouldSkipDir(rel)
	}
	return rel, !d.filter.ShouldSkipFile(rel)
}

func (d *Daemon) isIgnored(rel string) bool {
	for _, p := range d.ignored {
		if rel == p || strings.HasPrefix(rel, p+"/") {
			return true
		}
	}
	return false
}

func (d *Daemon) addDirs(start string) error {
	return filepath.WalkDir(start, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(d.root, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if rel != "." && (d.filter.ShouldSkipDir(rel) || d.isIgnored(rel)) {
			return filepath.SkipDir
		}
		return d.watcher.Add(p)
	})
}
