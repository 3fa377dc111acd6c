package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeFunc is called once per debounced burst of structural changes.
// trigger is the last path that changed.
type ChangeFunc func(ctx context.Context, trigger string)

// Options configures the watch behaviour.
type Options struct {
	// Dir is the root directory to watch recursively.
	Dir string

	// Extensions are the entry point suffixes worth reacting to.
	Extensions []string

	// Debounce is the quiet period before onChange runs.
	Debounce time.Duration

	// Logger is used for structured logging.
	Logger *slog.Logger
}

// DefaultOptions returns sensible default watch options.
func DefaultOptions() Options {
	return Options{
		Extensions: []string{".js", ".ts"},
		Debounce:   300 * time.Millisecond,
		Logger:     slog.Default(),
	}
}

// Run watches opts.Dir and blocks until ctx is cancelled.
func Run(ctx context.Context, opts Options, onChange ChangeFunc) error {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := addRecursive(watcher, opts.Dir); err != nil {
		return fmt.Errorf("watching directory: %w", err)
	}

	opts.Logger.Debug("watching for entry point changes",
		slog.String("dir", opts.Dir),
		slog.Duration("debounce", opts.Debounce),
	)

	debouncer := NewDebouncer(opts.Debounce, opts.Logger, func(path string) {
		onChange(ctx, path)
	})
	defer debouncer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			isDir := false
			if event.Has(fsnotify.Create) {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					isDir = true

					// A new directory may already hold files; watch it and
					// let the rescan pick them up.
					if addErr := addRecursive(watcher, event.Name); addErr != nil {
						opts.Logger.Warn("cannot watch new directory",
							slog.String("dir", event.Name),
							slog.String("error", addErr.Error()),
						)
					}
				}
			}

			if !isRelevant(event, isDir, opts.Extensions) {
				continue
			}

			debouncer.Trigger(event.Name)

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			opts.Logger.Error("watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// addRecursive walks root and adds all directories to the watcher.
func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			// Skip hidden directories (e.g., .git).
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}

			return watcher.Add(path)
		}

		return nil
	})
}

// isRelevant reports whether event can change the set of entry points.
// Writes never do; creations, removals and renames do when they involve a
// matching file or a directory. Removed paths cannot be stat'ed, so a
// removed name without an extension is assumed to be a directory.
func isRelevant(event fsnotify.Event, isDir bool, exts []string) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}

	name := filepath.Base(event.Name)

	// Ignore editor temporary files and hidden files.
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".swp") || strings.HasPrefix(name, "#") {
		return false
	}

	if isDir {
		return true
	}

	for _, ext := range exts {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}

	return !event.Has(fsnotify.Create) && filepath.Ext(name) == ""
}
