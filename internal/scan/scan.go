// Package scan discovers bundler entry points by walking a directory tree.
package scan

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// DefaultExtensions are the suffixes matched when the caller passes none.
var DefaultExtensions = []string{".js", ".ts"}

// ErrNoEntryPoints is returned by Require when a scan matched nothing.
var ErrNoEntryPoints = errors.New("no entry points found")

// Enumerate returns every regular file below root whose name ends in one of
// exts. Paths are root joined with the relative path using forward slashes,
// in traversal order: a directory's own files first, then each subdirectory
// in listing order. Directories are never returned.
func Enumerate(fsys afero.Fs, root string, exts []string) ([]string, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}

	var (
		files   []string
		stack   = []string{trimSlash(root)}
		visited = make(map[string]struct{})
	)

	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		key := filepath.Clean(filepath.FromSlash(dir))
		if _, seen := visited[key]; seen {
			continue
		}

		visited[key] = struct{}{}

		entries, err := afero.ReadDir(fsys, dir)
		if err != nil {
			return nil, fmt.Errorf("reading directory %q: %w", dir, err)
		}

		var subdirs []string

		for _, entry := range entries {
			p := joinPath(dir, entry.Name())

			if entry.IsDir() {
				subdirs = append(subdirs, p)
				continue
			}

			if hasExtension(entry.Name(), exts) {
				files = append(files, p)
			}
		}

		// Reverse push keeps subdirectories in listing order when popped.
		for i := len(subdirs) - 1; i >= 0; i-- {
			stack = append(stack, subdirs[i])
		}
	}

	return files, nil
}

// Require is Enumerate that also fails when nothing matched.
func Require(fsys afero.Fs, root string, exts []string) ([]string, error) {
	files, err := Enumerate(fsys, root, exts)
	if err != nil {
		return nil, err
	}

	if len(files) == 0 {
		if len(exts) == 0 {
			exts = DefaultExtensions
		}

		return nil, fmt.Errorf("%w in %q (extensions %s)", ErrNoEntryPoints, root, strings.Join(exts, ", "))
	}

	return files, nil
}

func hasExtension(name string, exts []string) bool {
	for _, ext := range exts {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}

	return false
}

func joinPath(dir, name string) string {
	if strings.HasSuffix(dir, "/") {
		return dir + name
	}

	return dir + "/" + name
}

func trimSlash(root string) string {
	if root == "" {
		return "."
	}

	if trimmed := strings.TrimRight(root, "/"); trimmed != "" {
		return trimmed
	}

	return "/"
}
