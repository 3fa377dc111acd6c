package devserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/hupe1980/plugindev/internal/bundler"
	"github.com/hupe1980/plugindev/internal/scan"
)

// session owns the running bundler and the entry point set it serves.
type session struct {
	backend bundler.Server
	fs      afero.Fs
	root    string
	exts    []string
	opts    bundler.Options
	console *console
	logger  *slog.Logger

	mu      sync.Mutex
	entries []string
	running bool
	closed  bool
}

// start serves entries on the session's port.
func (s *session) start(ctx context.Context, entries []string) (bundler.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.serveLocked(ctx, entries)
}

func (s *session) serveLocked(ctx context.Context, entries []string) (bundler.Address, error) {
	opts := s.opts
	opts.EntryPoints = entries

	addr, err := s.backend.Serve(ctx, opts)
	if err != nil {
		return bundler.Address{}, fmt.Errorf("starting bundler: %w", err)
	}

	s.entries = entries
	s.running = true

	s.logger.Info("bundler started",
		slog.String("addr", addr.String()),
		slog.Int("entries", len(entries)),
	)

	return addr, nil
}

// rescan re-enumerates the tree and restarts the bundler on the same port
// when the entry point set changed. A bundler that failed to restart is
// retried on every rescan.
func (s *session) rescan(ctx context.Context, trigger string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || ctx.Err() != nil {
		return
	}

	next, err := scan.Enumerate(s.fs, s.root, s.exts)
	if err != nil {
		s.logger.Warn("rescan failed", slog.String("trigger", trigger), slog.String("error", err.Error()))
		return
	}

	change := scan.Diff(s.display(s.entries), s.display(next))

	if change.Empty() && s.running {
		s.logger.Debug("entry points unchanged", slog.String("trigger", trigger))
		return
	}

	if len(next) == 0 {
		s.logger.Warn("no entry points left, keeping the current bundler",
			slog.String("dir", s.root),
		)

		return
	}

	s.console.change(change)

	if err := s.backend.Close(); err != nil {
		s.logger.Warn("stopping bundler", slog.String("error", err.Error()))
	}

	s.running = false
	s.entries = next

	if _, err := s.serveLocked(ctx, next); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}

		var buildErr *bundler.BuildError
		if errors.As(err, &buildErr) {
			s.console.printf("%s", buildErr.Error())
		}

		s.logger.Error("restarting bundler failed", slog.String("error", err.Error()))
	}
}

// display turns absolute entry points into root-relative slash paths.
func (s *session) display(entries []string) []string {
	out := make([]string, 0, len(entries))

	for _, e := range entries {
		rel, err := filepath.Rel(s.root, e)
		if err != nil {
			rel = e
		}

		out = append(out, filepath.ToSlash(rel))
	}

	return out
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Close(); err != nil {
		s.logger.Warn("stopping bundler", slog.String("error", err.Error()))
	}

	s.running = false
	s.closed = true
}
