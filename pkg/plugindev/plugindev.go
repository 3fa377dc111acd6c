// Package plugindev provides a public Go API for the plugin development
// server.
//
// This package exposes the server behind "plugindev serve" as a library,
// allowing programmatic use without the CLI.
//
// Basic usage:
//
//	if err := plugindev.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// With options:
//
//	err := plugindev.Start(ctx,
//	    plugindev.WithDir("./src"),
//	    plugindev.WithExtensions(".ts"),
//	    plugindev.WithRescan(),
//	)
package plugindev

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/hupe1980/plugindev/internal/devserver"
	"github.com/hupe1980/plugindev/internal/scan"
)

// Default ports preferred by Start.
const (
	DefaultProxyPort   = 2222
	DefaultBundlerPort = 2221
)

// discardLogger returns a logger that discards all output.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Option configures the development server.
// Use the With* functions to create Options.
type Option func(*options)

type options struct {
	dir         string
	extensions  []string
	host        string
	proxyPort   int
	bundlerPort int
	format      string
	target      string
	rescan      bool
	debounce    time.Duration
	output      io.Writer
	noColor     bool
	logger      *slog.Logger
	ready       func(Endpoints)
}

// Endpoints are the addresses of a running server.
type Endpoints struct {
	// URL is the public base URL, e.g. http://127.0.0.1:2222/.
	URL string

	// ProxyPort and BundlerPort are the ports actually bound.
	ProxyPort   int
	BundlerPort int
}

// WithDir sets the directory scanned for entry points. Default ".".
func WithDir(dir string) Option {
	return func(o *options) { o.dir = dir }
}

// WithExtensions sets the entry point suffixes. Default .js and .ts.
func WithExtensions(exts ...string) Option {
	return func(o *options) { o.extensions = append([]string(nil), exts...) }
}

// WithHost sets the interface both servers bind to. Default 127.0.0.1.
func WithHost(host string) Option {
	return func(o *options) { o.host = host }
}

// WithProxyPort sets the preferred public port.
func WithProxyPort(port int) Option {
	return func(o *options) { o.proxyPort = port }
}

// WithBundlerPort sets the preferred port of the internal bundler.
func WithBundlerPort(port int) Option {
	return func(o *options) { o.bundlerPort = port }
}

// WithFormat sets the module format (esm, cjs, iife).
func WithFormat(format string) Option {
	return func(o *options) { o.format = format }
}

// WithTarget sets the language target, e.g. es2020.
func WithTarget(target string) Option {
	return func(o *options) { o.target = target }
}

// WithRescan restarts the bundler when entry points are added or removed.
func WithRescan() Option {
	return func(o *options) { o.rescan = true }
}

// WithDebounce sets the quiet period before a rescan.
func WithDebounce(d time.Duration) Option {
	return func(o *options) { o.debounce = d }
}

// WithOutput sets where the startup lines are printed. Default os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.output = w }
}

// WithNoColor disables ANSI styling of the startup lines.
func WithNoColor() Option {
	return func(o *options) { o.noColor = true }
}

// WithLogger sets the structured logger. Default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithReady registers a callback invoked once the server accepts requests.
func WithReady(fn func(Endpoints)) Option {
	return func(o *options) { o.ready = fn }
}

// Start scans the directory, starts the bundler and the proxy, and serves
// until ctx is cancelled or the process is interrupted.
func Start(ctx context.Context, opts ...Option) error {
	o := &options{
		dir:         ".",
		proxyPort:   DefaultProxyPort,
		bundlerPort: DefaultBundlerPort,
		output:      os.Stdout,
		logger:      discardLogger(),
	}

	for _, opt := range opts {
		opt(o)
	}

	cfg := devserver.Config{
		Dir:         o.dir,
		Extensions:  o.extensions,
		Host:        o.host,
		ProxyPort:   o.proxyPort,
		BundlerPort: o.bundlerPort,
		Format:      o.format,
		Target:      o.target,
		Rescan:      o.rescan,
		Debounce:    o.debounce,
		NoColor:     o.noColor,
		Logger:      o.logger,
	}

	if o.ready != nil {
		cfg.Ready = func(e devserver.Endpoints) {
			o.ready(Endpoints{
				URL:         e.URL(),
				ProxyPort:   e.Proxy.Port,
				BundlerPort: e.Bundler.Port,
			})
		}
	}

	return devserver.Run(ctx, cfg, o.output)
}

// ErrNoEntryPoints is returned by Start when the directory holds no file
// with a matching extension.
var ErrNoEntryPoints = scan.ErrNoEntryPoints

// Entries returns the entry points Start would bundle for dir, in traversal
// order. A nil exts means .js and .ts.
func Entries(dir string, exts []string) ([]string, error) {
	return scan.Enumerate(afero.NewOsFs(), dir, exts)
}
