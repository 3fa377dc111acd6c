// Package bundler starts the bundler's own serve mode for a set of entry
// points. Bundling, watching and module resolution stay inside the bundler;
// this package only configures it and reports where it listens.
package bundler

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Supported backends.
const (
	KindESBuild = "esbuild"
	KindExec    = "exec"
)

// Formats lists the accepted module formats.
var Formats = []string{"esm", "cjs", "iife"}

// Targets lists the accepted language levels.
var Targets = []string{
	"es2015", "es2016", "es2017", "es2018", "es2019",
	"es2020", "es2021", "es2022", "esnext",
}

// Options configures a bundler server.
type Options struct {
	// EntryPoints are the dependency graph roots.
	EntryPoints []string

	// Outbase is the directory output paths are made relative to, so that
	// <Outbase>/sub/b.ts is served as /sub/b.js.
	Outbase string

	// Outdir is the virtual output directory. Serve mode keeps output in
	// memory and never writes it.
	Outdir string

	// Format is the module format (esm, cjs, iife).
	Format string

	// Target is the language level (es2015 … esnext).
	Target string

	// Host is the bind address.
	Host string

	// Port is the port to bind.
	Port int
}

// Validate checks the options before a bundler is started.
func (o Options) Validate() error {
	if len(o.EntryPoints) == 0 {
		return fmt.Errorf("missing entry points")
	}

	if o.Outdir == "" {
		return fmt.Errorf("missing outdir")
	}

	if !contains(Formats, o.Format) {
		return fmt.Errorf("invalid format %q: must be one of %s", o.Format, strings.Join(Formats, ", "))
	}

	if !contains(Targets, o.Target) {
		return fmt.Errorf("invalid target %q: must be one of %s", o.Target, strings.Join(Targets, ", "))
	}

	if o.Port < 0 || o.Port > 65535 {
		return fmt.Errorf("invalid port %d", o.Port)
	}

	return nil
}

// Address is where a running bundler accepts HTTP requests.
type Address struct {
	Host string
	Port int
}

// String returns host:port.
func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// URL returns the http base URL of the address.
func (a Address) URL() string {
	return "http://" + a.String()
}

// Server is a bundler running in serve mode.
type Server interface {
	// Serve builds the entry points once and starts serving them. Build
	// errors are returned as *BuildError.
	Serve(ctx context.Context, opts Options) (Address, error)

	// Close stops the server. It is safe to call more than once.
	Close() error
}

// New returns the backend named by kind. esbuildPath is only used by the
// exec backend.
func New(kind, esbuildPath string) (Server, error) {
	switch kind {
	case KindESBuild, "":
		return NewESBuild(), nil
	case KindExec:
		return NewExec(esbuildPath), nil
	default:
		return nil, fmt.Errorf("unknown bundler %q", kind)
	}
}

// BuildError reports bundler diagnostics from a failed build.
type BuildError struct {
	Messages []string
}

func (e *BuildError) Error() string {
	if len(e.Messages) == 0 {
		return "build failed"
	}

	return "build failed:\n" + strings.TrimRight(strings.Join(e.Messages, ""), "\n")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}

	return false
}
