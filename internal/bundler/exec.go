package bundler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/hupe1980/plugindev/internal/netutil"
)

// MinExecVersion is the oldest esbuild executable whose --serve flag uses
// the context-based serve mode this package relies on.
const MinExecVersion = ">= 0.17.0"

// DefaultStartTimeout bounds how long an esbuild process may take to listen.
const DefaultStartTimeout = 10 * time.Second

// Exec runs an external esbuild executable in serve mode.
type Exec struct {
	// Path is the esbuild executable.
	Path string

	// StartTimeout bounds the wait for the server to accept connections.
	StartTimeout time.Duration

	// Stdout and Stderr receive the process output. Both default to the
	// process's own stderr.
	Stdout io.Writer
	Stderr io.Writer

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

// NewExec returns an Exec backend for the esbuild executable at path.
func NewExec(path string) *Exec {
	if path == "" {
		path = "esbuild"
	}

	return &Exec{
		Path:         path,
		StartTimeout: DefaultStartTimeout,
	}
}

// Version returns the version reported by the executable.
func (e *Exec) Version(ctx context.Context) (*semver.Version, error) {
	out, err := exec.CommandContext(ctx, e.Path, "--version").Output() //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("running %s --version: %w", e.Path, err)
	}

	return parseVersion(string(out))
}

// Serve implements Server.
func (e *Exec) Serve(ctx context.Context, opts Options) (Address, error) {
	if err := opts.Validate(); err != nil {
		return Address{}, err
	}

	v, err := e.Version(ctx)
	if err != nil {
		return Address{}, err
	}

	if err := checkVersion(v); err != nil {
		return Address{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cmd != nil {
		return Address{}, fmt.Errorf("esbuild is already serving")
	}

	addr := Address{Host: opts.Host, Port: opts.Port}

	var stderr bytes.Buffer

	cmd := exec.Command(e.Path, execArgs(opts)...) //nolint:gosec
	cmd.Stdout = writerOr(e.Stdout, os.Stderr)
	cmd.Stderr = io.MultiWriter(writerOr(e.Stderr, os.Stderr), &stderr)

	if err := cmd.Start(); err != nil {
		return Address{}, fmt.Errorf("failed to start %s: %w", e.Path, err)
	}

	exited := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		exited <- cmd.Wait()
		close(done)
	}()

	timeout := e.StartTimeout
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}

	if err := netutil.WaitReady(ctx, addr.String(), timeout, exited); err != nil {
		_ = cmd.Process.Kill()
		<-done

		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return Address{}, &BuildError{Messages: []string{msg + "\n"}}
		}

		return Address{}, fmt.Errorf("esbuild did not start: %w", err)
	}

	e.cmd = cmd
	e.done = done

	return addr, nil
}

// Close implements Server.
func (e *Exec) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cmd == nil {
		return nil
	}

	err := e.cmd.Process.Kill()
	<-e.done

	e.cmd = nil
	e.done = nil

	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("stopping esbuild: %w", err)
	}

	return nil
}

func execArgs(opts Options) []string {
	args := make([]string, 0, len(opts.EntryPoints)+7)
	args = append(args, opts.EntryPoints...)
	args = append(args,
		"--bundle",
		"--format="+opts.Format,
		"--target="+opts.Target,
		"--outdir="+opts.Outdir,
		"--log-level=warning",
		"--serve="+Address{Host: opts.Host, Port: opts.Port}.String(),
	)

	if opts.Outbase != "" {
		args = append(args, "--outbase="+opts.Outbase)
	}

	return args
}

func parseVersion(raw string) (*semver.Version, error) {
	v, err := semver.NewVersion(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing esbuild version %q: %w", strings.TrimSpace(raw), err)
	}

	return v, nil
}

func checkVersion(v *semver.Version) error {
	c, err := semver.NewConstraint(MinExecVersion)
	if err != nil {
		return fmt.Errorf("invalid version constraint %q: %w", MinExecVersion, err)
	}

	if !c.Check(v) {
		return fmt.Errorf("esbuild %s is not supported: need %s", v, MinExecVersion)
	}

	return nil
}

func writerOr(w, fallback io.Writer) io.Writer {
	if w != nil {
		return w
	}

	return fallback
}
