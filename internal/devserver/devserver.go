// Package devserver wires the enumerator, the bundler and the proxy into a
// running development server.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/hupe1980/plugindev/internal/bundler"
	"github.com/hupe1980/plugindev/internal/logging"
	"github.com/hupe1980/plugindev/internal/netutil"
	"github.com/hupe1980/plugindev/internal/proxy"
	"github.com/hupe1980/plugindev/internal/scan"
	"github.com/hupe1980/plugindev/internal/watch"
	"github.com/hupe1980/plugindev/internal/wrapper"
)

// ShutdownTimeout bounds how long in-flight requests may take to finish.
const ShutdownTimeout = 5 * time.Second

// Config holds everything Run needs. Zero values fall back to the defaults
// of the serve command.
type Config struct {
	// WorkDir is the directory Dir is resolved against. Empty means the
	// process working directory.
	WorkDir string

	// Dir is the directory scanned for entry points.
	Dir string

	// Extensions are the entry point suffixes.
	Extensions []string

	Host        string
	ProxyPort   int
	BundlerPort int
	Format      string
	Target      string

	// Bundler selects the backend (esbuild or exec).
	Bundler     string
	ESBuildPath string

	// Rescan restarts the bundler when entry points appear or disappear.
	Rescan   bool
	Debounce time.Duration

	// TemplateCache is the wrapper module cache size.
	TemplateCache int

	NoColor bool
	Logger  *slog.Logger

	// Ready is called once both servers accept requests.
	Ready func(Endpoints)
}

// Endpoints are the addresses of a running development server.
type Endpoints struct {
	Proxy   bundler.Address
	Bundler bundler.Address
}

// URL returns the public base URL.
func (e Endpoints) URL() string {
	return e.Proxy.URL() + "/"
}

func (c Config) withDefaults() Config {
	if c.Dir == "" {
		c.Dir = "."
	}

	if len(c.Extensions) == 0 {
		c.Extensions = scan.DefaultExtensions
	}

	if c.Host == "" {
		c.Host = "127.0.0.1"
	}

	if c.Format == "" {
		c.Format = "esm"
	}

	if c.Target == "" {
		c.Target = "es2020"
	}

	if c.Bundler == "" {
		c.Bundler = bundler.KindESBuild
	}

	if c.Debounce <= 0 {
		c.Debounce = 300 * time.Millisecond
	}

	if c.TemplateCache <= 0 {
		c.TemplateCache = 256
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	return c
}

// root resolves Dir against WorkDir.
func (c Config) root() (string, error) {
	if filepath.IsAbs(c.Dir) {
		return filepath.Clean(c.Dir), nil
	}

	base := c.WorkDir
	if base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolving working directory: %w", err)
		}

		base = wd
	}

	return filepath.Join(base, c.Dir), nil
}

// newBundler is replaced in tests.
var newBundler = bundler.New

// Run starts the bundler and the proxy and serves until ctx is cancelled or
// the process receives SIGINT or SIGTERM. Startup failures are returned
// before anything listens on the proxy port.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	cfg = cfg.withDefaults()
	logger := logging.Component(cfg.Logger, "devserver")

	root, err := cfg.root()
	if err != nil {
		return err
	}

	fsys := afero.NewOsFs()

	entries, err := scan.Require(fsys, root, cfg.Extensions)
	if err != nil {
		return err
	}

	logger.Debug("entry points found", slog.String("dir", root), slog.Int("count", len(entries)))

	bundlerPort, err := netutil.FreePort(cfg.Host, cfg.BundlerPort)
	if err != nil {
		return fmt.Errorf("choosing bundler port: %w", err)
	}

	backend, err := newBundler(cfg.Bundler, cfg.ESBuildPath)
	if err != nil {
		return err
	}

	con := newConsole(out, cfg.NoColor)

	sess := &session{
		backend: backend,
		fs:      fsys,
		root:    root,
		exts:    cfg.Extensions,
		opts: bundler.Options{
			Outbase: root,
			Outdir:  filepath.Join(os.TempDir(), "plugindev-out"),
			Format:  cfg.Format,
			Target:  cfg.Target,
			Host:    cfg.Host,
			Port:    bundlerPort,
		},
		console: con,
		logger:  logger,
	}

	bundlerAddr, err := sess.start(ctx, entries)
	if err != nil {
		return err
	}
	defer sess.close()

	ln, err := netutil.Listen(cfg.Host, cfg.ProxyPort)
	if err != nil {
		return fmt.Errorf("opening proxy port: %w", err)
	}

	modules, err := wrapper.NewCache(cfg.TemplateCache)
	if err != nil {
		_ = ln.Close()
		return err
	}

	srv := proxy.NewServer(ln, proxy.NewHandler(bundlerAddr, modules, logger), logger)

	endpoints := Endpoints{
		Proxy:   bundler.Address{Host: cfg.Host, Port: netutil.Port(ln.Addr())},
		Bundler: bundlerAddr,
	}

	con.banner(cfg.Dir, bundlerAddr.Port, endpoints.URL())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)

	go func() { serveErr <- srv.Serve() }()

	watchDone := make(chan struct{})

	if cfg.Rescan {
		go func() {
			defer close(watchDone)

			opts := watch.Options{
				Dir:        root,
				Extensions: cfg.Extensions,
				Debounce:   cfg.Debounce,
				Logger:     logging.Component(cfg.Logger, "watch"),
			}

			if err := watch.Run(ctx, opts, sess.rescan); err != nil {
				logger.Error("entry point rescan disabled", slog.String("error", err.Error()))
			}
		}()
	} else {
		close(watchDone)
	}

	if cfg.Ready != nil {
		cfg.Ready(endpoints)
	}

	var runErr error

	select {
	case <-ctx.Done():
		logger.Debug("shutting down")
	case runErr = <-serveErr:
		serveErr = nil
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, net.ErrClosed) {
		logger.Warn("proxy shutdown", slog.String("error", err.Error()))
	}

	if serveErr != nil {
		runErr = <-serveErr
	}

	<-watchDone

	return runErr
}
