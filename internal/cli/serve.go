package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hupe1980/plugindev/internal/config"
	"github.com/hupe1980/plugindev/internal/devserver"
	"github.com/hupe1980/plugindev/internal/logging"
	"github.com/hupe1980/plugindev/internal/scan"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [dir]",
		Short: "Start the plugin development server",
		Long: `Serve scans a directory for plugin entry points, starts esbuild in
serve mode for all of them and puts a proxy in front of it.

Requests carrying a "dev" query parameter receive a small wrapper module
that re-imports the real plugin on every render, so a page reload picks
up the latest build. All other requests are forwarded to esbuild with a
permissive CORS header added.

The proxy prefers port 2222 and esbuild prefers port 2221; when either is
taken a free port is chosen instead.`,
		Example: `  # Serve every .js and .ts file below ./src
  plugindev serve ./src

  # Only TypeScript, restart esbuild when files are added or removed
  plugindev serve --ext .ts --rescan`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, args)
		},
	}

	registerSourceFlags(cmd)
	registerServeFlags(cmd)

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	logger := logging.FromContext(ctx)

	dcfg := devserver.Config{
		Dir:           dirFromArgs(cfg, args),
		Extensions:    cfg.Ext,
		Host:          cfg.Host,
		ProxyPort:     cfg.ProxyPort,
		BundlerPort:   cfg.BundlerPort,
		Format:        cfg.Format,
		Target:        cfg.Target,
		Bundler:       cfg.Bundler,
		ESBuildPath:   cfg.ESBuildPath,
		Rescan:        cfg.Rescan,
		Debounce:      cfg.Debounce,
		TemplateCache: cfg.TemplateCache,
		NoColor:       cfg.NoColor,
		Logger:        logger,
	}

	logger.Debug("starting development server",
		slog.String("dir", dcfg.Dir),
		slog.String("bundler", dcfg.Bundler),
		slog.Bool("rescan", dcfg.Rescan),
	)

	if err := devserver.Run(ctx, dcfg, cmd.OutOrStdout()); err != nil {
		if errors.Is(err, scan.ErrNoEntryPoints) {
			return &ExitError{Code: 1, Err: fmt.Errorf("%w: nothing to serve", err)}
		}

		return &ExitError{Code: 1, Err: err}
	}

	return nil
}
