package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/plugindev/internal/bundler"
	"github.com/hupe1980/plugindev/internal/config"
)

// registerSourceFlags adds the entry point discovery flags to a cobra command.
func registerSourceFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("dir", ".", "directory scanned for entry points")
	f.StringSlice("ext", config.DefaultExtensions, "entry point file extensions")
}

// registerServeFlags adds the server and bundler flags to a cobra command.
func registerServeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int("proxy-port", config.DefaultProxyPort, "preferred development server port")
	f.Int("bundler-port", config.DefaultBundlerPort, "preferred internal bundler port")
	f.String("host", config.DefaultHost, "interface both servers bind to")
	f.String("format", config.DefaultFormat, "module format: "+strings.Join(bundler.Formats, ", "))
	f.String("target", config.DefaultTarget, "language target: "+strings.Join(bundler.Targets, ", "))
	f.String("bundler", config.BundlerESBuild, "bundler backend: esbuild, exec")
	f.String("esbuild-path", "esbuild", "esbuild executable used by the exec backend")
	f.Bool("rescan", false, "restart the bundler when entry points are added or removed")
	f.Duration("debounce", config.DefaultDebounce, "quiet period before a rescan")
	f.Int("template-cache", config.DefaultTemplateCache, "number of generated wrapper modules kept in memory")
}

// dirFromArgs lets a positional directory override --dir.
func dirFromArgs(cfg *config.Config, args []string) string {
	if len(args) > 0 {
		return args[0]
	}

	return cfg.Dir
}
