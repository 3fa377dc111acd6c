package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/plugindev/internal/config"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Config prints the configuration serve would use after merging the
config file, PLUGINDEV_* environment variables (including those from a
.env file) and flags.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromContext(cmd.Context())

			if cfg.ConfigFile != "" {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", cfg.ConfigFile); err != nil {
					return err
				}
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)

			if err := enc.Encode(cfg); err != nil {
				return &ExitError{Code: 1, Err: fmt.Errorf("encoding config: %w", err)}
			}

			return enc.Close()
		},
	}

	registerSourceFlags(cmd)
	registerServeFlags(cmd)

	return cmd
}
