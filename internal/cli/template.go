package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/plugindev/internal/wrapper"
)

func newTemplateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template <pathname>",
		Short: "Print the wrapper module served for a ?dev request",
		Long: `Template prints the JavaScript module the development server returns
for <pathname>?dev. The module imports <pathname> with a cache-busting
query on every render and forwards render, draw and destroy to it.`,
		Example: `  plugindev template /widget.js`,
		Args:    cobra.ExactArgs(1),
		// Template needs no config.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			pathname := args[0]
			if !strings.HasPrefix(pathname, "/") {
				pathname = "/" + pathname
			}

			_, err := fmt.Fprint(cmd.OutOrStdout(), wrapper.Render(pathname))

			return err
		},
	}

	return cmd
}
