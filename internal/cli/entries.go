package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/hupe1980/plugindev/internal/config"
	"github.com/hupe1980/plugindev/internal/scan"
)

type entriesOptions struct {
	format string
}

// entriesResult is the structured form of the entries output.
type entriesResult struct {
	Dir        string   `json:"dir"`
	Extensions []string `json:"extensions"`
	Entries    []string `json:"entries"`
}

func newEntriesCommand() *cobra.Command {
	opts := &entriesOptions{}

	cmd := &cobra.Command{
		Use:   "entries [dir]",
		Short: "List the entry points serve would bundle",
		Long: `Entries walks a directory the same way serve does and prints every
file whose name ends in one of the configured extensions.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntries(cmd, args, opts)
		},
	}

	registerSourceFlags(cmd)
	cmd.Flags().StringVarP(&opts.format, "output", "o", "text", "output format: text, json, yaml")

	return cmd
}

func runEntries(cmd *cobra.Command, args []string, opts *entriesOptions) error {
	cfg := config.FromContext(cmd.Context())
	dir := dirFromArgs(cfg, args)

	switch opts.format {
	case "text", "json", "yaml":
	default:
		return &ExitError{Code: 2, Err: fmt.Errorf("invalid output format %q: must be one of text, json, yaml", opts.format)}
	}

	files, err := scan.Enumerate(afero.NewOsFs(), dir, cfg.Ext)
	if err != nil {
		return &ExitError{Code: 1, Err: err}
	}

	result := entriesResult{Dir: dir, Extensions: cfg.Ext, Entries: files}
	if result.Entries == nil {
		result.Entries = []string{}
	}

	w := cmd.OutOrStdout()

	switch opts.format {
	case "json":
		err = renderJSON(w, result)
	case "yaml":
		err = renderYAML(w, result)
	default:
		err = renderText(w, result)
	}

	if err != nil {
		return &ExitError{Code: 1, Err: fmt.Errorf("writing entries: %w", err)}
	}

	return nil
}

func renderText(w io.Writer, result entriesResult) error {
	for _, e := range result.Entries {
		if _, err := fmt.Fprintln(w, e); err != nil {
			return err
		}
	}

	return nil
}

func renderJSON(w io.Writer, result entriesResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(result)
}

func renderYAML(w io.Writer, result entriesResult) error {
	data, err := sigsyaml.Marshal(result)
	if err != nil {
		return err
	}

	_, err = w.Write(data)

	return err
}
