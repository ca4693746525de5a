package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexcormier/setwp/internal/repository/catalog"
)

var (
	showCatalog string
	showFormat  string

	// showCmd prints one catalog record.
	showCmd = &cobra.Command{
		Use:   "show [VERSION]",
		Short: "Print the catalog record of a release (default latest)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := catalog.Open(cmd.Context(), catalogPath(showCatalog))
			if err != nil {
				return err
			}

			var requested string
			if len(args) > 0 {
				requested = args[0]
			}

			d, err := c.Lookup(requested)
			if err != nil {
				return err
			}

			doc := &catalog.Document{Releases: []catalog.Record{catalog.FromDescriptor(d)}}

			data, err := catalog.Encode(doc, catalog.Format(showFormat))
			if err != nil {
				return err
			}

			_, err = fmt.Fprint(cmd.OutOrStdout(), string(data))

			return err
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	showCmd.Flags().StringVar(&showCatalog, "catalog", "", "catalog file (default shipped catalog)")
	showCmd.Flags().StringVar(&showFormat, "format", string(catalog.FormatYAML), "output format: yaml or toml")
}
