package cmd

import (
	"github.com/spf13/cobra"

	"github.com/alexcormier/setwp/internal/repository/catalog"
	"github.com/alexcormier/setwp/internal/ui"
)

var (
	listCatalog string

	// listVersionsCmd prints the catalog.
	listVersionsCmd = &cobra.Command{
		Use:   "list-versions",
		Short: "List installable setwp versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := catalog.Open(cmd.Context(), catalogPath(listCatalog))
			if err != nil {
				return err
			}

			ui.New(cmd.OutOrStdout()).Versions(c)

			return nil
		},
	}
)

// catalogPath prefers the flag over the configured catalog.
func catalogPath(flag string) string {
	if flag != "" {
		return flag
	}

	return settings.CatalogPath
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	listVersionsCmd.Flags().StringVar(&listCatalog, "catalog", "", "catalog file (default shipped catalog)")
}
