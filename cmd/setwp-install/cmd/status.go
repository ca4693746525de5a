package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexcormier/setwp/internal/repository/receipt"
	"github.com/alexcormier/setwp/internal/ui"
)

// statusCmd shows what the last install placed on this host.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the installed setwp version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		repo := receipt.NewFileRepository(settings.ReceiptPath)

		rec, err := repo.Load(cmd.Context())
		if errors.Is(err, receipt.ErrNotFound) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "setwp is not installed (no receipt at %s)\n", repo.Path())

			return nil
		}

		if err != nil {
			return err
		}

		ui.New(cmd.OutOrStdout()).Status(rec)

		return nil
	},
}
