package cmd

import (
	"github.com/spf13/cobra"

	"github.com/alexcormier/setwp/internal/service/publisher"
)

var (
	publishOptions publisher.Options

	// publishCmd records a built archive in a catalog file.
	publishCmd = &cobra.Command{
		Use:   "publish ARCHIVE",
		Short: "Pin a built setwp archive in a catalog file",
		Long: "Check that the archive contains the executable and completions, compute its checksum " +
			"and append a record to the catalog. Publishing a known version again corrects its checksum.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			options := publishOptions
			options.ArchivePath = args[0]
			options.CatalogPath = catalogPath(options.CatalogPath)

			_, err := publisher.Run(cmd.Context(), &options)

			return err
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := publishCmd.Flags()
	flags.StringVar(&publishOptions.CatalogPath, "catalog", "", "catalog file to append to (default configured catalog)")
	flags.StringVar(&publishOptions.Version, "version", "", "version of the archive")
	flags.StringVar(&publishOptions.Arch, "arch", "", "architecture: amd64, i386 or universal")
	flags.StringVar(&publishOptions.URL, "url", "", "download URL; {version} and {arch} are expanded")
	flags.StringVar(&publishOptions.Algorithm, "algorithm", string(publisher.DefaultAlgorithm), "checksum algorithm: sha256 or sha1")
	flags.StringVar(&publishOptions.Signature, "signature", "", "URL of an armored detached signature")
	flags.StringVar(&publishOptions.OS, "os", "", "operating system the release is limited to")
	flags.StringVar(&publishOptions.MinOS, "min-os", "", "minimum operating system version")
	flags.BoolVar(&publishOptions.Deprecated, "deprecated", false, "mark the release as deprecated")
	flags.StringVar(&publishOptions.Caveat, "caveat", "", "advisory shown before installing")

	for _, name := range []string{"version", "arch", "url"} {
		_ = publishCmd.MarkFlagRequired(name)
	}
}
