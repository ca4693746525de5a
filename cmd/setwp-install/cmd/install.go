package cmd

import (
	"github.com/spf13/cobra"

	"github.com/alexcormier/setwp/internal/config"
	"github.com/alexcormier/setwp/internal/service/installer"
	"github.com/alexcormier/setwp/internal/ui"
)

var (
	installVersion    string
	installArch       string
	installCatalog    string
	installBinDir     string
	installBashDir    string
	installZshDir     string
	installNoProgress bool

	// installCmd installs one release.
	installCmd = &cobra.Command{
		Use:   "install",
		Short: "Download, verify and install a setwp release",
		Long: "Install the requested setwp release, or the latest one. Exit status: " +
			"2 resolve, 3 fetch, 4 verify, 5 install, 6 self-test.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := *settings

			overrides := map[*string]string{
				&cfg.CatalogPath:       installCatalog,
				&cfg.BinDir:            installBinDir,
				&cfg.BashCompletionDir: installBashDir,
				&cfg.ZshCompletionDir:  installZshDir,
			}
			for field, value := range overrides {
				if value != "" {
					*field = value
				}
			}

			if err := config.Validate(&cfg); err != nil {
				return err
			}

			options := &installer.Options{
				Config:   &cfg,
				Version:  installVersion,
				Arch:     installArch,
				OnCaveat: ui.New(cmd.ErrOrStderr()).Caveat,
			}

			if !installNoProgress {
				options.Progress = cmd.ErrOrStderr()
			}

			outcome, err := installer.Run(cmd.Context(), options)
			if err != nil {
				return err
			}

			ui.New(cmd.OutOrStdout()).Installed(outcome.Version, outcome.Arch, outcome.Report)

			return nil
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := installCmd.Flags()
	flags.StringVar(&installVersion, "version", "", "release to install (default latest)")
	flags.StringVar(&installArch, "arch", "", "architecture to install: amd64 or i386 (default detected)")
	flags.StringVar(&installCatalog, "catalog", "", "catalog file (default shipped catalog)")
	flags.StringVar(&installBinDir, "bin-dir", "", "directory receiving the executable")
	flags.StringVar(&installBashDir, "bash-completion-dir", "", "directory receiving the bash completion")
	flags.StringVar(&installZshDir, "zsh-completion-dir", "", "directory receiving the zsh completion")
	flags.BoolVar(&installNoProgress, "no-progress", false, "do not draw a download progress bar")
}
