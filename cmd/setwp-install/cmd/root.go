package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alexcormier/setwp/internal/config"
	"github.com/alexcormier/setwp/internal/logger"
	"github.com/alexcormier/setwp/internal/service/installer"
	"github.com/alexcormier/setwp/internal/version"
)

var errUnknownLogLevel = errors.New("unknown log level")

var (
	// configPath to the configuration YAML file; empty uses the XDG location.
	configPath string
	// logLevel overrides the configured log level.
	logLevel string
	// settings are loaded before any subcommand runs.
	settings *config.Config

	// rootCmd represents the base command.
	rootCmd = &cobra.Command{
		Use:   "setwp-install",
		Short: "Install verified setwp releases",
		Long: "Resolve a setwp release for this machine, download it, verify its checksum, " +
			"install the executable with its shell completions and check that it runs.",
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
)

// Execute runs the CLI and exits with the status of the failed install stage.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	// Setup graceful shutdown handling.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)

	err := rootCmd.ExecuteContext(ctx)

	stop()

	if err != nil {
		os.Exit(installer.ExitCode(err))
	}
}

// setup loads the settings and configures logging.
func setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}

	level, ok := logger.ParseLogLevel(cfg.LogLevel)
	if !ok {
		return fmt.Errorf("%q: %w", cfg.LogLevel, errUnknownLogLevel)
	}

	if cfg.LogFile != "" {
		logger.SetLogger(logger.NewWithFile(logger.AtomicLevel(), cfg.LogFile))
	}

	logger.SetLevel(level)

	settings = cfg

	return nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file (default "+config.DefaultPath()+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "log level: debug, info, warn, error")

	rootCmd.AddCommand(installCmd, listVersionsCmd, showCmd, statusCmd, publishCmd, configCmd)
}
