package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/alexcormier/setwp/internal/domain/release"
	"github.com/alexcormier/setwp/internal/install"
)

// Config holds the installer settings.
type Config struct {
	// Prefix is the package manager prefix the destination directories derive from.
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
	// BinDir receives the executable.
	BinDir string `mapstructure:"bin_dir" yaml:"bin_dir"`
	// BashCompletionDir receives bash completion scripts.
	BashCompletionDir string `mapstructure:"bash_completion_dir" yaml:"bash_completion_dir"`
	// ZshCompletionDir receives zsh completion functions.
	ZshCompletionDir string `mapstructure:"zsh_completion_dir" yaml:"zsh_completion_dir"`
	// CatalogPath points at a catalog file; empty selects the embedded catalog.
	CatalogPath string `mapstructure:"catalog" yaml:"catalog,omitempty"`
	// KeyringPath is an armored OpenPGP keyring used when a release ships signatures.
	KeyringPath string `mapstructure:"keyring" yaml:"keyring,omitempty"`
	// Timeout bounds a single download attempt.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// Retries is the number of extra download attempts after a network error.
	Retries int `mapstructure:"retries" yaml:"retries"`
	// RetryBackoff is the delay before the first retry; it doubles on every attempt.
	RetryBackoff time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	// LogFile enables a rotated log file in addition to stderr.
	LogFile string `mapstructure:"log_file" yaml:"log_file,omitempty"`
	// ReceiptPath records the last install; it defaults to a file under the prefix.
	ReceiptPath string `mapstructure:"receipt" yaml:"receipt"`
}

const (
	// EnvPrefix prefixes every environment override, e.g. SETWP_INSTALL_BIN_DIR.
	EnvPrefix = "SETWP_INSTALL"

	// DefaultPrefix is the conventional package manager install prefix.
	DefaultPrefix = "/usr/local"

	// DefaultTimeout is the default duration of one download attempt.
	DefaultTimeout = 2 * time.Minute

	// DefaultRetries is the default number of retries after a network error.
	DefaultRetries = 2

	// DefaultRetryBackoff is the default delay before the first retry.
	DefaultRetryBackoff = time.Second

	// DefaultLogLevel is used when no level is configured.
	DefaultLogLevel = "info"

	// DefaultFilePermissions is the file permission for config files.
	DefaultFilePermissions = 0o600

	appDirName        = "setwp-install"
	defaultConfigFile = "config.yaml"
	receiptFile       = "receipt.yaml"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errNegativeRetries is returned for a negative retry count.
	errNegativeRetries = errors.New("retries must not be negative")
	// errRelativeDir is returned when a destination directory is not absolute.
	errRelativeDir = errors.New("destination directories must be absolute")
)

// DefaultPath returns the config file location under the XDG config home.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, appDirName, defaultConfigFile)
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		Prefix:       DefaultPrefix,
		Timeout:      DefaultTimeout,
		Retries:      DefaultRetries,
		RetryBackoff: DefaultRetryBackoff,
		LogLevel:     DefaultLogLevel,
	}

	// Defaults are always valid.
	_ = Validate(cfg)

	return cfg
}

// Load reads configuration from path, applies SETWP_INSTALL_* environment
// overrides and validates the result. An empty path reads DefaultPath when that
// file exists and falls back to defaults otherwise.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("prefix", DefaultPrefix)
	v.SetDefault("bin_dir", "")
	v.SetDefault("bash_completion_dir", "")
	v.SetDefault("zsh_completion_dir", "")
	v.SetDefault("catalog", "")
	v.SetDefault("keyring", "")
	v.SetDefault("timeout", DefaultTimeout)
	v.SetDefault("retries", DefaultRetries)
	v.SetDefault("retry_backoff", DefaultRetryBackoff)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_file", "")
	v.SetDefault("receipt", "")

	optional := path == ""
	if optional {
		path = DefaultPath()
	}

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(filepath.Clean(path))

		if err = v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read settings: %w", err)
		}
	} else if !optional || !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to path as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultPath()
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}

	// Restrict permissions.
	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills defaults and checks the provided settings.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}

	if cfg.BinDir == "" {
		cfg.BinDir = filepath.Join(cfg.Prefix, "bin")
	}

	if cfg.BashCompletionDir == "" {
		cfg.BashCompletionDir = filepath.Join(cfg.Prefix, "etc", "bash_completion.d")
	}

	if cfg.ZshCompletionDir == "" {
		cfg.ZshCompletionDir = filepath.Join(cfg.Prefix, "share", "zsh", "site-functions")
	}

	if cfg.ReceiptPath == "" {
		cfg.ReceiptPath = filepath.Join(cfg.Prefix, "var", appDirName, receiptFile)
	}

	for _, dir := range []string{cfg.BinDir, cfg.BashCompletionDir, cfg.ZshCompletionDir, cfg.ReceiptPath} {
		if !filepath.IsAbs(dir) {
			return fmt.Errorf("%s: %w", dir, errRelativeDir)
		}
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.Retries < 0 {
		return errNegativeRetries
	}

	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}

	return nil
}

// Roots returns the destination directories keyed by role.
func (c *Config) Roots() install.Roots {
	return install.Roots{
		release.RoleExecutable:     c.BinDir,
		release.RoleBashCompletion: c.BashCompletionDir,
		release.RoleZshCompletion:  c.ZshCompletionDir,
	}
}
