package integration

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexcormier/setwp/internal/config"
	"github.com/alexcormier/setwp/internal/domain/release"
	"github.com/alexcormier/setwp/internal/install"
	"github.com/alexcormier/setwp/internal/repository/receipt"
	"github.com/alexcormier/setwp/internal/service/installer"
	"github.com/alexcormier/setwp/internal/service/publisher"
)

const (
	legacyURL    = "/v{version}/setwp-{arch}-v{version}.tar.gz"
	universalURL = "/v{version}/setwp-v{version}.tar.gz"
)

func publish(t *testing.T, catalogPath, archivePath string, opts publisher.Options) {
	t.Helper()

	opts.CatalogPath = catalogPath
	opts.ArchivePath = archivePath

	_, err := publisher.Run(context.Background(), &opts)
	require.NoError(t, err)
}

func runSetwp(t *testing.T, exe string) string {
	t.Helper()

	out, err := exec.Command(exe, "--version").Output()
	require.NoError(t, err)

	return strings.TrimSpace(string(out))
}

// TestInstall_LegacyReleaseEndToEnd installs 0.1.1-1 for amd64 pinned with SHA-1.
func TestInstall_LegacyReleaseEndToEnd(t *testing.T) {
	t.Parallel()

	m := startMirror(t)
	configPath, cfg := writeSettings(t, nil)

	archivePath, data := buildArchive(t, "0.1.1-1")
	m.serve("/v0.1.1-1/setwp-amd64-v0.1.1-1.tar.gz", data)
	publish(t, cfg.CatalogPath, archivePath, publisher.Options{
		Version: "0.1.1-1", Arch: "amd64", URL: m.URL(legacyURL), Algorithm: "sha1",
	})

	outcome, err := installer.Run(context.Background(), &installer.Options{
		ConfigPath: configPath,
		Version:    "0.1.1-1",
		Arch:       "amd64",
		System:     yosemite,
	})
	require.NoError(t, err)
	require.Equal(t, installer.StateTested, outcome.State)
	require.Equal(t, release.ArchAMD64, outcome.Arch)
	require.True(t, outcome.SelfTest.Passed)
	require.EqualValues(t, 1, m.hits.Load())

	prefix := cfg.Prefix
	exe := filepath.Join(prefix, "bin", "setwp")

	info, err := os.Stat(exe)
	require.NoError(t, err)
	require.Equal(t, install.ExecutableMode, info.Mode().Perm())
	require.Equal(t, "setwp version 0.1.1-1", runSetwp(t, exe))

	_, err = os.Stat(filepath.Join(prefix, "etc", "bash_completion.d", "setwp-completion.bash"))
	require.NoError(t, err)

	zsh, err := os.Stat(filepath.Join(prefix, "share", "zsh", "site-functions", "_setwp"))
	require.NoError(t, err)
	require.Equal(t, install.DataMode, zsh.Mode().Perm())
}

// TestInstall_UnsupportedPlatformBeforeNetwork refuses 1.0.1 on an older OS without a request.
func TestInstall_UnsupportedPlatformBeforeNetwork(t *testing.T) {
	t.Parallel()

	m := startMirror(t)
	configPath, cfg := writeSettings(t, nil)

	archivePath, data := buildArchive(t, "1.0.1")
	m.serve("/v1.0.1/setwp-v1.0.1.tar.gz", data)
	publish(t, cfg.CatalogPath, archivePath, publisher.Options{
		Version: "1.0.1", Arch: "universal", URL: m.URL(universalURL), OS: "darwin", MinOS: "10.10",
	})

	outcome, err := installer.Run(context.Background(), &installer.Options{
		ConfigPath: configPath,
		Version:    "1.0.1",
		System:     mavericks,
	})
	require.ErrorIs(t, err, release.ErrUnsupportedPlatform)
	require.Equal(t, 2, installer.ExitCode(err))
	require.Equal(t, installer.StatePending, outcome.State)
	require.Zero(t, m.hits.Load())

	_, err = os.Stat(filepath.Join(cfg.Prefix, "bin"))
	require.True(t, os.IsNotExist(err))
}

// TestInstall_UpgradeThenTamperedDownload upgrades a release, then rejects a
// corrupted artifact without touching the installed files.
func TestInstall_UpgradeThenTamperedDownload(t *testing.T) {
	t.Parallel()

	m := startMirror(t)
	configPath, cfg := writeSettings(t, nil)

	legacyPath, legacy := buildArchive(t, "0.1.1-1")
	m.serve("/v0.1.1-1/setwp-amd64-v0.1.1-1.tar.gz", legacy)
	publish(t, cfg.CatalogPath, legacyPath, publisher.Options{
		Version: "0.1.1-1", Arch: "amd64", URL: m.URL(legacyURL), Algorithm: "sha1",
	})

	currentPath, current := buildArchive(t, "1.0.1")
	m.serve("/v1.0.1/setwp-v1.0.1.tar.gz", current)
	publish(t, cfg.CatalogPath, currentPath, publisher.Options{
		Version: "1.0.1", Arch: "universal", URL: m.URL(universalURL), OS: "darwin", MinOS: "10.10",
		Deprecated: true, Caveat: "setwp is no longer maintained",
	})

	exe := filepath.Join(cfg.Prefix, "bin", "setwp")

	_, err := installer.Run(context.Background(), &installer.Options{ConfigPath: configPath, Version: "0.1.1-1", System: yosemite})
	require.NoError(t, err)

	var caveats []string

	outcome, err := installer.Run(context.Background(), &installer.Options{
		ConfigPath: configPath,
		System:     yosemite,
		OnCaveat: func(_, caveat string) {
			caveats = append(caveats, caveat)
		},
	})
	require.NoError(t, err)
	require.Equal(t, "1.0.1", outcome.Version)
	require.Equal(t, []string{"setwp is no longer maintained"}, caveats)
	require.True(t, outcome.Report.Files[0].Replaced)
	require.Equal(t, "setwp version 1.0.1", runSetwp(t, exe))

	tampered := append([]byte(nil), current...)
	tampered[len(tampered)/2] ^= 0xff
	m.serve("/v1.0.1/setwp-v1.0.1.tar.gz", tampered)

	installed, err := os.ReadFile(exe)
	require.NoError(t, err)

	_, err = installer.Run(context.Background(), &installer.Options{ConfigPath: configPath, Version: "1.0.1", System: yosemite})
	require.Equal(t, 4, installer.ExitCode(err))

	var integrityErr *release.IntegrityError
	require.True(t, errors.As(err, &integrityErr))
	require.Equal(t, release.SHA256, integrityErr.Algorithm)

	after, err := os.ReadFile(exe)
	require.NoError(t, err)
	require.Equal(t, installed, after)

	rec, err := receipt.NewFileRepository(cfg.ReceiptPath).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "1.0.1", rec.Version)
	require.Equal(t, outcome.RunID, rec.RunID)
}

// TestInstall_RetriesTransientFailures recovers from 503 responses.
func TestInstall_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	m := startMirror(t)
	configPath, cfg := writeSettings(t, func(c *config.Config) {
		c.Retries = 2
	})

	archivePath, data := buildArchive(t, "0.1.1-1")
	m.serve("/v0.1.1-1/setwp-i386-v0.1.1-1.tar.gz", data)
	publish(t, cfg.CatalogPath, archivePath, publisher.Options{
		Version: "0.1.1-1", Arch: "i386", URL: m.URL(legacyURL), Algorithm: "sha1",
	})

	m.failures.Store(2)

	outcome, err := installer.Run(context.Background(), &installer.Options{
		ConfigPath: configPath,
		Arch:       "i386",
		System:     yosemite,
	})
	require.NoError(t, err)
	require.Equal(t, release.ArchI386, outcome.Arch)
	require.EqualValues(t, 3, m.hits.Load())
}

// TestInstall_NetworkFailureExhaustsRetries reports the fetch stage.
func TestInstall_NetworkFailureExhaustsRetries(t *testing.T) {
	t.Parallel()

	m := startMirror(t)
	configPath, cfg := writeSettings(t, func(c *config.Config) {
		c.Retries = 1
	})

	archivePath, data := buildArchive(t, "0.1.1-1")
	m.serve("/v0.1.1-1/setwp-amd64-v0.1.1-1.tar.gz", data)
	publish(t, cfg.CatalogPath, archivePath, publisher.Options{
		Version: "0.1.1-1", Arch: "amd64", URL: m.URL(legacyURL), Algorithm: "sha1",
	})

	m.failures.Store(10)

	_, err := installer.Run(context.Background(), &installer.Options{ConfigPath: configPath, System: yosemite})
	require.ErrorIs(t, err, release.ErrNetwork)
	require.Equal(t, 3, installer.ExitCode(err))
	require.EqualValues(t, 2, m.hits.Load())
}

// TestInstall_SignedRelease checks detached signatures when a keyring is configured.
func TestInstall_SignedRelease(t *testing.T) {
	t.Parallel()

	keyring, sign := signingKey(t)
	keyringPath := filepath.Join(t.TempDir(), "keyring.asc")
	require.NoError(t, os.WriteFile(keyringPath, keyring, 0o600))

	m := startMirror(t)
	configPath, cfg := writeSettings(t, func(c *config.Config) {
		c.KeyringPath = keyringPath
	})

	archivePath, data := buildArchive(t, "1.1.1")
	m.serve("/v1.1.1/setwp-v1.1.1.tar.gz", data)
	m.serve("/v1.1.1/setwp-v1.1.1.tar.gz.asc", sign(data))
	publish(t, cfg.CatalogPath, archivePath, publisher.Options{
		Version: "1.1.1", Arch: "universal", URL: m.URL(universalURL), Signature: m.URL(universalURL + ".asc"),
	})

	_, err := installer.Run(context.Background(), &installer.Options{ConfigPath: configPath, System: yosemite})
	require.NoError(t, err)

	m.serve("/v1.1.1/setwp-v1.1.1.tar.gz.asc", sign([]byte("something else")))

	_, err = installer.Run(context.Background(), &installer.Options{ConfigPath: configPath, System: yosemite})
	require.ErrorIs(t, err, release.ErrIntegrity)
	require.Equal(t, 4, installer.ExitCode(err))
}
