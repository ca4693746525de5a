package installer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexcormier/setwp/internal/archive/archivetest"
	"github.com/alexcormier/setwp/internal/config"
	"github.com/alexcormier/setwp/internal/domain/release"
	"github.com/alexcormier/setwp/internal/integrity"
	"github.com/alexcormier/setwp/internal/platform"
	"github.com/alexcormier/setwp/internal/repository/receipt"
)

// fixture serves setwp archives and counts requests.
type fixture struct {
	server  *httptest.Server
	hits    atomic.Int64
	archive []byte
}

func newFixture(t *testing.T, printedVersion string) *fixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), "setwp.tar.gz")
	archivetest.WriteTarGz(t, path, archivetest.SetwpEntries(printedVersion))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	f := &fixture{archive: data}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)

		if !strings.HasSuffix(r.URL.Path, ".tar.gz") {
			http.NotFound(w, r)

			return
		}

		_, _ = w.Write(f.archive)
	}))
	t.Cleanup(f.server.Close)

	return f
}

func (f *fixture) checksum(t *testing.T, alg release.Algorithm) release.Checksum {
	t.Helper()

	value, err := integrity.Digest(strings.NewReader(string(f.archive)), alg)
	require.NoError(t, err)

	return release.Checksum{Algorithm: alg, Value: value}
}

func manifest() []release.ManifestEntry {
	return []release.ManifestEntry{
		{Source: "setwp", Role: release.RoleExecutable},
		{Source: "completion/setwp-completion.bash", Role: release.RoleBashCompletion},
		{Source: "completion/setwp-completion.zsh", Role: release.RoleZshCompletion, Rename: "_setwp"},
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := &config.Config{Prefix: t.TempDir()}
	require.NoError(t, config.Validate(cfg))

	return cfg
}

func catalogOf(t *testing.T, records ...*release.Descriptor) *release.Catalog {
	t.Helper()

	c, err := release.NewCatalog(records...)
	require.NoError(t, err)

	return c
}

var host64 = &platform.SystemInfo{OS: "darwin", OSVersion: "10.9.5", Arch: "x86_64", WordSize: 64}

func TestRunInstallsRelease(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "0.1.1-1")
	cfg := testConfig(t)

	descriptor := &release.Descriptor{
		Version: "0.1.1-1",
		Variants: map[release.Arch]release.DownloadTarget{
			release.ArchAMD64: {
				URL:      f.server.URL + "/v{version}/setwp-{arch}-v{version}.tar.gz",
				Checksum: f.checksum(t, release.SHA1),
				Manifest: manifest(),
			},
		},
	}

	outcome, err := Run(context.Background(), &Options{
		Config:  cfg,
		Version: "0.1.1-1",
		Arch:    "amd64",
		Catalog: catalogOf(t, descriptor),
		System:  host64,
	})
	require.NoError(t, err)
	require.Equal(t, StateTested, outcome.State)
	require.Equal(t, release.ArchAMD64, outcome.Arch)
	require.Equal(t, f.server.URL+"/v0.1.1-1/setwp-amd64-v0.1.1-1.tar.gz", outcome.URL)
	require.True(t, outcome.SelfTest.Passed)
	require.NotEmpty(t, outcome.RunID)
	require.Len(t, outcome.Report.Files, 3)

	_, err = os.Stat(filepath.Join(cfg.ZshCompletionDir, "_setwp"))
	require.NoError(t, err)

	rec, err := receipt.NewFileRepository(cfg.ReceiptPath).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, outcome.RunID, rec.RunID)
	require.Equal(t, "0.1.1-1", rec.Version)
	require.True(t, rec.SelfTestPassed)
	require.Len(t, rec.Files, 3)
}

func TestRunUnsupportedPlatformMakesNoRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "1.0.1")

	descriptor := &release.Descriptor{
		Version: "1.0.1",
		Variants: map[release.Arch]release.DownloadTarget{
			release.ArchUniversal: {
				URL:      f.server.URL + "/setwp-v{version}.tar.gz",
				Checksum: f.checksum(t, release.SHA256),
				Manifest: manifest(),
			},
		},
		Constraint: &release.PlatformConstraint{OS: "darwin", MinVersion: "10.10"},
	}

	outcome, err := Run(context.Background(), &Options{
		Config:  testConfig(t),
		Version: "1.0.1",
		Catalog: catalogOf(t, descriptor),
		System:  host64,
	})
	require.ErrorIs(t, err, release.ErrUnsupportedPlatform)
	require.Equal(t, 2, ExitCode(err))
	require.Equal(t, StatePending, outcome.State)
	require.Zero(t, f.hits.Load())
}

func TestRunIntegrityFailureLeavesDestinationsAlone(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "0.1.1-1")
	cfg := testConfig(t)

	descriptor := &release.Descriptor{
		Version: "0.1.1-1",
		Variants: map[release.Arch]release.DownloadTarget{
			release.ArchAMD64: {
				URL:      f.server.URL + "/setwp-{arch}.tar.gz",
				Checksum: release.Checksum{Algorithm: release.SHA1, Value: strings.Repeat("0", 40)},
				Manifest: manifest(),
			},
		},
	}

	outcome, err := Run(context.Background(), &Options{
		Config:  cfg,
		Catalog: catalogOf(t, descriptor),
		System:  host64,
	})
	require.Equal(t, 4, ExitCode(err))
	require.Equal(t, StateFetched, outcome.State)

	var integrityErr *release.IntegrityError
	require.True(t, errors.As(err, &integrityErr))
	require.Equal(t, release.SHA1, integrityErr.Algorithm)

	_, err = os.Stat(cfg.BinDir)
	require.True(t, os.IsNotExist(err))
}

func TestRunMissingArtifact(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "0.1.1-1")

	descriptor := &release.Descriptor{
		Version: "0.1.1-1",
		Variants: map[release.Arch]release.DownloadTarget{
			release.ArchI386: {
				URL:      f.server.URL + "/gone/setwp-{arch}.tgz",
				Checksum: f.checksum(t, release.SHA1),
				Manifest: manifest(),
			},
		},
	}

	_, err := Run(context.Background(), &Options{
		Config:  testConfig(t),
		Arch:    "i386",
		Catalog: catalogOf(t, descriptor),
		System:  host64,
	})
	require.ErrorIs(t, err, release.ErrNotFound)
	require.Equal(t, 3, ExitCode(err))
}

func TestRunUnknownVersion(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "0.1.1-1")

	descriptor := &release.Descriptor{
		Version: "0.1.1-1",
		Variants: map[release.Arch]release.DownloadTarget{
			release.ArchAMD64: {URL: f.server.URL + "/a.tar.gz", Checksum: f.checksum(t, release.SHA1), Manifest: manifest()},
		},
	}

	_, err := Run(context.Background(), &Options{
		Config:  testConfig(t),
		Version: "9.9.9",
		Catalog: catalogOf(t, descriptor),
		System:  host64,
	})
	require.ErrorIs(t, err, release.ErrNotFound)
	require.Equal(t, 2, ExitCode(err))
	require.Zero(t, f.hits.Load())
}

func TestRunSelfTestFailureKeepsFiles(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "1.0.0")
	cfg := testConfig(t)

	descriptor := &release.Descriptor{
		Version: "1.0.1",
		Variants: map[release.Arch]release.DownloadTarget{
			release.ArchUniversal: {URL: f.server.URL + "/setwp.tar.gz", Checksum: f.checksum(t, release.SHA256), Manifest: manifest()},
		},
		Deprecated: true,
		Caveat:     "setwp is no longer maintained",
	}

	var hitsAtCaveat int64 = -1

	outcome, err := Run(context.Background(), &Options{
		Config:  cfg,
		Catalog: catalogOf(t, descriptor),
		System:  host64,
		OnCaveat: func(version, caveat string) {
			require.Equal(t, "1.0.1", version)
			require.Equal(t, "setwp is no longer maintained", caveat)

			hitsAtCaveat = f.hits.Load()
		},
	})
	require.Zero(t, hitsAtCaveat, "caveat is shown before fetching")
	require.ErrorIs(t, err, ErrSelfTestFailed)
	require.Equal(t, 6, ExitCode(err))
	require.Equal(t, StateInstalled, outcome.State)
	require.Equal(t, "setwp version 1.0.0", outcome.SelfTest.Output)
	require.Equal(t, "setwp is no longer maintained", outcome.Caveat)
	require.True(t, outcome.Deprecated)

	_, err = os.Stat(filepath.Join(cfg.BinDir, "setwp"))
	require.NoError(t, err)
}

func TestRunRejectsUnknownArch(t *testing.T) {
	t.Parallel()

	_, err := Run(context.Background(), &Options{Config: testConfig(t), Arch: "sparc", Catalog: catalogOf(t)})
	require.ErrorIs(t, err, release.ErrUnsupportedPlatform)
	require.Equal(t, 2, ExitCode(err))
}

func TestRunCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, &Options{Config: testConfig(t), Catalog: catalogOf(t)})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 2, ExitCode(err))
}
