package receipt

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexcormier/setwp/internal/domain/release"
	"github.com/alexcormier/setwp/internal/install"
)

// TestFileRepository_NotFound verifies Load returns ErrNotFound for a missing file.
func TestFileRepository_NotFound(t *testing.T) {
	t.Parallel()

	repo := NewFileRepository(filepath.Join(t.TempDir(), "missing.yaml"))
	r, err := repo.Load(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
	require.Nil(t, r)
}

// TestFileRepository_SaveLoad ensures a saved receipt is read back.
func TestFileRepository_SaveLoad(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "var", "setwp-install", "receipt.yaml")
	repo := NewFileRepository(file)

	target := release.DownloadTarget{
		URL:      "https://example.com/setwp-v1.0.1.tar.gz",
		Checksum: release.Checksum{Algorithm: release.SHA1, Value: "a2fa531fa8a8e446ab8403e1c02123bf59aee143"},
	}
	report := &install.Report{Files: []install.PlacedFile{
		{Role: release.RoleExecutable, Destination: "/usr/local/bin/setwp", Mode: install.ExecutableMode},
		{Role: release.RoleZshCompletion, Destination: "/usr/local/share/zsh/site-functions/_setwp", Mode: install.DataMode},
	}}

	want := New("run-1", "1.0.1", release.ArchUniversal, target, report)
	want.SelfTestPassed = true
	want.Actor = &Actor{Hostname: "build-host", Username: "alex"}

	require.NoError(t, repo.Save(context.Background(), want))

	got, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, want.Version, got.Version)
	require.Equal(t, "sha1:a2fa531fa8a8e446ab8403e1c02123bf59aee143", got.Checksum)
	require.True(t, got.InstalledAt.Equal(want.InstalledAt))
	require.Equal(t, want.Actor, got.Actor)
	require.Equal(t, want.Files, got.Files)
	require.Equal(t, "0755", got.Files[0].Mode)

	info, err := os.Stat(file)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(FilePermissions), info.Mode().Perm())

	_, err = os.Stat(file + ".tmp")
	require.True(t, os.IsNotExist(err))
}

// TestFileRepository_Corrupt reports undecodable receipts.
func TestFileRepository_Corrupt(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "receipt.yaml")
	require.NoError(t, os.WriteFile(file, []byte("files: {"), 0o600))

	_, err := NewFileRepository(file).Load(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)
}

// TestDetectActor ensures hostname and username are detected.
func TestDetectActor(t *testing.T) {
	t.Parallel()

	a, err := DetectActor()
	require.NoError(t, err)
	require.NotEmpty(t, a.Hostname)
	require.NotEmpty(t, a.Username)
}
