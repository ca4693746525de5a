package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexcormier/setwp/internal/archive/archivetest"
	"github.com/alexcormier/setwp/internal/domain/release"
)

// TestDetectFormat recognises the supported extensions.
func TestDetectFormat(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		want Format
	}{
		{"https://example.com/v0.1.1-1/setwp-amd64-v0.1.1-1.tar.gz", TarGz},
		{"setwp.tgz", TarGz},
		{"setwp.tar.xz", TarXz},
		{"setwp.TAR", Tar},
		{"setwp.zip?raw=true", Zip},
	}
	for _, tc := range cases {
		got, err := DetectFormat(tc.name)
		require.NoError(t, err, tc.name)
		require.Equal(t, tc.want, got, tc.name)
	}

	_, err := DetectFormat("setwp.rar")
	require.ErrorIs(t, err, errUnknownFormat)
}

// TestExtractFormats unpacks the setwp layout from every supported container.
func TestExtractFormats(t *testing.T) {
	t.Parallel()

	writers := map[Format]func(*testing.T, string, []archivetest.Entry){
		TarGz: archivetest.WriteTarGz,
		TarXz: archivetest.WriteTarXz,
		Zip:   archivetest.WriteZip,
	}

	for format, write := range writers {
		t.Run(string(format), func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			path := filepath.Join(dir, "setwp."+string(format))
			write(t, path, archivetest.SetwpEntries("0.1.1-1"))

			dest := filepath.Join(dir, "out")
			require.NoError(t, os.Mkdir(dest, 0o755))
			require.NoError(t, Extract(context.Background(), path, format, dest))

			body, err := os.ReadFile(filepath.Join(dest, "setwp"))
			require.NoError(t, err)
			require.Contains(t, string(body), "setwp version 0.1.1-1")

			_, err = os.Stat(filepath.Join(dest, "completion", "setwp-completion.zsh"))
			require.NoError(t, err)
		})
	}
}

// TestExtractRejectsTraversal refuses members escaping the destination.
func TestExtractRejectsTraversal(t *testing.T) {
	t.Parallel()

	for _, entry := range []archivetest.Entry{
		{Name: "../evil", Body: "x", Mode: 0o644},
		{Name: "completion/../../evil", Body: "x", Mode: 0o644},
		{Name: "link", Link: "../../etc/passwd"},
	} {
		dir := t.TempDir()
		path := filepath.Join(dir, "bad.tar.gz")
		archivetest.WriteTarGz(t, path, []archivetest.Entry{entry})

		dest := filepath.Join(dir, "out")
		require.NoError(t, os.Mkdir(dest, 0o755))

		err := Extract(context.Background(), path, TarGz, dest)
		require.ErrorIs(t, err, release.ErrExtraction, entry.Name)

		_, statErr := os.Stat(filepath.Join(dir, "evil"))
		require.True(t, os.IsNotExist(statErr))
	}
}

// TestExtractMalformed maps garbage input to ErrExtraction.
func TestExtractMalformed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "broken.tar.gz")
	require.NoError(t, os.WriteFile(path, []byte("definitely not gzip"), 0o600))

	err := Extract(context.Background(), path, TarGz, dir)
	require.ErrorIs(t, err, release.ErrExtraction)

	zipPath := filepath.Join(dir, "broken.zip")
	require.NoError(t, os.WriteFile(zipPath, []byte("PK nope"), 0o600))

	err = Extract(context.Background(), zipPath, Zip, dir)
	require.ErrorIs(t, err, release.ErrExtraction)
}

// TestExtractCanceled stops before reading members when the context is done.
func TestExtractCanceled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "setwp.tar.gz")
	archivetest.WriteTarGz(t, path, archivetest.SetwpEntries("1.0.1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Extract(ctx, path, TarGz, dir)
	require.ErrorIs(t, err, context.Canceled)
}
