// Package archivetest builds small release archives for tests.
package archivetest

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

// Entry is one archive member.
type Entry struct {
	Name string
	Body string
	Mode int64
	// Link makes the entry a symlink pointing at Link.
	Link string
	Dir  bool
}

// SetwpEntries returns the layout of a published setwp archive whose binary
// is a shell script printing "setwp version <version>".
func SetwpEntries(version string) []Entry {
	return []Entry{
		{Name: "setwp", Body: "#!/bin/sh\necho \"setwp version " + version + "\"\n", Mode: 0o755},
		{Name: "completion/", Dir: true},
		{Name: "completion/setwp-completion.bash", Body: "complete -F _setwp setwp\n", Mode: 0o644},
		{Name: "completion/setwp-completion.zsh", Body: "#compdef setwp\n", Mode: 0o644},
	}
}

// WriteTarGz writes a gzip-compressed tarball to path.
func WriteTarGz(t *testing.T, path string, entries []Entry) {
	t.Helper()

	writeCompressed(t, path, entries, func(w io.Writer) (io.WriteCloser, error) {
		return gzip.NewWriter(w), nil
	})
}

// WriteTarXz writes an xz-compressed tarball to path.
func WriteTarXz(t *testing.T, path string, entries []Entry) {
	t.Helper()

	writeCompressed(t, path, entries, func(w io.Writer) (io.WriteCloser, error) {
		return xz.NewWriter(w)
	})
}

// WriteZip writes a zip archive to path.
func WriteZip(t *testing.T, path string, entries []Entry) {
	t.Helper()

	file := create(t, path)

	zw := zip.NewWriter(file)

	for _, e := range entries {
		if e.Dir || e.Link != "" {
			continue
		}

		header := &zip.FileHeader{Name: e.Name, Method: zip.Deflate}
		header.SetMode(os.FileMode(e.Mode))

		w, err := zw.CreateHeader(header)
		require.NoError(t, err)

		_, err = io.WriteString(w, e.Body)
		require.NoError(t, err)
	}

	require.NoError(t, zw.Close())
	require.NoError(t, file.Close())
}

func writeCompressed(t *testing.T, path string, entries []Entry, compress func(io.Writer) (io.WriteCloser, error)) {
	t.Helper()

	file := create(t, path)

	cw, err := compress(file)
	require.NoError(t, err)

	tw := tar.NewWriter(cw)

	for _, e := range entries {
		header := &tar.Header{Name: e.Name, Mode: e.Mode, Size: int64(len(e.Body)), Typeflag: tar.TypeReg}

		switch {
		case e.Dir:
			header.Typeflag, header.Size, header.Mode = tar.TypeDir, 0, 0o755
		case e.Link != "":
			header.Typeflag, header.Size, header.Linkname = tar.TypeSymlink, 0, e.Link
		}

		require.NoError(t, tw.WriteHeader(header))

		if header.Typeflag == tar.TypeReg {
			_, err = io.WriteString(tw, e.Body)
			require.NoError(t, err)
		}
	}

	require.NoError(t, tw.Close())
	require.NoError(t, cw.Close())
	require.NoError(t, file.Close())
}

func create(t *testing.T, path string) *os.File {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	file, err := os.Create(path)
	require.NoError(t, err)

	return file
}
