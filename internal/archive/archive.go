package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/ulikunitz/xz"

	"github.com/alexcormier/setwp/internal/domain/release"
)

// Format is an archive container and compression pair.
type Format string

// Supported formats.
const (
	TarGz Format = "tar.gz"
	TarXz Format = "tar.xz"
	Tar   Format = "tar"
	Zip   Format = "zip"
)

// MaxFileSize bounds a single extracted member.
const MaxFileSize = 256 << 20

const dirPermissions = 0o755

var (
	errUnknownFormat = errors.New("unknown archive format")
	errUnsafePath    = errors.New("archive member escapes destination")
	errTooLarge      = errors.New("archive member too large")
)

// DetectFormat guesses the format from a file name or URL.
func DetectFormat(name string) (Format, error) {
	lower := strings.ToLower(name)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}

	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return TarGz, nil
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		return TarXz, nil
	case strings.HasSuffix(lower, ".tar"):
		return Tar, nil
	case strings.HasSuffix(lower, ".zip"):
		return Zip, nil
	default:
		return "", fmt.Errorf("%s: %w", name, errUnknownFormat)
	}
}

// Extract unpacks the archive at path into dest, which must exist.
// Every failure caused by the archive contents wraps release.ErrExtraction.
func Extract(ctx context.Context, path string, format Format, dest string) error {
	var err error

	switch format {
	case Zip:
		err = extractZip(ctx, path, dest)
	case TarGz, TarXz, Tar:
		err = extractTarFile(ctx, path, format, dest)
	default:
		return fmt.Errorf("%s: %w: %w", format, release.ErrExtraction, errUnknownFormat)
	}

	if err != nil && !errors.Is(err, release.ErrExtraction) && ctx.Err() == nil {
		return fmt.Errorf("%s: %w: %w", filepath.Base(path), release.ErrExtraction, err)
	}

	return err
}

func extractTarFile(ctx context.Context, path string, format Format, dest string) error {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	var stream io.Reader = file

	switch format {
	case TarGz:
		gz, gzErr := gzip.NewReader(file)
		if gzErr != nil {
			return gzErr
		}

		defer func() {
			_ = gz.Close()
		}()

		stream = gz
	case TarXz:
		xzReader, xzErr := xz.NewReader(file)
		if xzErr != nil {
			return xzErr
		}

		stream = xzReader
	}

	return extractTar(ctx, tar.NewReader(stream), dest)
}

func extractTar(ctx context.Context, tr *tar.Reader, dest string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return err
		}

		target, err := safeJoin(dest, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err = os.MkdirAll(target, dirPermissions); err != nil {
				return err
			}
		case tar.TypeReg:
			if err = writeFile(target, tr, header.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err = writeSymlink(dest, target, header.Linkname); err != nil {
				return err
			}
		default:
			// Hard links, devices and PAX records carry nothing to install.
			continue
		}
	}
}

func extractZip(ctx context.Context, path, dest string) error {
	reader, err := zip.OpenReader(filepath.Clean(path))
	if err != nil {
		return err
	}

	defer func() {
		_ = reader.Close()
	}()

	for _, member := range reader.File {
		if err = ctx.Err(); err != nil {
			return err
		}

		target, err := safeJoin(dest, member.Name)
		if err != nil {
			return err
		}

		mode := member.Mode()
		if mode.IsDir() {
			if err = os.MkdirAll(target, dirPermissions); err != nil {
				return err
			}

			continue
		}

		if !mode.IsRegular() {
			continue
		}

		if err = extractZipMember(member, target); err != nil {
			return err
		}
	}

	return nil
}

func extractZipMember(member *zip.File, target string) error {
	rc, err := member.Open()
	if err != nil {
		return err
	}

	defer func() {
		_ = rc.Close()
	}()

	return writeFile(target, rc, member.Mode().Perm())
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), dirPermissions); err != nil {
		return err
	}

	if perm == 0 {
		perm = 0o644
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	written, copyErr := io.Copy(out, io.LimitReader(r, MaxFileSize+1))
	closeErr := out.Close()

	switch {
	case copyErr != nil:
		return copyErr
	case written > MaxFileSize:
		return fmt.Errorf("%s: %w: %w", filepath.Base(target), release.ErrExtraction, errTooLarge)
	default:
		return closeErr
	}
}

func writeSymlink(dest, target, linkname string) error {
	resolved := linkname
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(filepath.Dir(target), linkname)
	}

	if !within(dest, resolved) {
		return fmt.Errorf("%s -> %s: %w: %w", target, linkname, release.ErrExtraction, errUnsafePath)
	}

	if err := os.MkdirAll(filepath.Dir(target), dirPermissions); err != nil {
		return err
	}

	return os.Symlink(linkname, target)
}

// safeJoin resolves an archive member name under dest.
func safeJoin(dest, name string) (string, error) {
	if name == "" || filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%q: %w: %w", name, release.ErrExtraction, errUnsafePath)
	}

	target := filepath.Join(dest, filepath.FromSlash(name))
	if !within(dest, target) {
		return "", fmt.Errorf("%q: %w: %w", name, release.ErrExtraction, errUnsafePath)
	}

	return target, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}

	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
