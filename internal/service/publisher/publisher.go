package publisher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alexcormier/setwp/internal/archive"
	"github.com/alexcormier/setwp/internal/domain/release"
	"github.com/alexcormier/setwp/internal/integrity"
	"github.com/alexcormier/setwp/internal/logger"
	"github.com/alexcormier/setwp/internal/repository/catalog"
)

// DefaultAlgorithm pins new records.
const DefaultAlgorithm = release.SHA256

var (
	errNoCatalog = errors.New("catalog path is required")
	errNoVersion = errors.New("version is required")
	errNoURL     = errors.New("url is required")
)

// Options contains inputs for the publisher entry point.
type Options struct {
	// CatalogPath is the YAML or TOML catalog to append to; it is created when missing.
	CatalogPath string
	// ArchivePath is the local copy of the artifact that will be uploaded.
	ArchivePath string
	Version     string
	Arch        string
	// URL is where the archive will be downloaded from; {version} and {arch} are expanded at install time.
	URL string
	// Algorithm defaults to DefaultAlgorithm. sha1 is kept for legacy records.
	Algorithm string
	// Signature optionally points at an armored detached signature of the archive.
	Signature string
	// Manifest defaults to DefaultManifest.
	Manifest   []release.ManifestEntry
	OS         string
	MinOS      string
	Deprecated bool
	Caveat     string
}

// DefaultManifest is the layout of every setwp archive published so far.
func DefaultManifest() []release.ManifestEntry {
	return []release.ManifestEntry{
		{Source: "setwp", Role: release.RoleExecutable},
		{Source: "completion/setwp-completion.bash", Role: release.RoleBashCompletion},
		{Source: "completion/setwp-completion.zsh", Role: release.RoleZshCompletion, Rename: "_setwp"},
	}
}

// Run checks the archive, computes its checksum and appends a record to the catalog.
func Run(ctx context.Context, opts *Options) (*catalog.Record, error) {
	ctx = logger.WithName(ctx, "publisher")

	record, err := buildRecord(ctx, opts)
	if err != nil {
		return nil, err
	}

	if err = publish(ctx, catalog.NewFileRepository(opts.CatalogPath), record); err != nil {
		return nil, fmt.Errorf("append to %s: %w", opts.CatalogPath, err)
	}

	printNextSteps(ctx, opts, record)

	return record, nil
}

func buildRecord(ctx context.Context, opts *Options) (*catalog.Record, error) {
	switch {
	case opts.CatalogPath == "":
		return nil, errNoCatalog
	case strings.TrimSpace(opts.Version) == "":
		return nil, errNoVersion
	case opts.URL == "":
		return nil, errNoURL
	}

	arch, err := release.ParseArch(opts.Arch)
	if err != nil {
		return nil, err
	}

	algorithm := DefaultAlgorithm
	if opts.Algorithm != "" {
		if algorithm, err = release.ParseAlgorithm(opts.Algorithm); err != nil {
			return nil, err
		}
	}

	manifest := opts.Manifest
	if len(manifest) == 0 {
		manifest = DefaultManifest()
	}

	if err = checkArchive(ctx, opts.ArchivePath, manifest); err != nil {
		return nil, err
	}

	file, err := os.Open(filepath.Clean(opts.ArchivePath))
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = file.Close()
	}()

	digest, err := integrity.Digest(file, algorithm)
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Archive checksum computed", "algorithm", algorithm, "value", digest)

	record := &catalog.Record{
		Version: strings.TrimSpace(opts.Version),
		Architectures: []catalog.Artifact{{
			Arch:      string(arch),
			URL:       opts.URL,
			Checksum:  catalog.Checksum{Algorithm: string(algorithm), Value: digest},
			Signature: opts.Signature,
		}},
		InstallManifest: catalog.FromManifest(manifest),
		Deprecated:      opts.Deprecated,
		Caveat:          opts.Caveat,
	}

	if opts.OS != "" || opts.MinOS != "" {
		record.PlatformConstraint = &catalog.Constraint{OS: opts.OS, MinVersion: opts.MinOS}
	}

	return record, nil
}

// publish appends record to repo. A version already in the catalog keeps
// its platform constraint, caveat and deprecation unless record sets them, so
// publishing another architecture cannot drop them.
func publish(ctx context.Context, repo catalog.Repository, record *catalog.Record) error {
	current, err := repo.Load(ctx)

	switch {
	case errors.Is(err, catalog.ErrNotFound):
	case err != nil:
		return err
	default:
		if existing, lookupErr := current.Lookup(record.Version); lookupErr == nil {
			inheritReleaseFields(record, existing)
		}
	}

	_, err = repo.Append(ctx, *record)

	return err
}

func inheritReleaseFields(record *catalog.Record, existing *release.Descriptor) {
	if record.PlatformConstraint == nil && existing.Constraint != nil {
		record.PlatformConstraint = &catalog.Constraint{
			OS:         existing.Constraint.OS,
			MinVersion: existing.Constraint.MinVersion,
		}
	}

	if record.Caveat == "" {
		record.Caveat = existing.Caveat
	}

	record.Deprecated = record.Deprecated || existing.Deprecated
}

// checkArchive extracts the archive into a scratch directory and makes sure
// every manifest source is a regular file.
func checkArchive(ctx context.Context, path string, manifest []release.ManifestEntry) error {
	format, err := archive.DetectFormat(path)
	if err != nil {
		return err
	}

	scratch, err := os.MkdirTemp("", "setwp-publish-")
	if err != nil {
		return err
	}

	defer func() {
		_ = os.RemoveAll(scratch)
	}()

	if err = archive.Extract(ctx, path, format, scratch); err != nil {
		return err
	}

	for _, entry := range manifest {
		info, statErr := os.Stat(filepath.Join(scratch, filepath.FromSlash(entry.Source)))
		if statErr != nil || !info.Mode().IsRegular() {
			return fmt.Errorf("%s has no %s: %w", filepath.Base(path), entry.Source, release.ErrExtraction)
		}
	}

	return nil
}

// printNextSteps logs where the archive has to be uploaded.
func printNextSteps(ctx context.Context, opts *Options, record *catalog.Record) {
	artifact := record.Architectures[0]

	var builder strings.Builder

	builder.WriteString("Upload ")
	builder.WriteString(opts.ArchivePath)
	builder.WriteString(" to ")
	builder.WriteString(release.ExpandURL(artifact.URL, record.Version, release.Arch(artifact.Arch)))

	if artifact.Signature != "" {
		builder.WriteString("\nand its signature to ")
		builder.WriteString(release.ExpandURL(artifact.Signature, record.Version, release.Arch(artifact.Arch)))
	}

	builder.WriteString("\nthen ship ")
	builder.WriteString(opts.CatalogPath)
	builder.WriteString(" with the installer or point catalog: at it in the installer settings.")

	logger.Info(ctx, builder.String())
}
