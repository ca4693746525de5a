package install

import (
	"bytes"
	"context"
	"crypto"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/alexcormier/setwp/internal/domain/release"
	"github.com/alexcormier/setwp/internal/logger"
)

const (
	// ExecutableMode is applied to files installed with the executable role.
	ExecutableMode os.FileMode = 0o755
	// DataMode is applied to every other installed file.
	DataMode os.FileMode = 0o644

	dirPermissions = 0o755
)

// Roots maps each destination role to its directory.
type Roots map[release.Role]string

// Dir returns the directory configured for role.
func (r Roots) Dir(role release.Role) (string, error) {
	dir, ok := r[role]
	if !ok || dir == "" {
		return "", fmt.Errorf("no directory for role %s: %w", role, release.ErrDestination)
	}

	return dir, nil
}

// PlacedFile describes one installed file.
type PlacedFile struct {
	Role        release.Role
	Source      string
	Destination string
	Mode        os.FileMode
	// Replaced is true when an older file existed at Destination.
	Replaced bool
}

// Report lists the files placed by an install, in manifest order.
type Report struct {
	Files []PlacedFile
}

// Executable returns the destination of the installed executable.
func (r *Report) Executable() (string, bool) {
	for _, f := range r.Files {
		if f.Role == release.RoleExecutable {
			return f.Destination, true
		}
	}

	return "", false
}

// Installer places staged files according to a manifest.
type Installer struct {
	lockLifetime time.Duration
}

// Option configures an Installer.
type Option func(*Installer)

// WithLockLifetime overrides DefaultLockLifetime.
func WithLockLifetime(d time.Duration) Option {
	return func(i *Installer) {
		i.lockLifetime = d
	}
}

// New creates an Installer.
func New(opts ...Option) *Installer {
	i := &Installer{lockLifetime: DefaultLockLifetime}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

// placement is an applied file together with the way to undo it.
type placement struct {
	file   PlacedFile
	backup string
}

// Install copies every manifest entry from stagedDir into its role directory.
// Either all files are placed or the destinations are restored to their
// previous contents.
func (i *Installer) Install(
	ctx context.Context,
	stagedDir string,
	manifest []release.ManifestEntry,
	roots Roots,
) (*Report, error) {
	ctx = logger.WithName(ctx, "install")

	dirs, err := prepareDirectories(manifest, roots)
	if err != nil {
		return nil, err
	}

	binDir, err := roots.Dir(release.RoleExecutable)
	if err != nil {
		return nil, err
	}

	unlock, err := acquireLock(ctx, binDir, i.lockLifetime)
	if err != nil {
		return nil, err
	}

	defer unlock()

	placed := make([]placement, 0, len(manifest))

	for idx, entry := range manifest {
		if err = ctx.Err(); err != nil {
			rollback(ctx, placed)

			return nil, err
		}

		var p placement

		p, err = place(ctx, stagedDir, entry, dirs[idx])
		if err != nil {
			rollback(ctx, placed)

			return nil, err
		}

		placed = append(placed, p)
	}

	report := &Report{Files: make([]PlacedFile, 0, len(placed))}

	for _, p := range placed {
		if p.file.Replaced {
			_ = os.Remove(p.backup)
		}

		report.Files = append(report.Files, p.file)
	}

	return report, nil
}

// prepareDirectories creates the destination directories and checks they
// accept new files. It returns the directory of each manifest entry.
func prepareDirectories(manifest []release.ManifestEntry, roots Roots) ([]string, error) {
	dirs := make([]string, len(manifest))
	checked := make(map[string]struct{}, len(roots))

	if _, err := roots.Dir(release.RoleExecutable); err != nil {
		return nil, err
	}

	for idx, entry := range manifest {
		dir, err := roots.Dir(entry.Role)
		if err != nil {
			return nil, err
		}

		dirs[idx] = dir

		if _, ok := checked[dir]; ok {
			continue
		}

		if err = os.MkdirAll(dir, dirPermissions); err != nil {
			return nil, fmt.Errorf("create %s: %w: %w", dir, release.ErrDestination, err)
		}

		check := goupdate.Options{TargetPath: filepath.Join(dir, entry.DestinationName()), TargetMode: DataMode}
		if err = check.CheckPermissions(); err != nil {
			return nil, fmt.Errorf("%s: %w: %w", dir, release.ErrDestination, err)
		}

		checked[dir] = struct{}{}
	}

	return dirs, nil
}

func modeFor(role release.Role) os.FileMode {
	if role == release.RoleExecutable {
		return ExecutableMode
	}

	return DataMode
}

// place swaps one staged file into dir. The previous file, if any, is kept
// next to the destination until the whole install succeeds.
func place(ctx context.Context, stagedDir string, entry release.ManifestEntry, dir string) (placement, error) {
	source := filepath.Join(stagedDir, filepath.FromSlash(entry.Source))

	info, err := os.Stat(source)
	if err != nil || !info.Mode().IsRegular() {
		return placement{}, fmt.Errorf("archive member %s: %w", entry.Source, release.ErrExtraction)
	}

	data, err := os.ReadFile(filepath.Clean(source))
	if err != nil {
		return placement{}, fmt.Errorf("read %s: %w", entry.Source, err)
	}

	name := entry.DestinationName()
	target := filepath.Join(dir, name)
	backup := filepath.Join(dir, "."+name+".bak")
	mode := modeFor(entry.Role)

	p := placement{
		file: PlacedFile{
			Role:        entry.Role,
			Source:      entry.Source,
			Destination: target,
			Mode:        mode,
			Replaced:    true,
		},
		backup: backup,
	}

	staging := filepath.Join(dir, "."+name+".new")

	// Leftovers of an interrupted run would keep their old mode.
	_ = os.Remove(staging)

	if _, err = os.Lstat(target); errors.Is(err, os.ErrNotExist) {
		p.file.Replaced = false

		if err = create(staging, target, data, mode); err != nil {
			_ = os.Remove(staging)

			return placement{}, fmt.Errorf("create %s: %w: %w", target, release.ErrDestination, err)
		}

		logger.InfoKV(ctx, "Installed file", "role", entry.Role, "path", target, "mode", mode)

		return p, nil
	}

	checksum := sha256.Sum256(data)

	options := goupdate.Options{
		TargetPath:  target,
		TargetMode:  mode,
		Checksum:    checksum[:],
		Hash:        crypto.SHA256,
		OldSavePath: backup,
	}

	if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
		if rerr := goupdate.RollbackError(err); rerr != nil {
			logger.ErrorKV(ctx, "Failed to restore file after unsuccessful swap", "path", target, "error", rerr)
		}

		return placement{}, fmt.Errorf("apply %s: %w: %w", target, release.ErrDestination, err)
	}

	if err = os.Chmod(target, mode); err != nil {
		_ = undo(p)

		return placement{}, fmt.Errorf("chmod %s: %w: %w", target, release.ErrDestination, err)
	}

	logger.InfoKV(ctx, "Installed file", "role", entry.Role, "path", target, "mode", mode)

	return p, nil
}

// writeStaged writes data with its final mode to staging and flushes it to disk.
func writeStaged(staging string, data []byte, mode os.FileMode) error {
	file, err := os.OpenFile(staging, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode)
	if err != nil {
		return err
	}

	if _, err = file.Write(data); err != nil {
		_ = file.Close()

		return err
	}

	if err = file.Sync(); err != nil {
		_ = file.Close()

		return err
	}

	if err = file.Close(); err != nil {
		return err
	}

	return os.Chmod(staging, mode)
}

// create places a file where none existed. The target path only ever holds
// the complete file.
func create(staging, target string, data []byte, mode os.FileMode) error {
	if err := writeStaged(staging, data, mode); err != nil {
		return err
	}

	return os.Rename(staging, target)
}

func undo(p placement) error {
	if p.file.Replaced {
		return os.Rename(p.backup, p.file.Destination)
	}

	return os.Remove(p.file.Destination)
}

// rollback undoes placements in reverse order.
func rollback(ctx context.Context, placed []placement) {
	for idx := len(placed) - 1; idx >= 0; idx-- {
		p := placed[idx]
		if err := undo(p); err != nil {
			logger.ErrorKV(ctx, "Rollback failed", "path", p.file.Destination, "error", err)

			continue
		}

		logger.WarnKV(ctx, "Rolled back file", "path", p.file.Destination)
	}
}
