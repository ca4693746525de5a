package install

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/alexcormier/setwp/internal/domain/release"
	"github.com/alexcormier/setwp/internal/logger"
)

const (
	// LockFilename marks that an install into the directory is running right now.
	LockFilename = ".setwp-install.lock"

	// DefaultLockLifetime is the age after which a lock marker is ignored
	// even when its owner still appears to run.
	DefaultLockLifetime = 10 * time.Minute

	lockPermissions = 0o644
)

// ErrLocked is returned when another install holds the directory lock.
var ErrLocked = errors.New("another install is running")

// acquireLock creates the lock marker in dir and returns a function removing it.
func acquireLock(ctx context.Context, dir string, lifetime time.Duration) (func(), error) {
	path := filepath.Join(dir, LockFilename)

	for range 2 {
		marker, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, lockPermissions)
		if err == nil {
			_, writeErr := marker.WriteString(strconv.Itoa(os.Getpid()))
			closeErr := marker.Close()

			if err = errors.Join(writeErr, closeErr); err != nil {
				_ = os.Remove(path)

				return nil, fmt.Errorf("write lock %s: %w: %w", path, release.ErrDestination, err)
			}

			return func() {
				_ = os.Remove(path)
			}, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock %s: %w: %w", path, release.ErrDestination, err)
		}

		if !lockIsStale(ctx, path, lifetime) {
			return nil, fmt.Errorf("%s: %w", path, ErrLocked)
		}

		logger.WarnKV(ctx, "Removing stale install lock", "path", path)

		if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock %s: %w", path, err)
		}
	}

	return nil, fmt.Errorf("%s: %w", path, ErrLocked)
}

// lockIsStale reports whether the marker at path may be reclaimed: it is too
// old, unreadable garbage, or its owner process is gone.
func lockIsStale(ctx context.Context, path string, lifetime time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil {
		return errors.Is(err, os.ErrNotExist)
	}

	if time.Since(info.ModTime()) > lifetime {
		logger.DebugKV(ctx, "Install lock expired", "path", path, "age", time.Since(info.ModTime()))

		return true
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil || pid <= 0 {
		return true
	}

	process, err := ps.FindProcess(pid)
	if err != nil {
		// Unable to list processes, so assume the owner is alive.
		return false
	}

	return process == nil
}
