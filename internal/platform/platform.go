package platform

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/alexcormier/setwp/internal/domain/release"
)

// SystemInfo describes the host the installer runs on.
type SystemInfo struct {
	// OS is the lower-case operating system name (darwin, linux, ...).
	OS string
	// OSVersion is the dotted OS release, e.g. 10.9.5 on macOS.
	OSVersion string
	// Arch is the machine architecture reported by the kernel or the Go runtime.
	Arch string
	// WordSize is the native word size in bits.
	WordSize int
}

// Detect inspects the running host.
// Fields gopsutil cannot provide fall back to the Go runtime.
func Detect(ctx context.Context) (SystemInfo, error) {
	info := SystemInfo{
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		WordSize: strconv.IntSize,
	}

	stat, err := host.InfoWithContext(ctx)
	if err != nil {
		return info, fmt.Errorf("detect host: %w", err)
	}

	if stat.OS != "" {
		info.OS = strings.ToLower(stat.OS)
	}

	info.OSVersion = stat.PlatformVersion

	if stat.KernelArch != "" {
		info.Arch = stat.KernelArch
		info.WordSize = wordSizeOf(stat.KernelArch, info.WordSize)
	}

	return info, nil
}

// wordSizeOf maps a kernel machine name to its word size.
func wordSizeOf(machine string, fallback int) int {
	switch strings.ToLower(machine) {
	case "x86_64", "amd64", "arm64", "aarch64", "ppc64", "ppc64le", "s390x", "riscv64":
		return 64
	case "i386", "i486", "i586", "i686", "x86", "386", "arm", "armv7l", "armv6l":
		return 32
	default:
		return fallback
	}
}

// ResolveArchitecture maps the host word size to an architecture class.
func ResolveArchitecture(info SystemInfo) (release.Arch, error) {
	switch info.WordSize {
	case 64:
		return release.ArchAMD64, nil
	case 32:
		return release.ArchI386, nil
	default:
		return "", fmt.Errorf("%d-bit host (%s): %w", info.WordSize, info.Arch, release.ErrUnsupportedPlatform)
	}
}

// CheckConstraint reports whether the host satisfies a release's platform constraint.
func CheckConstraint(constraint *release.PlatformConstraint, info SystemInfo) error {
	if constraint == nil {
		return nil
	}

	if constraint.OS != "" && !strings.EqualFold(constraint.OS, info.OS) {
		return fmt.Errorf("requires %s, host runs %s: %w", constraint, info.OS, release.ErrUnsupportedPlatform)
	}

	if constraint.MinVersion == "" {
		return nil
	}

	if info.OSVersion == "" {
		return fmt.Errorf("requires %s, host version unknown: %w", constraint, release.ErrUnsupportedPlatform)
	}

	if release.CompareDotted(info.OSVersion, constraint.MinVersion) < 0 {
		return fmt.Errorf("requires %s, host runs %s %s: %w",
			constraint, info.OS, info.OSVersion, release.ErrUnsupportedPlatform)
	}

	return nil
}

// Resolve selects the artifact of d for the host.
// The platform constraint is checked first. Universal-only releases skip
// architecture resolution; otherwise override wins over the detected class.
func Resolve(d *release.Descriptor, info SystemInfo, override release.Arch) (release.Arch, release.DownloadTarget, error) {
	if err := CheckConstraint(d.Constraint, info); err != nil {
		return "", release.DownloadTarget{}, fmt.Errorf("release %s: %w", d.Version, err)
	}

	if d.UniversalOnly() {
		target, err := d.Variant(release.ArchUniversal)

		return release.ArchUniversal, target, err
	}

	arch := override
	if arch == "" {
		var err error

		arch, err = ResolveArchitecture(info)
		if err != nil {
			return "", release.DownloadTarget{}, err
		}
	}

	target, err := d.Variant(arch)
	if err != nil {
		return "", release.DownloadTarget{}, err
	}

	return arch, target, nil
}
