package release

import (
	"encoding/hex"
	"fmt"
	"path"
	"sort"
	"strings"
)

// Arch is the architecture class an artifact was built for.
type Arch string

// Known architecture classes.
const (
	ArchAMD64     Arch = "amd64"
	ArchI386      Arch = "i386"
	ArchUniversal Arch = "universal"
)

// ParseArch validates an architecture name.
func ParseArch(s string) (Arch, error) {
	switch a := Arch(strings.ToLower(strings.TrimSpace(s))); a {
	case ArchAMD64, ArchI386, ArchUniversal:
		return a, nil
	default:
		return "", fmt.Errorf("architecture %q: %w", s, ErrUnsupportedPlatform)
	}
}

// Algorithm names the digest used to pin an artifact.
type Algorithm string

// Supported checksum algorithms.
const (
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
)

// ParseAlgorithm validates a checksum algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(s))); a {
	case SHA1, SHA256:
		return a, nil
	default:
		return "", fmt.Errorf("checksum algorithm %q: %w", s, ErrInvalidRelease)
	}
}

// HexLen is the length of the algorithm's digest in hex characters.
func (a Algorithm) HexLen() int {
	switch a {
	case SHA1:
		return 40
	case SHA256:
		return 64
	default:
		return 0
	}
}

// Checksum is a pinned digest together with the algorithm that produced it.
type Checksum struct {
	Algorithm Algorithm
	Value     string
}

// Validate checks the algorithm and the shape of the hex value.
func (c Checksum) Validate() error {
	if _, err := ParseAlgorithm(string(c.Algorithm)); err != nil {
		return err
	}

	if len(c.Value) != c.Algorithm.HexLen() {
		return fmt.Errorf("%s checksum %q has %d hex characters, want %d: %w",
			c.Algorithm, c.Value, len(c.Value), c.Algorithm.HexLen(), ErrInvalidRelease)
	}

	if _, err := hex.DecodeString(c.Value); err != nil {
		return fmt.Errorf("%s checksum %q: %w", c.Algorithm, c.Value, ErrInvalidRelease)
	}

	return nil
}

func (c Checksum) String() string {
	return string(c.Algorithm) + ":" + c.Value
}

// Role is where a manifest entry ends up on the host.
type Role string

// Destination roles.
const (
	RoleExecutable     Role = "executable"
	RoleBashCompletion Role = "bash_completion"
	RoleZshCompletion  Role = "zsh_completion"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleExecutable, RoleBashCompletion, RoleZshCompletion:
		return true
	default:
		return false
	}
}

// ManifestEntry maps one archive member to a destination role.
type ManifestEntry struct {
	// Source is the slash-separated path inside the archive.
	Source string
	// Role selects the destination directory.
	Role Role
	// Rename overrides the destination file name; empty keeps the source base name.
	Rename string
}

// DestinationName is the file name the entry is installed under.
func (e ManifestEntry) DestinationName() string {
	if e.Rename != "" {
		return e.Rename
	}

	return path.Base(e.Source)
}

// DownloadTarget is one fetchable artifact.
type DownloadTarget struct {
	// URL may contain {version} and {arch} placeholders.
	URL      string
	Checksum Checksum
	// Signature optionally points at an armored detached OpenPGP signature.
	Signature string
	Manifest  []ManifestEntry
}

// ExpandURL substitutes the version and architecture placeholders.
func ExpandURL(template, version string, arch Arch) string {
	return strings.NewReplacer("{version}", version, "{arch}", string(arch)).Replace(template)
}

// PlatformConstraint restricts a release to an OS and a minimum OS version.
type PlatformConstraint struct {
	// OS is compared case-insensitively with the host OS; empty matches any OS.
	OS string
	// MinVersion is the lowest host OS version accepted, in dotted form.
	MinVersion string
}

func (c PlatformConstraint) String() string {
	switch {
	case c.OS == "":
		return ">= " + c.MinVersion
	case c.MinVersion == "":
		return c.OS
	default:
		return c.OS + " >= " + c.MinVersion
	}
}

// Descriptor is one published version of setwp.
type Descriptor struct {
	Version    string
	Variants   map[Arch]DownloadTarget
	Constraint *PlatformConstraint
	Deprecated bool
	Caveat     string
}

// Arches returns the declared architectures in a stable order.
func (d *Descriptor) Arches() []Arch {
	arches := make([]Arch, 0, len(d.Variants))
	for a := range d.Variants {
		arches = append(arches, a)
	}

	sort.Slice(arches, func(i, j int) bool { return arches[i] < arches[j] })

	return arches
}

// UniversalOnly reports whether the release ships a single artifact for every architecture.
func (d *Descriptor) UniversalOnly() bool {
	_, ok := d.Variants[ArchUniversal]

	return ok && len(d.Variants) == 1
}

// Variant returns the download target for arch, falling back to the universal artifact.
func (d *Descriptor) Variant(arch Arch) (DownloadTarget, error) {
	if target, ok := d.Variants[arch]; ok {
		return target, nil
	}

	if target, ok := d.Variants[ArchUniversal]; ok {
		return target, nil
	}

	return DownloadTarget{}, fmt.Errorf("release %s has no %s artifact: %w", d.Version, arch, ErrNotFound)
}

// Validate checks the invariants of a descriptor.
// Mixing checksum algorithms across the variants of one release is rejected.
func (d *Descriptor) Validate() error {
	if strings.TrimSpace(d.Version) == "" {
		return fmt.Errorf("release without version: %w", ErrInvalidRelease)
	}

	if len(d.Variants) == 0 {
		return fmt.Errorf("release %s declares no architecture: %w", d.Version, ErrInvalidRelease)
	}

	var algorithm Algorithm

	for _, arch := range d.Arches() {
		target := d.Variants[arch]
		if _, err := ParseArch(string(arch)); err != nil {
			return fmt.Errorf("release %s: %w", d.Version, ErrInvalidRelease)
		}

		if target.URL == "" {
			return fmt.Errorf("release %s/%s has no url: %w", d.Version, arch, ErrInvalidRelease)
		}

		if err := target.Checksum.Validate(); err != nil {
			return fmt.Errorf("release %s/%s: %w", d.Version, arch, err)
		}

		if algorithm == "" {
			algorithm = target.Checksum.Algorithm
		} else if algorithm != target.Checksum.Algorithm {
			return fmt.Errorf("release %s mixes %s and %s checksums: %w",
				d.Version, algorithm, target.Checksum.Algorithm, ErrInvalidRelease)
		}

		if err := validateManifest(target.Manifest); err != nil {
			return fmt.Errorf("release %s/%s: %w", d.Version, arch, err)
		}
	}

	return nil
}

func validateManifest(entries []ManifestEntry) error {
	var hasExecutable bool

	for _, e := range entries {
		if !e.Role.Valid() {
			return fmt.Errorf("unknown role %q: %w", e.Role, ErrInvalidRelease)
		}

		if e.Source == "" || path.IsAbs(e.Source) || strings.Contains(e.Source, "..") {
			return fmt.Errorf("bad manifest source %q: %w", e.Source, ErrInvalidRelease)
		}

		if strings.ContainsAny(e.Rename, `/\`) {
			return fmt.Errorf("bad rename %q: %w", e.Rename, ErrInvalidRelease)
		}

		if e.Role == RoleExecutable {
			hasExecutable = true
		}
	}

	if !hasExecutable {
		return fmt.Errorf("manifest installs no executable: %w", ErrInvalidRelease)
	}

	return nil
}

// clone returns a deep copy so catalog merges never alias caller data.
func (d *Descriptor) clone() *Descriptor {
	c := &Descriptor{
		Version:    d.Version,
		Variants:   make(map[Arch]DownloadTarget, len(d.Variants)),
		Deprecated: d.Deprecated,
		Caveat:     d.Caveat,
	}

	for a, t := range d.Variants {
		t.Manifest = append([]ManifestEntry(nil), t.Manifest...)
		c.Variants[a] = t
	}

	if d.Constraint != nil {
		constraint := *d.Constraint
		c.Constraint = &constraint
	}

	return c
}
