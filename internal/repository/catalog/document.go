package catalog

import (
	"github.com/alexcormier/setwp/internal/domain/release"
)

// Document is the on-disk shape of a catalog.
type Document struct {
	Releases []Record `yaml:"releases" toml:"releases"`
}

// Record is one published release, or a correction of an earlier one when
// its version repeats.
type Record struct {
	Version            string          `yaml:"version" toml:"version"`
	Architectures      []Artifact      `yaml:"architectures" toml:"architectures"`
	PlatformConstraint *Constraint     `yaml:"platform_constraint,omitempty" toml:"platform_constraint,omitempty"`
	InstallManifest    []ManifestEntry `yaml:"install_manifest,omitempty" toml:"install_manifest,omitempty"`
	Deprecated         bool            `yaml:"deprecated,omitempty" toml:"deprecated,omitempty"`
	Caveat             string          `yaml:"caveat,omitempty" toml:"caveat,omitempty"`
}

// Artifact is the download of one architecture.
type Artifact struct {
	Arch      string   `yaml:"arch" toml:"arch"`
	URL       string   `yaml:"url" toml:"url"`
	Checksum  Checksum `yaml:"checksum" toml:"checksum"`
	Signature string   `yaml:"signature,omitempty" toml:"signature,omitempty"`
	// InstallManifest replaces the release-level manifest for this architecture.
	InstallManifest []ManifestEntry `yaml:"install_manifest,omitempty" toml:"install_manifest,omitempty"`
}

// Checksum pins an artifact.
type Checksum struct {
	Algorithm string `yaml:"algorithm" toml:"algorithm"`
	Value     string `yaml:"value" toml:"value"`
}

// Constraint limits a release to an OS and a minimum OS version.
type Constraint struct {
	OS         string `yaml:"os,omitempty" toml:"os,omitempty"`
	MinVersion string `yaml:"min_version,omitempty" toml:"min_version,omitempty"`
}

// ManifestEntry places one archive member.
type ManifestEntry struct {
	Source string `yaml:"source" toml:"source"`
	Role   string `yaml:"role" toml:"role"`
	Rename string `yaml:"rename,omitempty" toml:"rename,omitempty"`
}

// Descriptors converts every record, in document order.
func (d *Document) Descriptors() ([]*release.Descriptor, error) {
	descriptors := make([]*release.Descriptor, 0, len(d.Releases))

	for i := range d.Releases {
		descriptor, err := d.Releases[i].Descriptor()
		if err != nil {
			return nil, err
		}

		descriptors = append(descriptors, descriptor)
	}

	return descriptors, nil
}

// Catalog builds the release catalog, merging corrections.
func (d *Document) Catalog() (*release.Catalog, error) {
	descriptors, err := d.Descriptors()
	if err != nil {
		return nil, err
	}

	return release.NewCatalog(descriptors...)
}

// Descriptor converts the record into the domain model.
func (r *Record) Descriptor() (*release.Descriptor, error) {
	descriptor := &release.Descriptor{
		Version:    r.Version,
		Variants:   make(map[release.Arch]release.DownloadTarget, len(r.Architectures)),
		Deprecated: r.Deprecated,
		Caveat:     r.Caveat,
	}

	if r.PlatformConstraint != nil {
		descriptor.Constraint = &release.PlatformConstraint{
			OS:         r.PlatformConstraint.OS,
			MinVersion: r.PlatformConstraint.MinVersion,
		}
	}

	for _, artifact := range r.Architectures {
		arch, err := release.ParseArch(artifact.Arch)
		if err != nil {
			return nil, err
		}

		algorithm, err := release.ParseAlgorithm(artifact.Checksum.Algorithm)
		if err != nil {
			return nil, err
		}

		manifest := artifact.InstallManifest
		if len(manifest) == 0 {
			manifest = r.InstallManifest
		}

		descriptor.Variants[arch] = release.DownloadTarget{
			URL:       artifact.URL,
			Checksum:  release.Checksum{Algorithm: algorithm, Value: artifact.Checksum.Value},
			Signature: artifact.Signature,
			Manifest:  toManifest(manifest),
		}
	}

	return descriptor, nil
}

func toManifest(entries []ManifestEntry) []release.ManifestEntry {
	manifest := make([]release.ManifestEntry, 0, len(entries))

	for _, e := range entries {
		manifest = append(manifest, release.ManifestEntry{
			Source: e.Source,
			Role:   release.Role(e.Role),
			Rename: e.Rename,
		})
	}

	return manifest
}

// FromManifest converts domain manifest entries for storage.
func FromManifest(entries []release.ManifestEntry) []ManifestEntry {
	manifest := make([]ManifestEntry, 0, len(entries))

	for _, e := range entries {
		manifest = append(manifest, ManifestEntry{
			Source: e.Source,
			Role:   string(e.Role),
			Rename: e.Rename,
		})
	}

	return manifest
}

// FromDescriptor converts a descriptor back into a record. Manifests shared
// by every architecture are stored once at the release level.
func FromDescriptor(d *release.Descriptor) Record {
	record := Record{
		Version:    d.Version,
		Deprecated: d.Deprecated,
		Caveat:     d.Caveat,
	}

	if d.Constraint != nil {
		record.PlatformConstraint = &Constraint{OS: d.Constraint.OS, MinVersion: d.Constraint.MinVersion}
	}

	arches := d.Arches()

	var shared []release.ManifestEntry
	if len(arches) > 0 {
		shared = d.Variants[arches[0]].Manifest
	}

	for _, arch := range arches {
		if !sameManifest(shared, d.Variants[arch].Manifest) {
			shared = nil

			break
		}
	}

	if shared != nil {
		record.InstallManifest = FromManifest(shared)
	}

	for _, arch := range arches {
		target := d.Variants[arch]

		artifact := Artifact{
			Arch:      string(arch),
			URL:       target.URL,
			Checksum:  Checksum{Algorithm: string(target.Checksum.Algorithm), Value: target.Checksum.Value},
			Signature: target.Signature,
		}

		if shared == nil {
			artifact.InstallManifest = FromManifest(target.Manifest)
		}

		record.Architectures = append(record.Architectures, artifact)
	}

	return record
}

func sameManifest(a, b []release.ManifestEntry) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
