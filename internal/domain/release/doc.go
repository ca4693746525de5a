// Package release holds the installer's domain model: release descriptors,
// download targets, checksum tags, install manifests, the version precedence
// rules and the read-only Catalog built from catalog records.
//
// It also defines the error taxonomy shared by every installer stage.
package release
