// Package catalog persists the release catalog.
//
// A catalog document is a YAML or TOML file holding a list of release records.
// Every document is checked against an embedded JSON Schema before it is
// converted into a release.Catalog, and the repository can append records so
// that newly published builds or corrected checksums land in the same file.
package catalog
