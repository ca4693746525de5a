// Package publisher records a freshly built setwp archive in a catalog file.
//
// It checks that the archive contains every file the install manifest names,
// pins the archive checksum and appends the record to the catalog, so that a
// rebuilt artifact corrects the checksum of an already published version.
package publisher
