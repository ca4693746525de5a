// Package integrity recomputes artifact digests with the algorithm pinned in
// the catalog and compares them with the recorded value. A mismatch is always
// fatal; there is no way to skip verification.
//
// Releases that also publish an armored detached OpenPGP signature can be
// checked against a configured keyring.
package integrity
