// Package archive unpacks release archives (tar.gz, tar.xz, tar, zip) into a
// scratch directory. Members that would land outside the directory are
// rejected.
package archive
