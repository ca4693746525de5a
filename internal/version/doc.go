// Package version exposes build metadata of setwp-install.
//
// Version, Commit and BuildTime are injected with -ldflags at build time.
package version
