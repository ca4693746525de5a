package version

import "fmt"

var (
	// Version of the installer. It can be overridden via ldflags.
	Version = "0.2.0"
	// Commit is the short git SHA embedded at build time (or "none").
	Commit = "none"
	// BuildTime is the UTC build timestamp embedded at build time.
	BuildTime = "unknown"
)

// Short returns only the version string.
func Short() string {
	return Version
}

// Full returns a human-readable version string with commit and build time.
func Full() string {
	return fmt.Sprintf("setwp-install %s, commit: %s, built at: %s", Version, Commit, BuildTime)
}
