// Package installer drives one install of a setwp release through the
// resolve, fetch, verify, install and self-test stages.
package installer
