// Package selftest runs an installed setwp executable and compares the
// version it reports with the version that was requested.
package selftest
