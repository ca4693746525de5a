// Package install places extracted release files into their destination
// directories. Every file is swapped in with an atomic rename and a failed
// install rolls back the files it already replaced.
package install
