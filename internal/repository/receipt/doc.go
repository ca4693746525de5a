// Package receipt records what the last successful install placed on the host.
//
// A receipt is a small YAML document written next to the installed files. It
// names the version, the artifact it came from, every placed file and who ran
// the install, and is read back by the status command.
package receipt
