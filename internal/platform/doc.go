// Package platform detects the host OS, OS version and word size and resolves
// which artifact of a release applies to the host.
package platform
