package release

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown versions, undeclared architectures and missing remote resources.
	ErrNotFound = errors.New("not found")
	// ErrUnsupportedPlatform is returned when the host OS or architecture does not satisfy a release.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	// ErrNetwork is returned for transport failures, timeouts and unexpected HTTP statuses.
	ErrNetwork = errors.New("network error")
	// ErrIntegrity is returned when an artifact does not match its pinned checksum or signature.
	ErrIntegrity = errors.New("integrity check failed")
	// ErrExtraction is returned for malformed archives and missing archive members.
	ErrExtraction = errors.New("extraction failed")
	// ErrDestination is returned when a destination directory cannot be written.
	ErrDestination = errors.New("destination not writable")
	// ErrInvalidRelease is returned for catalog data-entry errors.
	ErrInvalidRelease = errors.New("invalid release data")
)

// IntegrityError describes a checksum mismatch.
type IntegrityError struct {
	// URL is the location the artifact was fetched from.
	URL string
	// Algorithm is the digest used for the comparison.
	Algorithm Algorithm
	// Expected is the pinned hex digest.
	Expected string
	// Actual is the hex digest computed over the fetched bytes.
	Actual string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s mismatch for %s: expected %s, got %s", e.Algorithm, e.URL, e.Expected, e.Actual)
}

// Unwrap lets errors.Is match ErrIntegrity.
func (e *IntegrityError) Unwrap() error {
	return ErrIntegrity
}
