package integrity

import (
	"crypto/sha1" //nolint:gosec // SHA-1 is pinned by early releases and only compared, never trusted alone.
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/alexcormier/setwp/internal/domain/release"
)

var errEmptyKeyring = errors.New("keyring contains no keys")

// NewHash returns a fresh hash for alg.
func NewHash(alg release.Algorithm) (hash.Hash, error) {
	switch alg {
	case release.SHA1:
		return sha1.New(), nil //nolint:gosec // See import.
	case release.SHA256:
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("checksum algorithm %q: %w", alg, release.ErrInvalidRelease)
	}
}

// Digest streams r through alg and returns the lower-case hex digest.
func Digest(r io.Reader, alg release.Algorithm) (string, error) {
	h, err := NewHash(alg)
	if err != nil {
		return "", err
	}

	if _, err = io.Copy(h, r); err != nil {
		return "", fmt.Errorf("compute %s: %w", alg, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify computes the digest of the full content of r and compares it with expected.
// url only labels the error.
func Verify(r io.Reader, expected release.Checksum, url string) error {
	actual, err := Digest(r, expected.Algorithm)
	if err != nil {
		return err
	}

	if actual != strings.ToLower(strings.TrimSpace(expected.Value)) {
		return &release.IntegrityError{
			URL:       url,
			Algorithm: expected.Algorithm,
			Expected:  expected.Value,
			Actual:    actual,
		}
	}

	return nil
}

// VerifyFile is Verify over the file at path.
func VerifyFile(path string, expected release.Checksum, url string) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	return Verify(f, expected, url)
}

// VerifySignature checks an armored detached OpenPGP signature over artifact
// against the armored keyring.
func VerifySignature(artifact, signature, keyring io.Reader) error {
	keys, err := openpgp.ReadArmoredKeyRing(keyring)
	if err != nil {
		return fmt.Errorf("read keyring: %w", err)
	}

	if len(keys) == 0 {
		return errEmptyKeyring
	}

	signer, err := openpgp.CheckArmoredDetachedSignature(keys, artifact, signature, nil)
	if err != nil {
		return fmt.Errorf("signature: %w: %w", release.ErrIntegrity, err)
	}

	if signer == nil {
		return fmt.Errorf("signature has no known signer: %w", release.ErrIntegrity)
	}

	return nil
}
