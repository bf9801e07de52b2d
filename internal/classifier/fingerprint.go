package classifier

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/input-output-hk/catalyst-forge-libs/stagesync/fs"
)

// FingerprintPrefix names the hash used for content fingerprints.
const FingerprintPrefix = "sha256:"

// Fingerprint hashes the content of path and returns the fingerprint and the
// number of bytes read.
func Fingerprint(filesystem fs.Filesystem, path string) (string, int64, error) {
	f, err := filesystem.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	return FingerprintReader(f)
}

// FingerprintReader hashes everything read from r.
func FingerprintReader(r io.Reader) (string, int64, error) {
	h := NewFingerprintHash()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("failed to hash content: %w", err)
	}
	return FingerprintSum(h), n, nil
}

// NewFingerprintHash returns the hash fingerprints are computed with, for
// callers that hash content while streaming it elsewhere.
func NewFingerprintHash() hash.Hash {
	return sha256.New()
}

// FingerprintSum renders the fingerprint of everything written to h.
func FingerprintSum(h hash.Hash) string {
	return FingerprintPrefix + hex.EncodeToString(h.Sum(nil))
}
