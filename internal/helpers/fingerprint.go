package helpers

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"lukechampine.com/blake3"
)

// ErrFingerprint is returned when an artifact cannot be read for hashing.
var ErrFingerprint = errors.New("fingerprint failed")

// fingerprintChunkSize bounds how much of the artifact is held in memory at once.
const fingerprintChunkSize = 32 * 1024

// FingerprintFile streams the file through BLAKE3 and returns the lowercase hex digest.
func FingerprintFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: opening %s: %v", ErrFingerprint, path, err)
	}
	defer file.Close()

	return FingerprintReader(file)
}

// FingerprintReader hashes everything readable from r in bounded chunks.
func FingerprintReader(r io.Reader) (string, error) {
	hasher := blake3.New(32, nil)
	buf := make([]byte, fingerprintChunkSize)
	if _, err := io.CopyBuffer(hasher, r, buf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrFingerprint, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// HashKey returns a short BLAKE3 hex digest of s, for use as a storage key.
func HashKey(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}
