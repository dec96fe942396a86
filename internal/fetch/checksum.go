package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrChecksumMismatch is returned when the archive does not match the pinned digest.
var ErrChecksumMismatch = errors.New("fetch: archive checksum mismatch")

// hashFile computes the hex-encoded SHA-256 of the file at path.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("fetch: open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("fetch: hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// verifyChecksum compares actual against expected. An empty expected digest
// accepts any archive.
func verifyChecksum(expected, actual string) error {
	expected = strings.ToLower(strings.TrimSpace(expected))
	if expected == "" || expected == actual {
		return nil
	}
	return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expected, actual)
}

// validDigest reports whether s looks like a hex SHA-256 digest.
func validDigest(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
