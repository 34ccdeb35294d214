// Package hash computes content handles for built hotfix artifacts.
package hash

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
)

// Prefix is the algorithm tag of every content handle.
const Prefix = "sha256-"

// Bytes returns the content handle of data: sha256-<base64url>. The URL-safe
// alphabet keeps handles usable as file names and URL path segments.
func Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return Prefix + base64.RawURLEncoding.EncodeToString(sum[:])
}

// Reader returns the content handle of everything read from r.
func Reader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("reading content: %w", err)
	}
	return Prefix + base64.RawURLEncoding.EncodeToString(h.Sum(nil)), nil
}

// File returns the content handle of the file at path.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	return Reader(f)
}

// IsValid reports whether handle is a well-formed content handle.
func IsValid(handle string) bool {
	if !strings.HasPrefix(handle, Prefix) {
		return false
	}

	encoded := strings.TrimPrefix(handle, Prefix)
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	return err == nil && len(raw) == sha256.Size
}
