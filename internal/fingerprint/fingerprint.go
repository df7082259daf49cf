// Package fingerprint computes the content address of an uploaded document:
// the lowercase hex SHA-256 digest of its full byte content.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/errors"
)

// Size is the length of a fingerprint in hex characters.
const Size = sha256.Size * 2

// Of returns the fingerprint of b.
func Of(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Read consumes r and returns its fingerprint along with the bytes read, so
// the caller can forward the same content downstream. A read failure wraps
// ErrIO.
func Read(r io.Reader) (string, []byte, error) {
	var buf bytes.Buffer
	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(h, &buf), r); err != nil {
		return "", nil, fmt.Errorf("%w: reading content: %v", apperrors.ErrIO, err)
	}
	return hex.EncodeToString(h.Sum(nil)), buf.Bytes(), nil
}

// Valid reports whether s looks like a fingerprint.
func Valid(s string) bool {
	if len(s) != Size {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil && s == strings.ToLower(s)
}
