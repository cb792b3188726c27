package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	DefaultBytes = 32
	MinBytes     = 16
)

var ErrTooShort = errors.New("secret must be at least 16 bytes")

// Generate returns nBytes of crypto/rand entropy, base64url without padding.
func Generate(nBytes int) (string, error) {
	if nBytes < MinBytes {
		return "", ErrTooShort
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Hash is the only form of a secret that ever reaches storage.
func Hash(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
