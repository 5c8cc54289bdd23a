package shape

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes the hashed bytes; the version suffix allows changing
// the shape encoding without colliding with old fingerprints.
const Domain = "qexp/shape/v1"

func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint returns the hex SHA-256 of the canonical form of v.
func Fingerprint(v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("shape fingerprint: %w", err)
	}
	return hashWithDomain(Domain, data), nil
}

// MustFingerprint is Fingerprint that panics on error. Use only with
// shapes built from known-valid values.
func MustFingerprint(v any) string {
	fp, err := Fingerprint(v)
	if err != nil {
		panic(err)
	}
	return fp
}
