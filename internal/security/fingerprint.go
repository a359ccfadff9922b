package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Fingerprint returns a hex-encoded SHA-256 hash of an opaque secret (a
// bearer token, a one-time code). Stores keep fingerprints instead of the
// raw secret so a dump of their state cannot be replayed.
func Fingerprint(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:])
}

// FingerprintEqual compares a provided secret against a stored fingerprint
// in constant time.
func FingerprintEqual(provided, storedFingerprint string) bool {
	fp := Fingerprint(provided)
	return subtle.ConstantTimeCompare([]byte(fp), []byte(storedFingerprint)) == 1
}
