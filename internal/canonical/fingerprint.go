package canonical

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/smartdevs17/supplychain-anchor/internal/models"
)

// Fingerprint computes the SHA-256 hex digest of canonical bytes.
// Pure and deterministic.
func Fingerprint(canonicalBytes []byte) string {
	hash := sha256.Sum256(canonicalBytes)
	return hex.EncodeToString(hash[:])
}

// HashEvent canonicalizes an event and returns its fingerprint together
// with the encoding version it was computed under.
func HashEvent(event *models.Event) (digest string, version string, err error) {
	canonicalBytes, err := Canonicalize(event)
	if err != nil {
		return "", "", err
	}
	return Fingerprint(canonicalBytes), Version, nil
}
