package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// GenerateID generates a random hex ID
func GenerateID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// IsValidAddress checks if a string is a valid Ethereum address
func IsValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

// NormalizeAddress normalizes an address to lowercase with 0x prefix
func NormalizeAddress(address string) string {
	if !strings.HasPrefix(address, "0x") {
		address = "0x" + address
	}
	return strings.ToLower(address)
}

// IsHexDigest reports whether s is a 64-character hex SHA-256 digest,
// with or without a 0x prefix.
func IsHexDigest(s string) bool {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// CreateIdempotencyKey derives a stable submission key for an event and
// its canonical hash. The same event resubmitted after a transient
// failure always carries the same key, so the ledger can deduplicate.
func CreateIdempotencyKey(eventID, canonicalHash string) string {
	data := fmt.Sprintf("%s-%s", eventID, canonicalHash)
	hash := crypto.Keccak256Hash([]byte(data))
	return hash.Hex()
}
