package common

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sha256Hex returns the SHA-256 digest of the input as lowercase hex.
func Sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// HashKey joins the parts with a pipe and hashes the result. Queue dedup and
// cache keys are built through here so collisions across key spaces need the
// same part layout, not just the same concatenation.
func HashKey(parts ...string) string {
	return Sha256Hex(strings.Join(parts, "|"))
}
