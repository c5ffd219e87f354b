package graph

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// NormalizeName canonicalizes an entity name for identity purposes:
// case-folded with collapsed interior whitespace.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// NormalizeType uppercases a type label, defaulting to OTHER.
func NormalizeType(entityType string) string {
	t := strings.ToUpper(strings.TrimSpace(entityType))
	if t == "" {
		return "OTHER"
	}
	return strings.ReplaceAll(t, " ", "_")
}

// Fingerprint is the deterministic entity identity: blake2b-256 over the
// normalized name and type. Concurrent extractions of the same entity
// collapse onto the same fingerprint.
func Fingerprint(name, entityType string) string {
	sum := blake2b.Sum256([]byte(NormalizeName(name) + "\x00" + NormalizeType(entityType)))
	return hex.EncodeToString(sum[:])
}
