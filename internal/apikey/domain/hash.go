package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// KeyPrefix starts every key issued by this service.
const KeyPrefix = "kvr_"

const (
	secretBytes   = 32
	displayLength = 12
)

// RecognizedPrefixes are the literal prefixes that mark a bearer credential
// as an API key rather than a JWT.
var RecognizedPrefixes = []string{KeyPrefix, "kvr_test_", "sk_live_"}

// HashAPIKey hashes the raw API key using the same strategy as key creation.
// The digest is unsalted so keys can be looked up by hash.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// DisplayPrefix returns the non-secret head of a key shown in listings.
func DisplayPrefix(raw string) string {
	if len(raw) <= displayLength {
		return raw
	}
	return raw[:displayLength]
}

// GenerateAPIKey returns a new raw key with its hash and display prefix.
func GenerateAPIKey() (raw, hash, prefix string, err error) {
	secret := make([]byte, secretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", "", "", err
	}
	raw = KeyPrefix + hex.EncodeToString(secret)
	return raw, HashAPIKey(raw), DisplayPrefix(raw), nil
}

// LooksLikeAPIKey reports whether token starts with a recognized prefix.
func LooksLikeAPIKey(token string) bool {
	token = strings.TrimSpace(token)
	for _, prefix := range RecognizedPrefixes {
		if strings.HasPrefix(token, prefix) && len(token) > len(prefix) {
			return true
		}
	}
	return false
}
