package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// APITokenPrefix marks partstream bearer tokens for secret scanners
	APITokenPrefix = "pst_"

	// APITokenRandomBytes is the number of random bytes in a token (256 bits of entropy)
	APITokenRandomBytes = 32

	// APITokenLength is len(prefix) + 64 hex chars
	APITokenLength = len(APITokenPrefix) + 2*APITokenRandomBytes

	// APITokenPrefixDisplayLength is how much of a token is stored for identification
	APITokenPrefixDisplayLength = 12
)

// GenerateAPIToken creates a new bearer token.
// Returns the full token (shown once) and its display prefix.
func GenerateAPIToken() (fullToken, displayPrefix string, err error) {
	b := make([]byte, APITokenRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	fullToken = APITokenPrefix + hex.EncodeToString(b)
	return fullToken, fullToken[:APITokenPrefixDisplayLength], nil
}

// HashAPIToken returns the hex SHA-256 of token, the form kept in the database.
func HashAPIToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateAPITokenFormat checks prefix, length and hex body.
// It does not check whether the token exists.
func ValidateAPITokenFormat(token string) bool {
	if !strings.HasPrefix(token, APITokenPrefix) || len(token) != APITokenLength {
		return false
	}
	_, err := hex.DecodeString(token[len(APITokenPrefix):])
	return err == nil
}

// MaskToken masks a token for safe logging/display
// Example: "abc123xyz789" -> "abc***789"
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 6 {
		return "***"
	}
	return token[:3] + "***" + token[len(token)-3:]
}
