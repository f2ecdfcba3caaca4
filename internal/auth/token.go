package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"voice_gateway/internal/utils"
)

// tokenPrefixLen is how much of a client token is kept in clear for display
const tokenPrefixLen = 8

// GenerateToken returns a new URL-safe client token built from 32 random bytes
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken returns the value stored for a client token
func HashToken(token string) string {
	return utils.HashString(token)
}

// TokenPrefix returns the display prefix of a client token
func TokenPrefix(token string) string {
	if len(token) <= tokenPrefixLen {
		return token
	}
	return token[:tokenPrefixLen]
}
