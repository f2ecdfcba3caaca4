package auth

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"voice_gateway/internal/utils"
)

// HashPassword hashes a password with bcrypt
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
// Unsalted SHA-256 hex digests from older databases are still accepted.
func CheckPassword(hash, password string) bool {
	if isLegacyHash(hash) {
		return subtle.ConstantTimeCompare([]byte(hash), []byte(utils.HashString(password))) == 1
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// NeedsRehash reports whether hash should be replaced by a bcrypt hash
func NeedsRehash(hash string) bool {
	return isLegacyHash(hash)
}

func isLegacyHash(hash string) bool {
	if len(hash) != 64 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}
