package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashString returns the hex encoded SHA-256 digest of s.
func HashString(s string) string {
	hasher := sha256.New()
	hasher.Write([]byte(s))
	return hex.EncodeToString(hasher.Sum(nil))
}

// MaskMiddle renders a secret for display as the first and last n characters joined by "***".
// Values too short to keep both ends hidden are shown as their first two characters only.
func MaskMiddle(s string, n int) string {
	if s == "" {
		return ""
	}
	if len(s) <= 2*n {
		if len(s) <= 2 {
			return "***"
		}
		return s[:2] + "***"
	}
	return s[:n] + "***" + s[len(s)-n:]
}

// MaskSuffix shows only the last n characters of a secret, e.g. "...abcd".
func MaskSuffix(s string, n int) string {
	if len(s) <= n {
		return strings.Repeat("*", len(s))
	}
	return "..." + s[len(s)-n:]
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// IntPtr returns a pointer to i.
func IntPtr(i int) *int {
	return &i
}
