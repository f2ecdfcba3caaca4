package models

import "time"

const (
	DefaultDailyLimit   = 100
	DefaultMonthlyLimit = 3000
)

// Credential is a client-facing access key.
// The secret token itself is never stored, only its SHA-256 hash and a short display prefix.
type Credential struct {
	ID                int64      `db:"id"`
	UserID            int64      `db:"user_id"`
	Name              string     `db:"key_name"`
	TokenHash         string     `db:"token_hash"`
	TokenPrefix       string     `db:"token_prefix"`
	DailyLimit        int        `db:"daily_limit"`
	MonthlyLimit      int        `db:"monthly_limit"`
	ExpiresAt         *time.Time `db:"expires_at"` // NULL = never expires
	IsActive          bool       `db:"is_active"`
	DeviceFingerprint *string    `db:"device_fingerprint"` // set once, then immutable
	LastLogin         *time.Time `db:"last_login"`
	CreatedAt         time.Time  `db:"created_at"`
}

// IsExpired checks if the credential has expired at the given instant
func (c *Credential) IsExpired(now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return now.After(*c.ExpiresAt)
}

// IsBound reports whether a device fingerprint has been recorded
func (c *Credential) IsBound() bool {
	return c.DeviceFingerprint != nil && *c.DeviceFingerprint != ""
}

// Fingerprint returns the bound fingerprint or an empty string
func (c *Credential) Fingerprint() string {
	if c.DeviceFingerprint == nil {
		return ""
	}
	return *c.DeviceFingerprint
}

// CredentialWithOwner is a credential joined with the owning user's state.
type CredentialWithOwner struct {
	Credential
	OwnerUsername string `db:"owner_username"`
	OwnerActive   bool   `db:"owner_active"`
}

// CredentialSummary is the admin listing row: a credential plus today's usage.
type CredentialSummary struct {
	CredentialWithOwner
	DailyUsage   int `db:"daily_usage"`
	MonthlyUsage int `db:"monthly_usage"`
}

// RemainingDaily never goes negative
func (s *CredentialSummary) RemainingDaily() int {
	return max(0, s.DailyLimit-s.DailyUsage)
}
