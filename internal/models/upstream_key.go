package models

import "time"

// UpstreamKey is a provider-side credential drawn from the rotation pool.
type UpstreamKey struct {
	ID                int64      `db:"id"`
	Name              string     `db:"name"`
	EncryptedSecret   string     `db:"encrypted_secret"` // AES-GCM, base64
	SecretHash        string     `db:"secret_hash"`      // SHA-256, for duplicate detection
	IsActive          bool       `db:"is_active"`
	UsageCount        int64      `db:"usage_count"`
	LastUsed          *time.Time `db:"last_used"`
	LastQuotaExceeded *time.Time `db:"last_quota_exceeded"`
	CreatedAt         time.Time  `db:"created_at"`

	// Decrypted secret, never persisted or serialized
	Secret string `db:"-" json:"-"`
}

// UpstreamKeySummary is the admin listing row for an upstream key.
type UpstreamKeySummary struct {
	UpstreamKey
	TodayCount int `db:"today_count"`
	TodayChars int `db:"today_chars"`
}
