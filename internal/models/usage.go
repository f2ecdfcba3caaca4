package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageCounts holds a credential's counters for the current day and month.
type UsageCounts struct {
	Daily   int
	Monthly int
}

// UsageLogEntry is an append-only audit record of a completed synthesis job.
type UsageLogEntry struct {
	ID            int64     `db:"id"`
	RequestID     uuid.UUID `db:"request_id"`
	CredentialID  int64     `db:"api_key_id"`
	UpstreamKeyID *int64    `db:"upstream_key_id"`
	TextLength    int       `db:"text_length"`
	VoiceName     string    `db:"voice_name"`
	Duration      float64   `db:"duration"`
	FileSize      int64     `db:"file_size"`
	IPAddress     string    `db:"ip_address"`
	UserAgent     string    `db:"user_agent"`
	CreatedAt     time.Time `db:"created_at"`
}

// UsageLogView is a usage log row joined with the credential and owner for display.
type UsageLogView struct {
	UsageLogEntry
	TokenPrefix string `db:"token_prefix"`
	Username    string `db:"username"`
}
