package storage

import (
	"context"
	"fmt"
)

const fingerprintIndex = "api_keys_device_fingerprint_key"

const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
    id BIGSERIAL PRIMARY KEY,
    username TEXT NOT NULL UNIQUE,
    email TEXT NOT NULL DEFAULT '',
    password_hash TEXT NOT NULL,
    role TEXT NOT NULL DEFAULT 'user',
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

const schemaAPIKeys = `
CREATE TABLE IF NOT EXISTS api_keys (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    key_name TEXT NOT NULL,
    token_hash TEXT NOT NULL UNIQUE,
    token_prefix TEXT NOT NULL DEFAULT '',
    daily_limit INTEGER NOT NULL DEFAULT 100,
    monthly_limit INTEGER NOT NULL DEFAULT 3000,
    expires_at TIMESTAMPTZ,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
ALTER TABLE api_keys ADD COLUMN IF NOT EXISTS device_fingerprint TEXT;
ALTER TABLE api_keys ADD COLUMN IF NOT EXISTS last_login TIMESTAMPTZ;
CREATE UNIQUE INDEX IF NOT EXISTS ` + fingerprintIndex + `
    ON api_keys(device_fingerprint) WHERE device_fingerprint IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_api_keys_user ON api_keys(user_id);
`

const schemaUsage = `
CREATE TABLE IF NOT EXISTS daily_usage (
    api_key_id BIGINT NOT NULL REFERENCES api_keys(id) ON DELETE CASCADE,
    date TEXT NOT NULL,
    count INTEGER NOT NULL DEFAULT 0,
    characters BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (api_key_id, date)
);
CREATE TABLE IF NOT EXISTS monthly_usage (
    api_key_id BIGINT NOT NULL REFERENCES api_keys(id) ON DELETE CASCADE,
    month TEXT NOT NULL,
    count INTEGER NOT NULL DEFAULT 0,
    characters BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (api_key_id, month)
);
`

const schemaUpstreamKeys = `
CREATE TABLE IF NOT EXISTS upstream_keys (
    id BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    encrypted_secret TEXT NOT NULL,
    secret_hash TEXT NOT NULL UNIQUE,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    usage_count BIGINT NOT NULL DEFAULT 0,
    last_used TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
ALTER TABLE upstream_keys ADD COLUMN IF NOT EXISTS last_quota_exceeded TIMESTAMPTZ;
CREATE TABLE IF NOT EXISTS upstream_daily_usage (
    upstream_key_id BIGINT NOT NULL REFERENCES upstream_keys(id) ON DELETE CASCADE,
    date TEXT NOT NULL,
    count INTEGER NOT NULL DEFAULT 0,
    characters BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (upstream_key_id, date)
);
`

const schemaUsageLogs = `
CREATE TABLE IF NOT EXISTS usage_logs (
    id BIGSERIAL PRIMARY KEY,
    request_id UUID NOT NULL,
    api_key_id BIGINT NOT NULL REFERENCES api_keys(id) ON DELETE CASCADE,
    upstream_key_id BIGINT REFERENCES upstream_keys(id) ON DELETE SET NULL,
    text_length INTEGER NOT NULL DEFAULT 0,
    voice_name TEXT NOT NULL DEFAULT '',
    duration DOUBLE PRECISION NOT NULL DEFAULT 0,
    file_size BIGINT NOT NULL DEFAULT 0,
    ip_address TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
ALTER TABLE usage_logs ADD COLUMN IF NOT EXISTS user_agent TEXT NOT NULL DEFAULT '';
CREATE UNIQUE INDEX IF NOT EXISTS idx_usage_logs_request ON usage_logs(request_id);
CREATE INDEX IF NOT EXISTS idx_usage_logs_created ON usage_logs(created_at);
`

var schemas = []struct {
	name string
	ddl  string
}{
	{"users", schemaUsers},
	{"api_keys", schemaAPIKeys},
	{"usage", schemaUsage},
	{"upstream_keys", schemaUpstreamKeys},
	{"usage_logs", schemaUsageLogs},
}

// Migrate creates missing tables and columns. Every statement is additive and
// safe to run on each start.
func (db *DB) Migrate(ctx context.Context) error {
	for _, s := range schemas {
		if _, err := db.conn.ExecContext(ctx, s.ddl); err != nil {
			return fmt.Errorf("failed to migrate %s: %w", s.name, err)
		}
	}
	return nil
}
