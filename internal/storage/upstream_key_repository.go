package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"voice_gateway/internal/models"
	"voice_gateway/internal/utils"
)

// UpstreamKeyRepository handles provider credential database operations.
// Secrets are encrypted before they reach the database.
type UpstreamKeyRepository struct {
	db  *DB
	enc *Encryption
}

// NewUpstreamKeyRepository creates a new upstream key repository
func NewUpstreamKeyRepository(db *DB, enc *Encryption) *UpstreamKeyRepository {
	return &UpstreamKeyRepository{db: db, enc: enc}
}

const upstreamKeyColumns = `id, name, encrypted_secret, secret_hash, is_active, usage_count,
	last_used, last_quota_exceeded, created_at`

// ListActive returns active keys oldest first, with decrypted secrets
func (r *UpstreamKeyRepository) ListActive(ctx context.Context) ([]*models.UpstreamKey, error) {
	query := `SELECT ` + upstreamKeyColumns + `
		FROM upstream_keys
		WHERE is_active = TRUE
		ORDER BY created_at ASC, id ASC`

	var keys []*models.UpstreamKey
	if err := r.db.conn.SelectContext(ctx, &keys, query); err != nil {
		return nil, fmt.Errorf("failed to list active upstream keys: %w", err)
	}

	out := keys[:0]
	for _, k := range keys {
		secret, err := r.enc.DecryptString(k.EncryptedSecret)
		if err != nil {
			// A key encrypted under a different ENCRYPTION_KEY can never be used
			utils.NewLogger("upstream-keys").Error("Skipping undecryptable upstream key", "key_id", k.ID, "error", err)
			continue
		}
		k.Secret = secret
		out = append(out, k)
	}

	return out, nil
}

// List returns all keys with today's counters, newest first. Secrets are not decrypted.
func (r *UpstreamKeyRepository) List(ctx context.Context, now time.Time) ([]*models.UpstreamKeySummary, error) {
	query := `SELECT k.id, k.name, k.encrypted_secret, k.secret_hash, k.is_active, k.usage_count,
			k.last_used, k.last_quota_exceeded, k.created_at,
			COALESCE(d.count, 0) AS today_count,
			COALESCE(d.characters, 0) AS today_chars
		FROM upstream_keys k
		LEFT JOIN upstream_daily_usage d ON d.upstream_key_id = k.id AND d.date = $1
		ORDER BY k.created_at DESC, k.id DESC`

	var keys []*models.UpstreamKeySummary
	if err := r.db.conn.SelectContext(ctx, &keys, query, models.DayKey(now)); err != nil {
		return nil, fmt.Errorf("failed to list upstream keys: %w", err)
	}

	for _, k := range keys {
		if secret, err := r.enc.DecryptString(k.EncryptedSecret); err == nil {
			k.Secret = secret
		}
	}

	return keys, nil
}

// Create encrypts and stores a new key. A secret that is already stored yields ErrDuplicate.
func (r *UpstreamKeyRepository) Create(ctx context.Context, key *models.UpstreamKey) error {
	encrypted, err := r.enc.EncryptString(key.Secret)
	if err != nil {
		return fmt.Errorf("failed to encrypt upstream key: %w", err)
	}
	key.EncryptedSecret = encrypted
	key.SecretHash = utils.HashString(key.Secret)

	query := `
		INSERT INTO upstream_keys (name, encrypted_secret, secret_hash, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err = r.db.conn.QueryRowContext(ctx, query,
		key.Name, key.EncryptedSecret, key.SecretHash, key.IsActive,
	).Scan(&key.ID, &key.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create upstream key: %w", err)
	}

	return nil
}

// Delete removes a key. Usage log rows keep a NULL reference.
func (r *UpstreamKeyRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.conn.ExecContext(ctx, `DELETE FROM upstream_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete upstream key: %w", err)
	}
	return requireAffected(result, ErrUpstreamKeyNotFound)
}

// Toggle flips the active flag and returns the new value
func (r *UpstreamKeyRepository) Toggle(ctx context.Context, id int64) (bool, error) {
	var active bool
	err := r.db.conn.QueryRowContext(ctx,
		`UPDATE upstream_keys SET is_active = NOT is_active WHERE id = $1 RETURNING is_active`, id,
	).Scan(&active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrUpstreamKeyNotFound
		}
		return false, fmt.Errorf("failed to toggle upstream key: %w", err)
	}
	return active, nil
}

// RecordSuccess counts one successful synthesis against the key
func (r *UpstreamKeyRepository) RecordSuccess(ctx context.Context, id int64, chars int, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE upstream_keys SET usage_count = usage_count + 1, last_used = $2 WHERE id = $1`, id, now)
	if err != nil {
		return fmt.Errorf("failed to record upstream success: %w", err)
	}
	if err := requireAffected(result, ErrUpstreamKeyNotFound); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO upstream_daily_usage (upstream_key_id, date, count, characters)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (upstream_key_id, date)
		DO UPDATE SET count = upstream_daily_usage.count + 1,
			characters = upstream_daily_usage.characters + EXCLUDED.characters
	`, id, models.DayKey(now), chars); err != nil {
		return fmt.Errorf("failed to record upstream daily usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RecordQuotaExceeded stamps the time the provider last refused the key for quota
func (r *UpstreamKeyRepository) RecordQuotaExceeded(ctx context.Context, id int64, now time.Time) error {
	result, err := r.db.conn.ExecContext(ctx,
		`UPDATE upstream_keys SET last_quota_exceeded = $2 WHERE id = $1`, id, now)
	if err != nil {
		return fmt.Errorf("failed to record upstream quota exceeded: %w", err)
	}
	return requireAffected(result, ErrUpstreamKeyNotFound)
}
