package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"voice_gateway/internal/models"
)

// CredentialRepository handles client credential database operations
type CredentialRepository struct {
	db *DB
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

const credentialColumns = `
	k.id, k.user_id, k.key_name, k.token_hash, k.token_prefix, k.daily_limit, k.monthly_limit,
	k.expires_at, k.is_active, k.device_fingerprint, k.last_login, k.created_at`

const credentialWithOwnerColumns = credentialColumns + `,
	u.username AS owner_username, u.is_active AS owner_active`

// GetByTokenHash looks up a credential and its owner by the SHA-256 hash of the token
func (r *CredentialRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.CredentialWithOwner, error) {
	var cred models.CredentialWithOwner
	query := `SELECT ` + credentialWithOwnerColumns + `
		FROM api_keys k
		JOIN users u ON u.id = k.user_id
		WHERE k.token_hash = $1`

	if err := r.db.conn.GetContext(ctx, &cred, query, tokenHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	return &cred, nil
}

// GetByID retrieves a credential and its owner by ID
func (r *CredentialRepository) GetByID(ctx context.Context, id int64) (*models.CredentialWithOwner, error) {
	var cred models.CredentialWithOwner
	query := `SELECT ` + credentialWithOwnerColumns + `
		FROM api_keys k
		JOIN users u ON u.id = k.user_id
		WHERE k.id = $1`

	if err := r.db.conn.GetContext(ctx, &cred, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	return &cred, nil
}

// FindByFingerprint returns the credential bound to a device fingerprint
func (r *CredentialRepository) FindByFingerprint(ctx context.Context, fingerprint string) (*models.Credential, error) {
	var cred models.Credential
	query := `SELECT ` + credentialColumns + ` FROM api_keys k WHERE k.device_fingerprint = $1`

	if err := r.db.conn.GetContext(ctx, &cred, query, fingerprint); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to find credential by fingerprint: %w", err)
	}

	return &cred, nil
}

// Create inserts a new credential
func (r *CredentialRepository) Create(ctx context.Context, cred *models.Credential) error {
	query := `
		INSERT INTO api_keys (user_id, key_name, token_hash, token_prefix, daily_limit, monthly_limit, expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`

	err := r.db.conn.QueryRowContext(ctx, query,
		cred.UserID, cred.Name, cred.TokenHash, cred.TokenPrefix,
		cred.DailyLimit, cred.MonthlyLimit, cred.ExpiresAt, cred.IsActive,
	).Scan(&cred.ID, &cred.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create credential: %w", err)
	}

	return nil
}

// Update changes a credential's name, limits and expiry
func (r *CredentialRepository) Update(ctx context.Context, cred *models.Credential) error {
	query := `
		UPDATE api_keys
		SET key_name = $2, daily_limit = $3, monthly_limit = $4, expires_at = $5
		WHERE id = $1
	`

	result, err := r.db.conn.ExecContext(ctx, query,
		cred.ID, cred.Name, cred.DailyLimit, cred.MonthlyLimit, cred.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	return requireAffected(result, ErrCredentialNotFound)
}

// Toggle flips the active flag and returns the new value
func (r *CredentialRepository) Toggle(ctx context.Context, id int64) (bool, error) {
	var active bool
	err := r.db.conn.QueryRowContext(ctx,
		`UPDATE api_keys SET is_active = NOT is_active WHERE id = $1 RETURNING is_active`, id,
	).Scan(&active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrCredentialNotFound
		}
		return false, fmt.Errorf("failed to toggle credential: %w", err)
	}
	return active, nil
}

// Delete removes a credential together with its counters and usage logs
func (r *CredentialRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.conn.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return requireAffected(result, ErrCredentialNotFound)
}

// List returns every credential with its owner and current period usage, newest first
func (r *CredentialRepository) List(ctx context.Context, now time.Time) ([]*models.CredentialSummary, error) {
	query := `SELECT ` + credentialWithOwnerColumns + `,
			COALESCE(d.count, 0) AS daily_usage,
			COALESCE(m.count, 0) AS monthly_usage
		FROM api_keys k
		JOIN users u ON u.id = k.user_id
		LEFT JOIN daily_usage d ON d.api_key_id = k.id AND d.date = $1
		LEFT JOIN monthly_usage m ON m.api_key_id = k.id AND m.month = $2
		ORDER BY k.created_at DESC, k.id DESC`

	var creds []*models.CredentialSummary
	if err := r.db.conn.SelectContext(ctx, &creds, query, models.DayKey(now), models.MonthKey(now)); err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}

	return creds, nil
}

// BindFingerprint records the fingerprint on a credential that has none yet.
// It returns false, without error, when the credential was already bound.
// A fingerprint held by another credential yields ErrFingerprintTaken.
func (r *CredentialRepository) BindFingerprint(ctx context.Context, id int64, fingerprint string, now time.Time) (bool, error) {
	result, err := r.db.conn.ExecContext(ctx, `
		UPDATE api_keys
		SET device_fingerprint = $2, last_login = $3
		WHERE id = $1 AND device_fingerprint IS NULL
	`, id, fingerprint, now)
	if err != nil {
		if isUniqueViolation(err, fingerprintIndex) {
			return false, ErrFingerprintTaken
		}
		return false, fmt.Errorf("failed to bind fingerprint: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// TouchLastLogin sets last_login without changing anything else
func (r *CredentialRepository) TouchLastLogin(ctx context.Context, id int64, now time.Time) error {
	result, err := r.db.conn.ExecContext(ctx, `UPDATE api_keys SET last_login = $2 WHERE id = $1`, id, now)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return requireAffected(result, ErrCredentialNotFound)
}
