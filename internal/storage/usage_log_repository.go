package storage

import (
	"context"
	"fmt"
	"time"

	"voice_gateway/internal/models"
)

// UsageLogRepository appends and reads synthesis audit records
type UsageLogRepository struct {
	db *DB
}

// NewUsageLogRepository creates a new usage log repository
func NewUsageLogRepository(db *DB) *UsageLogRepository {
	return &UsageLogRepository{db: db}
}

const insertUsageLog = `
	INSERT INTO usage_logs (request_id, api_key_id, upstream_key_id, text_length, voice_name,
		duration, file_size, ip_address, user_agent, created_at)
	VALUES (:request_id, :api_key_id, :upstream_key_id, :text_length, :voice_name,
		:duration, :file_size, :ip_address, :user_agent, :created_at)
	ON CONFLICT (request_id) DO NOTHING
`

// Create appends one entry. Re-inserting the same request ID is a no-op.
func (r *UsageLogRepository) Create(ctx context.Context, entry *models.UsageLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if _, err := r.db.conn.NamedExecContext(ctx, insertUsageLog, entry); err != nil {
		return fmt.Errorf("failed to create usage log: %w", err)
	}
	return nil
}

// CreateBatch appends entries in one transaction
func (r *UsageLogRepository) CreateBatch(ctx context.Context, entries []*models.UsageLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, insertUsageLog)
	if err != nil {
		return fmt.Errorf("failed to prepare usage log insert: %w", err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, entry); err != nil {
			return fmt.Errorf("failed to insert usage log: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// List returns the most recent entries joined with credential and owner
func (r *UsageLogRepository) List(ctx context.Context, limit int) ([]*models.UsageLogView, error) {
	query := `
		SELECT l.id, l.request_id, l.api_key_id, l.upstream_key_id, l.text_length, l.voice_name,
			l.duration, l.file_size, l.ip_address, l.user_agent, l.created_at,
			COALESCE(k.token_prefix, '') AS token_prefix,
			COALESCE(u.username, '') AS username
		FROM usage_logs l
		LEFT JOIN api_keys k ON k.id = l.api_key_id
		LEFT JOIN users u ON u.id = k.user_id
		ORDER BY l.created_at DESC, l.id DESC
		LIMIT $1
	`

	var logs []*models.UsageLogView
	if err := r.db.conn.SelectContext(ctx, &logs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list usage logs: %w", err)
	}
	return logs, nil
}

// PurgeOlderThan deletes entries created before the cutoff and returns how many were removed
func (r *UsageLogRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.conn.ExecContext(ctx, `DELETE FROM usage_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge usage logs: %w", err)
	}
	return result.RowsAffected()
}
