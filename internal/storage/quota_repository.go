package storage

import (
	"context"
	"fmt"
	"time"

	"voice_gateway/internal/models"
)

// QuotaRepository owns the per-credential daily and monthly usage counters
type QuotaRepository struct {
	db *DB
}

// NewQuotaRepository creates a new quota repository
func NewQuotaRepository(db *DB) *QuotaRepository {
	return &QuotaRepository{db: db}
}

// Counts returns the credential's counters for the periods containing now
func (r *QuotaRepository) Counts(ctx context.Context, credentialID int64, now time.Time) (models.UsageCounts, error) {
	var counts models.UsageCounts
	query := `
		SELECT
			COALESCE((SELECT count FROM daily_usage WHERE api_key_id = $1 AND date = $2), 0),
			COALESCE((SELECT count FROM monthly_usage WHERE api_key_id = $1 AND month = $3), 0)
	`

	err := r.db.conn.QueryRowContext(ctx, query, credentialID, models.DayKey(now), models.MonthKey(now)).
		Scan(&counts.Daily, &counts.Monthly)
	if err != nil {
		return counts, fmt.Errorf("failed to read usage counts: %w", err)
	}

	return counts, nil
}

// IncrementUsage adds one request and chars characters to the credential's
// daily and monthly counters in a single transaction
func (r *QuotaRepository) IncrementUsage(ctx context.Context, credentialID int64, chars int, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO daily_usage (api_key_id, date, count, characters)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (api_key_id, date)
		DO UPDATE SET count = daily_usage.count + 1, characters = daily_usage.characters + EXCLUDED.characters
	`, credentialID, models.DayKey(now), chars); err != nil {
		return fmt.Errorf("failed to increment daily usage: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO monthly_usage (api_key_id, month, count, characters)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (api_key_id, month)
		DO UPDATE SET count = monthly_usage.count + 1, characters = monthly_usage.characters + EXCLUDED.characters
	`, credentialID, models.MonthKey(now), chars); err != nil {
		return fmt.Errorf("failed to increment monthly usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ResetDailyUsage deletes daily counter rows, client and upstream, for days before today.
// Running it twice for the same day is harmless.
func (r *QuotaRepository) ResetDailyUsage(ctx context.Context, now time.Time) (int64, error) {
	today := models.DayKey(now)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM daily_usage WHERE date < $1`, today)
	if err != nil {
		return 0, fmt.Errorf("failed to reset daily usage: %w", err)
	}
	clientRows, _ := res.RowsAffected()

	res, err = tx.ExecContext(ctx, `DELETE FROM upstream_daily_usage WHERE date < $1`, today)
	if err != nil {
		return 0, fmt.Errorf("failed to reset upstream daily usage: %w", err)
	}
	upstreamRows, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return clientRows + upstreamRows, nil
}
