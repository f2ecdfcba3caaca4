package storage

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice_gateway/internal/models"
)

// getTestDatabaseURL returns the database URL for integration tests
func getTestDatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

// skipIfNoDatabase skips the test when no database is configured
func skipIfNoDatabase(t *testing.T) {
	t.Helper()
	if getTestDatabaseURL() == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
}

// setupTestDB connects, migrates and empties every table
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	skipIfNoDatabase(t)

	db, err := NewDB(DefaultDBConfig(getTestDatabaseURL()))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx))
	// second run must be a no-op
	require.NoError(t, db.Migrate(ctx))

	_, err = db.Conn().ExecContext(ctx, `TRUNCATE usage_logs, upstream_daily_usage, upstream_keys,
		monthly_usage, daily_usage, api_keys, users RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	return db
}

func createTestCredential(t *testing.T, db *DB, username, token string) *models.Credential {
	t.Helper()
	ctx := context.Background()

	user := &models.User{Username: username, PasswordHash: "x", Role: "user", IsActive: true}
	require.NoError(t, NewUserRepository(db).Create(ctx, user))

	cred := &models.Credential{
		UserID:       user.ID,
		Name:         username + " key",
		TokenHash:    token + "-hash",
		TokenPrefix:  token[:4],
		DailyLimit:   5,
		MonthlyLimit: 100,
		IsActive:     true,
	}
	require.NoError(t, NewCredentialRepository(db).Create(ctx, cred))
	return cred
}

func TestQuotaRepository_IncrementUsage(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewQuotaRepository(db)
	cred := createTestCredential(t, db, "alice", "token-a")
	now := time.Now().UTC()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.IncrementUsage(ctx, cred.ID, 3, now))
		}()
	}
	wg.Wait()

	counts, err := repo.Counts(ctx, cred.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 10, counts.Daily)
	assert.Equal(t, 10, counts.Monthly)

	// a row from yesterday is removed by the daily reset, today's survives
	yesterday := now.Add(-24 * time.Hour)
	require.NoError(t, repo.IncrementUsage(ctx, cred.ID, 1, yesterday))

	removed, err := repo.ResetDailyUsage(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	removed, err = repo.ResetDailyUsage(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, removed)

	counts, err = repo.Counts(ctx, cred.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 10, counts.Daily)
}

func TestCredentialRepository_BindFingerprint(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewCredentialRepository(db)
	a := createTestCredential(t, db, "alice", "token-a")
	b := createTestCredential(t, db, "bob", "token-b")
	now := time.Now().UTC()

	bound, err := repo.BindFingerprint(ctx, a.ID, "device-F", now)
	require.NoError(t, err)
	assert.True(t, bound)

	// already bound: conditional update matches nothing
	bound, err = repo.BindFingerprint(ctx, a.ID, "device-G", now)
	require.NoError(t, err)
	assert.False(t, bound)

	// unique index rejects the same fingerprint on another credential
	_, err = repo.BindFingerprint(ctx, b.ID, "device-F", now)
	assert.ErrorIs(t, err, ErrFingerprintTaken)

	got, err := repo.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Nil(t, got.DeviceFingerprint)

	owner, err := repo.FindByFingerprint(ctx, "device-F")
	require.NoError(t, err)
	assert.Equal(t, a.ID, owner.ID)
}

func TestCredentialRepository_ListAndToggle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewCredentialRepository(db)
	cred := createTestCredential(t, db, "alice", "token-a")
	now := time.Now().UTC()

	require.NoError(t, NewQuotaRepository(db).IncrementUsage(ctx, cred.ID, 4, now))

	list, err := repo.List(ctx, now)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].DailyUsage)
	assert.Equal(t, 4, list[0].RemainingDaily())
	assert.Equal(t, "alice", list[0].OwnerUsername)

	active, err := repo.Toggle(ctx, cred.ID)
	require.NoError(t, err)
	assert.False(t, active)

	_, err = repo.Toggle(ctx, 9999)
	assert.ErrorIs(t, err, ErrCredentialNotFound)

	got, err := repo.GetByTokenHash(ctx, "token-a-hash")
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestUpstreamKeyRepository(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	enc, err := NewEncryptionFromHex("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	repo := NewUpstreamKeyRepository(db, enc)

	first := &models.UpstreamKey{Name: "first", Secret: "secret-1", IsActive: true}
	second := &models.UpstreamKey{Name: "second", Secret: "secret-2", IsActive: true}
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))
	assert.ErrorIs(t, repo.Create(ctx, &models.UpstreamKey{Secret: "secret-1", IsActive: true}), ErrDuplicate)

	keys, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, first.ID, keys[0].ID)
	assert.Equal(t, "secret-1", keys[0].Secret)

	now := time.Now().UTC()
	require.NoError(t, repo.RecordSuccess(ctx, second.ID, 42, now))
	require.NoError(t, repo.RecordQuotaExceeded(ctx, first.ID, now))

	summaries, err := repo.List(ctx, now)
	require.NoError(t, err)
	for _, s := range summaries {
		switch s.ID {
		case first.ID:
			assert.Zero(t, s.UsageCount)
			assert.NotNil(t, s.LastQuotaExceeded)
			assert.True(t, s.IsActive, "quota errors never deactivate a key")
		case second.ID:
			assert.Equal(t, int64(1), s.UsageCount)
			assert.Equal(t, 42, s.TodayChars)
		}
	}
}

func TestUsageLogRepository(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewUsageLogRepository(db)
	cred := createTestCredential(t, db, "alice", "token-a")

	old := &models.UsageLogEntry{RequestID: uuid.New(), CredentialID: cred.ID, VoiceName: "kore",
		CreatedAt: time.Now().UTC().AddDate(0, 0, -40)}
	recent := &models.UsageLogEntry{RequestID: uuid.New(), CredentialID: cred.ID, VoiceName: "puck"}

	require.NoError(t, repo.CreateBatch(ctx, []*models.UsageLogEntry{old, recent}))
	// replaying the same request id does not duplicate
	require.NoError(t, repo.Create(ctx, recent))

	logs, err := repo.List(ctx, 1000)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "puck", logs[0].VoiceName)
	assert.Equal(t, "alice", logs[0].Username)
	assert.Equal(t, "toke", logs[0].TokenPrefix)

	deleted, err := repo.PurgeOlderThan(ctx, time.Now().UTC().AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
