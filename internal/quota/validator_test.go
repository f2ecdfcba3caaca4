package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"voice_gateway/internal/auth"
	"voice_gateway/internal/denial"
	"voice_gateway/internal/models"
	"voice_gateway/internal/storage"
)

type mockCredentials struct {
	mock.Mock
}

func (m *mockCredentials) GetByTokenHash(ctx context.Context, tokenHash string) (*models.CredentialWithOwner, error) {
	args := m.Called(ctx, tokenHash)
	cred, _ := args.Get(0).(*models.CredentialWithOwner)
	return cred, args.Error(1)
}

type mockUsage struct {
	mock.Mock
}

func (m *mockUsage) Counts(ctx context.Context, credentialID int64, now time.Time) (models.UsageCounts, error) {
	args := m.Called(ctx, credentialID, now)
	return args.Get(0).(models.UsageCounts), args.Error(1)
}

var fixedNow = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func activeCredential() *models.CredentialWithOwner {
	return &models.CredentialWithOwner{
		Credential: models.Credential{
			ID:           7,
			Name:         "desktop",
			DailyLimit:   5,
			MonthlyLimit: 20,
			IsActive:     true,
		},
		OwnerUsername: "alice",
		OwnerActive:   true,
	}
}

func newTestValidator(cred *models.CredentialWithOwner, credErr error, counts models.UsageCounts) (*Validator, *mockCredentials, *mockUsage) {
	creds := &mockCredentials{}
	creds.On("GetByTokenHash", mock.Anything, auth.HashToken("tok")).Return(cred, credErr)

	usage := &mockUsage{}
	usage.On("Counts", mock.Anything, int64(7), fixedNow).Return(counts, nil)

	v := NewValidator(creds, usage)
	v.now = func() time.Time { return fixedNow }
	return v, creds, usage
}

func TestValidate_Allows(t *testing.T) {
	v, _, _ := newTestValidator(activeCredential(), nil, models.UsageCounts{Daily: 2, Monthly: 9})

	res, err := v.Validate(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, 3, res.RemainingDaily)
	assert.Equal(t, 11, res.RemainingMonthly)
	assert.Equal(t, "alice", res.Credential.OwnerUsername)
}

func TestValidate_Denials(t *testing.T) {
	past := fixedNow.Add(-time.Second)

	tests := []struct {
		name   string
		cred   func() *models.CredentialWithOwner
		err    error
		counts models.UsageCounts
		want   denial.Reason
	}{
		{
			name: "unknown token",
			cred: func() *models.CredentialWithOwner { return nil },
			err:  storage.ErrCredentialNotFound,
			want: denial.NotFound,
		},
		{
			name: "inactive credential",
			cred: func() *models.CredentialWithOwner {
				c := activeCredential()
				c.IsActive = false
				return c
			},
			want: denial.NotFound,
		},
		{
			name: "inactive owner",
			cred: func() *models.CredentialWithOwner {
				c := activeCredential()
				c.OwnerActive = false
				return c
			},
			want: denial.NotFound,
		},
		{
			name: "expired wins over exhausted quota",
			cred: func() *models.CredentialWithOwner {
				c := activeCredential()
				c.ExpiresAt = &past
				return c
			},
			counts: models.UsageCounts{Daily: 5, Monthly: 20},
			want:   denial.Expired,
		},
		{
			name:   "daily limit reached",
			cred:   activeCredential,
			counts: models.UsageCounts{Daily: 5, Monthly: 5},
			want:   denial.DailyLimitExceeded,
		},
		{
			name:   "daily checked before monthly",
			cred:   activeCredential,
			counts: models.UsageCounts{Daily: 5, Monthly: 20},
			want:   denial.DailyLimitExceeded,
		},
		{
			name:   "monthly limit reached",
			cred:   activeCredential,
			counts: models.UsageCounts{Daily: 1, Monthly: 20},
			want:   denial.MonthlyLimitExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _, _ := newTestValidator(tt.cred(), tt.err, tt.counts)

			res, err := v.Validate(context.Background(), "tok")
			assert.Nil(t, res)
			assert.True(t, denial.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestValidate_ZeroLimitDeniesEverything(t *testing.T) {
	cred := activeCredential()
	cred.DailyLimit = 0
	v, _, _ := newTestValidator(cred, nil, models.UsageCounts{})

	_, err := v.Validate(context.Background(), "tok")
	assert.True(t, denial.Is(err, denial.DailyLimitExceeded))
}

func TestValidate_EmptyTokenSkipsLookup(t *testing.T) {
	v, creds, _ := newTestValidator(activeCredential(), nil, models.UsageCounts{})

	_, err := v.Validate(context.Background(), "")
	assert.True(t, denial.Is(err, denial.NotFound))
	creds.AssertNotCalled(t, "GetByTokenHash", mock.Anything, mock.Anything)
}

func TestValidate_StoreErrorIsInternal(t *testing.T) {
	v, _, _ := newTestValidator(nil, errors.New("connection refused"), models.UsageCounts{})

	_, err := v.Validate(context.Background(), "tok")
	require.Error(t, err)
	assert.Equal(t, denial.Internal, denial.ReasonOf(err))
}
