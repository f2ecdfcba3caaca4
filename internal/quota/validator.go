// Package quota decides whether a client credential may start another synthesis.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voice_gateway/internal/auth"
	"voice_gateway/internal/denial"
	"voice_gateway/internal/models"
	"voice_gateway/internal/storage"
)

// CredentialLookup resolves a hashed client token
type CredentialLookup interface {
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.CredentialWithOwner, error)
}

// UsageReader reads the committed counters for a credential
type UsageReader interface {
	Counts(ctx context.Context, credentialID int64, now time.Time) (models.UsageCounts, error)
}

// Result is the outcome of a successful validation
type Result struct {
	Credential       *models.CredentialWithOwner
	Usage            models.UsageCounts
	RemainingDaily   int
	RemainingMonthly int
}

// Validator checks activity, expiry and quota for a client token. It never writes.
type Validator struct {
	creds CredentialLookup
	usage UsageReader
	now   func() time.Time
}

// NewValidator creates a validator over the given stores
func NewValidator(creds CredentialLookup, usage UsageReader) *Validator {
	return &Validator{creds: creds, usage: usage, now: time.Now}
}

// Validate resolves token and checks it. Denials are returned as *denial.Error in the order
// NotFound, Expired, DailyLimitExceeded, MonthlyLimitExceeded.
func (v *Validator) Validate(ctx context.Context, token string) (*Result, error) {
	if token == "" {
		return nil, denial.New(denial.NotFound)
	}

	cred, err := v.creds.GetByTokenHash(ctx, auth.HashToken(token))
	if err != nil {
		if errors.Is(err, storage.ErrCredentialNotFound) {
			return nil, denial.New(denial.NotFound)
		}
		return nil, fmt.Errorf("failed to look up credential: %w", err)
	}

	return v.Check(ctx, cred)
}

// Check validates an already loaded credential
func (v *Validator) Check(ctx context.Context, cred *models.CredentialWithOwner) (*Result, error) {
	if !cred.IsActive || !cred.OwnerActive {
		return nil, denial.New(denial.NotFound)
	}

	now := v.now()
	if cred.IsExpired(now) {
		return nil, denial.New(denial.Expired)
	}

	counts, err := v.usage.Counts(ctx, cred.ID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to read usage: %w", err)
	}

	if counts.Daily >= cred.DailyLimit {
		return nil, denial.New(denial.DailyLimitExceeded)
	}
	if counts.Monthly >= cred.MonthlyLimit {
		return nil, denial.New(denial.MonthlyLimitExceeded)
	}

	return &Result{
		Credential:       cred,
		Usage:            counts,
		RemainingDaily:   cred.DailyLimit - counts.Daily,
		RemainingMonthly: cred.MonthlyLimit - counts.Monthly,
	}, nil
}
