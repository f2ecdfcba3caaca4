// Package device binds client credentials to a single hardware fingerprint.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"voice_gateway/internal/auth"
	"voice_gateway/internal/denial"
	"voice_gateway/internal/models"
	"voice_gateway/internal/storage"
	"voice_gateway/internal/utils"
)

// Store is the credential persistence the binder needs
type Store interface {
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.CredentialWithOwner, error)
	FindByFingerprint(ctx context.Context, fingerprint string) (*models.Credential, error)
	BindFingerprint(ctx context.Context, id int64, fingerprint string, now time.Time) (bool, error)
	TouchLastLogin(ctx context.Context, id int64, now time.Time) error
}

// Binding describes the device state of a credential after a successful check
type Binding struct {
	Credential  *models.CredentialWithOwner
	Fingerprint string
	Masked      string
	LastLogin   time.Time
	NewlyBound  bool
}

// Binder enforces the one-credential-one-device rule
type Binder struct {
	store  Store
	logger *utils.Logger
	now    func() time.Time
}

// NewBinder creates a binder over the given store
func NewBinder(store Store) *Binder {
	return &Binder{
		store:  store,
		logger: utils.NewLogger("device-binder"),
		now:    time.Now,
	}
}

// MaskFingerprint renders a fingerprint for display
func MaskFingerprint(fp string) string {
	return utils.MaskMiddle(fp, 8)
}

// BindOrVerify binds the fingerprint on first use and verifies it afterwards.
// Denials are returned as *denial.Error and never modify the credential.
func (b *Binder) BindOrVerify(ctx context.Context, token, fingerprint string) (*Binding, error) {
	if token == "" {
		return nil, denial.New(denial.NotFound)
	}

	cred, err := b.store.GetByTokenHash(ctx, auth.HashToken(token))
	if err != nil {
		if errors.Is(err, storage.ErrCredentialNotFound) {
			return nil, denial.New(denial.NotFound)
		}
		return nil, fmt.Errorf("failed to look up credential: %w", err)
	}
	if !cred.IsActive || !cred.OwnerActive {
		return nil, denial.New(denial.NotFound)
	}

	fp := strings.TrimSpace(fingerprint)

	if fp != "" {
		other, err := b.store.FindByFingerprint(ctx, fp)
		switch {
		case err == nil && other.ID != cred.ID:
			b.logger.Warn("Fingerprint already bound to another credential",
				"credential_id", cred.ID, "fingerprint", MaskFingerprint(fp))
			return nil, denial.New(denial.FingerprintAlreadyBound)
		case err != nil && !errors.Is(err, storage.ErrCredentialNotFound):
			return nil, fmt.Errorf("failed to check fingerprint: %w", err)
		}
	}

	now := b.now().UTC()

	if cred.IsBound() {
		return b.verify(ctx, cred, fp, now)
	}

	if fp == "" {
		return nil, denial.New(denial.FingerprintRequired)
	}

	bound, err := b.store.BindFingerprint(ctx, cred.ID, fp, now)
	if err != nil {
		if errors.Is(err, storage.ErrFingerprintTaken) {
			return nil, denial.New(denial.FingerprintAlreadyBound)
		}
		return nil, fmt.Errorf("failed to bind fingerprint: %w", err)
	}

	if !bound {
		// Another request bound this credential first, check against what it wrote
		cred, err = b.store.GetByTokenHash(ctx, cred.TokenHash)
		if err != nil {
			return nil, fmt.Errorf("failed to reload credential: %w", err)
		}
		return b.verify(ctx, cred, fp, now)
	}

	b.logger.Info("Device bound", "credential_id", cred.ID, "fingerprint", MaskFingerprint(fp))

	return &Binding{
		Credential:  cred,
		Fingerprint: fp,
		Masked:      MaskFingerprint(fp),
		LastLogin:   now,
		NewlyBound:  true,
	}, nil
}

// verify handles an already bound credential. An empty fingerprint is accepted
// because clients omit it once bound.
func (b *Binder) verify(ctx context.Context, cred *models.CredentialWithOwner, fp string, now time.Time) (*Binding, error) {
	bound := cred.Fingerprint()
	if fp != "" && fp != bound {
		b.logger.Warn("Device mismatch", "credential_id", cred.ID, "fingerprint", MaskFingerprint(fp))
		return nil, denial.New(denial.DeviceMismatch)
	}

	if err := b.store.TouchLastLogin(ctx, cred.ID, now); err != nil {
		return nil, fmt.Errorf("failed to update last login: %w", err)
	}

	return &Binding{
		Credential:  cred,
		Fingerprint: bound,
		Masked:      MaskFingerprint(bound),
		LastLogin:   now,
	}, nil
}
