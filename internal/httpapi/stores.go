package httpapi

import (
	"context"
	"os"
	"time"

	"voice_gateway/internal/models"
	"voice_gateway/internal/relay"
	"voice_gateway/internal/synthesis"
)

// VoiceService runs client requests through the relay pipeline
type VoiceService interface {
	Synthesize(ctx context.Context, req relay.Request) (*synthesis.Output, error)
	Authenticate(ctx context.Context, token, deviceID string) (*relay.AuthResult, error)
}

// ArtifactOpener serves stored audio files
type ArtifactOpener interface {
	Open(name string) (*os.File, error)
}

// UserStore is the account persistence used by login and user management
type UserStore interface {
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	List(ctx context.Context) ([]*models.User, error)
	SetActive(ctx context.Context, id int64, active bool) error
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
	Delete(ctx context.Context, id int64) error
}

// CredentialStore is the client credential persistence used by key management
type CredentialStore interface {
	Create(ctx context.Context, cred *models.Credential) error
	Update(ctx context.Context, cred *models.Credential) error
	Toggle(ctx context.Context, id int64) (bool, error)
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, now time.Time) ([]*models.CredentialSummary, error)
}

// UpstreamKeyStore is the provider credential persistence
type UpstreamKeyStore interface {
	List(ctx context.Context, now time.Time) ([]*models.UpstreamKeySummary, error)
	Create(ctx context.Context, key *models.UpstreamKey) error
	Delete(ctx context.Context, id int64) error
	Toggle(ctx context.Context, id int64) (bool, error)
}

// UsageLogStore reads and prunes the usage audit log
type UsageLogStore interface {
	List(ctx context.Context, limit int) ([]*models.UsageLogView, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ClientInvalidator drops cached upstream clients when a key changes
type ClientInvalidator interface {
	Invalidate(keyID int64)
}
