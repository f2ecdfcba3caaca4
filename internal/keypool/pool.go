// Package keypool hands out provider credentials in rotation order and records
// how each attempt went.
package keypool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voice_gateway/internal/models"
	"voice_gateway/internal/utils"
)

// ErrNoKeysAvailable is returned when the pool has no active key left to try
var ErrNoKeysAvailable = errors.New("no upstream keys available")

// FailureKind classifies a failed attempt against one key
type FailureKind int

const (
	FailureUpstream   FailureKind = iota // non-2xx other than 429
	FailureQuota                         // 429 from the provider
	FailureTimeout                       // the per-call deadline expired
	FailureTransport                     // connection level error
	FailureMalformed                     // 2xx with an unusable payload
	FailureConversion                    // audio could not be transcoded
)

func (k FailureKind) String() string {
	switch k {
	case FailureQuota:
		return "quota"
	case FailureTimeout:
		return "timeout"
	case FailureTransport:
		return "transport"
	case FailureMalformed:
		return "malformed"
	case FailureConversion:
		return "conversion"
	default:
		return "upstream"
	}
}

// Store is the persistence behind the pool
type Store interface {
	ListActive(ctx context.Context) ([]*models.UpstreamKey, error)
	RecordSuccess(ctx context.Context, id int64, chars int, now time.Time) error
	RecordQuotaExceeded(ctx context.Context, id int64, now time.Time) error
}

// Pool manages the provider credentials.
// It holds no lock of its own; every mutation is a single atomic statement in the store.
type Pool struct {
	store  Store
	logger *utils.Logger
	now    func() time.Time
}

// NewPool creates a pool backed by store
func NewPool(store Store) *Pool {
	return &Pool{
		store:  store,
		logger: utils.NewLogger("keypool"),
		now:    time.Now,
	}
}

// Candidates snapshots the active keys, oldest first, for one request
func (p *Pool) Candidates(ctx context.Context) (*Rotation, error) {
	keys, err := p.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load upstream keys: %w", err)
	}
	return &Rotation{keys: keys}, nil
}

// RecordSuccess counts a confirmed synthesis against the key
func (p *Pool) RecordSuccess(ctx context.Context, key *models.UpstreamKey, chars int) error {
	if err := p.store.RecordSuccess(ctx, key.ID, chars, p.now().UTC()); err != nil {
		return fmt.Errorf("failed to record upstream success: %w", err)
	}
	return nil
}

// RecordFailure notes a failed attempt. Quota refusals are stamped on the key;
// everything else is only logged. Keys are never deactivated here.
func (p *Pool) RecordFailure(ctx context.Context, key *models.UpstreamKey, kind FailureKind, cause error) error {
	p.logger.Warn("Upstream key attempt failed",
		"key_id", key.ID,
		"key", utils.MaskSuffix(key.Secret, 4),
		"kind", kind.String(),
		"error", cause,
	)

	if kind != FailureQuota {
		return nil
	}

	if err := p.store.RecordQuotaExceeded(ctx, key.ID, p.now().UTC()); err != nil {
		return fmt.Errorf("failed to record upstream quota: %w", err)
	}
	return nil
}

// Rotation iterates the candidate keys of a single request. Each key is tried at most once.
type Rotation struct {
	keys []*models.UpstreamKey
	next int
}

// Acquire returns the next untried key, or ErrNoKeysAvailable once all were tried
func (r *Rotation) Acquire() (*models.UpstreamKey, error) {
	if r.next >= len(r.keys) {
		return nil, ErrNoKeysAvailable
	}
	key := r.keys[r.next]
	r.next++
	return key, nil
}

// Len returns the number of candidates
func (r *Rotation) Len() int {
	return len(r.keys)
}

// Tried returns how many candidates have been handed out
func (r *Rotation) Tried() int {
	return r.next
}
