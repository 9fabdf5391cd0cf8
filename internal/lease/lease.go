// Package lease tracks time-bound grants issued by secrets engines: each
// lease records which engine path produced it and when it expires, so the
// vault can revoke or sweep them independently of the engine's own data.
package lease

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vaultcore/vault/internal/barrier"
	"github.com/vaultcore/vault/internal/vaulterrors"
)

const leasePrefix = "sys/leases/"

// Entry is the persisted record for one lease.
type Entry struct {
	ID         string            `json:"id"`
	EnginePath string            `json:"engine_path"`
	InternalID string            `json:"internal_id,omitempty"`
	TokenHash  string            `json:"token_hash,omitempty"` // hash of the token that requested this lease
	IssuedAt   time.Time         `json:"issued_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
	Renewable  bool              `json:"renewable"`
	MaxTTL     *time.Duration    `json:"max_ttl,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
}

// CreateParams configures Create.
type CreateParams struct {
	EnginePath string
	InternalID string
	TokenHash  string
	TTL        time.Duration
	Renewable  bool
	MaxTTL     time.Duration
	Data       map[string]string
}

// Manager is the Lease Manager component.
type Manager struct {
	barrier *barrier.Barrier
	now     func() time.Time
	idGen   func() string
}

// New constructs a Manager over b.
func New(b *barrier.Barrier, idGen func() string) *Manager {
	return &Manager{barrier: b, now: time.Now, idGen: idGen}
}

// Create persists a new lease and returns its entry.
func (m *Manager) Create(ctx context.Context, params CreateParams) (Entry, error) {
	issuedAt := m.now()
	e := Entry{
		ID:         m.idGen(),
		EnginePath: params.EnginePath,
		InternalID: params.InternalID,
		TokenHash:  params.TokenHash,
		IssuedAt:   issuedAt,
		ExpiresAt:  issuedAt.Add(params.TTL),
		Renewable:  params.Renewable,
		Data:       params.Data,
	}
	if params.MaxTTL > 0 {
		maxTTL := params.MaxTTL
		e.MaxTTL = &maxTTL
	}
	if err := m.put(ctx, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Lookup returns the lease entry for id.
func (m *Manager) Lookup(ctx context.Context, id string) (Entry, error) {
	e, ok, err := m.get(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		return Entry{}, vaulterrors.NotFound("lease", id)
	}
	return e, nil
}

// Renew extends a renewable, unexpired lease by increment, clamped to the
// lease's max-TTL window measured from issuance.
func (m *Manager) Renew(ctx context.Context, id string, increment time.Duration) (Entry, error) {
	e, err := m.Lookup(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	if !e.Renewable {
		return Entry{}, vaulterrors.Forbidden("lease is not renewable")
	}

	now := m.now()
	if !e.ExpiresAt.After(now) {
		return Entry{}, vaulterrors.New(vaulterrors.KindNotFound, "lease has expired").WithDetail("id", id)
	}

	newExpiry := now.Add(increment)
	if e.MaxTTL != nil {
		ceiling := e.IssuedAt.Add(*e.MaxTTL)
		if !now.Before(ceiling) {
			return Entry{}, vaulterrors.New(vaulterrors.KindLimitExceeded, "max TTL exceeded").WithDetail("id", id)
		}
		if newExpiry.After(ceiling) {
			newExpiry = ceiling
		}
	}
	e.ExpiresAt = newExpiry

	if err := m.put(ctx, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Revoke deletes the lease's storage record. The caller must revoke the
// engine-side grant (e.g. a database credential) before calling this, since
// once the record is gone FindExpired can no longer discover it.
func (m *Manager) Revoke(ctx context.Context, id string) error {
	return m.barrier.Delete(ctx, leasePrefix+id)
}

// FindExpired scans all leases and returns those expired as of now. A lease
// entry that fails to decode is skipped and logged rather than failing the
// whole scan, since a single corrupt record must not blind the sweeper to
// every other expired lease.
func (m *Manager) FindExpired(ctx context.Context) ([]Entry, error) {
	ids, err := m.barrier.List(ctx, leasePrefix)
	if err != nil {
		return nil, err
	}

	now := m.now()
	var expired []Entry
	for _, id := range ids {
		e, ok, err := m.get(ctx, id)
		if err != nil {
			logrus.WithError(err).WithField("lease_id", id).Warn("lease: skipping corrupt entry during sweep")
			continue
		}
		if !ok {
			continue
		}
		if !e.ExpiresAt.After(now) {
			expired = append(expired, e)
		}
	}
	return expired, nil
}

// RevokePrefix revokes every lease whose EnginePath has enginePrefix as a
// prefix. Used when a mount is removed to cascade-revoke its leases.
func (m *Manager) RevokePrefix(ctx context.Context, enginePrefix string) error {
	ids, err := m.barrier.List(ctx, leasePrefix)
	if err != nil {
		return err
	}
	for _, id := range ids {
		e, ok, err := m.get(ctx, id)
		if err != nil || !ok {
			continue
		}
		if strings.HasPrefix(e.EnginePath, enginePrefix) {
			if err := m.Revoke(ctx, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// RevokeByToken revokes every lease owned by tokenHash. Used when a token is
// revoked, so its issued leases don't outlive it.
func (m *Manager) RevokeByToken(ctx context.Context, tokenHash string) error {
	ids, err := m.barrier.List(ctx, leasePrefix)
	if err != nil {
		return err
	}
	for _, id := range ids {
		e, ok, err := m.get(ctx, id)
		if err != nil || !ok {
			continue
		}
		if e.TokenHash == tokenHash {
			if err := m.Revoke(ctx, id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) get(ctx context.Context, id string) (Entry, bool, error) {
	raw, ok, err := m.barrier.Get(ctx, leasePrefix+id)
	if err != nil {
		return Entry{}, false, err
	}
	if !ok {
		return Entry{}, false, nil
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, vaulterrors.Internal("lease: decode entry", err)
	}
	return e, true, nil
}

func (m *Manager) put(ctx context.Context, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return vaulterrors.Internal("lease: encode entry", err)
	}
	return m.barrier.Put(ctx, leasePrefix+e.ID, raw)
}
