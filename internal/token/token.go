// Package token implements the opaque bearer token store: plaintext tokens
// are shown to the caller exactly once and never persisted; only their
// SHA-256 hash is written through the Barrier.
package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/vaultcore/vault/internal/barrier"
	"github.com/vaultcore/vault/internal/vaulterrors"
)

// notFoundRate and notFoundBurst bound how often a failed lookup (wrong or
// guessed token) is allowed to retry before Lookup starts refusing outright,
// independent of storage latency. Successful lookups never consume from
// this budget, so legitimate traffic is never throttled by it.
const (
	notFoundRate  = 10 // per second
	notFoundBurst = 20
)

const (
	tokenPrefix      = "sys/tokens/"
	childIndexPrefix = "sys/token-children/"
)

// Entry is the persisted record for a token. The plaintext token itself is
// never part of this structure.
type Entry struct {
	Hash        string            `json:"hash"`
	Policies    []string          `json:"policies"`
	CreatedAt   time.Time         `json:"created_at"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
	Renewable   bool              `json:"renewable"`
	MaxTTL      *time.Duration    `json:"max_ttl,omitempty"`
	ParentHash  string            `json:"parent_hash,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	DisplayName string            `json:"display_name,omitempty"`
	IsRoot      bool              `json:"is_root,omitempty"`
	NumUses     int               `json:"num_uses,omitempty"`
}

// CreateParams configures Create. ParentHash, when set, must name an
// existing token; the new token becomes its child in the revocation tree.
type CreateParams struct {
	Policies    []string
	TTL         time.Duration // zero means no expiry
	Renewable   bool
	MaxTTL      time.Duration // zero means unbounded
	ParentHash  string
	Metadata    map[string]string
	DisplayName string
	IsRoot      bool
	NumUses     int
}

// Store is the Token Store component. All persistence goes through a
// Barrier, so every operation fails with Sealed while the vault is sealed.
type Store struct {
	barrier         *barrier.Barrier
	now             func() time.Time
	notFoundLimiter *rate.Limiter
}

// New constructs a Store over b.
func New(b *barrier.Barrier) *Store {
	return &Store{
		barrier:         b,
		now:             time.Now,
		notFoundLimiter: rate.NewLimiter(rate.Limit(notFoundRate), notFoundBurst),
	}
}

// HashToken returns the hex SHA-256 hash of a plaintext token. Exposed so
// callers (e.g. the policy engine's self-* capability checks) can address a
// token by hash without ever re-deriving it differently.
func HashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// Create mints a new opaque token, persists its entry, and returns the
// plaintext exactly once. The plaintext is never written to storage.
func (s *Store) Create(ctx context.Context, params CreateParams) (plaintext string, entry Entry, err error) {
	plaintext = uuid.New().String()
	hash := HashToken(plaintext)

	if params.ParentHash != "" {
		_, ok, err := s.barrier.Get(ctx, tokenPrefix+params.ParentHash)
		if err != nil {
			return "", Entry{}, err
		}
		if !ok {
			return "", Entry{}, vaulterrors.NotFound("token", params.ParentHash)
		}
	}

	createdAt := s.now()
	e := Entry{
		Hash:        hash,
		Policies:    params.Policies,
		CreatedAt:   createdAt,
		Renewable:   params.Renewable,
		ParentHash:  params.ParentHash,
		Metadata:    params.Metadata,
		DisplayName: params.DisplayName,
		IsRoot:      params.IsRoot,
		NumUses:     params.NumUses,
	}
	if params.TTL > 0 {
		exp := createdAt.Add(params.TTL)
		e.ExpiresAt = &exp
	}
	if params.MaxTTL > 0 {
		maxTTL := params.MaxTTL
		e.MaxTTL = &maxTTL
	}

	if err := s.putEntry(ctx, e); err != nil {
		return "", Entry{}, err
	}

	if params.ParentHash != "" {
		marker := childIndexPrefix + params.ParentHash + "/" + hash
		if err := s.barrier.Put(ctx, marker, []byte{}); err != nil {
			return "", Entry{}, err
		}
	}

	return plaintext, e, nil
}

// Lookup hashes plaintext and returns the live entry, or a NotFound /
// Expired error.
func (s *Store) Lookup(ctx context.Context, plaintext string) (Entry, error) {
	return s.lookupByHash(ctx, HashToken(plaintext))
}

func (s *Store) lookupByHash(ctx context.Context, hash string) (Entry, error) {
	e, ok, err := s.getEntry(ctx, hash)
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		if !s.notFoundLimiter.Allow() {
			return Entry{}, vaulterrors.New(vaulterrors.KindLimitExceeded, "too many failed token lookups")
		}
		return Entry{}, vaulterrors.NotFound("token", hash)
	}
	if e.ExpiresAt != nil && !e.ExpiresAt.After(s.now()) {
		return Entry{}, vaulterrors.New(vaulterrors.KindNotFound, "token has expired").WithDetail("hash", hash)
	}
	return e, nil
}

// Renew extends a renewable token's expiry by increment, clamped to the
// token's max-TTL window from creation.
func (s *Store) Renew(ctx context.Context, plaintext string, increment time.Duration) (Entry, error) {
	hash := HashToken(plaintext)
	e, err := s.lookupByHash(ctx, hash)
	if err != nil {
		return Entry{}, err
	}
	if !e.Renewable {
		return Entry{}, vaulterrors.Forbidden("token is not renewable")
	}

	now := s.now()
	newExpiry := now.Add(increment)
	if e.MaxTTL != nil {
		ceiling := e.CreatedAt.Add(*e.MaxTTL)
		if !now.Before(ceiling) {
			return Entry{}, vaulterrors.New(vaulterrors.KindLimitExceeded, "max TTL exceeded").WithDetail("hash", hash)
		}
		if newExpiry.After(ceiling) {
			newExpiry = ceiling
		}
	}
	e.ExpiresAt = &newExpiry

	if err := s.putEntry(ctx, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Revoke revokes the token identified by plaintext and, first, every
// descendant in its revocation tree. Uses an explicit work-list rather than
// recursion so an arbitrarily deep or wide token tree never grows the Go
// call stack.
func (s *Store) Revoke(ctx context.Context, plaintext string) error {
	_, err := s.RevokeHash(ctx, HashToken(plaintext))
	return err
}

// RevokeHash is Revoke addressed directly by hash, used by cascades that
// already have the hash (e.g. core's token-then-lease revocation cascade).
// It returns every hash revoked (the token itself plus its whole descendant
// tree), so a caller can cascade further — e.g. revoking leases owned by any
// of them.
func (s *Store) RevokeHash(ctx context.Context, hash string) ([]string, error) {
	queue := []string{hash}
	visited := make(map[string]bool)
	var order []string

	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if visited[h] {
			continue
		}
		visited[h] = true
		order = append(order, h)

		children, err := s.barrier.List(ctx, childIndexPrefix+h+"/")
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			childHash := child
			queue = append(queue, childHash)
		}
	}

	// Delete in reverse visit order, so every descendant is removed before
	// its parent. Each visited hash's entry and referencing markers are
	// removed, including the originally requested one; the entry is read
	// before it is deleted so the marker under its parent can be found.
	for i := len(order) - 1; i >= 0; i-- {
		h := order[i]
		e, ok, err := s.getEntry(ctx, h)
		if err == nil && ok && e.ParentHash != "" {
			if err := s.barrier.Delete(ctx, childIndexPrefix+e.ParentHash+"/"+h); err != nil {
				return nil, err
			}
		}
		if err := s.barrier.Delete(ctx, tokenPrefix+h); err != nil {
			return nil, err
		}
		markers, err := s.barrier.List(ctx, childIndexPrefix+h+"/")
		if err != nil {
			return nil, err
		}
		for _, m := range markers {
			if err := s.barrier.Delete(ctx, childIndexPrefix+h+"/"+m); err != nil {
				return nil, err
			}
		}
	}

	hashes := make([]string, 0, len(visited))
	for h := range visited {
		hashes = append(hashes, h)
	}
	return hashes, nil
}

func (s *Store) getEntry(ctx context.Context, hash string) (Entry, bool, error) {
	raw, ok, err := s.barrier.Get(ctx, tokenPrefix+hash)
	if err != nil {
		return Entry{}, false, err
	}
	if !ok {
		return Entry{}, false, nil
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, vaulterrors.Internal("token: decode entry", err)
	}
	return e, true, nil
}

func (s *Store) putEntry(ctx context.Context, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return vaulterrors.Internal("token: encode entry", err)
	}
	if err := s.barrier.Put(ctx, tokenPrefix+e.Hash, raw); err != nil {
		return err
	}
	return nil
}
