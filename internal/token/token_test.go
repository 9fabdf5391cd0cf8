package token

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vaultcore/vault/internal/barrier"
	"github.com/vaultcore/vault/internal/crypto"
	"github.com/vaultcore/vault/internal/storage"
	"github.com/vaultcore/vault/internal/vaulterrors"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	b := barrier.New(storage.NewMemory())
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	b.Install(key)
	return New(b)
}

func TestCreateLookupRoundtrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	plaintext, entry, err := s.Create(ctx, CreateParams{Policies: []string{"default"}, DisplayName: "test"})
	require.NoError(t, err)
	require.NotEmpty(t, plaintext)
	require.Equal(t, HashToken(plaintext), entry.Hash)

	looked, err := s.Lookup(ctx, plaintext)
	require.NoError(t, err)
	require.Equal(t, entry.Hash, looked.Hash)
	require.Equal(t, []string{"default"}, looked.Policies)
}

func TestLookupMissingTokenFails(t *testing.T) {
	s := newStore(t)
	_, err := s.Lookup(context.Background(), "nonexistent-token")
	require.True(t, vaulterrors.Is(err, vaulterrors.KindNotFound))
}

func TestLookupExpiredTokenFails(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	fixedNow := time.Now()
	s.now = func() time.Time { return fixedNow }

	plaintext, _, err := s.Create(ctx, CreateParams{TTL: time.Minute})
	require.NoError(t, err)

	s.now = func() time.Time { return fixedNow.Add(2 * time.Minute) }
	_, err = s.Lookup(ctx, plaintext)
	require.True(t, vaulterrors.Is(err, vaulterrors.KindNotFound))
}

func TestRenewExtendsExpiry(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	fixedNow := time.Now()
	s.now = func() time.Time { return fixedNow }

	plaintext, _, err := s.Create(ctx, CreateParams{TTL: time.Minute, Renewable: true})
	require.NoError(t, err)

	renewed, err := s.Renew(ctx, plaintext, 10*time.Minute)
	require.NoError(t, err)
	require.True(t, renewed.ExpiresAt.After(fixedNow.Add(5*time.Minute)))
}

func TestRenewNonRenewableFails(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	plaintext, _, err := s.Create(ctx, CreateParams{TTL: time.Minute, Renewable: false})
	require.NoError(t, err)

	_, err = s.Renew(ctx, plaintext, time.Minute)
	require.True(t, vaulterrors.Is(err, vaulterrors.KindForbidden))
}

func TestRenewClampedToMaxTTL(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	fixedNow := time.Now()
	s.now = func() time.Time { return fixedNow }

	plaintext, _, err := s.Create(ctx, CreateParams{
		TTL: time.Minute, Renewable: true, MaxTTL: 5 * time.Minute,
	})
	require.NoError(t, err)

	renewed, err := s.Renew(ctx, plaintext, time.Hour)
	require.NoError(t, err)
	require.Equal(t, fixedNow.Add(5*time.Minute), *renewed.ExpiresAt)
}

func TestRenewPastMaxTTLFails(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	fixedNow := time.Now()
	s.now = func() time.Time { return fixedNow }

	plaintext, _, err := s.Create(ctx, CreateParams{
		TTL: time.Minute, Renewable: true, MaxTTL: time.Minute,
	})
	require.NoError(t, err)

	s.now = func() time.Time { return fixedNow.Add(2 * time.Minute) }
	_, err = s.Renew(ctx, plaintext, time.Minute)
	require.True(t, vaulterrors.Is(err, vaulterrors.KindLimitExceeded))
}

func TestRevokeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	plaintext, _, err := s.Create(ctx, CreateParams{})
	require.NoError(t, err)

	require.NoError(t, s.Revoke(ctx, plaintext))
	require.NoError(t, s.Revoke(ctx, plaintext))

	_, err = s.Lookup(ctx, plaintext)
	require.True(t, vaulterrors.Is(err, vaulterrors.KindNotFound))
}

func TestRevokeCascadesToChildren(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	parentPlain, parentEntry, err := s.Create(ctx, CreateParams{})
	require.NoError(t, err)

	childPlain, childEntry, err := s.Create(ctx, CreateParams{ParentHash: parentEntry.Hash})
	require.NoError(t, err)

	grandchildPlain, _, err := s.Create(ctx, CreateParams{ParentHash: childEntry.Hash})
	require.NoError(t, err)

	require.NoError(t, s.Revoke(ctx, parentPlain))

	_, err = s.Lookup(ctx, parentPlain)
	require.True(t, vaulterrors.Is(err, vaulterrors.KindNotFound))
	_, err = s.Lookup(ctx, childPlain)
	require.True(t, vaulterrors.Is(err, vaulterrors.KindNotFound))
	_, err = s.Lookup(ctx, grandchildPlain)
	require.True(t, vaulterrors.Is(err, vaulterrors.KindNotFound))
}

func TestCreateWithUnknownParentFails(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, _, err := s.Create(ctx, CreateParams{ParentHash: "does-not-exist"})
	require.True(t, vaulterrors.Is(err, vaulterrors.KindNotFound))
}

func TestSelfRevokeAllowed(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	plaintext, entry, err := s.Create(ctx, CreateParams{})
	require.NoError(t, err)

	_, err = s.RevokeHash(ctx, entry.Hash)
	require.NoError(t, err)
	_, err = s.Lookup(ctx, plaintext)
	require.True(t, vaulterrors.Is(err, vaulterrors.KindNotFound))
}

func TestTwoTokensHaveDifferentPlaintexts(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	p1, _, err := s.Create(ctx, CreateParams{})
	require.NoError(t, err)
	p2, _, err := s.Create(ctx, CreateParams{})
	require.NoError(t, err)
	require.NotEqual(t, p1, p2)
}
