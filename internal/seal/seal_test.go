package seal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vaultcore/vault/internal/barrier"
	"github.com/vaultcore/vault/internal/storage"
	"github.com/vaultcore/vault/internal/vaulterrors"
)

func newManager(t *testing.T) (*Manager, *barrier.Barrier) {
	t.Helper()
	b := barrier.New(storage.NewMemory())
	m := NewManager(b)
	require.NoError(t, m.Recover(context.Background()))
	return m, b
}

func TestInitializeReturnsSharesAndUnsealsLater(t *testing.T) {
	ctx := context.Background()
	m, b := newManager(t)

	shares, err := m.Initialize(ctx, 3, 5)
	require.NoError(t, err)
	require.Len(t, shares, 5)
	require.True(t, b.Sealed())

	status := m.Status()
	require.True(t, status.Initialized)
	require.True(t, status.Sealed)
	require.Equal(t, 3, status.Threshold)
	require.Equal(t, 5, status.ShareCount)

	var unsealed bool
	for i := 0; i < 3; i++ {
		unsealed, err = m.SubmitShare(ctx, shares[i])
		require.NoError(t, err)
	}
	require.True(t, unsealed)
	require.False(t, b.Sealed())
}

func TestInitializeTwiceFails(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	_, err := m.Initialize(ctx, 2, 3)
	require.NoError(t, err)

	_, err = m.Initialize(ctx, 2, 3)
	require.True(t, vaulterrors.Is(err, vaulterrors.KindConflict))
}

func TestInitializeRejectsInvalidConfig(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	_, err := m.Initialize(ctx, 0, 3)
	require.True(t, vaulterrors.Is(err, vaulterrors.KindBadRequest))

	_, err = m.Initialize(ctx, 4, 3)
	require.True(t, vaulterrors.Is(err, vaulterrors.KindBadRequest))

	_, err = m.Initialize(ctx, 1, 256)
	require.True(t, vaulterrors.Is(err, vaulterrors.KindBadRequest))
}

func TestSubmitShareBeforeInitializeFails(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	_, err := m.SubmitShare(ctx, make([]byte, 33))
	require.True(t, vaulterrors.Is(err, vaulterrors.KindBadRequest))
}

func TestSubmitMalformedShareFails(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	_, err := m.Initialize(ctx, 2, 3)
	require.NoError(t, err)

	_, err = m.SubmitShare(ctx, []byte("too short"))
	require.True(t, vaulterrors.Is(err, vaulterrors.KindBadRequest))
}

func TestSubmitFewerThanThresholdSharesStaysSealed(t *testing.T) {
	ctx := context.Background()
	m, b := newManager(t)
	shares, err := m.Initialize(ctx, 3, 5)
	require.NoError(t, err)

	unsealed, err := m.SubmitShare(ctx, shares[0])
	require.NoError(t, err)
	require.False(t, unsealed)
	require.True(t, b.Sealed())
}

func TestSubmitWrongSharesFailsDecryption(t *testing.T) {
	ctx := context.Background()
	m1, _ := newManager(t)
	_, err := m1.Initialize(ctx, 2, 3)
	require.NoError(t, err)

	m2, _ := newManager(t)
	shares2, err := m2.Initialize(ctx, 2, 3)
	require.NoError(t, err)

	// Feed m1's manager with shares generated for a totally different vault
	// (m2's). Reconstruction succeeds (same share format) but decrypting m1's
	// stored root key under m2's unseal key must fail.
	_, err = m1.SubmitShare(ctx, shares2[0])
	require.NoError(t, err)
	_, err = m1.SubmitShare(ctx, shares2[1])
	require.Error(t, err)
}

func TestSealClearsRootAndShareBuffer(t *testing.T) {
	ctx := context.Background()
	m, b := newManager(t)
	shares, err := m.Initialize(ctx, 2, 3)
	require.NoError(t, err)

	_, err = m.SubmitShare(ctx, shares[0])
	require.NoError(t, err)
	_, err = m.SubmitShare(ctx, shares[1])
	require.NoError(t, err)
	require.False(t, b.Sealed())

	require.NoError(t, m.Seal())
	require.True(t, b.Sealed())

	status := m.Status()
	require.Equal(t, 0, status.SharesCollected)
}

func TestSealTwiceReturnsConflict(t *testing.T) {
	ctx := context.Background()
	m, b := newManager(t)
	shares, err := m.Initialize(ctx, 2, 3)
	require.NoError(t, err)

	_, err = m.SubmitShare(ctx, shares[0])
	require.NoError(t, err)
	_, err = m.SubmitShare(ctx, shares[1])
	require.NoError(t, err)
	require.False(t, b.Sealed())

	require.NoError(t, m.Seal())
	require.True(t, b.Sealed())

	err = m.Seal()
	require.True(t, vaulterrors.Is(err, vaulterrors.KindConflict))
}

func TestDuplicateShareIndexDoesNotDoubleCount(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	shares, err := m.Initialize(ctx, 2, 3)
	require.NoError(t, err)

	unsealed, err := m.SubmitShare(ctx, shares[0])
	require.NoError(t, err)
	require.False(t, unsealed)

	// Resubmitting the same share must not advance past the threshold.
	unsealed, err = m.SubmitShare(ctx, shares[0])
	require.NoError(t, err)
	require.False(t, unsealed)
}

func TestEncodeDecodeShareRoundtrip(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	shares, err := m.Initialize(ctx, 2, 3)
	require.NoError(t, err)

	encoded := EncodeShare(shares[0])
	decoded, err := DecodeShare(encoded)
	require.NoError(t, err)
	require.Equal(t, shares[0], decoded)
}

func TestRecoverAcrossRestart(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	b := barrier.New(backend)
	m1 := NewManager(b)
	require.NoError(t, m1.Recover(ctx))
	shares, err := m1.Initialize(ctx, 2, 3)
	require.NoError(t, err)

	// Simulate a restart: fresh Manager and Barrier over the same storage.
	b2 := barrier.New(backend)
	m2 := NewManager(b2)
	require.NoError(t, m2.Recover(ctx))

	status := m2.Status()
	require.True(t, status.Initialized)
	require.Equal(t, 2, status.Threshold)
	require.Equal(t, 3, status.ShareCount)

	unsealed, err := m2.SubmitShare(ctx, shares[0])
	require.NoError(t, err)
	require.False(t, unsealed)
	unsealed, err = m2.SubmitShare(ctx, shares[1])
	require.NoError(t, err)
	require.True(t, unsealed)
}
