package barrier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vaultcore/vault/internal/crypto"
	"github.com/vaultcore/vault/internal/storage"
	"github.com/vaultcore/vault/internal/vaulterrors"
)

func TestSealedBarrierRejectsPutGet(t *testing.T) {
	b := New(storage.NewMemory())
	ctx := context.Background()

	err := b.Put(ctx, "k", []byte("v"))
	require.True(t, vaulterrors.Is(err, vaulterrors.KindSealed))

	_, _, err = b.Get(ctx, "k")
	require.True(t, vaulterrors.Is(err, vaulterrors.KindSealed))
}

func TestSealedPutNeverTouchesStorage(t *testing.T) {
	backend := storage.NewMemory()
	b := New(backend)
	ctx := context.Background()

	_ = b.Put(ctx, "k", []byte("v"))

	exists, err := backend.Exists(ctx, "k")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestUnsealedPutGetRoundtrip(t *testing.T) {
	b := New(storage.NewMemory())
	ctx := context.Background()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	b.Install(key)

	require.NoError(t, b.Put(ctx, "sys/tokens/abc", []byte("entry bytes")))

	v, ok, err := b.Get(ctx, "sys/tokens/abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("entry bytes"), v)
}

func TestGetMissingKeyReturnsFalseNotError(t *testing.T) {
	b := New(storage.NewMemory())
	ctx := context.Background()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	b.Install(key)

	v, ok, err := b.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, v)
}

func TestSealZeroesRootAndReturnsToSealed(t *testing.T) {
	backend := storage.NewMemory()
	b := New(backend)
	ctx := context.Background()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	b.Install(key)
	require.NoError(t, b.Put(ctx, "k", []byte("v")))

	b.Seal()
	require.True(t, b.Sealed())

	_, _, err = b.Get(ctx, "k")
	require.True(t, vaulterrors.Is(err, vaulterrors.KindSealed))
}

func TestStoredValueIsEncryptedAtRest(t *testing.T) {
	backend := storage.NewMemory()
	b := New(backend)
	ctx := context.Background()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	b.Install(key)

	plaintext := []byte("super secret value")
	require.NoError(t, b.Put(ctx, "k", plaintext))

	raw, ok, err := backend.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, plaintext, raw)
	require.GreaterOrEqual(t, len(raw), crypto.MinCiphertextLen)
}

func TestDeleteWorksWhileSealed(t *testing.T) {
	backend := storage.NewMemory()
	b := New(backend)
	ctx := context.Background()
	require.NoError(t, backend.Put(ctx, "k", []byte("raw")))

	require.NoError(t, b.Delete(ctx, "k"))

	exists, err := backend.Exists(ctx, "k")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestRawPutGetBypassesRootKey(t *testing.T) {
	b := New(storage.NewMemory())
	ctx := context.Background()

	require.NoError(t, b.RawPut(ctx, "sys/root-key", []byte("wrapped-root")))

	v, ok, err := b.RawGet(ctx, "sys/root-key")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("wrapped-root"), v)
}
