// Package barrier implements the single gateway between the Storage Backend
// and everything else in the vault: envelope encryption over arbitrary
// bytes, gated on whether a Root Key is currently installed.
package barrier

import (
	"context"
	"sync/atomic"

	"github.com/vaultcore/vault/internal/crypto"
	"github.com/vaultcore/vault/internal/storage"
	"github.com/vaultcore/vault/internal/vaulterrors"
)

// Barrier wraps a storage.Backend with AES-256-GCM envelope encryption under
// the currently installed Root Key. All methods are safe under arbitrary
// interleaved callers; there is no explicit transaction — atomicity is
// per-key, matching the underlying Backend.
type Barrier struct {
	backend storage.Backend
	root    atomic.Pointer[crypto.Key]
}

// New returns a sealed Barrier: no Root Key installed, every Put/Get call
// fails with Sealed until Install is called.
func New(backend storage.Backend) *Barrier {
	return &Barrier{backend: backend}
}

// Install sets the active Root Key. Used by the Seal Manager once it has
// reconstructed and decrypted the Root Key.
func (b *Barrier) Install(key crypto.Key) {
	k := key.Clone()
	b.root.Store(&k)
}

// Seal drops the Root Key, zeroing its backing bytes, and returns the
// Barrier to the sealed state.
func (b *Barrier) Seal() {
	old := b.root.Swap(nil)
	if old != nil {
		old.Zero()
	}
}

// Sealed reports whether a Root Key is currently installed.
func (b *Barrier) Sealed() bool {
	return b.root.Load() == nil
}

// Put encrypts value under the active Root Key and writes it to storage.
// Returns Sealed if no Root Key is installed; storage is never touched in
// that case.
func (b *Barrier) Put(ctx context.Context, key string, value []byte) error {
	root := b.root.Load()
	if root == nil {
		return vaulterrors.Sealed()
	}

	ciphertext, err := crypto.Encrypt(*root, value)
	if err != nil {
		return vaulterrors.Internal("barrier: encrypt", err)
	}
	if err := b.backend.Put(ctx, key, ciphertext); err != nil {
		return vaulterrors.Internal("barrier: storage put", err)
	}
	return nil
}

// Get reads and decrypts the value at key. Returns (nil, false, nil) iff
// storage had no entry for key. Returns Sealed if no Root Key is installed.
func (b *Barrier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	root := b.root.Load()
	if root == nil {
		return nil, false, vaulterrors.Sealed()
	}

	ciphertext, ok, err := b.backend.Get(ctx, key)
	if err != nil {
		return nil, false, vaulterrors.Internal("barrier: storage get", err)
	}
	if !ok {
		return nil, false, nil
	}

	plaintext, err := crypto.Decrypt(*root, ciphertext)
	if err != nil {
		return nil, false, vaulterrors.Internal("barrier: decrypt", err)
	}
	return plaintext, true, nil
}

// Delete removes key. Keys are plaintext by design; only values are
// encrypted, so Delete does not need the Root Key and works while sealed.
func (b *Barrier) Delete(ctx context.Context, key string) error {
	if err := b.backend.Delete(ctx, key); err != nil {
		return vaulterrors.Internal("barrier: storage delete", err)
	}
	return nil
}

// List forwards directly to storage: keys are never encrypted.
func (b *Barrier) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := b.backend.List(ctx, prefix)
	if err != nil {
		return nil, vaulterrors.Internal("barrier: storage list", err)
	}
	return keys, nil
}

// Exists forwards directly to storage.
func (b *Barrier) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := b.backend.Exists(ctx, key)
	if err != nil {
		return false, vaulterrors.Internal("barrier: storage exists", err)
	}
	return ok, nil
}

// RawPut writes value to storage without encryption. Used only by the Seal
// Manager to persist the encrypted-root-key record (already encrypted under
// the Unseal Key, never the Root Key) and the initialization marker.
func (b *Barrier) RawPut(ctx context.Context, key string, value []byte) error {
	if err := b.backend.Put(ctx, key, value); err != nil {
		return vaulterrors.Internal("barrier: raw storage put", err)
	}
	return nil
}

// RawGet reads value from storage without decryption.
func (b *Barrier) RawGet(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok, err := b.backend.Get(ctx, key)
	if err != nil {
		return nil, false, vaulterrors.Internal("barrier: raw storage get", err)
	}
	return v, ok, nil
}
