// Package seal implements the Root Key lifecycle: initialize (generate the
// Root Key, split the Unseal Key into Shamir shares), unseal (collect
// shares, reconstruct the Unseal Key, decrypt and install the Root Key), and
// seal (drop the Root Key from memory).
package seal

import (
	"context"
	"fmt"
	"sync"

	"github.com/vaultcore/vault/infrastructure/hex"
	"github.com/vaultcore/vault/internal/barrier"
	"github.com/vaultcore/vault/internal/crypto"
	"github.com/vaultcore/vault/internal/shamir"
	"github.com/vaultcore/vault/internal/vaulterrors"
)

const (
	initMarkerKey = "sys/init"
	rootKeyRecord = "sys/root-key"
)

// State is one of the three states the Seal Manager moves through.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateSealed        State = "sealed"
	StateUnsealed      State = "unsealed"
)

// Status summarizes the Seal Manager for a status query.
type Status struct {
	Initialized     bool
	Sealed          bool
	Threshold       int
	ShareCount      int
	SharesCollected int
}

// Manager drives the Root Key lifecycle on top of a Barrier. It is the only
// component that ever sees the Unseal Key or an unseal share in plaintext.
type Manager struct {
	mu sync.Mutex

	barrier *barrier.Barrier

	initialized bool
	unsealed    bool
	threshold   int
	shareCount  int

	pendingShares map[byte][]byte // keyed by share index, cleared aggressively
}

// NewManager wraps b. State is recovered lazily: callers should call
// Recover once at process start to detect whether the barrier already holds
// an initialized vault.
func NewManager(b *barrier.Barrier) *Manager {
	return &Manager{
		barrier:       b,
		pendingShares: make(map[byte][]byte),
	}
}

// Recover inspects storage for the initialization marker so Status reflects
// reality across a process restart. The share buffer always starts empty on
// process start regardless of what Recover finds.
func (m *Manager) Recover(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	marker, ok, err := m.barrier.RawGet(ctx, initMarkerKey)
	if err != nil {
		return err
	}
	m.initialized = ok
	if ok {
		var threshold, shareCount int
		if _, scanErr := fmt.Sscanf(string(marker), "%d:%d", &threshold, &shareCount); scanErr == nil {
			m.threshold = threshold
			m.shareCount = shareCount
		}
	}
	m.pendingShares = make(map[byte][]byte)
	return nil
}

// Initialize generates the Root Key and the Unseal Key, splits the Unseal
// Key into n shares requiring t to reconstruct, persists the encrypted Root
// Key and the initialization marker, and returns the n shares. The shares
// are never persisted and are returned exactly once; after this call
// returns, the Manager holds no copy of the Unseal Key.
func (m *Manager) Initialize(ctx context.Context, threshold, shareCount int) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if threshold == 0 || threshold > shareCount || shareCount > 255 {
		return nil, vaulterrors.BadRequest("invalid seal configuration")
	}

	_, ok, err := m.barrier.RawGet(ctx, initMarkerKey)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, vaulterrors.Conflict("vault is already initialized")
	}

	root, err := crypto.GenerateKey()
	if err != nil {
		return nil, vaulterrors.Internal("seal: generate root key", err)
	}
	defer root.Zero()

	unseal, err := crypto.GenerateKey()
	if err != nil {
		return nil, vaulterrors.Internal("seal: generate unseal key", err)
	}
	defer unseal.Zero()

	shares, err := shamir.Split(unseal.Bytes(), threshold, shareCount)
	if err != nil {
		return nil, vaulterrors.Internal("seal: split unseal key", err)
	}

	encryptedRoot, err := crypto.Encrypt(unseal, root.Bytes())
	if err != nil {
		return nil, vaulterrors.Internal("seal: encrypt root key", err)
	}

	if err := m.barrier.RawPut(ctx, rootKeyRecord, encryptedRoot); err != nil {
		return nil, err
	}
	marker := fmt.Sprintf("%d:%d", threshold, shareCount)
	if err := m.barrier.RawPut(ctx, initMarkerKey, []byte(marker)); err != nil {
		return nil, err
	}

	m.initialized = true
	m.threshold = threshold
	m.shareCount = shareCount

	return shares, nil
}

// SubmitShare adds an unseal share to the in-progress buffer. Once a
// threshold of distinct shares has been collected, it reconstructs the
// Unseal Key, decrypts the stored Root Key, installs it in the Barrier, and
// clears the buffer. Returns true iff this call completed the unseal.
func (m *Manager) SubmitShare(ctx context.Context, share []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return false, vaulterrors.BadRequest("vault is not initialized")
	}
	if m.unsealed {
		return true, nil
	}
	if len(share) != shamir.ShareSize {
		return false, vaulterrors.BadRequest("malformed unseal share")
	}

	idx := share[shamir.SecretSize]
	buf := make([]byte, len(share))
	copy(buf, share)
	m.pendingShares[idx] = buf

	if m.threshold == 0 {
		return false, vaulterrors.Internal("seal: threshold unknown; call Recover first", nil)
	}
	if len(m.pendingShares) < m.threshold {
		return false, nil
	}

	shares := make([][]byte, 0, len(m.pendingShares))
	for _, s := range m.pendingShares {
		shares = append(shares, s)
	}

	unsealBytes, err := shamir.Combine(shares)
	if err != nil {
		m.clearPendingLocked()
		return false, vaulterrors.Internal("seal: reconstruct unseal key", err)
	}
	unseal, err := crypto.NewKey(unsealBytes)
	crypto.ZeroBytes(unsealBytes)
	if err != nil {
		m.clearPendingLocked()
		return false, vaulterrors.Internal("seal: malformed reconstructed unseal key", err)
	}
	defer unseal.Zero()

	encryptedRoot, ok, err := m.barrier.RawGet(ctx, rootKeyRecord)
	if err != nil {
		m.clearPendingLocked()
		return false, err
	}
	if !ok {
		m.clearPendingLocked()
		return false, vaulterrors.Internal("seal: root key record missing", nil)
	}

	rootBytes, err := crypto.Decrypt(unseal, encryptedRoot)
	if err != nil {
		m.clearPendingLocked()
		return false, vaulterrors.Wrap(vaulterrors.KindInternal, "seal: root key decryption failed (wrong shares)", err)
	}
	root, err := crypto.NewKey(rootBytes)
	crypto.ZeroBytes(rootBytes)
	if err != nil {
		m.clearPendingLocked()
		return false, vaulterrors.Internal("seal: malformed root key", err)
	}
	defer root.Zero()

	m.barrier.Install(root)
	m.unsealed = true
	m.clearPendingLocked()

	return true, nil
}

// Seal drops the Root Key, zeroing its memory, and clears the share buffer.
// Returns AlreadySealed (a Conflict error) if the vault is already sealed,
// so a caller can tell a no-op reseal apart from one that actually sealed
// something.
func (m *Manager) Seal() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.unsealed {
		return vaulterrors.Conflict("vault is already sealed")
	}
	m.barrier.Seal()
	m.unsealed = false
	m.clearPendingLocked()
	return nil
}

func (m *Manager) clearPendingLocked() {
	for k, v := range m.pendingShares {
		crypto.ZeroBytes(v)
		delete(m.pendingShares, k)
	}
}

// Status reports the current state for an operator status query.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Initialized:     m.initialized,
		Sealed:          !m.unsealed,
		Threshold:       m.threshold,
		ShareCount:      m.shareCount,
		SharesCollected: len(m.pendingShares),
	}
}

// EncodeShare renders a share as lowercase hex for display to an operator.
func EncodeShare(share []byte) string { return hex.EncodeToString(share) }

// DecodeShare parses a share previously produced by EncodeShare. An operator
// pasting a share copied from a URL or a tool that renders "0x..." addresses
// is tolerated: the optional prefix is stripped before decoding.
func DecodeShare(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, vaulterrors.BadRequest("malformed unseal share encoding")
	}
	return b, nil
}
