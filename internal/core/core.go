// Package core wires every vault component into one request surface:
// Barrier, Seal Manager, Token/Policy/Mount/Lease/Audit managers, and the
// mounted secrets engines. Grounded on the teacher's service-lifecycle
// shape (ID/Name/Version plus a start/stop transition), generalized from
// an HTTP-served component to a transport-less core where Seal/Unseal is
// the lifecycle transition that matters.
package core

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vaultcore/vault/infrastructure/logging"
	"github.com/vaultcore/vault/internal/audit"
	"github.com/vaultcore/vault/internal/barrier"
	"github.com/vaultcore/vault/internal/lease"
	"github.com/vaultcore/vault/internal/mount"
	"github.com/vaultcore/vault/internal/policy"
	"github.com/vaultcore/vault/internal/secretsengine"
	"github.com/vaultcore/vault/internal/seal"
	"github.com/vaultcore/vault/internal/storage"
	"github.com/vaultcore/vault/internal/token"
	"github.com/vaultcore/vault/internal/vaulterrors"
)

// EngineFactory constructs a secrets engine instance for a newly mounted
// path. Core calls this at mount time rather than at request time so a
// mount's engine is resolved once and cached.
type EngineFactory func(b *barrier.Barrier, mountPath string) (secretsengine.Engine, error)

// Config configures a Core.
type Config struct {
	Backend         storage.Backend
	EngineFactories map[string]EngineFactory // keyed by engine type, e.g. "kv"
	AuditLogger     *audit.Logger            // nil disables audit logging (fails open, per Logger's own contract)
	LeaseScanSpec   string                   // cron spec, e.g. "@every 30s"; empty disables the sweeper
}

// Core is the composition root. All request paths go through it.
type Core struct {
	mu sync.RWMutex

	backend  storage.Backend
	barrier  *barrier.Barrier
	seal     *seal.Manager
	tokens   *token.Store
	polStore *policy.Store
	mounts   *mount.Manager
	leases   *lease.Manager
	auditor  *audit.Logger

	engineFactories map[string]EngineFactory
	engines         map[string]secretsengine.Engine // keyed by mount path

	sweeper       *lease.Sweeper
	leaseScanSpec string

	id        string
	name      string
	version   string
	startTime time.Time

	stopCh   chan struct{}
	stopOnce sync.Once

	log *logging.Logger
}

const (
	ID      = "vault-core"
	Name    = "Vault Core"
	Version = "1.0.0"
)

// New constructs a Core in the Uninitialized/Sealed state. Call Initialize
// (once) then Unseal before any data-path operation will succeed.
func New(cfg Config) *Core {
	b := barrier.New(cfg.Backend)
	c := &Core{
		backend:         cfg.Backend,
		barrier:         b,
		seal:            seal.NewManager(b),
		tokens:          token.New(b),
		polStore:        policy.New(b),
		mounts:          mount.New(b),
		leases:          lease.New(b, generateLeaseID),
		auditor:         cfg.AuditLogger,
		engineFactories: cfg.EngineFactories,
		engines:         make(map[string]secretsengine.Engine),
		leaseScanSpec:   cfg.LeaseScanSpec,
		id:              ID,
		name:            Name,
		version:         Version,
		startTime:       time.Now(),
		stopCh:          make(chan struct{}),
		log:             logging.New(ID, "info", "json"),
	}
	return c
}

// ID returns the core's identifier.
func (c *Core) ID() string { return c.id }

// Name returns the core's display name.
func (c *Core) Name() string { return c.name }

// Version returns the core's version.
func (c *Core) Version() string { return c.version }

// Sealed reports whether the barrier is currently sealed.
func (c *Core) Sealed() bool { return c.barrier.Sealed() }

// Status reports the Seal Manager's current initialization/unseal progress.
func (c *Core) Status() seal.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.seal.Status()
}

// Initialize generates the Root Key and splits its wrapping Unseal Key into
// Shamir shares. Must be called exactly once, before the vault has ever
// been unsealed. The Barrier stays sealed until enough shares come back
// through Unseal, so no root token can be minted yet — CreateRootToken
// does that once the vault is unsealed.
func (c *Core) Initialize(ctx context.Context, threshold, shareCount int) ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seal.Initialize(ctx, threshold, shareCount)
}

// CreateRootToken mints a root token. Only callable once the vault is
// unsealed; typically called once, immediately after the first Unseal
// following Initialize.
func (c *Core) CreateRootToken(ctx context.Context) (string, error) {
	plaintext, _, err := c.tokens.Create(ctx, token.CreateParams{
		Policies:    []string{policy.RootPolicyName},
		IsRoot:      true,
		DisplayName: "root",
	})
	return plaintext, err
}

// Unseal submits one Shamir share. Once the threshold is reached, the Seal
// Manager recovers the Root Key and installs it into the Barrier itself, and
// Core primes the dependent managers (mount table load, built-in policies,
// lease sweeper). Returns true once the vault transitions to Unsealed.
func (c *Core) Unseal(ctx context.Context, share []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	unsealed, err := c.seal.SubmitShare(ctx, share)
	if err != nil {
		return false, err
	}
	if !unsealed {
		return false, nil
	}

	if err := c.mounts.Load(ctx); err != nil {
		return false, err
	}
	if err := c.polStore.EnsureBuiltins(ctx); err != nil {
		return false, err
	}
	for _, entry := range c.mounts.List() {
		if err := c.loadEngineLocked(entry); err != nil {
			return false, err
		}
	}

	if c.leaseScanSpec != "" {
		sweeper, err := lease.NewSweeper(c.leases, c.revokeLeaseLocked, c.leaseScanSpec)
		if err != nil {
			return false, err
		}
		sweeper.Start()
		c.sweeper = sweeper
	}

	c.log.Info(ctx, "core: vault unsealed", nil)
	return true, nil
}

// Seal reseals the Barrier and tears down the lease sweeper. Returns
// AlreadySealed if the vault was already sealed; the sweeper and engine
// cache are only torn down on the transition that actually seals.
func (c *Core) Seal() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.seal.Seal(); err != nil {
		return err
	}
	if c.sweeper != nil {
		c.sweeper.Stop()
		c.sweeper = nil
	}
	c.engines = make(map[string]secretsengine.Engine)
	c.log.Info(context.Background(), "core: vault sealed", nil)
	return nil
}

// RevokeToken revokes the token identified by tokenPlaintext, its entire
// descendant tree (token.Store.Revoke's own cascade), and every lease those
// tokens hold open — so a revoked token can never be used again to renew a
// credential it minted before revocation.
func (c *Core) RevokeToken(ctx context.Context, tokenPlaintext string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := token.HashToken(tokenPlaintext)
	revoked, err := c.tokens.RevokeHash(ctx, hash)
	if err != nil {
		return err
	}
	for _, h := range revoked {
		if err := c.leases.RevokeByToken(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

// Mount mounts a new secrets engine at entry.Path.
func (c *Core) Mount(ctx context.Context, entry mount.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.mounts.Mount(ctx, entry); err != nil {
		return err
	}
	return c.loadEngineLocked(entry)
}

// Unmount removes the mount at path, cascading lease revocation for it.
func (c *Core) Unmount(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, err := c.mounts.Unmount(ctx, path)
	if err != nil {
		return err
	}
	delete(c.engines, entry.Path)
	return c.leases.RevokePrefix(ctx, entry.Path)
}

func (c *Core) loadEngineLocked(entry mount.Entry) error {
	factory, ok := c.engineFactories[entry.EngineType]
	if !ok {
		return vaulterrors.Internal("core: no engine factory registered for type "+entry.EngineType, nil)
	}
	engine, err := factory(c.barrier, entry.Path)
	if err != nil {
		return err
	}
	c.engines[entry.Path] = engine
	return nil
}

func (c *Core) revokeLeaseLocked(ctx context.Context, e lease.Entry) error {
	c.mu.RLock()
	entry, _, ok := c.mounts.Resolve(e.EnginePath)
	engine := c.engines[entry.Path]
	c.mu.RUnlock()
	if !ok || engine == nil {
		return nil
	}
	return engine.Revoke(ctx, stringMapToInterfaceMap(e.Data))
}

func stringMapToInterfaceMap(in map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func generateLeaseID() string {
	return uuid.New().String()
}
